package orders

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	StatusWaiting    = "waiting"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
)

// Order is the customer-facing purchase that owns line items. Only its aggregate status is touched here.
type Order struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalOrderID *string        `gorm:"column:external_order_id;index:idx_order_external,unique,where:external_order_id IS NOT NULL" json:"external_order_id,omitempty"`
	CustomerEmail   string         `gorm:"column:customer_email" json:"customer_email,omitempty"`
	Status          string         `gorm:"column:status;not null;index" json:"status"`
	Items           []LineItem     `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Order) TableName() string { return "customer_order" }

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = StatusWaiting
	}
	return nil
}

// LineItem is one purchased unit of content and the final consumer of generated text.
// GenerationJobID is set while a generation job holds the claim on the item.
type LineItem struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID          uuid.UUID      `gorm:"type:uuid;not null;index" json:"order_id"`
	ExternalItemID   *string        `gorm:"column:external_item_id;index" json:"external_item_id,omitempty"`
	Topic            string         `gorm:"column:topic;not null" json:"topic"`
	LengthTarget     int            `gorm:"column:length_target;not null;default:0" json:"length_target"`
	ContentType      string         `gorm:"column:content_type" json:"content_type"`
	Language         string         `gorm:"column:language" json:"language"`
	Tone             string         `gorm:"column:tone" json:"tone"`
	Guidelines       string         `gorm:"column:guidelines;type:text" json:"guidelines,omitempty"`
	Keywords         string         `gorm:"column:keywords;type:text" json:"keywords,omitempty"`
	WithBibliography bool           `gorm:"column:with_bibliography;not null;default:false" json:"with_bibliography"`
	Content          string         `gorm:"column:content;type:text" json:"content,omitempty"`
	Status           string         `gorm:"column:status;not null;index" json:"status"`
	Progress         int            `gorm:"column:progress;not null;default:0" json:"progress"`
	GenerationJobID  *uuid.UUID     `gorm:"type:uuid;column:generation_job_id;index" json:"generation_job_id,omitempty"`
	CreatedAt        time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

func (LineItem) TableName() string { return "order_line_item" }

func (li *LineItem) BeforeCreate(tx *gorm.DB) error {
	if li.ID == uuid.Nil {
		li.ID = uuid.New()
	}
	if li.Status == "" {
		li.Status = StatusWaiting
	}
	return nil
}
