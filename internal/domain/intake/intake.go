package intake

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// IntakeRecord statuses. The casing follows the external automation platform.
const (
	StatusPending    = "Pending"
	StatusInProgress = "InProgress"
	StatusDone       = "Done"
	StatusCancelled  = "Cancelled"
)

// OutputRecord statuses.
const (
	OutputGenerating = "Generating"
	OutputDone       = "Done"
	OutputError      = "Error"
)

// IntakeRecord is one ordered text as received from the automation platform.
// (ExternalOrderID, ExternalItemID) is unique among non-deleted rows.
type IntakeRecord struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalOrderID string    `gorm:"column:external_order_id;not null;index:idx_intake_natural_key,unique,priority:1,where:deleted_at IS NULL" json:"external_order_id"`
	ExternalItemID  string    `gorm:"column:external_item_id;not null;index:idx_intake_natural_key,unique,priority:2,where:deleted_at IS NULL" json:"external_item_id"`
	ContactEmail    string    `gorm:"column:contact_email;not null" json:"contact_email"`

	Topic           string `gorm:"column:topic;type:text" json:"topic"`
	ContentKind     string `gorm:"column:content_kind" json:"content_kind"`
	TargetLength    int    `gorm:"column:target_length;not null;default:0" json:"target_length"`
	CharacterCount  int    `gorm:"column:character_count;not null;default:0" json:"character_count"`
	Language        string `gorm:"column:language" json:"language"`
	SearchLanguage  string `gorm:"column:search_language" json:"search_language"`
	Tone            string `gorm:"column:tone" json:"tone"`
	Bibliography    bool   `gorm:"column:bibliography;not null;default:false" json:"bibliography"`
	FAQ             bool   `gorm:"column:faq;not null;default:false" json:"faq"`
	Tables          bool   `gorm:"column:tables;not null;default:false" json:"tables"`
	Bold            bool   `gorm:"column:bold;not null;default:false" json:"bold"`
	BulletLists     bool   `gorm:"column:bullet_lists;not null;default:false" json:"bullet_lists"`
	Links           datatypes.JSON `gorm:"column:links;type:jsonb" json:"links"`
	PriceCents      int64          `gorm:"column:price_cents;not null;default:0" json:"price_cents"`
	Currency        string         `gorm:"column:currency" json:"currency,omitempty"`
	StartDate       *time.Time     `gorm:"column:start_date" json:"start_date,omitempty"`

	Status string `gorm:"column:status;not null;index" json:"status"`

	// LineItemID is a lookup-only back reference; the line item's lifecycle is independent.
	LineItemID *uuid.UUID `gorm:"type:uuid;column:line_item_id;index" json:"line_item_id,omitempty"`
	OrderID    *uuid.UUID `gorm:"type:uuid;column:order_id;index" json:"order_id,omitempty"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (IntakeRecord) TableName() string { return "intake_record" }

func (r *IntakeRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	return nil
}

// OutputRecord is generated content owned by exactly one IntakeRecord.
type OutputRecord struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	IntakeRecordID uuid.UUID  `gorm:"type:uuid;column:intake_record_id;not null;index" json:"intake_record_id"`
	Content        string     `gorm:"column:content;type:text" json:"content,omitempty"`
	Status         string     `gorm:"column:status;not null;index" json:"status"`
	ErrorMessage   string     `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	Delivered      bool       `gorm:"column:delivered;not null;default:false" json:"delivered"`
	DeliveredAt    *time.Time `gorm:"column:delivered_at" json:"delivered_at,omitempty"`
	WordCount      int        `gorm:"column:word_count;not null;default:0" json:"word_count"`
	CharacterCount int        `gorm:"column:character_count;not null;default:0" json:"character_count"`
	CreatedAt      time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null" json:"updated_at"`
}

func (OutputRecord) TableName() string { return "output_record" }

func (o *OutputRecord) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = OutputGenerating
	}
	return nil
}

// SetContent stores content and recomputes the derived counters.
func (o *OutputRecord) SetContent(content string) {
	o.Content = content
	o.WordCount, o.CharacterCount = CountText(content)
}
