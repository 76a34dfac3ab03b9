package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/yungbote/fulfillment-backend/internal/data/repos"
	types "github.com/yungbote/fulfillment-backend/internal/domain"
	"github.com/yungbote/fulfillment-backend/internal/platform/apierr"
	"github.com/yungbote/fulfillment-backend/internal/platform/ctxutil"
	"github.com/yungbote/fulfillment-backend/internal/platform/dbctx"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

// Per-item error codes.
const (
	CodeValidation      = "validation_failed"
	CodeDuplicateIntake = "duplicate_intake"
	CodePersistence     = "persistence_failed"
	CodeInvalidItem     = "invalid_item"
)

type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

type ItemError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

type IntakeItemResult struct {
	Index           int        `json:"index"`
	ExternalOrderID string     `json:"externalOrderId,omitempty"`
	ExternalItemID  string     `json:"externalItemId,omitempty"`
	OK              bool       `json:"ok"`
	RecordID        *uuid.UUID `json:"recordId,omitempty"`
	LineItemID      *uuid.UUID `json:"lineItemId,omitempty"`
	Error           *ItemError `json:"error,omitempty"`
}

// IntakeBatchResult is returned for every parseable intake body. Errors counts failed items.
type IntakeBatchResult struct {
	Processed int                `json:"processed"`
	Errors    int                `json:"errors"`
	Results   []IntakeItemResult `json:"results"`
}

type IntakeService interface {
	// Receive persists one IntakeRecord per valid item of a single object or an array body.
	Receive(ctx context.Context, body []byte) (*IntakeBatchResult, error)
}

type intakeService struct {
	log         *logger.Logger
	intakes     repos.IntakeRecordRepo
	items       repos.LineItemRepo
	validate    *validator.Validate
	concurrency int
}

func NewIntakeService(baseLog *logger.Logger, intakes repos.IntakeRecordRepo, items repos.LineItemRepo, concurrency int) IntakeService {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &intakeService{
		log:         baseLog.With("service", "IntakeService"),
		intakes:     intakes,
		items:       items,
		validate:    newIntakeValidator(),
		concurrency: concurrency,
	}
}

func newIntakeValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *intakeService) Receive(ctx context.Context, body []byte) (*IntakeBatchResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, apierr.New(http.StatusInternalServerError, "unparsable_body", errors.New("intake body is not valid JSON"))
	}
	root := gjson.ParseBytes(body)
	var payloads []gjson.Result
	switch {
	case root.IsArray():
		payloads = root.Array()
	case root.IsObject():
		payloads = []gjson.Result{root}
	default:
		return nil, apierr.New(http.StatusInternalServerError, "unparsable_body", errors.New("intake body must be an object or an array"))
	}

	out := &IntakeBatchResult{Results: make([]IntakeItemResult, len(payloads))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range payloads {
		g.Go(func() error {
			out.Results[i] = s.receiveOne(gctx, i, payloads[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range out.Results {
		if r.OK {
			out.Processed++
		} else {
			out.Errors++
		}
	}
	s.log.Info("intake batch received", append(ctxutil.LogFields(ctx),
		"items", len(payloads), "processed", out.Processed, "errors", out.Errors)...)
	return out, nil
}

func (s *intakeService) receiveOne(ctx context.Context, idx int, raw gjson.Result) IntakeItemResult {
	res := IntakeItemResult{Index: idx}
	if !raw.IsObject() {
		res.Error = &ItemError{Code: CodeInvalidItem, Message: "item must be a JSON object"}
		return res
	}
	item := NormalizeIntake(raw)
	res.ExternalOrderID = item.ExternalOrderID
	res.ExternalItemID = item.ExternalItemID

	if err := s.validate.Struct(item); err != nil {
		res.Error = validationItemError(err)
		return res
	}

	dbc := dbctx.New(ctx)
	var lineItemID, orderID *uuid.UUID
	li, err := s.items.FindByExternal(dbc, item.ExternalOrderID, item.ExternalItemID)
	if err != nil {
		s.log.Warn("line item lookup failed", "external_order_id", item.ExternalOrderID, "external_item_id", item.ExternalItemID, "error", err)
	} else if li != nil {
		id, oid := li.ID, li.OrderID
		lineItemID, orderID = &id, &oid
	}

	rec := intakeRecordFromItem(item, lineItemID, orderID)
	err = withStoreRetry(ctx, func() error { return s.intakes.Create(dbc, rec) })
	switch {
	case err == nil:
	case repos.IsDuplicateKey(err):
		res.Error = &ItemError{
			Code:    CodeDuplicateIntake,
			Message: fmt.Sprintf("intake record for %s/%s already exists", item.ExternalOrderID, item.ExternalItemID),
		}
		return res
	default:
		s.log.Error("persist intake record failed", "external_order_id", item.ExternalOrderID, "external_item_id", item.ExternalItemID, "error", err)
		res.Error = &ItemError{Code: CodePersistence, Message: "could not persist intake record"}
		return res
	}

	res.OK = true
	res.RecordID = &rec.ID
	res.LineItemID = lineItemID
	return res
}

func validationItemError(err error) *ItemError {
	ie := &ItemError{Code: CodeValidation, Message: "intake item failed validation"}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		names := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			ie.Fields = append(ie.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
			names = append(names, fe.Field())
		}
		ie.Message = "invalid fields: " + strings.Join(names, ", ")
		return ie
	}
	ie.Message = err.Error()
	return ie
}

func intakeRecordFromItem(item IntakeItem, lineItemID, orderID *uuid.UUID) *types.IntakeRecord {
	links := item.Links
	if links == nil {
		links = []string{}
	}
	rawLinks, _ := json.Marshal(links)
	return &types.IntakeRecord{
		ExternalOrderID: item.ExternalOrderID,
		ExternalItemID:  item.ExternalItemID,
		ContactEmail:    item.ContactEmail,
		Topic:           item.Topic,
		ContentKind:     item.ContentKind,
		TargetLength:    item.TargetLength,
		CharacterCount:  item.CharacterCount,
		Language:        item.Language,
		SearchLanguage:  item.SearchLanguage,
		Tone:            item.Tone,
		Bibliography:    item.Bibliography,
		FAQ:             item.FAQ,
		Tables:          item.Tables,
		Bold:            item.Bold,
		BulletLists:     item.BulletLists,
		Links:           datatypes.JSON(rawLinks),
		PriceCents:      item.PriceCents,
		Currency:        item.Currency,
		StartDate:       item.StartDate,
		Status:          item.Status,
		LineItemID:      lineItemID,
		OrderID:         orderID,
	}
}
