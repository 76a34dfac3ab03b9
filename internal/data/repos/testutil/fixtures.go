package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/fulfillment-backend/internal/domain"
)

// SeedOrder creates an order with one line item per external item id.
func SeedOrder(tb testing.TB, ctx context.Context, tx *gorm.DB, externalOrderID string, externalItemIDs ...string) (*types.Order, []*types.LineItem) {
	tb.Helper()
	o := &types.Order{
		ExternalOrderID: PtrString(externalOrderID),
		CustomerEmail:   "customer@example.com",
	}
	if err := tx.WithContext(ctx).Create(o).Error; err != nil {
		tb.Fatalf("seed order: %v", err)
	}
	items := make([]*types.LineItem, 0, len(externalItemIDs))
	for _, ext := range externalItemIDs {
		li := &types.LineItem{
			OrderID:        o.ID,
			ExternalItemID: PtrString(ext),
			Topic:          "Topic " + ext,
			LengthTarget:   3000,
			ContentType:    "article",
			Language:       "pl",
			Tone:           "neutral",
		}
		if err := tx.WithContext(ctx).Create(li).Error; err != nil {
			tb.Fatalf("seed line item: %v", err)
		}
		items = append(items, li)
	}
	return o, items
}

func SeedIntake(tb testing.TB, ctx context.Context, tx *gorm.DB, externalOrderID, externalItemID string, lineItemID *uuid.UUID) *types.IntakeRecord {
	tb.Helper()
	rec := &types.IntakeRecord{
		ExternalOrderID: externalOrderID,
		ExternalItemID:  externalItemID,
		ContactEmail:    "a@b.com",
		Topic:           "X",
		ContentKind:     "article",
		Language:        "pl",
		Tone:            "neutral",
		LineItemID:      lineItemID,
	}
	if err := tx.WithContext(ctx).Create(rec).Error; err != nil {
		tb.Fatalf("seed intake: %v", err)
	}
	return rec
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }

func PtrString(v string) *string { return &v }
