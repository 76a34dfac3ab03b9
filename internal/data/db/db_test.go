package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/fulfillment-backend/internal/domain"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

func openMemory(t *testing.T) *Service {
	t.Helper()
	svc, err := Open(Options{
		Driver: DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		Silent: true,
	}, logger.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	if err := svc.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return svc
}

func TestNaturalKeyIsUniqueAmongLiveRows(t *testing.T) {
	svc := openMemory(t)
	gdb := svc.DB()

	first := &types.IntakeRecord{ExternalOrderID: "O1", ExternalItemID: "I1", ContactEmail: "a@b.c"}
	if err := gdb.Create(first).Error; err != nil {
		t.Fatalf("create first: %v", err)
	}
	dup := &types.IntakeRecord{ExternalOrderID: "O1", ExternalItemID: "I1", ContactEmail: "a@b.c"}
	err := gdb.Create(dup).Error
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("want ErrDuplicatedKey, got %v", err)
	}

	// A soft-deleted row frees the key.
	if err := gdb.Delete(first).Error; err != nil {
		t.Fatalf("delete: %v", err)
	}
	again := &types.IntakeRecord{ExternalOrderID: "O1", ExternalItemID: "I1", ContactEmail: "a@b.c"}
	if err := gdb.Create(again).Error; err != nil {
		t.Fatalf("create after delete: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Options{Driver: "oracle"}, logger.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
