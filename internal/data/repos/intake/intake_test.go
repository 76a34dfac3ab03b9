package intake

import (
	"context"
	"testing"

	"github.com/yungbote/fulfillment-backend/internal/data/repos/testutil"
	types "github.com/yungbote/fulfillment-backend/internal/domain"
	"github.com/yungbote/fulfillment-backend/internal/domain/intake"
	"github.com/yungbote/fulfillment-backend/internal/platform/dbctx"
)

func TestIntakeAndOutputLifecycle(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	logg := testutil.Logger(t)
	intakes := NewIntakeRecordRepo(db, logg)
	outputs := NewOutputRecordRepo(db, logg)
	dbc := dbctx.New(ctx)

	rec := &types.IntakeRecord{ExternalOrderID: "O1", ExternalItemID: "I1", ContactEmail: "a@b.com"}
	if err := intakes.Create(dbc, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Status != intake.StatusPending {
		t.Fatalf("default status: %q", rec.Status)
	}

	got, err := intakes.GetByNaturalKey(dbc, "O1", "I1")
	if err != nil || got == nil || got.ID != rec.ID {
		t.Fatalf("GetByNaturalKey: %+v err=%v", got, err)
	}

	first := &types.OutputRecord{IntakeRecordID: rec.ID}
	first.SetContent("one two")
	second := &types.OutputRecord{IntakeRecordID: rec.ID, Status: intake.OutputDone}
	second.SetContent("one two three")
	if err := outputs.Create(dbc, first); err != nil {
		t.Fatalf("Create output: %v", err)
	}
	if err := outputs.Create(dbc, second); err != nil {
		t.Fatalf("Create output: %v", err)
	}

	latest, err := outputs.LatestForIntake(dbc, rec.ID)
	if err != nil || latest == nil {
		t.Fatalf("LatestForIntake: %+v err=%v", latest, err)
	}
	all, err := outputs.ListByIntake(dbc, rec.ID)
	if err != nil || len(all) != 2 {
		t.Fatalf("ListByIntake: len=%d err=%v", len(all), err)
	}

	counts, err := outputs.CountByStatus(dbc)
	if err != nil || counts[intake.OutputGenerating] != 1 || counts[intake.OutputDone] != 1 {
		t.Fatalf("CountByStatus: %v err=%v", counts, err)
	}

	n, err := outputs.DeleteByIntake(dbc, rec.ID)
	if err != nil || n != 2 {
		t.Fatalf("DeleteByIntake: n=%d err=%v", n, err)
	}
	deleted, err := intakes.Delete(dbc, rec.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete: deleted=%v err=%v", deleted, err)
	}
	if got, err := intakes.GetByID(dbc, rec.ID); err != nil || got != nil {
		t.Fatalf("deleted record still visible: %+v err=%v", got, err)
	}
	if deleted, _ := intakes.Delete(dbc, rec.ID); deleted {
		t.Fatalf("second delete should report nothing deleted")
	}
}

func TestListByLineItem(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	repo := NewIntakeRecordRepo(db, testutil.Logger(t))

	_, items := testutil.SeedOrder(t, ctx, db, "O1", "I1")
	testutil.SeedIntake(t, ctx, db, "O1", "I1", testutil.PtrUUID(items[0].ID))
	testutil.SeedIntake(t, ctx, db, "O1", "I2", nil)

	recs, err := repo.ListByLineItem(dbctx.New(ctx), items[0].ID)
	if err != nil || len(recs) != 1 || recs[0].ExternalItemID != "I1" {
		t.Fatalf("ListByLineItem: %+v err=%v", recs, err)
	}
}
