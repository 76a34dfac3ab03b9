package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/fulfillment-backend/internal/data/repos"
	types "github.com/yungbote/fulfillment-backend/internal/domain"
	"github.com/yungbote/fulfillment-backend/internal/http/response"
	"github.com/yungbote/fulfillment-backend/internal/platform/apierr"
	"github.com/yungbote/fulfillment-backend/internal/services"
)

type fakeIntake struct {
	body []byte
	res  *services.IntakeBatchResult
	err  error
}

func (f *fakeIntake) Receive(_ context.Context, body []byte) (*services.IntakeBatchResult, error) {
	f.body = body
	return f.res, f.err
}

type fakeReconcile struct {
	services.ReconcileService
	webhook services.OutputWebhook
	output  *types.OutputRecord
	status  string
	err     error
}

func (f *fakeReconcile) ReceiveOutput(_ context.Context, in services.OutputWebhook) (*types.OutputRecord, error) {
	f.webhook = in
	return f.output, f.err
}

func (f *fakeReconcile) UpdateIntakeStatus(_ context.Context, id uuid.UUID, status string) (*types.IntakeRecord, error) {
	f.status = status
	if f.err != nil {
		return nil, f.err
	}
	return &types.IntakeRecord{ID: id, Status: status}, nil
}

func (f *fakeReconcile) DeleteIntake(_ context.Context, id uuid.UUID) (*services.IntakeDeleteResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &services.IntakeDeleteResult{IntakeRecordID: id, OutputRecords: 2, Sagas: 1}, nil
}

type fakeOrchestrator struct {
	services.GenerationOrchestrator
	orderID, itemID uuid.UUID
	filter          repos.JobFilter
	job             *types.GenerationJob
	err             error
}

func (f *fakeOrchestrator) Start(_ context.Context, orderID, itemID uuid.UUID) (*types.GenerationJob, error) {
	f.orderID, f.itemID = orderID, itemID
	return f.job, f.err
}

func (f *fakeOrchestrator) GetJob(_ context.Context, id uuid.UUID) (*types.GenerationJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.GenerationJob{ID: id}, nil
}

func (f *fakeOrchestrator) ListJobs(_ context.Context, filter repos.JobFilter) ([]*types.GenerationJob, error) {
	f.filter = filter
	return []*types.GenerationJob{f.job}, f.err
}

func serve(t *testing.T, register func(r *gin.Engine), method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	register(r)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env response.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Code
}

func TestReceiveOrderedPassesRawBody(t *testing.T) {
	svc := &fakeIntake{res: &services.IntakeBatchResult{Processed: 1, Errors: 1}}
	h := NewIntakeHandler(svc, &fakeReconcile{})
	body := `[{"externalOrderId":"O1"},{"x":1}]`

	rec := serve(t, func(r *gin.Engine) { r.POST("/intake/ordered-texts", h.ReceiveOrdered) }, http.MethodPost, "/intake/ordered-texts", body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, body, string(svc.body))
	var got services.IntakeBatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 1, got.Processed)
	require.Equal(t, 1, got.Errors)
}

func TestReceiveOrderedUnparsableBody(t *testing.T) {
	svc := &fakeIntake{err: apierr.New(http.StatusInternalServerError, "unparsable_body", context.Canceled)}
	h := NewIntakeHandler(svc, &fakeReconcile{})

	rec := serve(t, func(r *gin.Engine) { r.POST("/intake/ordered-texts", h.ReceiveOrdered) }, http.MethodPost, "/intake/ordered-texts", `nope`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "unparsable_body", errorCode(t, rec))
}

func TestReceiveGenerated(t *testing.T) {
	outID := uuid.New()
	cases := []struct {
		name   string
		rec    *fakeReconcile
		body   string
		status int
		code   string
	}{
		{"ok", &fakeReconcile{output: &types.OutputRecord{ID: outID}}, `{"externalOrderId":"O1","externalItemId":"I1","status":"Done","content":"text"}`, http.StatusOK, ""},
		{"malformed json", &fakeReconcile{}, `{`, http.StatusBadRequest, "invalid_body"},
		{"unknown intake", &fakeReconcile{err: apierr.NotFound("intake_not_found", "missing")}, `{"externalOrderId":"O9","externalItemId":"I9","status":"Done","content":"x"}`, http.StatusNotFound, "intake_not_found"},
		{"bad status", &fakeReconcile{err: apierr.Validation("invalid_status", "bad")}, `{"externalOrderId":"O1","externalItemId":"I1","status":"Maybe"}`, http.StatusBadRequest, "invalid_status"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewIntakeHandler(&fakeIntake{}, tc.rec)
			rec := serve(t, func(r *gin.Engine) { r.POST("/intake/generated-texts", h.ReceiveGenerated) }, http.MethodPost, "/intake/generated-texts", tc.body)
			require.Equal(t, tc.status, rec.Code)
			if tc.code != "" {
				require.Equal(t, tc.code, errorCode(t, rec))
				return
			}
			var got map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			require.Equal(t, outID.String(), got["generatedRecordId"])
			require.Equal(t, "O1", tc.rec.webhook.ExternalOrderID)
		})
	}
}

func TestAdminIntakeEdits(t *testing.T) {
	rc := &fakeReconcile{}
	h := NewIntakeHandler(&fakeIntake{}, rc)
	register := func(r *gin.Engine) {
		r.PATCH("/intake/ordered-texts/:id/status", h.UpdateStatus)
		r.DELETE("/intake/ordered-texts/:id", h.Delete)
	}
	id := uuid.New()

	rec := serve(t, register, http.MethodPatch, "/intake/ordered-texts/"+id.String()+"/status", `{"status":"Done"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Done", rc.status)

	rec = serve(t, register, http.MethodPatch, "/intake/ordered-texts/not-a-uuid/status", `{"status":"Done"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_intake_id", errorCode(t, rec))

	rec = serve(t, register, http.MethodPatch, "/intake/ordered-texts/"+id.String()+"/status", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, register, http.MethodDelete, "/intake/ordered-texts/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Deleted services.IntakeDeleteResult `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, id, got.Deleted.IntakeRecordID)
	require.EqualValues(t, 2, got.Deleted.OutputRecords)
}

func TestStartGeneration(t *testing.T) {
	orderID, itemID, jobID := uuid.New(), uuid.New(), uuid.New()
	cases := []struct {
		name   string
		orch   *fakeOrchestrator
		body   string
		status int
		code   string
	}{
		{"queued", &fakeOrchestrator{job: &types.GenerationJob{ID: jobID}}, `{"orderId":"` + orderID.String() + `","itemId":"` + itemID.String() + `"}`, http.StatusOK, ""},
		{"bad uuid", &fakeOrchestrator{}, `{"orderId":"x","itemId":"` + itemID.String() + `"}`, http.StatusBadRequest, "invalid_order_id"},
		{"missing ids", &fakeOrchestrator{err: apierr.Validation("missing_ids", "required")}, `{}`, http.StatusBadRequest, "missing_ids"},
		{"not found", &fakeOrchestrator{err: apierr.NotFound("line_item_not_found", "gone")}, `{"orderId":"` + orderID.String() + `","itemId":"` + itemID.String() + `"}`, http.StatusNotFound, "line_item_not_found"},
		{"busy", &fakeOrchestrator{err: apierr.Conflict("generation_in_progress", "busy")}, `{"orderId":"` + orderID.String() + `","itemId":"` + itemID.String() + `"}`, http.StatusConflict, "generation_in_progress"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewGenerationHandler(tc.orch)
			rec := serve(t, func(r *gin.Engine) { r.POST("/generation/start", h.Start) }, http.MethodPost, "/generation/start", tc.body)
			require.Equal(t, tc.status, rec.Code)
			if tc.code != "" {
				require.Equal(t, tc.code, errorCode(t, rec))
				return
			}
			var got map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			require.Equal(t, jobID.String(), got["jobId"])
			require.Equal(t, orderID, tc.orch.orderID)
			require.Equal(t, itemID, tc.orch.itemID)
		})
	}
}

func TestListAndGetJobs(t *testing.T) {
	orderID := uuid.New()
	orch := &fakeOrchestrator{job: &types.GenerationJob{ID: uuid.New(), OrderID: orderID}}
	h := NewGenerationHandler(orch)
	register := func(r *gin.Engine) {
		r.GET("/generation/jobs", h.ListJobs)
		r.GET("/generation/jobs/:id", h.GetJob)
	}

	rec := serve(t, register, http.MethodGet, "/generation/jobs?orderId="+orderID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, orch.filter.OrderID)
	require.Equal(t, orderID, *orch.filter.OrderID)
	require.Nil(t, orch.filter.LineItemID)

	rec = serve(t, register, http.MethodGet, "/generation/jobs?itemId=bogus", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_item_id", errorCode(t, rec))

	rec = serve(t, register, http.MethodGet, "/generation/jobs/"+orch.job.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	orch.err = apierr.NotFound("job_not_found", "no job")
	rec = serve(t, register, http.MethodGet, "/generation/jobs/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "job_not_found", errorCode(t, rec))
}
