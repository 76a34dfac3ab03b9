package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/fulfillment-backend/internal/data/repos"
	"github.com/yungbote/fulfillment-backend/internal/http/response"
	"github.com/yungbote/fulfillment-backend/internal/services"
)

type GenerationHandler struct {
	gen services.GenerationOrchestrator
}

func NewGenerationHandler(gen services.GenerationOrchestrator) *GenerationHandler {
	return &GenerationHandler{gen: gen}
}

type startGenerationRequest struct {
	OrderID string `json:"orderId"`
	ItemID  string `json:"itemId"`
}

// POST /generation/start
func (h *GenerationHandler) Start(c *gin.Context) {
	var req startGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	orderID, err := parseOptionalUUID(req.OrderID)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_order_id", err)
		return
	}
	itemID, err := parseOptionalUUID(req.ItemID)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_item_id", err)
		return
	}
	job, err := h.gen.Start(c.Request.Context(), orderID, itemID)
	if err != nil {
		response.RespondAPIError(c, "generation_start_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"jobId": job.ID})
}

// GET /generation/jobs?orderId=&itemId=
func (h *GenerationHandler) ListJobs(c *gin.Context) {
	var f repos.JobFilter
	orderID, err := parseOptionalUUID(c.Query("orderId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_order_id", err)
		return
	}
	if orderID != uuid.Nil {
		f.OrderID = &orderID
	}
	itemID, err := parseOptionalUUID(c.Query("itemId"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_item_id", err)
		return
	}
	if itemID != uuid.Nil {
		f.LineItemID = &itemID
	}
	jobs, err := h.gen.ListJobs(c.Request.Context(), f)
	if err != nil {
		response.RespondAPIError(c, "list_jobs_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": jobs})
}

// GET /generation/jobs/:id
func (h *GenerationHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.gen.GetJob(c.Request.Context(), jobID)
	if err != nil {
		response.RespondAPIError(c, "job_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}
