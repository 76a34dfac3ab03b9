package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/fulfillment-backend/internal/http/response"
	"github.com/yungbote/fulfillment-backend/internal/services"
)

const maxIntakeBody = 8 << 20

type IntakeHandler struct {
	intake    services.IntakeService
	reconcile services.ReconcileService
}

func NewIntakeHandler(intake services.IntakeService, reconcile services.ReconcileService) *IntakeHandler {
	return &IntakeHandler{intake: intake, reconcile: reconcile}
}

// POST /intake/ordered-texts
func (h *IntakeHandler) ReceiveOrdered(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxIntakeBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.RespondError(c, http.StatusRequestEntityTooLarge, "body_too_large", err)
			return
		}
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	res, err := h.intake.Receive(c.Request.Context(), body)
	if err != nil {
		response.RespondAPIError(c, "intake_failed", err)
		return
	}
	response.RespondOK(c, res)
}

// POST /intake/generated-texts
func (h *IntakeHandler) ReceiveGenerated(c *gin.Context) {
	var in services.OutputWebhook
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	out, err := h.reconcile.ReceiveOutput(c.Request.Context(), in)
	if err != nil {
		response.RespondAPIError(c, "output_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"generatedRecordId": out.ID})
}

// PATCH /intake/ordered-texts/:id/status
func (h *IntakeHandler) UpdateStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_intake_id", err)
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	rec, err := h.reconcile.UpdateIntakeStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		response.RespondAPIError(c, "status_update_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"record": rec})
}

// DELETE /intake/ordered-texts/:id
func (h *IntakeHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_intake_id", err)
		return
	}
	res, err := h.reconcile.DeleteIntake(c.Request.Context(), id)
	if err != nil {
		response.RespondAPIError(c, "delete_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": res})
}
