package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/fulfillment-backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondAPIError writes err with the status and code it carries; plain errors become 500 with fallback.
func RespondAPIError(c *gin.Context, fallback string, err error) {
	RespondError(c, apierr.StatusOf(err), apierr.CodeOf(err, fallback), err)
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
