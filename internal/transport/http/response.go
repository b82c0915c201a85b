package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	platformerrors "catalyzed-crm/internal/platform/errors"
)

// APIResponse is the envelope shared by every API route. Kind is set on
// failures that carry a typed error.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Kind    string      `json:"kind,omitempty"`
}

// RespondSuccess writes a success envelope.
func RespondSuccess(c *gin.Context, httpStatus int, data interface{}, message string) {
	if message == "" {
		message = "ok"
	}

	c.JSON(httpStatus, APIResponse{
		Success: true,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

// RespondError writes a failure envelope without an error kind.
func RespondError(c *gin.Context, httpStatus int, message string, data interface{}) {
	c.JSON(httpStatus, APIResponse{
		Success: false,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

// RespondFailure writes err with the status and kind derived from it.
func RespondFailure(c *gin.Context, err error) {
	status := statusFor(err)
	kind := platformerrors.KindOf(err)
	c.JSON(status, APIResponse{
		Success: false,
		Message: err.Error(),
		Code:    status,
		Data:    gin.H{},
		Kind:    string(kind),
	})
}

func respondBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, APIResponse{
		Success: false,
		Message: "invalid request body",
		Code:    http.StatusBadRequest,
		Data:    gin.H{"error": err.Error()},
		Kind:    string(platformerrors.KindValidation),
	})
}
