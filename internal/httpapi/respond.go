package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meshchat/meshchat-service/internal/orchestrator"
)

// errorResponse is the JSON body for every non-2xx response this surface
// returns.
type errorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func abortWithError(c *gin.Context, status int, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(status, errorResponse{Error: message, Details: details})
}

// coreErrorStatus maps an orchestrator error kind to the HTTP status spec.md
// §7 requires for it; this is the one place that mapping lives, rather than
// a status-per-file package of interchangeable helpers.
func coreErrorStatus(kind orchestrator.Kind) int {
	switch kind {
	case orchestrator.KindNotFound:
		return http.StatusNotFound
	case orchestrator.KindAlreadySubscribed:
		return http.StatusConflict
	case orchestrator.KindInvalidRole:
		return http.StatusBadRequest
	case orchestrator.KindTimeout:
		return http.StatusGatewayTimeout
	case orchestrator.KindWorkerFailure, orchestrator.KindPersistenceFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeCoreError(c *gin.Context, err error) {
	var coreErr *orchestrator.CoreError
	if !errors.As(err, &coreErr) {
		abortWithError(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	abortWithError(c, coreErrorStatus(coreErr.Kind), coreErr.Msg, nil)
}
