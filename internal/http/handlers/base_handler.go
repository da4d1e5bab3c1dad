// README: Base handler utilities (JSON helpers, error mapping, caller identity).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"movebid/internal/http/middleware"
	"movebid/internal/modules/bid"
	"movebid/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// isValidID accepts generated UUIDs and the short opaque ids used by external systems.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "invalid json")
		return false
	}
	return true
}

func actor(c *gin.Context) bid.Actor {
	return middleware.CallerActor(c)
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, errorResponse{Error: msg, Code: code})
}

// writeServiceError maps a service error onto its HTTP status.
func writeServiceError(c *gin.Context, err error) {
	code := bid.Code(err)
	switch bid.KindOf(err) {
	case bid.KindValidation:
		if errors.Is(err, bid.ErrInvalidCounterPrice) {
			writeError(c, http.StatusUnprocessableEntity, code, err.Error())
			return
		}
		writeError(c, http.StatusBadRequest, code, err.Error())
	case bid.KindNotFound:
		writeError(c, http.StatusNotFound, code, err.Error())
	case bid.KindForbidden:
		writeError(c, http.StatusForbidden, code, err.Error())
	case bid.KindConflict, bid.KindTemporal:
		writeError(c, http.StatusConflict, code, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, code, "internal error")
	}
}
