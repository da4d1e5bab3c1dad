// README: Booking price binding read handler.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"movebid/internal/modules/binding"
)

type BindingHandler struct {
	binding *binding.Service
}

func NewBindingHandler(svc *binding.Service) *BindingHandler {
	return &BindingHandler{binding: svc}
}

func (h *BindingHandler) Get(c *gin.Context) {
	bookingID, ok := pathID(c, "id")
	if !ok {
		return
	}
	b, err := h.binding.Get(c.Request.Context(), bookingID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}
