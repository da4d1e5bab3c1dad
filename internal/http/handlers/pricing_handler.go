// README: Price computation handler.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"movebid/internal/modules/pricing"
	"movebid/internal/types"
)

type PricingHandler struct {
	pricing *pricing.Service
}

func NewPricingHandler(svc *pricing.Service) *PricingHandler {
	return &PricingHandler{pricing: svc}
}

type quoteReq struct {
	TransportID string `json:"transport_id"`
	pricing.Request
}

func (h *PricingHandler) Quote(c *gin.Context) {
	var req quoteReq
	if !bindJSON(c, &req) {
		return
	}
	if !isValidID(req.TransportID) {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "missing transport_id")
		return
	}
	b, err := h.pricing.Quote(c.Request.Context(), types.ID(req.TransportID), req.Request)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}
