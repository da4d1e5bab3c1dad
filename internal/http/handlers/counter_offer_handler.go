// README: Counter-offer handlers (propose, list, read, respond).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"movebid/internal/modules/negotiation"
)

type CounterOfferHandler struct {
	negotiation *negotiation.Service
}

func NewCounterOfferHandler(svc *negotiation.Service) *CounterOfferHandler {
	return &CounterOfferHandler{negotiation: svc}
}

type proposeReq struct {
	OfferedPrice    int64  `json:"offered_price"`
	Reason          string `json:"reason"`
	Message         string `json:"message"`
	ExpirationHours int    `json:"expiration_hours"`
}

func (h *CounterOfferHandler) Propose(c *gin.Context) {
	quotationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req proposeReq
	if !bindJSON(c, &req) {
		return
	}
	v, err := h.negotiation.Propose(c.Request.Context(), negotiation.ProposeCommand{
		QuotationID:     quotationID,
		OfferedPrice:    req.OfferedPrice,
		Reason:          req.Reason,
		Message:         req.Message,
		ExpirationHours: req.ExpirationHours,
		Actor:           actor(c),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, v)
}

func (h *CounterOfferHandler) List(c *gin.Context) {
	quotationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	vs, err := h.negotiation.List(c.Request.Context(), quotationID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"counter_offers": vs})
}

func (h *CounterOfferHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	v, err := h.negotiation.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

type respondReq struct {
	Decision        string `json:"decision"`
	ResponseMessage string `json:"response_message"`
}

func (h *CounterOfferHandler) Respond(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req respondReq
	if !bindJSON(c, &req) {
		return
	}
	decision, err := negotiation.ParseDecision(req.Decision)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	res, err := h.negotiation.Respond(c.Request.Context(), negotiation.RespondCommand{
		CounterOfferID:  id,
		Decision:        decision,
		ResponseMessage: req.ResponseMessage,
		Actor:           actor(c),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}
