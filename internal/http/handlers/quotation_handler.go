// README: Quotation ledger handlers (submit, read, accept, reject, expire).
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"movebid/internal/modules/bid"
	"movebid/internal/modules/pricing"
	"movebid/internal/modules/quotation"
	"movebid/internal/types"
)

type QuotationHandler struct {
	quotations *quotation.Service
}

func NewQuotationHandler(svc *quotation.Service) *QuotationHandler {
	return &QuotationHandler{quotations: svc}
}

// Exactly one of breakdown or pricing is set; pricing asks the server to compute the
// breakdown from the transport's active rates.
type submitQuotationReq struct {
	BookingID   string                  `json:"booking_id"`
	TransportID string                  `json:"transport_id"`
	Breakdown   *pricing.PriceBreakdown `json:"breakdown"`
	Pricing     *pricing.Request        `json:"pricing"`
	TTLHours    int                     `json:"ttl_hours"`
}

func (h *QuotationHandler) Submit(c *gin.Context) {
	var req submitQuotationReq
	if !bindJSON(c, &req) {
		return
	}
	if !isValidID(req.BookingID) || !isValidID(req.TransportID) {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "missing booking_id or transport_id")
		return
	}
	if (req.Breakdown == nil) == (req.Pricing == nil) || req.TTLHours < 0 {
		writeError(c, http.StatusBadRequest, "BAD_REQUEST", "provide exactly one of breakdown or pricing")
		return
	}
	ttl := time.Duration(req.TTLHours) * time.Hour

	ctx := c.Request.Context()
	var err error
	var q *bid.Quotation
	if req.Breakdown != nil {
		q, err = h.quotations.Submit(ctx, quotation.SubmitCommand{
			BookingID:   types.ID(req.BookingID),
			TransportID: types.ID(req.TransportID),
			Breakdown:   *req.Breakdown,
			TTL:         ttl,
			Actor:       actor(c),
		})
	} else {
		q, err = h.quotations.SubmitPriced(ctx, quotation.SubmitPricedCommand{
			BookingID:   types.ID(req.BookingID),
			TransportID: types.ID(req.TransportID),
			Request:     *req.Pricing,
			TTL:         ttl,
			Actor:       actor(c),
		})
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, q)
}

func (h *QuotationHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	q, err := h.quotations.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, q)
}

func (h *QuotationHandler) ListActive(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	qs, err := h.quotations.ListActive(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"quotations": qs})
}

func (h *QuotationHandler) Accept(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.quotations.Accept(c.Request.Context(), id, actor(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *QuotationHandler) Reject(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	q, err := h.quotations.Reject(c.Request.Context(), id, actor(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, q)
}

func (h *QuotationHandler) Expire(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	q, err := h.quotations.Expire(c.Request.Context(), id, actor(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, q)
}
