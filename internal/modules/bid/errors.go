// README: Typed negotiation failures and their classification.
package bid

import (
	"errors"

	"movebid/internal/modules/pricing"
)

var (
	ErrInvalidCounterPrice      = errors.New("offered price must be positive and below the current price")
	ErrAlreadyResolved          = errors.New("already resolved")
	ErrAlreadyBound             = errors.New("booking already has a bound price")
	ErrDuplicateActiveQuotation = errors.New("transport already has a pending quotation on this booking")
	ErrExpired                  = errors.New("expired")
	ErrQuotationNotFound        = errors.New("quotation not found")
	ErrCounterOfferNotFound     = errors.New("counter-offer not found")
	ErrBindingNotFound          = errors.New("booking has no bound price")
	ErrBadRequest               = errors.New("bad request")
	ErrForbidden                = errors.New("actor not allowed")
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindTemporal
	KindNotFound
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindTemporal:
		return "temporal"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	}
	return "internal"
}

// KindOf classifies err. Validation errors are fixed by resubmitting; conflict and
// temporal errors mean the caller must re-read state before deciding again.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidCounterPrice), errors.Is(err, ErrBadRequest),
		errors.Is(err, pricing.ErrInvalidRequest), errors.Is(err, pricing.ErrInconsistentBreakdown):
		return KindValidation
	case errors.Is(err, ErrExpired):
		return KindTemporal
	case errors.Is(err, ErrAlreadyResolved), errors.Is(err, ErrAlreadyBound), errors.Is(err, ErrDuplicateActiveQuotation):
		return KindConflict
	case errors.Is(err, ErrQuotationNotFound), errors.Is(err, ErrCounterOfferNotFound),
		errors.Is(err, ErrBindingNotFound), errors.Is(err, pricing.ErrRateCardNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	}
	return KindInternal
}

// Code is the stable machine-readable name of err for API responses.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCounterPrice):
		return "INVALID_COUNTER_PRICE"
	case errors.Is(err, ErrAlreadyResolved):
		return "ALREADY_RESOLVED"
	case errors.Is(err, ErrAlreadyBound):
		return "ALREADY_BOUND"
	case errors.Is(err, ErrDuplicateActiveQuotation):
		return "DUPLICATE_ACTIVE_QUOTATION"
	case errors.Is(err, ErrExpired):
		return "EXPIRED"
	case errors.Is(err, ErrQuotationNotFound):
		return "QUOTATION_NOT_FOUND"
	case errors.Is(err, ErrCounterOfferNotFound):
		return "COUNTER_OFFER_NOT_FOUND"
	case errors.Is(err, ErrBindingNotFound):
		return "BINDING_NOT_FOUND"
	case errors.Is(err, pricing.ErrRateCardNotFound):
		return "RATE_CARD_NOT_FOUND"
	case errors.Is(err, pricing.ErrInconsistentBreakdown):
		return "INCONSISTENT_BREAKDOWN"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrBadRequest), errors.Is(err, pricing.ErrInvalidRequest):
		return "BAD_REQUEST"
	}
	return "INTERNAL"
}
