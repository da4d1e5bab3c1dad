// README: Persistence contract for negotiation records. Mutations go through ExecTx.
package bid

import (
	"context"
	"time"

	"movebid/internal/modules/events"
	"movebid/internal/types"
)

// QuotationUpdate is a conditional status write: it applies only while the row is still
// in From at Version.
type QuotationUpdate struct {
	ID           types.ID
	From         QuotationStatus
	To           QuotationStatus
	Version      int
	CurrentPrice *int64
	At           time.Time
}

type CounterOfferUpdate struct {
	ID              types.ID
	From            CounterOfferStatus
	To              CounterOfferStatus
	Version         int
	ResponseMessage string
	RespondedBy     *Actor
	At              time.Time
}

type Querier interface {
	// LockBooking serialises all mutations touching one booking until the transaction ends.
	LockBooking(ctx context.Context, bookingID types.ID) error

	InsertQuotation(ctx context.Context, q *Quotation) error
	GetQuotation(ctx context.Context, id types.ID) (*Quotation, error)
	ListQuotationsByBooking(ctx context.Context, bookingID types.ID) ([]Quotation, error)
	// PendingQuotation returns the transport's PENDING quotation on the booking, or nil.
	PendingQuotation(ctx context.Context, bookingID, transportID types.ID) (*Quotation, error)
	UpdateQuotationStatus(ctx context.Context, u QuotationUpdate) (bool, error)
	ListExpiredQuotations(ctx context.Context, now time.Time, limit int) ([]Quotation, error)

	InsertCounterOffer(ctx context.Context, c *CounterOffer) error
	GetCounterOffer(ctx context.Context, id types.ID) (*CounterOffer, error)
	ListCounterOffers(ctx context.Context, quotationID types.ID) ([]CounterOffer, error)
	// PendingCounterOffer returns nil, nil when the quotation has no pending counter-offer.
	PendingCounterOffer(ctx context.Context, quotationID types.ID) (*CounterOffer, error)
	ListPendingCounterOffersByBooking(ctx context.Context, bookingID types.ID) ([]CounterOffer, error)
	UpdateCounterOfferStatus(ctx context.Context, u CounterOfferUpdate) (bool, error)
	ListExpiredCounterOffers(ctx context.Context, now time.Time, limit int) ([]CounterOffer, error)

	// InsertBinding reports false when the booking is already bound.
	InsertBinding(ctx context.Context, b *Binding) (bool, error)
	GetBinding(ctx context.Context, bookingID types.ID) (*Binding, error)

	AppendEvent(ctx context.Context, e *events.Event) error
}

type Store interface {
	Querier
	events.Outbox
	ExecTx(ctx context.Context, fn func(Querier) error) error
}
