// README: Booking price binding; the single path that writes a booking's bound price.
package binding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"movebid/internal/metrics"
	"movebid/internal/modules/bid"
	"movebid/internal/types"
)

type Command struct {
	BookingID      types.ID
	TransportID    types.ID
	FinalPrice     int64
	QuotationID    types.ID
	CounterOfferID types.ID
	Actor          bid.Actor
}

// Result is the bound state handed back to callers for notification fan-out.
type Result struct {
	Binding             bid.Binding        `json:"binding"`
	Quotation           bid.Quotation      `json:"quotation"`
	ClosedQuotations    []bid.Quotation    `json:"closed_quotations"`
	ClosedCounterOffers []bid.CounterOffer `json:"closed_counter_offers"`
}

type Service struct {
	store bid.Store
	log   *zap.Logger
	now   func() time.Time
}

func NewService(store bid.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, now: time.Now}
}

// WithClock replaces the time source; tests use it to pin deadlines.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// BindPrice runs Bind in its own transaction under the booking lock.
func (s *Service) BindPrice(ctx context.Context, cmd Command) (*Result, error) {
	var res *Result
	err := s.store.ExecTx(ctx, func(tx bid.Querier) error {
		if err := tx.LockBooking(ctx, cmd.BookingID); err != nil {
			return err
		}
		var err error
		res, err = s.Bind(ctx, tx, cmd)
		return err
	})
	if err != nil {
		RecordFailure(err)
		return nil, err
	}
	RecordOutcome(res)
	return res, nil
}

// Bind writes the binding and closes every competing offer on the booking. It must run
// inside a transaction that already holds the booking lock; callers that own the
// transaction report metrics with RecordOutcome after commit.
func (s *Service) Bind(ctx context.Context, tx bid.Querier, cmd Command) (*Result, error) {
	if cmd.BookingID == "" || cmd.TransportID == "" || cmd.QuotationID == "" || cmd.FinalPrice <= 0 {
		return nil, bid.ErrBadRequest
	}
	now := s.now()

	win, err := tx.GetQuotation(ctx, cmd.QuotationID)
	if err != nil {
		return nil, err
	}
	if win.BookingID != cmd.BookingID || win.TransportID != cmd.TransportID {
		return nil, fmt.Errorf("%w: quotation %s does not belong to booking %s and transport %s",
			bid.ErrBadRequest, win.ID, cmd.BookingID, cmd.TransportID)
	}

	b := bid.Binding{
		BookingID:      cmd.BookingID,
		TransportID:    cmd.TransportID,
		QuotationID:    cmd.QuotationID,
		CounterOfferID: cmd.CounterOfferID,
		FinalPrice:     cmd.FinalPrice,
		Currency:       win.Currency,
		BoundAt:        now,
		BoundBy:        cmd.Actor,
	}
	ok, err := tx.InsertBinding(ctx, &b)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.Bindings.WithLabelValues("already_bound").Inc()
		return nil, bid.ErrAlreadyBound
	}
	// ErrAlreadyBound takes precedence over the winner's own state.
	if win.Status == bid.QuotationPending && win.PastDeadline(now) {
		return nil, bid.ErrExpired
	}

	price := cmd.FinalPrice
	if err := bid.TransitionQuotation(ctx, tx, win, bid.QuotationAccepted, cmd.Actor, now, &price); err != nil {
		return nil, err
	}

	res := &Result{Binding: b, Quotation: *win}

	others, err := tx.ListQuotationsByBooking(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	for i := range others {
		q := &others[i]
		if q.ID == win.ID || q.Status != bid.QuotationPending {
			continue
		}
		to := bid.QuotationRejected
		if q.PastDeadline(now) {
			to = bid.QuotationExpired
		}
		if err := bid.TransitionQuotation(ctx, tx, q, to, cmd.Actor, now, nil); err != nil {
			return nil, err
		}
		res.ClosedQuotations = append(res.ClosedQuotations, *q)
	}

	pending, err := tx.ListPendingCounterOffersByBooking(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	for i := range pending {
		c := &pending[i]
		if c.ID == cmd.CounterOfferID {
			continue
		}
		to := bid.CounterOfferRejected
		if c.PastDeadline(now) {
			to = bid.CounterOfferExpired
		}
		if err := bid.TransitionCounterOffer(ctx, tx, c, to, cmd.Actor, now, ""); err != nil {
			return nil, err
		}
		res.ClosedCounterOffers = append(res.ClosedCounterOffers, *c)
	}

	s.log.Info("booking price bound",
		zap.String("booking_id", string(cmd.BookingID)),
		zap.String("quotation_id", string(cmd.QuotationID)),
		zap.String("counter_offer_id", string(cmd.CounterOfferID)),
		zap.Int64("final_price", cmd.FinalPrice),
		zap.Int("closed_quotations", len(res.ClosedQuotations)),
		zap.Int("closed_counter_offers", len(res.ClosedCounterOffers)),
	)
	return res, nil
}

// Get returns the booking's binding.
func (s *Service) Get(ctx context.Context, bookingID types.ID) (*bid.Binding, error) {
	b, err := s.store.GetBinding(ctx, bookingID)
	if err != nil && !errors.Is(err, bid.ErrBindingNotFound) {
		return nil, fmt.Errorf("get binding %s: %w", bookingID, err)
	}
	return b, err
}

// RecordFailure counts a binding attempt that lost to an existing binding or failed
// inside the store. Caller mistakes and expired offers are not binding outcomes.
func RecordFailure(err error) {
	switch {
	case errors.Is(err, bid.ErrAlreadyBound):
		metrics.Bindings.WithLabelValues("already_bound").Inc()
	case bid.KindOf(err) == bid.KindInternal:
		metrics.Bindings.WithLabelValues("error").Inc()
	}
}

// RecordOutcome counts a committed binding and the transitions it caused.
func RecordOutcome(res *Result) {
	if res == nil {
		return
	}
	metrics.Bindings.WithLabelValues("bound").Inc()
	metrics.Transitions.WithLabelValues(metrics.KindQuotation, string(bid.QuotationAccepted)).Inc()
	for _, q := range res.ClosedQuotations {
		metrics.Transitions.WithLabelValues(metrics.KindQuotation, string(q.Status)).Inc()
	}
	for _, c := range res.ClosedCounterOffers {
		metrics.Transitions.WithLabelValues(metrics.KindCounterOffer, string(c.Status)).Inc()
	}
}
