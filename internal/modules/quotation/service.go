// README: Quotation ledger; transport offers against a booking and their lifecycle.
package quotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"movebid/internal/metrics"
	"movebid/internal/modules/bid"
	"movebid/internal/modules/binding"
	"movebid/internal/modules/pricing"
	"movebid/internal/types"
)

type Pricer interface {
	Quote(ctx context.Context, transportID types.ID, req pricing.Request) (pricing.PriceBreakdown, error)
}

// Binder binds a booking inside a caller-owned transaction.
type Binder interface {
	Bind(ctx context.Context, tx bid.Querier, cmd binding.Command) (*binding.Result, error)
}

type Config struct {
	TTL      time.Duration
	Currency string
}

type Service struct {
	store  bid.Store
	binder Binder
	pricer Pricer
	cfg    Config
	log    *zap.Logger
	now    func() time.Time
}

func NewService(store bid.Store, binder Binder, pricer Pricer, cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Currency == "" {
		cfg.Currency = types.DefaultCurrency
	}
	return &Service{store: store, binder: binder, pricer: pricer, cfg: cfg, log: log, now: time.Now}
}

type SubmitCommand struct {
	BookingID   types.ID
	TransportID types.ID
	Breakdown   pricing.PriceBreakdown
	// TTL overrides the configured lifetime when positive.
	TTL   time.Duration
	Actor bid.Actor
}

type SubmitPricedCommand struct {
	BookingID   types.ID
	TransportID types.ID
	Request     pricing.Request
	TTL         time.Duration
	Actor       bid.Actor
}

// Submit records a PENDING quotation carrying breakdown's total.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (*bid.Quotation, error) {
	if cmd.BookingID == "" || cmd.TransportID == "" || cmd.TTL < 0 {
		return nil, bid.ErrBadRequest
	}
	if !canSubmit(cmd.Actor, cmd.TransportID) {
		return nil, bid.ErrForbidden
	}
	if err := cmd.Breakdown.Verify(); err != nil {
		return nil, fmt.Errorf("%w: %v", bid.ErrBadRequest, err)
	}

	ttl := s.cfg.TTL
	if cmd.TTL > 0 {
		ttl = cmd.TTL
	}
	now := s.now()
	q := &bid.Quotation{
		ID:           types.NewID(),
		BookingID:    cmd.BookingID,
		TransportID:  cmd.TransportID,
		Breakdown:    cmd.Breakdown,
		TotalPrice:   cmd.Breakdown.Total,
		CurrentPrice: cmd.Breakdown.Total,
		Currency:     s.cfg.Currency,
		Status:       bid.QuotationPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}

	var stale *bid.Quotation
	var staleCO *bid.CounterOffer
	err := s.store.ExecTx(ctx, func(tx bid.Querier) error {
		stale, staleCO = nil, nil
		if err := tx.LockBooking(ctx, cmd.BookingID); err != nil {
			return err
		}
		if _, err := tx.GetBinding(ctx, cmd.BookingID); err == nil {
			return bid.ErrAlreadyBound
		} else if !errors.Is(err, bid.ErrBindingNotFound) {
			return err
		}
		prev, err := tx.PendingQuotation(ctx, cmd.BookingID, cmd.TransportID)
		if err != nil {
			return err
		}
		if prev != nil {
			if !prev.PastDeadline(now) {
				return bid.ErrDuplicateActiveQuotation
			}
			// A lapsed quotation no longer holds the slot.
			if staleCO, err = bid.ExpireQuotation(ctx, tx, prev, cmd.Actor, now); err != nil {
				return err
			}
			stale = prev
		}
		return tx.InsertQuotation(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	if stale != nil {
		recordExpiry(staleCO)
		s.log.Info("quotation expired", zap.String("quotation_id", string(stale.ID)), zap.String("booking_id", string(stale.BookingID)))
	}
	metrics.QuotationsSubmitted.Inc()
	s.log.Info("quotation submitted",
		zap.String("quotation_id", string(q.ID)),
		zap.String("booking_id", string(q.BookingID)),
		zap.String("transport_id", string(q.TransportID)),
		zap.Int64("total_price", q.TotalPrice),
	)
	return q, nil
}

// SubmitPriced prices the request against the transport's current rates, then submits.
func (s *Service) SubmitPriced(ctx context.Context, cmd SubmitPricedCommand) (*bid.Quotation, error) {
	if s.pricer == nil {
		return nil, errors.New("quotation: pricing is not configured")
	}
	if !canSubmit(cmd.Actor, cmd.TransportID) {
		return nil, bid.ErrForbidden
	}
	b, err := s.pricer.Quote(ctx, cmd.TransportID, cmd.Request)
	if err != nil {
		return nil, err
	}
	return s.Submit(ctx, SubmitCommand{
		BookingID:   cmd.BookingID,
		TransportID: cmd.TransportID,
		Breakdown:   b,
		TTL:         cmd.TTL,
		Actor:       cmd.Actor,
	})
}

func (s *Service) Get(ctx context.Context, id types.ID) (*bid.Quotation, error) {
	return s.store.GetQuotation(ctx, id)
}

// ListActive returns the booking's pending quotations that are still within their deadline.
func (s *Service) ListActive(ctx context.Context, bookingID types.ID) ([]bid.Quotation, error) {
	all, err := s.store.ListQuotationsByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]bid.Quotation, 0, len(all))
	for _, q := range all {
		if q.EffectiveStatus(now) == bid.QuotationPending {
			out = append(out, q)
		}
	}
	return out, nil
}

// Expire moves a pending quotation to EXPIRED. Terminal quotations are returned unchanged.
func (s *Service) Expire(ctx context.Context, id types.ID, actor bid.Actor) (*bid.Quotation, error) {
	var q *bid.Quotation
	var co *bid.CounterOffer
	changed := false
	err := s.store.ExecTx(ctx, func(tx bid.Querier) error {
		var err error
		if q, err = bid.LockQuotation(ctx, tx, id); err != nil {
			return err
		}
		if !canExpire(actor, q) {
			return bid.ErrForbidden
		}
		if q.Status.Terminal() {
			return nil
		}
		co, err = bid.ExpireQuotation(ctx, tx, q, actor, s.now())
		changed = err == nil
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		recordExpiry(co)
		s.log.Info("quotation expired", zap.String("quotation_id", string(q.ID)), zap.String("booking_id", string(q.BookingID)))
	}
	return q, nil
}

// Reject declines a single quotation. Its pending counter-offer, if any, is rejected too.
func (s *Service) Reject(ctx context.Context, id types.ID, actor bid.Actor) (*bid.Quotation, error) {
	if !canDecide(actor) {
		return nil, bid.ErrForbidden
	}
	var q *bid.Quotation
	var co *bid.CounterOffer
	expired := false
	err := s.store.ExecTx(ctx, func(tx bid.Querier) error {
		var err error
		if q, err = bid.LockQuotation(ctx, tx, id); err != nil {
			return err
		}
		if q.Status != bid.QuotationPending {
			return bid.ErrAlreadyResolved
		}
		now := s.now()
		if q.PastDeadline(now) {
			co, err = bid.ExpireQuotation(ctx, tx, q, actor, now)
			expired = err == nil
			return err
		}
		if err := bid.TransitionQuotation(ctx, tx, q, bid.QuotationRejected, actor, now, nil); err != nil {
			return err
		}
		if co, err = tx.PendingCounterOffer(ctx, q.ID); err != nil || co == nil {
			return err
		}
		return bid.TransitionCounterOffer(ctx, tx, co, bid.CounterOfferRejected, actor, now, "")
	})
	if err != nil {
		s.logLost("reject", id, err)
		return nil, err
	}
	if expired {
		recordExpiry(co)
		return nil, bid.ErrExpired
	}
	metrics.Transitions.WithLabelValues(metrics.KindQuotation, string(bid.QuotationRejected)).Inc()
	if co != nil {
		metrics.Transitions.WithLabelValues(metrics.KindCounterOffer, string(bid.CounterOfferRejected)).Inc()
	}
	return q, nil
}

// Accept binds the booking at the quotation's current price and closes all competing offers.
func (s *Service) Accept(ctx context.Context, id types.ID, actor bid.Actor) (*binding.Result, error) {
	if !canDecide(actor) {
		return nil, bid.ErrForbidden
	}
	var res *binding.Result
	var co *bid.CounterOffer
	var bindErr error
	expired := false
	err := s.store.ExecTx(ctx, func(tx bid.Querier) error {
		q, err := bid.LockQuotation(ctx, tx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if q.Status == bid.QuotationPending && q.PastDeadline(now) {
			co, err = bid.ExpireQuotation(ctx, tx, q, actor, now)
			expired = err == nil
			return err
		}
		res, err = s.binder.Bind(ctx, tx, binding.Command{
			BookingID:   q.BookingID,
			TransportID: q.TransportID,
			FinalPrice:  q.CurrentPrice,
			QuotationID: q.ID,
			Actor:       actor,
		})
		bindErr = err
		return err
	})
	if err != nil {
		if bindErr != nil {
			binding.RecordFailure(bindErr)
		}
		s.logLost("accept", id, err)
		return nil, err
	}
	if expired {
		recordExpiry(co)
		return nil, bid.ErrExpired
	}
	binding.RecordOutcome(res)
	return res, nil
}

func (s *Service) logLost(op string, id types.ID, err error) {
	switch bid.KindOf(err) {
	case bid.KindConflict, bid.KindTemporal:
		s.log.Debug("quotation "+op+" lost", zap.String("quotation_id", string(id)), zap.Error(err))
	case bid.KindInternal:
		s.log.Error("quotation "+op+" failed", zap.String("quotation_id", string(id)), zap.Error(err))
	}
}

func recordExpiry(co *bid.CounterOffer) {
	metrics.Transitions.WithLabelValues(metrics.KindQuotation, string(bid.QuotationExpired)).Inc()
	if co != nil {
		metrics.Transitions.WithLabelValues(metrics.KindCounterOffer, string(bid.CounterOfferExpired)).Inc()
	}
}

func canSubmit(a bid.Actor, transportID types.ID) bool {
	return a.Is(bid.ActorManager) || (a.Is(bid.ActorTransport) && a.ID == transportID)
}

func canDecide(a bid.Actor) bool {
	return (a.Is(bid.ActorCustomer) || a.Is(bid.ActorManager)) && a.Valid()
}

func canExpire(a bid.Actor, q *bid.Quotation) bool {
	switch a.Type {
	case bid.ActorManager, bid.ActorSystem:
		return true
	case bid.ActorTransport:
		return a.ID == q.TransportID
	}
	return false
}
