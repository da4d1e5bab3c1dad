// README: Negotiation engine; counter-offers layered on a pending quotation.
package negotiation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"movebid/internal/metrics"
	"movebid/internal/modules/bid"
	"movebid/internal/modules/binding"
	"movebid/internal/types"
)

type Binder interface {
	Bind(ctx context.Context, tx bid.Querier, cmd binding.Command) (*binding.Result, error)
}

type Decision string

const (
	DecisionAccept Decision = "ACCEPT"
	DecisionReject Decision = "REJECT"
)

func ParseDecision(v string) (Decision, error) {
	switch d := Decision(strings.ToUpper(strings.TrimSpace(v))); d {
	case DecisionAccept, DecisionReject:
		return d, nil
	}
	return "", fmt.Errorf("%w: decision must be ACCEPT or REJECT", bid.ErrBadRequest)
}

type Config struct {
	CounterOfferTTL time.Duration
	SweepBatchSize  int
}

type Service struct {
	store  bid.Store
	binder Binder
	cfg    Config
	log    *zap.Logger
	now    func() time.Time
}

func NewService(store bid.Store, binder Binder, cfg Config, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CounterOfferTTL <= 0 {
		cfg.CounterOfferTTL = 24 * time.Hour
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	return &Service{store: store, binder: binder, cfg: cfg, log: log, now: time.Now}
}

type ProposeCommand struct {
	QuotationID  types.ID
	OfferedPrice int64
	Reason       string
	Message      string
	// ExpirationHours overrides the configured lifetime when positive.
	ExpirationHours int
	Actor           bid.Actor
}

// Propose opens a counter-offer below the quotation's current price. A pending
// counter-offer on the same quotation is superseded in the same transaction.
func (s *Service) Propose(ctx context.Context, cmd ProposeCommand) (*bid.CounterOfferView, error) {
	if !cmd.Actor.Valid() || !(cmd.Actor.Is(bid.ActorCustomer) || cmd.Actor.Is(bid.ActorManager)) {
		return nil, bid.ErrForbidden
	}
	if cmd.QuotationID == "" || cmd.ExpirationHours < 0 {
		return nil, bid.ErrBadRequest
	}
	if cmd.OfferedPrice <= 0 {
		return nil, bid.ErrInvalidCounterPrice
	}
	ttl := s.cfg.CounterOfferTTL
	if cmd.ExpirationHours > 0 {
		ttl = time.Duration(cmd.ExpirationHours) * time.Hour
	}

	var created *bid.CounterOffer
	var superseded *bid.CounterOffer
	expired := false
	err := s.store.ExecTx(ctx, func(tx bid.Querier) error {
		q, err := bid.LockQuotation(ctx, tx, cmd.QuotationID)
		if err != nil {
			return err
		}
		if q.Status != bid.QuotationPending {
			return bid.ErrAlreadyResolved
		}
		if cmd.OfferedPrice >= q.CurrentPrice {
			return bid.ErrInvalidCounterPrice
		}
		now := s.now()
		if q.PastDeadline(now) {
			_, err := bid.ExpireQuotation(ctx, tx, q, cmd.Actor, now)
			expired = err == nil
			return err
		}

		prior, err := tx.PendingCounterOffer(ctx, q.ID)
		if err != nil {
			return err
		}
		if prior != nil {
			to := bid.CounterOfferSuperseded
			if prior.PastDeadline(now) {
				to = bid.CounterOfferExpired
			}
			if err := bid.TransitionCounterOffer(ctx, tx, prior, to, cmd.Actor, now, ""); err != nil {
				return err
			}
			superseded = prior
		}

		created = &bid.CounterOffer{
			ID:            types.NewID(),
			QuotationID:   q.ID,
			BookingID:     q.BookingID,
			OriginalPrice: q.CurrentPrice,
			OfferedPrice:  cmd.OfferedPrice,
			Reason:        cmd.Reason,
			Message:       cmd.Message,
			ProposedBy:    cmd.Actor,
			Status:        bid.CounterOfferPending,
			CreatedAt:     now,
			ExpiresAt:     now.Add(ttl),
		}
		return tx.InsertCounterOffer(ctx, created)
	})
	if err != nil {
		s.logLost("propose", cmd.QuotationID, "", err)
		return nil, err
	}
	if expired {
		metrics.Transitions.WithLabelValues(metrics.KindQuotation, string(bid.QuotationExpired)).Inc()
		return nil, bid.ErrExpired
	}
	if superseded != nil {
		metrics.Transitions.WithLabelValues(metrics.KindCounterOffer, string(superseded.Status)).Inc()
	}
	s.log.Info("counter-offer proposed",
		zap.String("counter_offer_id", string(created.ID)),
		zap.String("quotation_id", string(created.QuotationID)),
		zap.String("booking_id", string(created.BookingID)),
		zap.Int64("offered_price", created.OfferedPrice),
	)
	v := created.View(s.now())
	return &v, nil
}

type RespondCommand struct {
	CounterOfferID  types.ID
	Decision        Decision
	ResponseMessage string
	Actor           bid.Actor
}

type RespondResult struct {
	CounterOffer bid.CounterOfferView `json:"counter_offer"`
	Binding      *binding.Result      `json:"binding,omitempty"`
}

// Respond resolves a pending counter-offer. ACCEPT binds the booking at the offered price
// in the same transaction. A counter-offer found past its deadline is recorded as EXPIRED
// and the call fails with ErrExpired.
func (s *Service) Respond(ctx context.Context, cmd RespondCommand) (*RespondResult, error) {
	if cmd.Decision != DecisionAccept && cmd.Decision != DecisionReject {
		return nil, fmt.Errorf("%w: decision must be ACCEPT or REJECT", bid.ErrBadRequest)
	}
	if !cmd.Actor.Valid() {
		return nil, bid.ErrForbidden
	}

	var co *bid.CounterOffer
	var bound *binding.Result
	var bindErr error
	expired := false
	err := s.store.ExecTx(ctx, func(tx bid.Querier) error {
		var q *bid.Quotation
		var err error
		if co, q, err = bid.LockCounterOffer(ctx, tx, cmd.CounterOfferID); err != nil {
			return err
		}
		if !canRespond(cmd.Actor, q) {
			return bid.ErrForbidden
		}
		if co.Status != bid.CounterOfferPending || q.Status != bid.QuotationPending {
			return bid.ErrAlreadyResolved
		}
		now := s.now()
		if q.PastDeadline(now) {
			expiredCo, err := bid.ExpireQuotation(ctx, tx, q, cmd.Actor, now)
			if expiredCo != nil {
				co = expiredCo
			}
			expired = err == nil
			return err
		}
		if co.PastDeadline(now) {
			err := bid.TransitionCounterOffer(ctx, tx, co, bid.CounterOfferExpired, cmd.Actor, now, "")
			expired = err == nil
			return err
		}

		if cmd.Decision == DecisionReject {
			return bid.TransitionCounterOffer(ctx, tx, co, bid.CounterOfferRejected, cmd.Actor, now, cmd.ResponseMessage)
		}
		if err := bid.TransitionCounterOffer(ctx, tx, co, bid.CounterOfferAccepted, cmd.Actor, now, cmd.ResponseMessage); err != nil {
			return err
		}
		bound, err = s.binder.Bind(ctx, tx, binding.Command{
			BookingID:      q.BookingID,
			TransportID:    q.TransportID,
			FinalPrice:     co.OfferedPrice,
			QuotationID:    q.ID,
			CounterOfferID: co.ID,
			Actor:          cmd.Actor,
		})
		bindErr = err
		return err
	})
	if err != nil {
		if bindErr != nil {
			binding.RecordFailure(bindErr)
		}
		s.logLost("respond", "", cmd.CounterOfferID, err)
		return nil, err
	}
	if expired {
		metrics.Transitions.WithLabelValues(metrics.KindCounterOffer, string(bid.CounterOfferExpired)).Inc()
		return nil, bid.ErrExpired
	}

	metrics.Transitions.WithLabelValues(metrics.KindCounterOffer, string(co.Status)).Inc()
	binding.RecordOutcome(bound)
	s.log.Info("counter-offer resolved",
		zap.String("counter_offer_id", string(co.ID)),
		zap.String("quotation_id", string(co.QuotationID)),
		zap.String("booking_id", string(co.BookingID)),
		zap.String("status", string(co.Status)),
	)
	return &RespondResult{CounterOffer: co.View(s.now()), Binding: bound}, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*bid.CounterOfferView, error) {
	c, err := s.store.GetCounterOffer(ctx, id)
	if err != nil {
		return nil, err
	}
	v := c.View(s.now())
	return &v, nil
}

// List returns every counter-offer on a quotation, oldest first.
func (s *Service) List(ctx context.Context, quotationID types.ID) ([]bid.CounterOfferView, error) {
	if _, err := s.store.GetQuotation(ctx, quotationID); err != nil {
		return nil, err
	}
	cs, err := s.store.ListCounterOffers(ctx, quotationID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]bid.CounterOfferView, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.View(now))
	}
	return out, nil
}

func (s *Service) logLost(op string, quotationID, counterOfferID types.ID, err error) {
	fields := []zap.Field{zap.Error(err)}
	if quotationID != "" {
		fields = append(fields, zap.String("quotation_id", string(quotationID)))
	}
	if counterOfferID != "" {
		fields = append(fields, zap.String("counter_offer_id", string(counterOfferID)))
	}
	switch bid.KindOf(err) {
	case bid.KindConflict, bid.KindTemporal:
		s.log.Debug("counter-offer "+op+" lost", fields...)
	case bid.KindInternal:
		s.log.Error("counter-offer "+op+" failed", fields...)
	}
}

func canRespond(a bid.Actor, q *bid.Quotation) bool {
	return a.Is(bid.ActorManager) || (a.Is(bid.ActorTransport) && a.ID == q.TransportID)
}
