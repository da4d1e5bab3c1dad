// README: Expiry sweep; proactively expires pending records past their deadline.
package negotiation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"movebid/internal/metrics"
	"movebid/internal/modules/bid"
)

type SweepResult struct {
	Quotations    int
	CounterOffers int
}

// SweepExpired expires every pending quotation and counter-offer whose deadline is before
// now. Each record is re-read under its booking lock, so a concurrent respond or accept
// that got there first simply wins and the record is skipped.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	var errs []error

	for {
		qs, err := s.store.ListExpiredQuotations(ctx, now, s.cfg.SweepBatchSize)
		if err != nil {
			return res, err
		}
		progressed := 0
		for _, q := range qs {
			n, err := s.expireQuotation(ctx, q, now)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if n >= 0 {
				progressed++
				res.Quotations++
				res.CounterOffers += n
			}
		}
		if len(qs) < s.cfg.SweepBatchSize || progressed == 0 {
			break
		}
	}

	for {
		cs, err := s.store.ListExpiredCounterOffers(ctx, now, s.cfg.SweepBatchSize)
		if err != nil {
			return res, err
		}
		progressed := 0
		for _, c := range cs {
			done, err := s.expireCounterOffer(ctx, c, now)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if done {
				progressed++
				res.CounterOffers++
			}
		}
		if len(cs) < s.cfg.SweepBatchSize || progressed == 0 {
			break
		}
	}

	metrics.SweepExpired.WithLabelValues(metrics.KindQuotation).Add(float64(res.Quotations))
	metrics.SweepExpired.WithLabelValues(metrics.KindCounterOffer).Add(float64(res.CounterOffers))
	return res, errors.Join(errs...)
}

// expireQuotation returns the number of counter-offers expired alongside the quotation,
// or -1 when the quotation no longer needed expiring.
func (s *Service) expireQuotation(ctx context.Context, stale bid.Quotation, now time.Time) (int, error) {
	n := -1
	err := s.store.ExecTx(ctx, func(tx bid.Querier) error {
		q, err := bid.LockQuotation(ctx, tx, stale.ID)
		if err != nil {
			return err
		}
		if q.Status != bid.QuotationPending || !q.PastDeadline(now) {
			return nil
		}
		co, err := bid.ExpireQuotation(ctx, tx, q, bid.SweeperActor, now)
		if err != nil {
			return err
		}
		n = 0
		if co != nil {
			n = 1
		}
		return nil
	})
	if err != nil {
		return -1, err
	}
	if n >= 0 {
		metrics.Transitions.WithLabelValues(metrics.KindQuotation, string(bid.QuotationExpired)).Inc()
		if n > 0 {
			metrics.Transitions.WithLabelValues(metrics.KindCounterOffer, string(bid.CounterOfferExpired)).Inc()
		}
	}
	return n, nil
}

func (s *Service) expireCounterOffer(ctx context.Context, stale bid.CounterOffer, now time.Time) (bool, error) {
	done := false
	err := s.store.ExecTx(ctx, func(tx bid.Querier) error {
		co, _, err := bid.LockCounterOffer(ctx, tx, stale.ID)
		if err != nil {
			return err
		}
		if co.Status != bid.CounterOfferPending || !co.PastDeadline(now) {
			return nil
		}
		if err := bid.TransitionCounterOffer(ctx, tx, co, bid.CounterOfferExpired, bid.SweeperActor, now, ""); err != nil {
			return err
		}
		done = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if done {
		metrics.Transitions.WithLabelValues(metrics.KindCounterOffer, string(bid.CounterOfferExpired)).Inc()
	}
	return done, nil
}

// Sweeper runs SweepExpired on a fixed interval.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	log      *zap.Logger
}

func NewSweeper(svc *Service, interval time.Duration, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{svc: svc, interval: interval, log: log}
}

func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := w.svc.SweepExpired(ctx, w.svc.now())
			if err != nil && ctx.Err() == nil {
				w.log.Warn("expiry sweep incomplete", zap.Error(err))
			}
			if res.Quotations > 0 || res.CounterOffers > 0 {
				w.log.Info("expiry sweep",
					zap.Int("quotations", res.Quotations),
					zap.Int("counter_offers", res.CounterOffers),
				)
			}
		}
	}
}
