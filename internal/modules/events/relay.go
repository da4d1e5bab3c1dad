// README: Relay drains the outbox to a publisher on a ticker.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"movebid/internal/metrics"
)

type Relay struct {
	outbox   Outbox
	pub      Publisher
	interval time.Duration
	batch    int
	log      *zap.Logger
}

func NewRelay(outbox Outbox, pub Publisher, interval time.Duration, batch int, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	if batch <= 0 {
		batch = 100
	}
	return &Relay{outbox: outbox, pub: pub, interval: interval, batch: batch, log: log}
}

// Drain publishes pending events until the outbox is empty or a step fails. Events are
// marked delivered only after the publisher accepted them.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		evs, err := r.outbox.PendingEvents(ctx, r.batch)
		if err != nil {
			return total, err
		}
		if len(evs) == 0 {
			return total, nil
		}
		if err := r.pub.Publish(ctx, evs); err != nil {
			metrics.EventPublishFailures.Inc()
			return total, err
		}
		seqs := make([]int64, len(evs))
		for i, e := range evs {
			seqs[i] = e.Seq
			metrics.EventsPublished.WithLabelValues(string(e.Type)).Inc()
		}
		if err := r.outbox.MarkEventsDelivered(ctx, seqs); err != nil {
			return total, err
		}
		total += len(evs)
		if len(evs) < r.batch {
			return total, nil
		}
	}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Drain(ctx)
			if err != nil && ctx.Err() == nil {
				r.log.Warn("outbox relay failed", zap.Int("published", n), zap.Error(err))
				continue
			}
			if n > 0 {
				r.log.Debug("outbox relayed", zap.Int("published", n))
			}
		}
	}
}
