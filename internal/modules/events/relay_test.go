package events

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOutbox struct {
	mu        sync.Mutex
	pending   []Event
	delivered []int64
	markErr   error
}

func (o *fakeOutbox) PendingEvents(_ context.Context, limit int) ([]Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if limit > len(o.pending) {
		limit = len(o.pending)
	}
	return append([]Event(nil), o.pending[:limit]...), nil
}

func (o *fakeOutbox) MarkEventsDelivered(_ context.Context, seqs []int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.markErr != nil {
		return o.markErr
	}
	done := map[int64]bool{}
	for _, s := range seqs {
		done[s] = true
	}
	kept := o.pending[:0]
	for _, e := range o.pending {
		if !done[e.Seq] {
			kept = append(kept, e)
		}
	}
	o.pending = kept
	o.delivered = append(o.delivered, seqs...)
	return nil
}

type recordingPublisher struct {
	got  []Event
	fail bool
}

func (p *recordingPublisher) Publish(_ context.Context, evs []Event) error {
	if p.fail {
		return errors.New("broker down")
	}
	p.got = append(p.got, evs...)
	return nil
}

func makeEvents(n int) []Event {
	out := make([]Event, n)
	for i := range out {
		out[i] = Event{Seq: int64(i + 1), ID: "e", Type: TypeBidStatusChanged, QuotationID: "q1", BookingID: "b1", Status: "REJECTED"}
	}
	return out
}

func TestRelayDrain_Batches(t *testing.T) {
	ob := &fakeOutbox{pending: makeEvents(5)}
	pub := &recordingPublisher{}
	r := NewRelay(ob, pub, time.Second, 2, nil)

	n, err := r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, pub.got, 5)
	assert.Empty(t, ob.pending)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ob.delivered)
}

func TestRelayDrain_PublishFailureKeepsEvents(t *testing.T) {
	ob := &fakeOutbox{pending: makeEvents(3)}
	r := NewRelay(ob, &recordingPublisher{fail: true}, time.Second, 10, nil)

	_, err := r.Drain(context.Background())
	assert.Error(t, err)
	assert.Len(t, ob.pending, 3)
}

func TestRelayDrain_MarkFailureRedelivers(t *testing.T) {
	ob := &fakeOutbox{pending: makeEvents(2), markErr: errors.New("db gone")}
	pub := &recordingPublisher{}
	r := NewRelay(ob, pub, time.Second, 10, nil)

	_, err := r.Drain(context.Background())
	assert.Error(t, err)

	ob.markErr = nil
	_, err = r.Drain(context.Background())
	require.NoError(t, err)
	// At-least-once: both events went out twice.
	assert.Len(t, pub.got, 4)
}

func TestRelayRun_StopsOnCancel(t *testing.T) {
	ob := &fakeOutbox{pending: makeEvents(1)}
	pub := &recordingPublisher{}
	r := NewRelay(ob, pub, 5*time.Millisecond, 10, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		ob.mu.Lock()
		defer ob.mu.Unlock()
		return len(ob.pending) == 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker()
	a, stopA := b.Subscribe(4)
	c, stopC := b.Subscribe(4)
	defer stopA()

	require.NoError(t, b.Publish(context.Background(), makeEvents(2)))
	assert.Equal(t, int64(1), (<-a).Seq)
	assert.Equal(t, int64(2), (<-a).Seq)
	assert.Equal(t, int64(1), (<-c).Seq)

	stopC()
	stopC()
	require.NoError(t, b.Publish(context.Background(), makeEvents(1)))
	assert.Equal(t, int64(1), (<-a).Seq)
}

func TestBroker_PublishRespectsContext(t *testing.T) {
	b := NewBroker()
	_, stop := b.Subscribe(0)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Publish(ctx, makeEvents(1)), context.DeadlineExceeded)
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestKafkaPublisher_Encodes(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{w: w}
	price := int64(900000)
	evs := []Event{
		{ID: "ev-2", Type: TypeBidStatusChanged, QuotationID: "q2", BookingID: "b1", Status: "ACCEPTED", FinalPrice: &price},
		{ID: "ev-1", Type: TypeCounterOfferStatusChanged, QuotationID: "q1", CounterOfferID: "co1", BookingID: "b1", Status: "SUPERSEDED"},
	}
	require.NoError(t, p.Publish(context.Background(), evs))
	require.Len(t, w.msgs, 2)

	assert.Equal(t, "q2", string(w.msgs[0].Key))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "BID_STATUS_CHANGED", decoded["type"])
	assert.Equal(t, "ev-2", decoded["event_id"])
	assert.Equal(t, float64(900000), decoded["final_price"])

	var keys []string
	for _, h := range w.msgs[1].Headers {
		keys = append(keys, h.Key)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"event_id", "type"}, keys)
}
