package negotiation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movebid/internal/modules/bid"
	"movebid/internal/modules/binding"
	"movebid/internal/modules/pricing"
	"movebid/internal/types"
)

var (
	now      = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	customer = bid.Actor{Type: bid.ActorCustomer, ID: "cust-1"}
	manager  = bid.Actor{Type: bid.ActorManager, ID: "mgr-1"}
)

func transport(id types.ID) bid.Actor { return bid.Actor{Type: bid.ActorTransport, ID: id} }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store bid.Store
	svc   *Service
	clock *clock
}

func newFixture(t *testing.T, store bid.Store) *fixture {
	t.Helper()
	clk := &clock{t: now}
	binder := binding.NewService(store, nil).WithClock(clk.Now)
	svc := NewService(store, binder, Config{CounterOfferTTL: 24 * time.Hour, SweepBatchSize: 2}, nil)
	svc.now = clk.Now
	return &fixture{store: store, svc: svc, clock: clk}
}

func (f *fixture) quotation(t *testing.T, booking, tr types.ID, price int64, ttl time.Duration) *bid.Quotation {
	t.Helper()
	q := &bid.Quotation{
		ID:           types.NewID(),
		BookingID:    booking,
		TransportID:  tr,
		Breakdown:    pricing.PriceBreakdown{BasePrice: price, Subtotal: price, Total: price, TimeMultiplier: 1},
		TotalPrice:   price,
		CurrentPrice: price,
		Currency:     types.DefaultCurrency,
		Status:       bid.QuotationPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	require.NoError(t, f.store.InsertQuotation(context.Background(), q))
	return q
}

func (f *fixture) propose(t *testing.T, q *bid.Quotation, price int64) *bid.CounterOfferView {
	t.Helper()
	v, err := f.svc.Propose(context.Background(), ProposeCommand{
		QuotationID: q.ID, OfferedPrice: price, Reason: "budget", Actor: customer,
	})
	require.NoError(t, err)
	return v
}

func TestAcceptCounterOffer_BindsBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, bid.NewMemoryStore())
	q := f.quotation(t, "b1", "t1", 1_000_000, 72*time.Hour)
	other := f.quotation(t, "b1", "t2", 1_100_000, 72*time.Hour)

	co := f.propose(t, q, 900_000)
	assert.Equal(t, bid.CounterOfferPending, co.Status)
	assert.Equal(t, int64(1_000_000), co.OriginalPrice)
	assert.Equal(t, int64(100_000), co.PriceDifference)
	assert.InDelta(t, 10.0, co.PercentageChange, 1e-9)
	assert.InDelta(t, 24.0, co.HoursUntilExpiration, 1e-9)

	res, err := f.svc.Respond(ctx, RespondCommand{
		CounterOfferID: co.ID, Decision: DecisionAccept, ResponseMessage: "ok", Actor: transport("t1"),
	})
	require.NoError(t, err)
	assert.Equal(t, bid.CounterOfferAccepted, res.CounterOffer.Status)
	assert.Equal(t, "ok", res.CounterOffer.ResponseMessage)
	require.NotNil(t, res.CounterOffer.RespondedBy)
	assert.Equal(t, transport("t1"), *res.CounterOffer.RespondedBy)
	require.NotNil(t, res.Binding)
	assert.Equal(t, int64(900_000), res.Binding.Binding.FinalPrice)
	assert.Equal(t, co.ID, res.Binding.Binding.CounterOfferID)

	gotQ, err := f.store.GetQuotation(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, bid.QuotationAccepted, gotQ.Status)
	assert.Equal(t, int64(900_000), gotQ.CurrentPrice)

	gotOther, err := f.store.GetQuotation(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, bid.QuotationRejected, gotOther.Status)

	b, err := f.store.GetBinding(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(900_000), b.FinalPrice)
}

func TestRejectCounterOffer_KeepsQuotationOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, bid.NewMemoryStore())
	q := f.quotation(t, "b1", "t1", 1000, 72*time.Hour)
	co := f.propose(t, q, 800)

	res, err := f.svc.Respond(ctx, RespondCommand{CounterOfferID: co.ID, Decision: DecisionReject, Actor: manager})
	require.NoError(t, err)
	assert.Equal(t, bid.CounterOfferRejected, res.CounterOffer.Status)
	assert.Nil(t, res.Binding)

	gotQ, err := f.store.GetQuotation(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, bid.QuotationPending, gotQ.Status)

	_, err = f.svc.Respond(ctx, RespondCommand{CounterOfferID: co.ID, Decision: DecisionAccept, Actor: manager})
	assert.ErrorIs(t, err, bid.ErrAlreadyResolved)
}

func TestPropose_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, bid.NewMemoryStore())
	q := f.quotation(t, "b1", "t1", 1000, 72*time.Hour)

	cases := []struct {
		name  string
		price int64
		actor bid.Actor
		want  error
	}{
		{"zero price", 0, customer, bid.ErrInvalidCounterPrice},
		{"negative price", -5, customer, bid.ErrInvalidCounterPrice},
		{"equal price", 1000, customer, bid.ErrInvalidCounterPrice},
		{"higher price", 1200, customer, bid.ErrInvalidCounterPrice},
		{"transport cannot propose", 900, transport("t1"), bid.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Propose(ctx, ProposeCommand{QuotationID: q.ID, OfferedPrice: tc.price, Actor: tc.actor})
			assert.ErrorIs(t, err, tc.want)
		})
	}

	list, err := f.svc.List(ctx, q.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.svc.Propose(ctx, ProposeCommand{QuotationID: "missing", OfferedPrice: 10, Actor: customer})
	assert.ErrorIs(t, err, bid.ErrQuotationNotFound)
}

func TestPropose_SupersedesPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, bid.NewMemoryStore())
	q := f.quotation(t, "b1", "t1", 1000, 72*time.Hour)

	first := f.propose(t, q, 900)
	second, err := f.svc.Propose(ctx, ProposeCommand{QuotationID: q.ID, OfferedPrice: 850, ExpirationHours: 2, Actor: manager})
	require.NoError(t, err)
	assert.Equal(t, now.Add(2*time.Hour), second.ExpiresAt)

	got, err := f.svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, bid.CounterOfferSuperseded, got.Status)

	list, err := f.svc.List(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	pending := 0
	for _, c := range list {
		if c.Status == bid.CounterOfferPending {
			pending++
		}
	}
	assert.Equal(t, 1, pending)

	_, err = f.svc.Respond(ctx, RespondCommand{CounterOfferID: first.ID, Decision: DecisionAccept, Actor: transport("t1")})
	assert.ErrorIs(t, err, bid.ErrAlreadyResolved)
}

func TestPropose_ExpiredQuotation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, bid.NewMemoryStore())
	q := f.quotation(t, "b1", "t1", 1000, time.Hour)
	f.clock.Advance(2 * time.Hour)

	_, err := f.svc.Propose(ctx, ProposeCommand{QuotationID: q.ID, OfferedPrice: 900, Actor: customer})
	assert.ErrorIs(t, err, bid.ErrExpired)

	got, err := f.store.GetQuotation(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, bid.QuotationExpired, got.Status)

	_, err = f.svc.Propose(ctx, ProposeCommand{QuotationID: q.ID, OfferedPrice: 900, Actor: customer})
	assert.ErrorIs(t, err, bid.ErrAlreadyResolved)
}

func TestRespond_Expired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, bid.NewMemoryStore())
	q := f.quotation(t, "b1", "t1", 1000, 72*time.Hour)
	co := f.propose(t, q, 900)
	f.clock.Advance(25 * time.Hour)

	view, err := f.svc.Get(ctx, co.ID)
	require.NoError(t, err)
	assert.Equal(t, bid.CounterOfferPending, view.Status)
	assert.Equal(t, bid.CounterOfferExpired, view.EffectiveStatus)
	assert.Zero(t, view.HoursUntilExpiration)

	_, err = f.svc.Respond(ctx, RespondCommand{CounterOfferID: co.ID, Decision: DecisionAccept, Actor: transport("t1")})
	assert.ErrorIs(t, err, bid.ErrExpired)

	got, err := f.store.GetCounterOffer(ctx, co.ID)
	require.NoError(t, err)
	assert.Equal(t, bid.CounterOfferExpired, got.Status)

	_, err = f.store.GetBinding(ctx, "b1")
	assert.ErrorIs(t, err, bid.ErrBindingNotFound)

	gotQ, err := f.store.GetQuotation(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, bid.QuotationPending, gotQ.Status)
}

func TestRespond_Forbidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, bid.NewMemoryStore())
	q := f.quotation(t, "b1", "t1", 1000, 72*time.Hour)
	co := f.propose(t, q, 900)

	for _, a := range []bid.Actor{customer, transport("t2"), {}} {
		_, err := f.svc.Respond(ctx, RespondCommand{CounterOfferID: co.ID, Decision: DecisionAccept, Actor: a})
		assert.ErrorIs(t, err, bid.ErrForbidden)
	}
	_, err := f.svc.Respond(ctx, RespondCommand{CounterOfferID: co.ID, Decision: "MAYBE", Actor: manager})
	assert.ErrorIs(t, err, bid.ErrBadRequest)
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision(" accept ")
	require.NoError(t, err)
	assert.Equal(t, DecisionAccept, d)

	_, err = ParseDecision("counter")
	assert.ErrorIs(t, err, bid.ErrBadRequest)
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	store := bid.NewMemoryStore()
	f := newFixture(t, store)

	stale := make([]*bid.Quotation, 3)
	for i := range stale {
		stale[i] = f.quotation(t, types.ID("b-stale-"+string(rune('a'+i))), "t1", 1000, time.Hour)
	}
	withCounter := f.quotation(t, "b-co", "t1", 1000, 72*time.Hour)
	co := f.propose(t, withCounter, 900)
	fresh := f.quotation(t, "b-fresh", "t1", 1000, 72*time.Hour)

	res, err := f.svc.SweepExpired(ctx, now.Add(30*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Quotations: 3, CounterOffers: 1}, res)

	for _, q := range stale {
		got, err := store.GetQuotation(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, bid.QuotationExpired, got.Status)
	}
	gotCo, err := store.GetCounterOffer(ctx, co.ID)
	require.NoError(t, err)
	assert.Equal(t, bid.CounterOfferExpired, gotCo.Status)
	gotFresh, err := store.GetQuotation(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, bid.QuotationPending, gotFresh.Status)

	again, err := f.svc.SweepExpired(ctx, now.Add(30*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, again)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t, bid.NewMemoryStore())
	q := f.quotation(t, "b1", "t1", 1000, time.Hour)
	f.clock.Advance(2 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(f.svc, 5*time.Millisecond, nil).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := f.store.GetQuotation(context.Background(), q.ID)
		return err == nil && got.Status == bid.QuotationExpired
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
