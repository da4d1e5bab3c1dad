package quotation

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
	now       = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	customer  = bid.Actor{Type: bid.ActorCustomer, ID: "cust-1"}
	manager   = bid.Actor{Type: bid.ActorManager, ID: "mgr-1"}
	transport = func(id types.ID) bid.Actor { return bid.Actor{Type: bid.ActorTransport, ID: id} }
)

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
	store *bid.MemoryStore
	svc   *Service
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := bid.NewMemoryStore()
	clk := &clock{t: now}

	binder := binding.NewService(store, nil).WithClock(clk.Now)

	// The pricing service reads the wall clock, so rates start well in the past.
	ratesFrom := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	src := pricing.NewMemorySource()
	src.PutRateCard(pricing.VehicleRateCard{
		ID: "card-1", TransportID: "t1", Version: 1,
		BasePrice: 100000, PerKmFirst4: 5000, PerKm5To40: 3000, PerKmAfter40: 2000,
		NoElevatorFee: 50000, EffectiveFrom: ratesFrom,
	})
	src.PutCategoryRate(pricing.CategoryRate{
		TransportID: "t1", CategoryID: "sofa", Version: 1, PricePerUnit: 200000,
		FragileMultiplier: 1.2, EffectiveFrom: ratesFrom,
	})
	pricer := pricing.NewService(src, nil)

	svc := NewService(store, binder, pricer, Config{TTL: 72 * time.Hour}, nil)
	svc.now = clk.Now
	return &fixture{store: store, svc: svc, clock: clk}
}

func breakdown(total int64) pricing.PriceBreakdown {
	return pricing.PriceBreakdown{
		BasePrice:      total,
		Subtotal:       total,
		Total:          total,
		TimeMultiplier: 1,
		Lines:          []pricing.Line{{Label: "Base price", Amount: total}},
	}
}

func (f *fixture) submit(t *testing.T, booking, tr types.ID, total int64) *bid.Quotation {
	t.Helper()
	q, err := f.svc.Submit(context.Background(), SubmitCommand{
		BookingID: booking, TransportID: tr, Breakdown: breakdown(total), Actor: transport(tr),
	})
	require.NoError(t, err)
	return q
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t, "b1", "t1", 1_000_000)

	assert.Equal(t, bid.QuotationPending, q.Status)
	assert.Equal(t, int64(1_000_000), q.TotalPrice)
	assert.Equal(t, q.TotalPrice, q.CurrentPrice)
	assert.Equal(t, types.DefaultCurrency, q.Currency)
	assert.Equal(t, now.Add(72*time.Hour), q.ExpiresAt)

	got, err := f.svc.Get(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Equal(t, q.ID, got.ID)
}

func TestSubmit_Rules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.submit(t, "b1", "t1", 1000)

	_, err := f.svc.Submit(ctx, SubmitCommand{BookingID: "b1", TransportID: "t1", Breakdown: breakdown(900), Actor: transport("t1")})
	assert.ErrorIs(t, err, bid.ErrDuplicateActiveQuotation)

	_, err = f.svc.Submit(ctx, SubmitCommand{BookingID: "b1", TransportID: "t2", Breakdown: breakdown(900), Actor: transport("t1")})
	assert.ErrorIs(t, err, bid.ErrForbidden)

	_, err = f.svc.Submit(ctx, SubmitCommand{BookingID: "b1", TransportID: "t2", Breakdown: breakdown(900), Actor: customer})
	assert.ErrorIs(t, err, bid.ErrForbidden)

	bad := breakdown(900)
	bad.Total = 901
	_, err = f.svc.Submit(ctx, SubmitCommand{BookingID: "b1", TransportID: "t2", Breakdown: bad, Actor: transport("t2")})
	assert.ErrorIs(t, err, bid.ErrBadRequest)

	q, err := f.svc.Submit(ctx, SubmitCommand{BookingID: "b1", TransportID: "t3", Breakdown: breakdown(800), TTL: time.Hour, Actor: manager})
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), q.ExpiresAt)
}

func TestSubmit_AfterBindingFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	q := f.submit(t, "b1", "t1", 1000)
	_, err := f.svc.Accept(ctx, q.ID, customer)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, SubmitCommand{BookingID: "b1", TransportID: "t2", Breakdown: breakdown(900), Actor: transport("t2")})
	assert.ErrorIs(t, err, bid.ErrAlreadyBound)
}

func TestSubmit_ReplacesLapsedQuotation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old := f.submit(t, "b1", "t1", 1000)
	co := &bid.CounterOffer{
		ID: types.NewID(), QuotationID: old.ID, BookingID: old.BookingID,
		OriginalPrice: 1000, OfferedPrice: 900, ProposedBy: customer,
		Status: bid.CounterOfferPending, CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour),
	}
	require.NoError(t, f.store.InsertCounterOffer(ctx, co))

	// Still live: the transport keeps its slot.
	_, err := f.svc.Submit(ctx, SubmitCommand{BookingID: "b1", TransportID: "t1", Breakdown: breakdown(950), Actor: transport("t1")})
	assert.ErrorIs(t, err, bid.ErrDuplicateActiveQuotation)

	f.clock.Advance(73 * time.Hour)
	fresh := f.submit(t, "b1", "t1", 950)
	assert.NotEqual(t, old.ID, fresh.ID)

	got, err := f.store.GetQuotation(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, bid.QuotationExpired, got.Status)
	gotCO, err := f.store.GetCounterOffer(ctx, co.ID)
	require.NoError(t, err)
	assert.Equal(t, bid.CounterOfferExpired, gotCO.Status)

	active, err := f.svc.ListActive(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, fresh.ID, active[0].ID)
}

func TestSubmitPriced(t *testing.T) {
	f := newFixture(t)
	q, err := f.svc.SubmitPriced(context.Background(), SubmitPricedCommand{
		BookingID:   "b1",
		TransportID: "t1",
		Request: pricing.Request{
			DistanceKm:  45,
			Items:       []pricing.BookingItem{{CategoryID: "sofa", Quantity: 1, IsFragile: true}},
			PickupFloor: 5,
		},
		Actor: transport("t1"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(518000), q.TotalPrice)
	assert.Equal(t, types.ID("card-1"), q.Breakdown.RateCardID)
}

func TestListActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.submit(t, "b1", "t1", 1000)
	f.submit(t, "b1", "t2", 1100)
	f.submit(t, "b2", "t1", 1200)

	_, err := f.svc.Reject(ctx, a.ID, customer)
	require.NoError(t, err)

	active, err := f.svc.ListActive(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, types.ID("t2"), active[0].TransportID)

	f.clock.Advance(73 * time.Hour)
	active, err = f.svc.ListActive(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestExpire_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	q := f.submit(t, "b1", "t1", 1000)

	got, err := f.svc.Expire(ctx, q.ID, transport("t1"))
	require.NoError(t, err)
	assert.Equal(t, bid.QuotationExpired, got.Status)

	again, err := f.svc.Expire(ctx, q.ID, bid.SweeperActor)
	require.NoError(t, err)
	assert.Equal(t, bid.QuotationExpired, again.Status)
	assert.Equal(t, got.Version, again.Version)

	_, err = f.svc.Expire(ctx, q.ID, transport("t2"))
	assert.ErrorIs(t, err, bid.ErrForbidden)

	evs, err := f.store.PendingEvents(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func TestExpire_AlsoExpiresPendingCounterOffer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	q := f.submit(t, "b1", "t1", 1000)
	co := &bid.CounterOffer{
		ID: types.NewID(), QuotationID: q.ID, BookingID: q.BookingID,
		OriginalPrice: 1000, OfferedPrice: 900, ProposedBy: customer,
		Status: bid.CounterOfferPending, CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour),
	}
	require.NoError(t, f.store.InsertCounterOffer(ctx, co))

	_, err := f.svc.Expire(ctx, q.ID, manager)
	require.NoError(t, err)

	got, err := f.store.GetCounterOffer(ctx, co.ID)
	require.NoError(t, err)
	assert.Equal(t, bid.CounterOfferExpired, got.Status)
}

func TestAccept_BindsAndClosesCompetitors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	win := f.submit(t, "b1", "t1", 1000)
	lose := f.submit(t, "b1", "t2", 1100)

	res, err := f.svc.Accept(ctx, win.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Binding.FinalPrice)
	assert.Equal(t, bid.QuotationAccepted, res.Quotation.Status)
	require.Len(t, res.ClosedQuotations, 1)
	assert.Equal(t, lose.ID, res.ClosedQuotations[0].ID)

	_, err = f.svc.Accept(ctx, lose.ID, customer)
	assert.ErrorIs(t, err, bid.ErrAlreadyBound)

	_, err = f.svc.Reject(ctx, lose.ID, customer)
	assert.ErrorIs(t, err, bid.ErrAlreadyResolved)
}

func TestAccept_ExpiredIsRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	q := f.submit(t, "b1", "t1", 1000)
	f.clock.Advance(72*time.Hour + time.Second)

	_, err := f.svc.Accept(ctx, q.ID, customer)
	assert.ErrorIs(t, err, bid.ErrExpired)

	got, err := f.svc.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, bid.QuotationExpired, got.Status)

	_, err = f.store.GetBinding(ctx, "b1")
	assert.ErrorIs(t, err, bid.ErrBindingNotFound)
}

func TestAccept_Forbidden(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t, "b1", "t1", 1000)
	_, err := f.svc.Accept(context.Background(), q.ID, transport("t1"))
	assert.ErrorIs(t, err, bid.ErrForbidden)
}

func TestConcurrentAcceptSameQuotation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	q := f.submit(t, "b1", "t1", 1000)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Accept(ctx, q.ID, customer)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		require.ErrorIs(t, err, bid.ErrAlreadyBound)
	}
	assert.Equal(t, 1, success)
}
