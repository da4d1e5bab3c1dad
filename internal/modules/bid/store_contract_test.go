package bid

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movebid/internal/modules/events"
	"movebid/internal/modules/pricing"
	"movebid/internal/types"
)

var t0 = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func sampleQuotation(booking, transport types.ID, price int64) *Quotation {
	return &Quotation{
		ID:           types.NewID(),
		BookingID:    booking,
		TransportID:  transport,
		Breakdown:    pricing.PriceBreakdown{BasePrice: price, Subtotal: price, Total: price, TimeMultiplier: 1, Lines: []pricing.Line{{Label: "Base price", Amount: price}}},
		TotalPrice:   price,
		CurrentPrice: price,
		Currency:     types.DefaultCurrency,
		Status:       QuotationPending,
		CreatedAt:    t0,
		ExpiresAt:    t0.Add(72 * time.Hour),
	}
}

func sampleCounterOffer(q *Quotation, offered int64) *CounterOffer {
	return &CounterOffer{
		ID:            types.NewID(),
		QuotationID:   q.ID,
		BookingID:     q.BookingID,
		OriginalPrice: q.CurrentPrice,
		OfferedPrice:  offered,
		ProposedBy:    Actor{Type: ActorCustomer, ID: "cust-1"},
		Status:        CounterOfferPending,
		CreatedAt:     t0,
		ExpiresAt:     t0.Add(24 * time.Hour),
	}
}

// runStoreContract exercises behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("quotation round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		q := sampleQuotation("b-rt", "t1", 1_000_000)
		require.NoError(t, s.InsertQuotation(ctx, q))

		got, err := s.GetQuotation(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, q.BookingID, got.BookingID)
		assert.Equal(t, int64(1_000_000), got.CurrentPrice)
		assert.Equal(t, q.Breakdown.Lines, got.Breakdown.Lines)
		assert.True(t, q.ExpiresAt.Equal(got.ExpiresAt))

		_, err = s.GetQuotation(ctx, "missing")
		assert.ErrorIs(t, err, ErrQuotationNotFound)
	})

	t.Run("one pending quotation per transport", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.InsertQuotation(ctx, sampleQuotation("b-dup", "t1", 500)))
		err := s.InsertQuotation(ctx, sampleQuotation("b-dup", "t1", 600))
		assert.ErrorIs(t, err, ErrDuplicateActiveQuotation)
		require.NoError(t, s.InsertQuotation(ctx, sampleQuotation("b-dup", "t2", 600)))

		pending, err := s.PendingQuotation(ctx, "b-dup", "t1")
		require.NoError(t, err)
		require.NotNil(t, pending)
		assert.Equal(t, int64(500), pending.CurrentPrice)

		none, err := s.PendingQuotation(ctx, "b-dup", "t3")
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("expired pending quotation frees the transport slot", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		stale := sampleQuotation("b-lapse", "t1", 500)
		require.NoError(t, s.InsertQuotation(ctx, stale))
		co := sampleCounterOffer(stale, 450)
		require.NoError(t, s.InsertCounterOffer(ctx, co))

		later := t0.Add(73 * time.Hour)
		fresh := sampleQuotation("b-lapse", "t1", 600)
		err := s.ExecTx(ctx, func(tx Querier) error {
			if err := tx.LockBooking(ctx, "b-lapse"); err != nil {
				return err
			}
			cur, err := tx.PendingQuotation(ctx, "b-lapse", "t1")
			if err != nil {
				return err
			}
			require.NotNil(t, cur)
			require.True(t, cur.PastDeadline(later))
			if _, err := ExpireQuotation(ctx, tx, cur, SweeperActor, later); err != nil {
				return err
			}
			return tx.InsertQuotation(ctx, fresh)
		})
		require.NoError(t, err)

		old, err := s.GetQuotation(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, QuotationExpired, old.Status)
		gotCO, err := s.GetCounterOffer(ctx, co.ID)
		require.NoError(t, err)
		assert.Equal(t, CounterOfferExpired, gotCO.Status)

		pending, err := s.PendingQuotation(ctx, "b-lapse", "t1")
		require.NoError(t, err)
		require.NotNil(t, pending)
		assert.Equal(t, fresh.ID, pending.ID)
	})

	t.Run("unknown status is rejected on insert", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		q := sampleQuotation("b-bad", "t1", 500)
		q.Status = "LOST"
		assert.ErrorIs(t, s.InsertQuotation(ctx, q), ErrBadRequest)

		ok := sampleQuotation("b-bad", "t1", 500)
		require.NoError(t, s.InsertQuotation(ctx, ok))
		co := sampleCounterOffer(ok, 400)
		co.Status = "pending"
		assert.ErrorIs(t, s.InsertCounterOffer(ctx, co), ErrBadRequest)
	})

	t.Run("conditional update", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		q := sampleQuotation("b-upd", "t1", 1000)
		require.NoError(t, s.InsertQuotation(ctx, q))

		price := int64(900)
		ok, err := s.UpdateQuotationStatus(ctx, QuotationUpdate{ID: q.ID, From: QuotationPending, To: QuotationAccepted, Version: 0, CurrentPrice: &price, At: t0})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.UpdateQuotationStatus(ctx, QuotationUpdate{ID: q.ID, From: QuotationPending, To: QuotationRejected, Version: 0, At: t0})
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetQuotation(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, QuotationAccepted, got.Status)
		assert.Equal(t, 1, got.Version)
		assert.Equal(t, int64(900), got.CurrentPrice)
		require.NotNil(t, got.ResolvedAt)
	})

	t.Run("one pending counter-offer per quotation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		q := sampleQuotation("b-co", "t1", 1000)
		require.NoError(t, s.InsertQuotation(ctx, q))
		first := sampleCounterOffer(q, 900)
		require.NoError(t, s.InsertCounterOffer(ctx, first))
		assert.ErrorIs(t, s.InsertCounterOffer(ctx, sampleCounterOffer(q, 800)), ErrAlreadyResolved)

		pending, err := s.PendingCounterOffer(ctx, q.ID)
		require.NoError(t, err)
		require.NotNil(t, pending)
		assert.Equal(t, first.ID, pending.ID)

		ok, err := s.UpdateCounterOfferStatus(ctx, CounterOfferUpdate{
			ID: first.ID, From: CounterOfferPending, To: CounterOfferRejected, Version: 0,
			ResponseMessage: "too low", RespondedBy: &Actor{Type: ActorTransport, ID: "t1"}, At: t0,
		})
		require.NoError(t, err)
		require.True(t, ok)

		none, err := s.PendingCounterOffer(ctx, q.ID)
		require.NoError(t, err)
		assert.Nil(t, none)

		got, err := s.GetCounterOffer(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "too low", got.ResponseMessage)
		require.NotNil(t, got.RespondedBy)
		assert.Equal(t, ActorTransport, got.RespondedBy.Type)

		require.NoError(t, s.InsertCounterOffer(ctx, sampleCounterOffer(q, 800)))
		all, err := s.ListCounterOffers(ctx, q.ID)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("binding is write once", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		q := sampleQuotation("b-bind", "t1", 1000)
		require.NoError(t, s.InsertQuotation(ctx, q))

		b := &Binding{BookingID: "b-bind", TransportID: "t1", QuotationID: q.ID, FinalPrice: 1000, Currency: "VND", BoundAt: t0, BoundBy: Actor{Type: ActorCustomer, ID: "c"}}
		ok, err := s.InsertBinding(ctx, b)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.InsertBinding(ctx, b)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetBinding(ctx, "b-bind")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), got.FinalPrice)
		assert.Empty(t, got.CounterOfferID)

		_, err = s.GetBinding(ctx, "nope")
		assert.ErrorIs(t, err, ErrBindingNotFound)
	})

	t.Run("expired listings", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		old := sampleQuotation("b-exp", "t1", 1000)
		old.ExpiresAt = t0.Add(-time.Hour)
		fresh := sampleQuotation("b-exp", "t2", 1000)
		require.NoError(t, s.InsertQuotation(ctx, old))
		require.NoError(t, s.InsertQuotation(ctx, fresh))
		co := sampleCounterOffer(fresh, 900)
		co.ExpiresAt = t0.Add(-time.Minute)
		require.NoError(t, s.InsertCounterOffer(ctx, co))

		qs, err := s.ListExpiredQuotations(ctx, t0, 10)
		require.NoError(t, err)
		require.Len(t, qs, 1)
		assert.Equal(t, old.ID, qs[0].ID)

		cs, err := s.ListExpiredCounterOffers(ctx, t0, 10)
		require.NoError(t, err)
		require.Len(t, cs, 1)
		assert.Equal(t, co.ID, cs[0].ID)
	})

	t.Run("transaction rolls back on error", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		q := sampleQuotation("b-rb", "t1", 1000)
		require.NoError(t, s.InsertQuotation(ctx, q))

		boom := errors.New("boom")
		err := s.ExecTx(ctx, func(tx Querier) error {
			if err := tx.LockBooking(ctx, q.BookingID); err != nil {
				return err
			}
			cur, err := tx.GetQuotation(ctx, q.ID)
			if err != nil {
				return err
			}
			if err := TransitionQuotation(ctx, tx, cur, QuotationRejected, Actor{Type: ActorCustomer, ID: "c"}, t0, nil); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := s.GetQuotation(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, QuotationPending, got.Status)
		evs, err := s.PendingEvents(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, evs)
	})

	t.Run("outbox", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		q := sampleQuotation("b-ob", "t1", 1000)
		require.NoError(t, s.InsertQuotation(ctx, q))

		require.NoError(t, s.ExecTx(ctx, func(tx Querier) error {
			cur, err := LockQuotation(ctx, tx, q.ID)
			if err != nil {
				return err
			}
			price := int64(1000)
			return TransitionQuotation(ctx, tx, cur, QuotationAccepted, Actor{Type: ActorCustomer, ID: "c"}, t0, &price)
		}))

		evs, err := s.PendingEvents(ctx, 10)
		require.NoError(t, err)
		require.Len(t, evs, 1)
		assert.Equal(t, events.TypeBidStatusChanged, evs[0].Type)
		assert.Equal(t, "ACCEPTED", evs[0].Status)
		require.NotNil(t, evs[0].FinalPrice)
		assert.Equal(t, int64(1000), *evs[0].FinalPrice)
		assert.NotEmpty(t, evs[0].ID)

		require.NoError(t, s.MarkEventsDelivered(ctx, []int64{evs[0].Seq}))
		evs, err = s.PendingEvents(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, evs)
	})

	t.Run("concurrent transitions have one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		q := sampleQuotation("b-race", "t1", 1000)
		require.NoError(t, s.InsertQuotation(ctx, q))

		const attempts = 8
		var wg sync.WaitGroup
		errs := make(chan error, attempts)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.ExecTx(ctx, func(tx Querier) error {
					cur, err := LockQuotation(ctx, tx, q.ID)
					if err != nil {
						return err
					}
					return TransitionQuotation(ctx, tx, cur, QuotationRejected, Actor{Type: ActorCustomer, ID: "c"}, t0, nil)
				})
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
			require.ErrorIs(t, err, ErrAlreadyResolved)
		}
		assert.Equal(t, 1, success)
	})
}
