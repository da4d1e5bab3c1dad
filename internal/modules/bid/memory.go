// README: In-memory Store. Transactions run one at a time against a private copy that is
// swapped in only on success, so readers never see a half-applied transaction.
package bid

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"movebid/internal/modules/events"
	"movebid/internal/modules/pricing"
	"movebid/internal/types"
)

type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *memData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

type outboxRow struct {
	event     events.Event
	delivered bool
}

type memData struct {
	quotations    map[types.ID]Quotation
	counterOffers map[types.ID]CounterOffer
	bindings      map[types.ID]Binding
	outbox        []outboxRow
	seq           int64
}

func newMemData() *memData {
	return &memData{
		quotations:    map[types.ID]Quotation{},
		counterOffers: map[types.ID]CounterOffer{},
		bindings:      map[types.ID]Binding{},
	}
}

// Records are replaced, never edited in place, so a shallow copy is enough.
func (d *memData) clone() *memData {
	out := &memData{
		quotations:    make(map[types.ID]Quotation, len(d.quotations)),
		counterOffers: make(map[types.ID]CounterOffer, len(d.counterOffers)),
		bindings:      make(map[types.ID]Binding, len(d.bindings)),
		outbox:        append([]outboxRow(nil), d.outbox...),
		seq:           d.seq,
	}
	for k, v := range d.quotations {
		out.quotations[k] = v
	}
	for k, v := range d.counterOffers {
		out.counterOffers[k] = v
	}
	for k, v := range d.bindings {
		out.bindings[k] = v
	}
	return out
}

func (s *MemoryStore) ExecTx(ctx context.Context, fn func(Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	if err := fn(memQuerier{d: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) read() memQuerier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memQuerier{d: s.data}
}

// Reads outside a transaction see the last committed copy. A committed copy is never
// written again, so no lock is held while reading it.

func (s *MemoryStore) LockBooking(context.Context, types.ID) error { return nil }

func (s *MemoryStore) GetQuotation(ctx context.Context, id types.ID) (*Quotation, error) {
	return s.read().GetQuotation(ctx, id)
}

func (s *MemoryStore) ListQuotationsByBooking(ctx context.Context, bookingID types.ID) ([]Quotation, error) {
	return s.read().ListQuotationsByBooking(ctx, bookingID)
}

func (s *MemoryStore) PendingQuotation(ctx context.Context, bookingID, transportID types.ID) (*Quotation, error) {
	return s.read().PendingQuotation(ctx, bookingID, transportID)
}

func (s *MemoryStore) ListExpiredQuotations(ctx context.Context, now time.Time, limit int) ([]Quotation, error) {
	return s.read().ListExpiredQuotations(ctx, now, limit)
}

func (s *MemoryStore) GetCounterOffer(ctx context.Context, id types.ID) (*CounterOffer, error) {
	return s.read().GetCounterOffer(ctx, id)
}

func (s *MemoryStore) ListCounterOffers(ctx context.Context, quotationID types.ID) ([]CounterOffer, error) {
	return s.read().ListCounterOffers(ctx, quotationID)
}

func (s *MemoryStore) PendingCounterOffer(ctx context.Context, quotationID types.ID) (*CounterOffer, error) {
	return s.read().PendingCounterOffer(ctx, quotationID)
}

func (s *MemoryStore) ListPendingCounterOffersByBooking(ctx context.Context, bookingID types.ID) ([]CounterOffer, error) {
	return s.read().ListPendingCounterOffersByBooking(ctx, bookingID)
}

func (s *MemoryStore) ListExpiredCounterOffers(ctx context.Context, now time.Time, limit int) ([]CounterOffer, error) {
	return s.read().ListExpiredCounterOffers(ctx, now, limit)
}

func (s *MemoryStore) GetBinding(ctx context.Context, bookingID types.ID) (*Binding, error) {
	return s.read().GetBinding(ctx, bookingID)
}

func (s *MemoryStore) PendingEvents(ctx context.Context, limit int) ([]events.Event, error) {
	return s.read().PendingEvents(ctx, limit)
}

// Writes outside a transaction run as their own single-statement transaction.

func (s *MemoryStore) InsertQuotation(ctx context.Context, q *Quotation) error {
	return s.ExecTx(ctx, func(tx Querier) error { return tx.InsertQuotation(ctx, q) })
}

func (s *MemoryStore) UpdateQuotationStatus(ctx context.Context, u QuotationUpdate) (bool, error) {
	var ok bool
	err := s.ExecTx(ctx, func(tx Querier) (err error) {
		ok, err = tx.UpdateQuotationStatus(ctx, u)
		return err
	})
	return ok, err
}

func (s *MemoryStore) InsertCounterOffer(ctx context.Context, c *CounterOffer) error {
	return s.ExecTx(ctx, func(tx Querier) error { return tx.InsertCounterOffer(ctx, c) })
}

func (s *MemoryStore) UpdateCounterOfferStatus(ctx context.Context, u CounterOfferUpdate) (bool, error) {
	var ok bool
	err := s.ExecTx(ctx, func(tx Querier) (err error) {
		ok, err = tx.UpdateCounterOfferStatus(ctx, u)
		return err
	})
	return ok, err
}

func (s *MemoryStore) InsertBinding(ctx context.Context, b *Binding) (bool, error) {
	var ok bool
	err := s.ExecTx(ctx, func(tx Querier) (err error) {
		ok, err = tx.InsertBinding(ctx, b)
		return err
	})
	return ok, err
}

func (s *MemoryStore) AppendEvent(ctx context.Context, e *events.Event) error {
	return s.ExecTx(ctx, func(tx Querier) error { return tx.AppendEvent(ctx, e) })
}

func (s *MemoryStore) MarkEventsDelivered(ctx context.Context, seqs []int64) error {
	return s.ExecTx(ctx, func(tx Querier) error {
		return tx.(memQuerier).markDelivered(seqs)
	})
}

// memQuerier works on one memData without locking; the owner guarantees exclusivity.
type memQuerier struct {
	d *memData
}

func (m memQuerier) LockBooking(context.Context, types.ID) error { return nil }

func (m memQuerier) InsertQuotation(_ context.Context, q *Quotation) error {
	if _, err := ParseQuotationStatus(string(q.Status)); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if _, ok := m.d.quotations[q.ID]; ok {
		return fmt.Errorf("quotation %s already exists", q.ID)
	}
	if q.Status == QuotationPending {
		for _, o := range m.d.quotations {
			if o.Status == QuotationPending && o.BookingID == q.BookingID && o.TransportID == q.TransportID {
				return ErrDuplicateActiveQuotation
			}
		}
	}
	m.d.quotations[q.ID] = copyQuotation(*q)
	return nil
}

func (m memQuerier) GetQuotation(_ context.Context, id types.ID) (*Quotation, error) {
	q, ok := m.d.quotations[id]
	if !ok {
		return nil, ErrQuotationNotFound
	}
	c := copyQuotation(q)
	return &c, nil
}

func (m memQuerier) ListQuotationsByBooking(_ context.Context, bookingID types.ID) ([]Quotation, error) {
	return m.quotationsWhere(func(q Quotation) bool { return q.BookingID == bookingID }, byCreated, 0), nil
}

func (m memQuerier) PendingQuotation(_ context.Context, bookingID, transportID types.ID) (*Quotation, error) {
	for _, q := range m.d.quotations {
		if q.Status == QuotationPending && q.BookingID == bookingID && q.TransportID == transportID {
			c := copyQuotation(q)
			return &c, nil
		}
	}
	return nil, nil
}

func (m memQuerier) UpdateQuotationStatus(_ context.Context, u QuotationUpdate) (bool, error) {
	q, ok := m.d.quotations[u.ID]
	if !ok || q.Status != u.From || q.Version != u.Version {
		return false, nil
	}
	q.Status = u.To
	q.Version++
	if u.CurrentPrice != nil {
		q.CurrentPrice = *u.CurrentPrice
	}
	at := u.At
	q.ResolvedAt = &at
	m.d.quotations[u.ID] = q
	return true, nil
}

func (m memQuerier) ListExpiredQuotations(_ context.Context, now time.Time, limit int) ([]Quotation, error) {
	return m.quotationsWhere(func(q Quotation) bool {
		return q.Status == QuotationPending && q.ExpiresAt.Before(now)
	}, byExpiry, limit), nil
}

func (m memQuerier) InsertCounterOffer(_ context.Context, c *CounterOffer) error {
	if _, err := ParseCounterOfferStatus(string(c.Status)); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if _, ok := m.d.counterOffers[c.ID]; ok {
		return fmt.Errorf("counter-offer %s already exists", c.ID)
	}
	if c.Status == CounterOfferPending {
		for _, o := range m.d.counterOffers {
			if o.Status == CounterOfferPending && o.QuotationID == c.QuotationID {
				return ErrAlreadyResolved
			}
		}
	}
	m.d.counterOffers[c.ID] = copyCounterOffer(*c)
	return nil
}

func (m memQuerier) GetCounterOffer(_ context.Context, id types.ID) (*CounterOffer, error) {
	c, ok := m.d.counterOffers[id]
	if !ok {
		return nil, ErrCounterOfferNotFound
	}
	out := copyCounterOffer(c)
	return &out, nil
}

func (m memQuerier) ListCounterOffers(_ context.Context, quotationID types.ID) ([]CounterOffer, error) {
	return m.counterOffersWhere(func(c CounterOffer) bool { return c.QuotationID == quotationID }, false, 0), nil
}

func (m memQuerier) PendingCounterOffer(_ context.Context, quotationID types.ID) (*CounterOffer, error) {
	for _, c := range m.d.counterOffers {
		if c.QuotationID == quotationID && c.Status == CounterOfferPending {
			out := copyCounterOffer(c)
			return &out, nil
		}
	}
	return nil, nil
}

func (m memQuerier) ListPendingCounterOffersByBooking(_ context.Context, bookingID types.ID) ([]CounterOffer, error) {
	return m.counterOffersWhere(func(c CounterOffer) bool {
		return c.BookingID == bookingID && c.Status == CounterOfferPending
	}, false, 0), nil
}

func (m memQuerier) UpdateCounterOfferStatus(_ context.Context, u CounterOfferUpdate) (bool, error) {
	c, ok := m.d.counterOffers[u.ID]
	if !ok || c.Status != u.From || c.Version != u.Version {
		return false, nil
	}
	c.Status = u.To
	c.Version++
	if u.ResponseMessage != "" {
		c.ResponseMessage = u.ResponseMessage
	}
	if u.RespondedBy != nil {
		a := *u.RespondedBy
		c.RespondedBy = &a
	}
	at := u.At
	c.RespondedAt = &at
	m.d.counterOffers[u.ID] = c
	return true, nil
}

func (m memQuerier) ListExpiredCounterOffers(_ context.Context, now time.Time, limit int) ([]CounterOffer, error) {
	return m.counterOffersWhere(func(c CounterOffer) bool {
		return c.Status == CounterOfferPending && c.ExpiresAt.Before(now)
	}, true, limit), nil
}

func (m memQuerier) InsertBinding(_ context.Context, b *Binding) (bool, error) {
	if _, ok := m.d.bindings[b.BookingID]; ok {
		return false, nil
	}
	m.d.bindings[b.BookingID] = *b
	return true, nil
}

func (m memQuerier) GetBinding(_ context.Context, bookingID types.ID) (*Binding, error) {
	b, ok := m.d.bindings[bookingID]
	if !ok {
		return nil, ErrBindingNotFound
	}
	return &b, nil
}

func (m memQuerier) AppendEvent(_ context.Context, e *events.Event) error {
	m.d.seq++
	e.Seq = m.d.seq
	ev := *e
	if e.FinalPrice != nil {
		p := *e.FinalPrice
		ev.FinalPrice = &p
	}
	m.d.outbox = append(m.d.outbox, outboxRow{event: ev})
	return nil
}

func (m memQuerier) PendingEvents(_ context.Context, limit int) ([]events.Event, error) {
	var out []events.Event
	for _, r := range m.d.outbox {
		if r.delivered {
			continue
		}
		out = append(out, r.event)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m memQuerier) MarkEventsDelivered(_ context.Context, seqs []int64) error {
	return m.markDelivered(seqs)
}

func (m memQuerier) markDelivered(seqs []int64) error {
	done := make(map[int64]bool, len(seqs))
	for _, s := range seqs {
		done[s] = true
	}
	for i := range m.d.outbox {
		if done[m.d.outbox[i].event.Seq] {
			m.d.outbox[i].delivered = true
		}
	}
	return nil
}

func byCreated(a, b Quotation) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func byExpiry(a, b Quotation) bool {
	if !a.ExpiresAt.Equal(b.ExpiresAt) {
		return a.ExpiresAt.Before(b.ExpiresAt)
	}
	return a.ID < b.ID
}

func (m memQuerier) quotationsWhere(keep func(Quotation) bool, less func(a, b Quotation) bool, limit int) []Quotation {
	var out []Quotation
	for _, q := range m.d.quotations {
		if keep(q) {
			out = append(out, copyQuotation(q))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m memQuerier) counterOffersWhere(keep func(CounterOffer) bool, expiryOrder bool, limit int) []CounterOffer {
	var out []CounterOffer
	for _, c := range m.d.counterOffers {
		if keep(c) {
			out = append(out, copyCounterOffer(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].CreatedAt, out[j].CreatedAt
		if expiryOrder {
			a, b = out[i].ExpiresAt, out[j].ExpiresAt
		}
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func copyQuotation(q Quotation) Quotation {
	q.Breakdown.Lines = append([]pricing.Line(nil), q.Breakdown.Lines...)
	if q.ResolvedAt != nil {
		t := *q.ResolvedAt
		q.ResolvedAt = &t
	}
	return q
}

func copyCounterOffer(c CounterOffer) CounterOffer {
	if c.RespondedAt != nil {
		t := *c.RespondedAt
		c.RespondedAt = &t
	}
	if c.RespondedBy != nil {
		a := *c.RespondedBy
		c.RespondedBy = &a
	}
	return c
}
