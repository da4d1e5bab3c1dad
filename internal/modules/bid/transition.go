// README: Guarded status transitions shared by the ledger, the negotiation engine and binding.
package bid

import (
	"context"
	"time"

	"movebid/internal/modules/events"
	"movebid/internal/types"
)

// TransitionQuotation moves q to `to` if it is still at the status and version the caller
// read, then appends the status-change event. On success q reflects the stored row.
// finalPrice, when set, replaces the current price.
func TransitionQuotation(ctx context.Context, tx Querier, q *Quotation, to QuotationStatus, actor Actor, now time.Time, finalPrice *int64) error {
	if !q.Status.CanTransition(to) {
		return ErrAlreadyResolved
	}
	ok, err := tx.UpdateQuotationStatus(ctx, QuotationUpdate{
		ID:           q.ID,
		From:         q.Status,
		To:           to,
		Version:      q.Version,
		CurrentPrice: finalPrice,
		At:           now,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyResolved
	}
	q.Status = to
	q.Version++
	q.ResolvedAt = &now
	if finalPrice != nil {
		q.CurrentPrice = *finalPrice
	}

	ev := &events.Event{
		ID:          types.NewID(),
		Type:        events.TypeBidStatusChanged,
		QuotationID: q.ID,
		BookingID:   q.BookingID,
		Status:      string(to),
		ActorType:   string(actor.Type),
		ActorID:     actor.ID,
		OccurredAt:  now,
	}
	if to == QuotationAccepted {
		p := q.CurrentPrice
		ev.FinalPrice = &p
	}
	return tx.AppendEvent(ctx, ev)
}

// TransitionCounterOffer is the counter-offer counterpart of TransitionQuotation.
func TransitionCounterOffer(ctx context.Context, tx Querier, c *CounterOffer, to CounterOfferStatus, actor Actor, now time.Time, responseMessage string) error {
	if !c.Status.CanTransition(to) {
		return ErrAlreadyResolved
	}
	u := CounterOfferUpdate{
		ID:              c.ID,
		From:            c.Status,
		To:              to,
		Version:         c.Version,
		ResponseMessage: responseMessage,
		At:              now,
	}
	if to == CounterOfferAccepted || to == CounterOfferRejected {
		a := actor
		u.RespondedBy = &a
	}
	ok, err := tx.UpdateCounterOfferStatus(ctx, u)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyResolved
	}
	c.Status = to
	c.Version++
	c.RespondedAt = &now
	if responseMessage != "" {
		c.ResponseMessage = responseMessage
	}
	if u.RespondedBy != nil {
		c.RespondedBy = u.RespondedBy
	}

	ev := &events.Event{
		ID:             types.NewID(),
		Type:           events.TypeCounterOfferStatusChanged,
		QuotationID:    c.QuotationID,
		CounterOfferID: c.ID,
		BookingID:      c.BookingID,
		Status:         string(to),
		ActorType:      string(actor.Type),
		ActorID:        actor.ID,
		OccurredAt:     now,
	}
	if to == CounterOfferAccepted {
		p := c.OfferedPrice
		ev.FinalPrice = &p
	}
	return tx.AppendEvent(ctx, ev)
}

// ExpireQuotation moves a pending quotation and its pending counter-offer to EXPIRED.
// It returns the counter-offer it expired, if any.
func ExpireQuotation(ctx context.Context, tx Querier, q *Quotation, actor Actor, now time.Time) (*CounterOffer, error) {
	if err := TransitionQuotation(ctx, tx, q, QuotationExpired, actor, now, nil); err != nil {
		return nil, err
	}
	co, err := tx.PendingCounterOffer(ctx, q.ID)
	if err != nil || co == nil {
		return nil, err
	}
	if err := TransitionCounterOffer(ctx, tx, co, CounterOfferExpired, actor, now, ""); err != nil {
		return nil, err
	}
	return co, nil
}

// LockQuotation takes the booking lock for quotation id and returns the row as seen
// under the lock.
func LockQuotation(ctx context.Context, tx Querier, id types.ID) (*Quotation, error) {
	q, err := tx.GetQuotation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.LockBooking(ctx, q.BookingID); err != nil {
		return nil, err
	}
	return tx.GetQuotation(ctx, id)
}

// LockCounterOffer takes the booking lock for counter-offer id and returns it together
// with its quotation, both read under the lock.
func LockCounterOffer(ctx context.Context, tx Querier, id types.ID) (*CounterOffer, *Quotation, error) {
	c, err := tx.GetCounterOffer(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.LockBooking(ctx, c.BookingID); err != nil {
		return nil, nil, err
	}
	if c, err = tx.GetCounterOffer(ctx, id); err != nil {
		return nil, nil, err
	}
	q, err := tx.GetQuotation(ctx, c.QuotationID)
	if err != nil {
		return nil, nil, err
	}
	return c, q, nil
}
