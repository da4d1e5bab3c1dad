// README: Status-change events relayed to notification listeners.
package events

import (
	"context"
	"time"

	"movebid/internal/types"
)

type Type string

const (
	TypeBidStatusChanged          Type = "BID_STATUS_CHANGED"
	TypeCounterOfferStatusChanged Type = "COUNTER_OFFER_STATUS_CHANGED"
)

// Event is emitted once per terminal transition. Delivery is at-least-once; listeners
// de-duplicate on ID.
type Event struct {
	Seq            int64     `json:"-"`
	ID             types.ID  `json:"event_id"`
	Type           Type      `json:"type"`
	QuotationID    types.ID  `json:"quotation_id"`
	CounterOfferID types.ID  `json:"counter_offer_id,omitempty"`
	BookingID      types.ID  `json:"booking_id"`
	Status         string    `json:"status"`
	FinalPrice     *int64    `json:"final_price,omitempty"`
	ActorType      string    `json:"actor_type,omitempty"`
	ActorID        types.ID  `json:"actor_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Outbox is the durable queue events are appended to inside the transition's transaction.
type Outbox interface {
	PendingEvents(ctx context.Context, limit int) ([]Event, error)
	MarkEventsDelivered(ctx context.Context, seqs []int64) error
}

type Publisher interface {
	Publish(ctx context.Context, events []Event) error
}
