// README: Quotation, counter-offer and booking binding records with their status machines.
package bid

import (
	"fmt"
	"math"
	"time"

	"movebid/internal/modules/pricing"
	"movebid/internal/types"
)

type QuotationStatus string

const (
	QuotationPending  QuotationStatus = "PENDING"
	QuotationAccepted QuotationStatus = "ACCEPTED"
	QuotationRejected QuotationStatus = "REJECTED"
	QuotationExpired  QuotationStatus = "EXPIRED"
)

// QuotationTransitions represents the quotation state flow as code.
var QuotationTransitions = map[QuotationStatus][]QuotationStatus{
	QuotationPending: {QuotationAccepted, QuotationRejected, QuotationExpired},
}

func (s QuotationStatus) CanTransition(to QuotationStatus) bool {
	for _, n := range QuotationTransitions[s] {
		if n == to {
			return true
		}
	}
	return false
}

func (s QuotationStatus) Terminal() bool {
	return s == QuotationAccepted || s == QuotationRejected || s == QuotationExpired
}

func ParseQuotationStatus(v string) (QuotationStatus, error) {
	switch s := QuotationStatus(v); s {
	case QuotationPending, QuotationAccepted, QuotationRejected, QuotationExpired:
		return s, nil
	}
	return "", fmt.Errorf("unknown quotation status %q", v)
}

type CounterOfferStatus string

const (
	CounterOfferPending    CounterOfferStatus = "PENDING"
	CounterOfferAccepted   CounterOfferStatus = "ACCEPTED"
	CounterOfferRejected   CounterOfferStatus = "REJECTED"
	CounterOfferExpired    CounterOfferStatus = "EXPIRED"
	CounterOfferSuperseded CounterOfferStatus = "SUPERSEDED"
)

var CounterOfferTransitions = map[CounterOfferStatus][]CounterOfferStatus{
	CounterOfferPending: {CounterOfferAccepted, CounterOfferRejected, CounterOfferExpired, CounterOfferSuperseded},
}

func (s CounterOfferStatus) CanTransition(to CounterOfferStatus) bool {
	for _, n := range CounterOfferTransitions[s] {
		if n == to {
			return true
		}
	}
	return false
}

func (s CounterOfferStatus) Terminal() bool {
	switch s {
	case CounterOfferAccepted, CounterOfferRejected, CounterOfferExpired, CounterOfferSuperseded:
		return true
	}
	return false
}

func ParseCounterOfferStatus(v string) (CounterOfferStatus, error) {
	switch s := CounterOfferStatus(v); s {
	case CounterOfferPending, CounterOfferAccepted, CounterOfferRejected, CounterOfferExpired, CounterOfferSuperseded:
		return s, nil
	}
	return "", fmt.Errorf("unknown counter-offer status %q", v)
}

type ActorType string

const (
	ActorCustomer  ActorType = "customer"
	ActorTransport ActorType = "transport"
	ActorManager   ActorType = "manager"
	ActorSystem    ActorType = "system"
)

// Actor is the caller on whose behalf an operation runs. Every mutating operation takes
// one explicitly.
type Actor struct {
	Type ActorType `json:"type"`
	ID   types.ID  `json:"id"`
}

var SweeperActor = Actor{Type: ActorSystem, ID: "expiry-sweeper"}

func (a Actor) Valid() bool {
	switch a.Type {
	case ActorCustomer, ActorTransport, ActorManager:
		return a.ID != ""
	case ActorSystem:
		return true
	}
	return false
}

func (a Actor) Is(t ActorType) bool { return a.Type == t }

type Quotation struct {
	ID           types.ID               `json:"id"`
	BookingID    types.ID               `json:"booking_id"`
	TransportID  types.ID               `json:"transport_id"`
	Breakdown    pricing.PriceBreakdown `json:"breakdown"`
	TotalPrice   int64                  `json:"total_price"`
	CurrentPrice int64                  `json:"current_price"`
	Currency     string                 `json:"currency"`
	Status       QuotationStatus        `json:"status"`
	Version      int                    `json:"version"`
	CreatedAt    time.Time              `json:"created_at"`
	ExpiresAt    time.Time              `json:"expires_at"`
	ResolvedAt   *time.Time             `json:"resolved_at,omitempty"`
}

// PastDeadline reports whether now is strictly after the quotation's deadline.
func (q Quotation) PastDeadline(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// EffectiveStatus is the status a reader should display: a pending quotation past its
// deadline reads as EXPIRED even before the sweep or a writer records it.
func (q Quotation) EffectiveStatus(now time.Time) QuotationStatus {
	if q.Status == QuotationPending && q.PastDeadline(now) {
		return QuotationExpired
	}
	return q.Status
}

type CounterOffer struct {
	ID              types.ID           `json:"id"`
	QuotationID     types.ID           `json:"quotation_id"`
	BookingID       types.ID           `json:"booking_id"`
	OriginalPrice   int64              `json:"original_price"`
	OfferedPrice    int64              `json:"offered_price"`
	Reason          string             `json:"reason,omitempty"`
	Message         string             `json:"message,omitempty"`
	ResponseMessage string             `json:"response_message,omitempty"`
	ProposedBy      Actor              `json:"proposed_by"`
	RespondedBy     *Actor             `json:"responded_by,omitempty"`
	Status          CounterOfferStatus `json:"status"`
	Version         int                `json:"version"`
	CreatedAt       time.Time          `json:"created_at"`
	ExpiresAt       time.Time          `json:"expires_at"`
	RespondedAt     *time.Time         `json:"responded_at,omitempty"`
}

func (c CounterOffer) PastDeadline(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

func (c CounterOffer) EffectiveStatus(now time.Time) CounterOfferStatus {
	if c.Status == CounterOfferPending && c.PastDeadline(now) {
		return CounterOfferExpired
	}
	return c.Status
}

func (c CounterOffer) PriceDifference() int64 {
	return c.OriginalPrice - c.OfferedPrice
}

// PercentageChange is the discount as a percentage of the original price, e.g. 10 for 10%.
func (c CounterOffer) PercentageChange() float64 {
	return types.Percent(c.PriceDifference(), c.OriginalPrice)
}

func (c CounterOffer) HoursUntilExpiration(now time.Time) float64 {
	h := c.ExpiresAt.Sub(now).Hours()
	return math.Max(0, math.Round(h*100)/100)
}

// CounterOfferView carries the read-time fields next to the stored record.
type CounterOfferView struct {
	CounterOffer
	EffectiveStatus      CounterOfferStatus `json:"effective_status"`
	PriceDifference      int64              `json:"price_difference"`
	PercentageChange     float64            `json:"percentage_change"`
	HoursUntilExpiration float64            `json:"hours_until_expiration"`
}

func (c CounterOffer) View(now time.Time) CounterOfferView {
	return CounterOfferView{
		CounterOffer:         c,
		EffectiveStatus:      c.EffectiveStatus(now),
		PriceDifference:      c.PriceDifference(),
		PercentageChange:     c.PercentageChange(),
		HoursUntilExpiration: c.HoursUntilExpiration(now),
	}
}

// Binding is the write-once price lock on a booking.
type Binding struct {
	BookingID      types.ID  `json:"booking_id"`
	TransportID    types.ID  `json:"transport_id"`
	QuotationID    types.ID  `json:"quotation_id"`
	CounterOfferID types.ID  `json:"counter_offer_id,omitempty"`
	FinalPrice     int64     `json:"final_price"`
	Currency       string    `json:"currency"`
	BoundAt        time.Time `json:"bound_at"`
	BoundBy        Actor     `json:"bound_by"`
}
