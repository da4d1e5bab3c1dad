// README: Rate configuration records, calculator inputs and the itemized price breakdown.
package pricing

import (
	"errors"
	"time"

	"movebid/internal/types"
)

var (
	ErrRateCardNotFound      = errors.New("no active rate card for transport")
	ErrInvalidRequest        = errors.New("invalid pricing request")
	ErrInconsistentBreakdown = errors.New("price breakdown does not add up")
)

// HeavyItemThresholdKg is the weight above which the heavy multiplier applies.
const HeavyItemThresholdKg = 100

// FloorsWithoutElevatorFee is the highest floor reachable without the no-elevator fee.
const FloorsWithoutElevatorFee = 3

// VehicleRateCard is one effective-dated version of a transport's vehicle pricing.
// A version is never edited once published; new terms get a new version.
type VehicleRateCard struct {
	ID                types.ID   `json:"id"`
	TransportID       types.ID   `json:"transport_id"`
	Version           int        `json:"version"`
	BasePrice         int64      `json:"base_price"`
	PerKmFirst4       int64      `json:"per_km_first_4"`
	PerKm5To40        int64      `json:"per_km_5_to_40"`
	PerKmAfter40      int64      `json:"per_km_after_40"`
	PeakMultiplier    float64    `json:"peak_multiplier"`
	WeekendMultiplier float64    `json:"weekend_multiplier"`
	HolidayMultiplier float64    `json:"holiday_multiplier"`
	NoElevatorFee     int64      `json:"no_elevator_fee"`
	EffectiveFrom     time.Time  `json:"effective_from"`
	EffectiveTo       *time.Time `json:"effective_to,omitempty"`
}

func (c VehicleRateCard) ActiveAt(at time.Time) bool {
	return activeAt(c.EffectiveFrom, c.EffectiveTo, at)
}

// CategoryRate prices one item category for a transport.
type CategoryRate struct {
	TransportID           types.ID   `json:"transport_id"`
	CategoryID            types.ID   `json:"category_id"`
	Name                  string     `json:"name"`
	Version               int        `json:"version"`
	PricePerUnit          int64      `json:"price_per_unit"`
	FragileMultiplier     float64    `json:"fragile_multiplier"`
	DisassemblyMultiplier float64    `json:"disassembly_multiplier"`
	HeavyMultiplier       float64    `json:"heavy_multiplier"`
	EffectiveFrom         time.Time  `json:"effective_from"`
	EffectiveTo           *time.Time `json:"effective_to,omitempty"`
}

func (r CategoryRate) ActiveAt(at time.Time) bool {
	return activeAt(r.EffectiveFrom, r.EffectiveTo, at)
}

func activeAt(from time.Time, to *time.Time, at time.Time) bool {
	if at.Before(from) {
		return false
	}
	return to == nil || at.Before(*to)
}

// RateSnapshot is a private copy of the rates in force at TakenAt. The calculator only
// ever reads a snapshot, so later rate edits cannot change an issued breakdown.
type RateSnapshot struct {
	Card       VehicleRateCard           `json:"card"`
	Categories map[types.ID]CategoryRate `json:"categories"`
	TakenAt    time.Time                 `json:"taken_at"`
}

func (s RateSnapshot) Clone() RateSnapshot {
	out := RateSnapshot{Card: s.Card, TakenAt: s.TakenAt}
	out.Card.EffectiveTo = cloneTime(s.Card.EffectiveTo)
	out.Categories = make(map[types.ID]CategoryRate, len(s.Categories))
	for id, r := range s.Categories {
		r.EffectiveTo = cloneTime(r.EffectiveTo)
		out.Categories[id] = r
	}
	return out
}

// ValidAt reports whether every rate in the snapshot is still in force at at.
func (s RateSnapshot) ValidAt(at time.Time) bool {
	if !s.Card.ActiveAt(at) {
		return false
	}
	for _, r := range s.Categories {
		if !r.ActiveAt(at) {
			return false
		}
	}
	return true
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type BookingItem struct {
	CategoryID          types.ID `json:"category_id" validate:"required"`
	Quantity            int      `json:"quantity" validate:"gte=0"`
	WeightKg            float64  `json:"weight_kg,omitempty" validate:"gte=0"`
	IsFragile           bool     `json:"is_fragile,omitempty"`
	RequiresDisassembly bool     `json:"requires_disassembly,omitempty"`
}

type FloorContext struct {
	PickupFloor         int
	DeliveryFloor       int
	HasElevatorPickup   bool
	HasElevatorDelivery bool
}

type TimeContext struct {
	IsPeakHour bool
	IsWeekend  bool
	IsHoliday  bool
}

type Surcharge string

const (
	SurchargeNone    Surcharge = ""
	SurchargePeak    Surcharge = "peak"
	SurchargeWeekend Surcharge = "weekend"
	SurchargeHoliday Surcharge = "holiday"
)

type Line struct {
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
}

// PriceBreakdown is the calculator output. Lines always sum to Total.
type PriceBreakdown struct {
	BasePrice       int64     `json:"base_price"`
	DistancePrice   int64     `json:"distance_price"`
	ItemsPrice      int64     `json:"items_price"`
	FloorFees       int64     `json:"floor_fees"`
	TimeMultiplier  float64   `json:"time_multiplier"`
	Surcharge       Surcharge `json:"surcharge,omitempty"`
	Subtotal        int64     `json:"subtotal"`
	Total           int64     `json:"total"`
	Lines           []Line    `json:"breakdown"`
	RateCardID      types.ID  `json:"rate_card_id,omitempty"`
	RateCardVersion int       `json:"rate_card_version,omitempty"`
}

// Verify checks the arithmetic of a breakdown that may have come from outside the process.
func (b PriceBreakdown) Verify() error {
	if b.BasePrice < 0 || b.DistancePrice < 0 || b.ItemsPrice < 0 || b.FloorFees < 0 {
		return ErrInconsistentBreakdown
	}
	if b.TimeMultiplier <= 0 || b.Total <= 0 {
		return ErrInconsistentBreakdown
	}
	if b.BasePrice+b.DistancePrice+b.ItemsPrice+b.FloorFees != b.Subtotal {
		return ErrInconsistentBreakdown
	}
	if types.MulUnits(b.Subtotal, b.TimeMultiplier) != b.Total {
		return ErrInconsistentBreakdown
	}
	if len(b.Lines) > 0 {
		var sum int64
		for _, l := range b.Lines {
			sum += l.Amount
		}
		if sum != b.Total {
			return ErrInconsistentBreakdown
		}
	}
	return nil
}
