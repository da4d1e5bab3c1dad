// README: Price calculator; a pure function from booking facts and a rate snapshot to a breakdown.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"movebid/internal/types"
)

const (
	tier1Km = 4
	tier2Km = 36
)

var one = decimal.NewFromInt(1)

// Compute prices a booking. Inputs are assumed validated and non-negative.
func Compute(distanceKm float64, items []BookingItem, rates RateSnapshot, floor FloorContext, tc TimeContext) PriceBreakdown {
	card := rates.Card
	b := PriceBreakdown{
		BasePrice:       card.BasePrice,
		RateCardID:      card.ID,
		RateCardVersion: card.Version,
	}
	b.Lines = append(b.Lines, Line{Label: "Base price", Amount: card.BasePrice})

	for _, t := range distanceTiers(distanceKm, card) {
		b.DistancePrice += t.Amount
		b.Lines = append(b.Lines, t)
	}

	for _, it := range items {
		rate, ok := rates.Categories[it.CategoryID]
		if !ok {
			continue
		}
		amt := itemPrice(it, rate)
		b.ItemsPrice += amt
		b.Lines = append(b.Lines, Line{Label: fmt.Sprintf("%s x%d", itemLabel(rate), it.Quantity), Amount: amt})
	}

	if floor.PickupFloor > FloorsWithoutElevatorFee && !floor.HasElevatorPickup {
		b.FloorFees += card.NoElevatorFee
		b.Lines = append(b.Lines, Line{Label: "No elevator (pickup)", Amount: card.NoElevatorFee})
	}
	if floor.DeliveryFloor > FloorsWithoutElevatorFee && !floor.HasElevatorDelivery {
		b.FloorFees += card.NoElevatorFee
		b.Lines = append(b.Lines, Line{Label: "No elevator (delivery)", Amount: card.NoElevatorFee})
	}

	b.Subtotal = b.BasePrice + b.DistancePrice + b.ItemsPrice + b.FloorFees
	b.Surcharge, b.TimeMultiplier = timeMultiplier(card, tc)
	b.Total = types.MulUnits(b.Subtotal, b.TimeMultiplier)
	if diff := b.Total - b.Subtotal; diff != 0 {
		b.Lines = append(b.Lines, Line{Label: surchargeLabel(b.Surcharge), Amount: diff})
	}
	return b
}

// DistancePrice is the tiered distance component on its own.
func DistancePrice(distanceKm float64, card VehicleRateCard) int64 {
	var sum int64
	for _, t := range distanceTiers(distanceKm, card) {
		sum += t.Amount
	}
	return sum
}

func distanceTiers(distanceKm float64, card VehicleRateCard) []Line {
	d := decimal.NewFromFloat(distanceKm)
	if d.IsNegative() {
		d = decimal.Zero
	}
	t1Cap := decimal.NewFromInt(tier1Km)
	t2Cap := decimal.NewFromInt(tier2Km)

	first := decimal.Min(d, t1Cap)
	second := decimal.Min(decimal.Max(d.Sub(t1Cap), decimal.Zero), t2Cap)
	rest := decimal.Max(d.Sub(t1Cap).Sub(t2Cap), decimal.Zero)

	var out []Line
	if first.IsPositive() {
		out = append(out, Line{Label: "Distance 0-4 km", Amount: types.RoundUnits(first.Mul(decimal.NewFromInt(card.PerKmFirst4)))})
	}
	if second.IsPositive() {
		out = append(out, Line{Label: "Distance 5-40 km", Amount: types.RoundUnits(second.Mul(decimal.NewFromInt(card.PerKm5To40)))})
	}
	if rest.IsPositive() {
		out = append(out, Line{Label: "Distance over 40 km", Amount: types.RoundUnits(rest.Mul(decimal.NewFromInt(card.PerKmAfter40)))})
	}
	return out
}

// itemPrice applies fragile, disassembly and heavy multipliers in that order.
func itemPrice(it BookingItem, rate CategoryRate) int64 {
	amt := decimal.NewFromInt(rate.PricePerUnit).Mul(decimal.NewFromInt(int64(it.Quantity)))
	if it.IsFragile {
		amt = amt.Mul(factor(rate.FragileMultiplier))
	}
	if it.RequiresDisassembly {
		amt = amt.Mul(factor(rate.DisassemblyMultiplier))
	}
	if it.WeightKg > HeavyItemThresholdKg {
		amt = amt.Mul(factor(rate.HeavyMultiplier))
	}
	return types.RoundUnits(amt)
}

func timeMultiplier(card VehicleRateCard, tc TimeContext) (Surcharge, float64) {
	switch {
	case tc.IsHoliday:
		return SurchargeHoliday, multiplierOrOne(card.HolidayMultiplier)
	case tc.IsWeekend:
		return SurchargeWeekend, multiplierOrOne(card.WeekendMultiplier)
	case tc.IsPeakHour:
		return SurchargePeak, multiplierOrOne(card.PeakMultiplier)
	}
	return SurchargeNone, 1
}

// An unset multiplier on a rate record means "no adjustment".
func factor(m float64) decimal.Decimal {
	if m <= 0 {
		return one
	}
	return decimal.NewFromFloat(m)
}

func multiplierOrOne(m float64) float64 {
	if m <= 0 {
		return 1
	}
	return m
}

func itemLabel(rate CategoryRate) string {
	if rate.Name != "" {
		return rate.Name
	}
	return string(rate.CategoryID)
}

func surchargeLabel(s Surcharge) string {
	switch s {
	case SurchargeHoliday:
		return "Holiday surcharge"
	case SurchargeWeekend:
		return "Weekend surcharge"
	case SurchargePeak:
		return "Peak-hour surcharge"
	}
	return "Adjustment"
}
