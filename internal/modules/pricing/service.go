// README: Pricing service; validates a request, snapshots the rates and runs the calculator.
package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"movebid/internal/types"
)

// Request is the price computation input. Time flags left nil are derived from
// ScheduledAt through the calendar; flags that are set always win.
type Request struct {
	DistanceKm          float64       `json:"distance_km" validate:"gte=0"`
	Items               []BookingItem `json:"items" validate:"dive"`
	PickupFloor         int           `json:"pickup_floor"`
	DeliveryFloor       int           `json:"delivery_floor"`
	HasElevatorPickup   bool          `json:"has_elevator_pickup"`
	HasElevatorDelivery bool          `json:"has_elevator_delivery"`
	IsPeakHour          *bool         `json:"is_peak_hour,omitempty"`
	IsWeekend           *bool         `json:"is_weekend,omitempty"`
	IsHoliday           *bool         `json:"is_holiday,omitempty"`
	ScheduledAt         *time.Time    `json:"scheduled_at,omitempty"`
}

func (r Request) Floor() FloorContext {
	return FloorContext{
		PickupFloor:         r.PickupFloor,
		DeliveryFloor:       r.DeliveryFloor,
		HasElevatorPickup:   r.HasElevatorPickup,
		HasElevatorDelivery: r.HasElevatorDelivery,
	}
}

type Service struct {
	rates    RateSource
	calendar *Calendar
	validate *validator.Validate
	now      func() time.Time
}

func NewService(rates RateSource, calendar *Calendar) *Service {
	return &Service{
		rates:    rates,
		calendar: calendar,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Quote prices req against the transport's rates in force now.
func (s *Service) Quote(ctx context.Context, transportID types.ID, req Request) (PriceBreakdown, error) {
	if transportID == "" {
		return PriceBreakdown{}, fmt.Errorf("%w: transport_id is required", ErrInvalidRequest)
	}
	if err := s.validate.Struct(req); err != nil {
		return PriceBreakdown{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	snap, err := s.rates.ActiveRates(ctx, transportID, s.now())
	if err != nil {
		return PriceBreakdown{}, err
	}
	return Compute(req.DistanceKm, req.Items, snap, req.Floor(), s.timeContext(req)), nil
}

func (s *Service) timeContext(req Request) TimeContext {
	var tc TimeContext
	if req.ScheduledAt != nil && s.calendar != nil {
		tc = s.calendar.Context(*req.ScheduledAt)
	}
	if req.IsPeakHour != nil {
		tc.IsPeakHour = *req.IsPeakHour
	}
	if req.IsWeekend != nil {
		tc.IsWeekend = *req.IsWeekend
	}
	if req.IsHoliday != nil {
		tc.IsHoliday = *req.IsHoliday
	}
	return tc
}
