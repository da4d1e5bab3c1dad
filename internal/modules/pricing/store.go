// README: Rate configuration read side; Postgres-backed RateSource.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"movebid/internal/types"
)

// RateSource returns the rates in force for a transport at a point in time.
type RateSource interface {
	ActiveRates(ctx context.Context, transportID types.ID, at time.Time) (RateSnapshot, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) ActiveRates(ctx context.Context, transportID types.ID, at time.Time) (RateSnapshot, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, transport_id, version, base_price,
               per_km_first_4, per_km_5_to_40, per_km_after_40,
               peak_multiplier, weekend_multiplier, holiday_multiplier,
               no_elevator_fee, effective_from, effective_to
        FROM vehicle_rate_cards
        WHERE transport_id = $1
          AND effective_from <= $2
          AND (effective_to IS NULL OR effective_to > $2)
        ORDER BY version DESC
        LIMIT 1`, string(transportID), at,
	)
	var c VehicleRateCard
	err := row.Scan(
		&c.ID, &c.TransportID, &c.Version, &c.BasePrice,
		&c.PerKmFirst4, &c.PerKm5To40, &c.PerKmAfter40,
		&c.PeakMultiplier, &c.WeekendMultiplier, &c.HolidayMultiplier,
		&c.NoElevatorFee, &c.EffectiveFrom, &c.EffectiveTo,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return RateSnapshot{}, ErrRateCardNotFound
	}
	if err != nil {
		return RateSnapshot{}, fmt.Errorf("query rate card: %w", err)
	}

	rows, err := s.db.Query(ctx, `
        SELECT DISTINCT ON (category_id)
               transport_id, category_id, name, version, price_per_unit,
               fragile_multiplier, disassembly_multiplier, heavy_multiplier,
               effective_from, effective_to
        FROM category_rates
        WHERE transport_id = $1
          AND effective_from <= $2
          AND (effective_to IS NULL OR effective_to > $2)
        ORDER BY category_id, version DESC`, string(transportID), at,
	)
	if err != nil {
		return RateSnapshot{}, fmt.Errorf("query category rates: %w", err)
	}
	defer rows.Close()

	snap := RateSnapshot{Card: c, Categories: map[types.ID]CategoryRate{}, TakenAt: at}
	for rows.Next() {
		var r CategoryRate
		if err := rows.Scan(
			&r.TransportID, &r.CategoryID, &r.Name, &r.Version, &r.PricePerUnit,
			&r.FragileMultiplier, &r.DisassemblyMultiplier, &r.HeavyMultiplier,
			&r.EffectiveFrom, &r.EffectiveTo,
		); err != nil {
			return RateSnapshot{}, fmt.Errorf("scan category rate: %w", err)
		}
		snap.Categories[r.CategoryID] = r
	}
	if err := rows.Err(); err != nil {
		return RateSnapshot{}, fmt.Errorf("iterate category rates: %w", err)
	}
	return snap, nil
}
