// README: In-memory RateSource for local runs and tests, optionally seeded from JSON.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"movebid/internal/types"
)

type MemorySource struct {
	mu         sync.RWMutex
	cards      map[types.ID][]VehicleRateCard
	categories map[types.ID][]CategoryRate
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		cards:      map[types.ID][]VehicleRateCard{},
		categories: map[types.ID][]CategoryRate{},
	}
}

// PutRateCard publishes a new rate card version. Earlier versions are kept untouched.
func (m *MemorySource) PutRateCard(c VehicleRateCard) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.EffectiveTo = cloneTime(c.EffectiveTo)
	m.cards[c.TransportID] = append(m.cards[c.TransportID], c)
}

func (m *MemorySource) PutCategoryRate(r CategoryRate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.EffectiveTo = cloneTime(r.EffectiveTo)
	m.categories[r.TransportID] = append(m.categories[r.TransportID], r)
}

func (m *MemorySource) ActiveRates(_ context.Context, transportID types.ID, at time.Time) (RateSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var card *VehicleRateCard
	for i := range m.cards[transportID] {
		c := m.cards[transportID][i]
		if c.ActiveAt(at) && (card == nil || c.Version > card.Version) {
			card = &c
		}
	}
	if card == nil {
		return RateSnapshot{}, ErrRateCardNotFound
	}

	cats := map[types.ID]CategoryRate{}
	for _, r := range m.categories[transportID] {
		if !r.ActiveAt(at) {
			continue
		}
		if prev, ok := cats[r.CategoryID]; ok && prev.Version >= r.Version {
			continue
		}
		cats[r.CategoryID] = r
	}
	snap := RateSnapshot{Card: *card, Categories: cats, TakenAt: at}
	return snap.Clone(), nil
}

// Seed is the on-disk shape of a rate seed file.
type Seed struct {
	RateCards     []VehicleRateCard `json:"rate_cards"`
	CategoryRates []CategoryRate    `json:"category_rates"`
}

func LoadSeedFile(path string, m *MemorySource) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rate seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("decode rate seed: %w", err)
	}
	sort.SliceStable(seed.RateCards, func(i, j int) bool { return seed.RateCards[i].Version < seed.RateCards[j].Version })
	for _, c := range seed.RateCards {
		m.PutRateCard(c)
	}
	for _, r := range seed.CategoryRates {
		m.PutCategoryRate(r)
	}
	return nil
}
