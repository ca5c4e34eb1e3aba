package catalog

import (
	"errors"
	"math"
	"sort"
	"strings"
)

const MicrosPerCredit = int64(1_000_000)

var ErrInstrumentNotFound = errors.New("instrument not found")

type Class string

const (
	ClassAesthetic Class = "AESTHETIC"
	ClassNeutral   Class = "NEUTRAL"
)

// Instrument is one static catalog entry. Odds and payout are derived
// from the cost at lookup time, never stored.
type Instrument struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	CostMicros   int64  `json:"cost_micros"`
	Class        Class  `json:"class"`
	SystemEffect string `json:"system_effect,omitempty"`
}

func (i Instrument) CostCredits() float64 {
	return MicrosToCredits(i.CostMicros)
}

// BaseOdds: higher-cost instruments are rarer, floored at 5%.
func (i Instrument) BaseOdds() float64 {
	return math.Max(0.05, 1-i.CostCredits()/2000)
}

// WinMultiplier: higher-cost instruments pay more.
func (i Instrument) WinMultiplier() float64 {
	return 1.5 + i.CostCredits()/500
}

type Catalog struct {
	byKey map[string]Instrument
}

func New(instruments []Instrument) *Catalog {
	c := &Catalog{byKey: make(map[string]Instrument, len(instruments))}
	for _, in := range instruments {
		c.byKey[strings.ToLower(strings.TrimSpace(in.Key))] = in
	}
	return c
}

func (c *Catalog) Lookup(key string) (Instrument, error) {
	in, ok := c.byKey[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return Instrument{}, ErrInstrumentNotFound
	}
	return in, nil
}

// List returns the catalog ordered by cost, cheapest first.
func (c *Catalog) List() []Instrument {
	out := make([]Instrument, 0, len(c.byKey))
	for _, in := range c.byKey {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CostMicros != out[j].CostMicros {
			return out[i].CostMicros < out[j].CostMicros
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Default is the shipped chaos-card set.
func Default() *Catalog {
	return New([]Instrument{
		{Key: "intern_roulette", Name: "Intern Roulette", CostMicros: 20 * MicrosPerCredit, Class: ClassNeutral},
		{Key: "synergy_dice", Name: "Synergy Dice", CostMicros: 45 * MicrosPerCredit, Class: ClassNeutral},
		{Key: "pivot_wheel", Name: "Pivot Wheel", CostMicros: 80 * MicrosPerCredit, Class: ClassNeutral},
		{Key: "neon_rebrand", Name: "Neon Rebrand", CostMicros: 120 * MicrosPerCredit, Class: ClassAesthetic, SystemEffect: "neon_haze"},
		{Key: "vaporwave_office", Name: "Vaporwave Office", CostMicros: 180 * MicrosPerCredit, Class: ClassAesthetic, SystemEffect: "vapor_grid"},
		{Key: "hostile_takeover", Name: "Hostile Takeover", CostMicros: 400 * MicrosPerCredit, Class: ClassNeutral},
		{Key: "golden_parachute", Name: "Golden Parachute", CostMicros: 900 * MicrosPerCredit, Class: ClassNeutral},
		{Key: "quantum_moodboard", Name: "Quantum Moodboard", CostMicros: 600 * MicrosPerCredit, Class: ClassAesthetic, SystemEffect: "quantum_sheen"},
	})
}

func CreditsToMicros(v float64) int64 {
	return int64(math.Round(v * float64(MicrosPerCredit)))
}

func MicrosToCredits(v int64) float64 {
	return float64(v) / float64(MicrosPerCredit)
}
