package catalog

import (
	"math"
	"testing"
)

func TestDerivedOdds(t *testing.T) {
	tests := []struct {
		costCredits    float64
		wantOdds       float64
		wantMultiplier float64
	}{
		{20, 0.99, 1.54},
		{400, 0.80, 2.30},
		{2000, 0.05, 5.50},
		{5000, 0.05, 11.50}, // odds floor holds past the knee
	}
	for _, tc := range tests {
		in := Instrument{Key: "x", CostMicros: CreditsToMicros(tc.costCredits)}
		if got := in.BaseOdds(); math.Abs(got-tc.wantOdds) > 1e-9 {
			t.Fatalf("cost=%v odds got %v want %v", tc.costCredits, got, tc.wantOdds)
		}
		if got := in.WinMultiplier(); math.Abs(got-tc.wantMultiplier) > 1e-9 {
			t.Fatalf("cost=%v multiplier got %v want %v", tc.costCredits, got, tc.wantMultiplier)
		}
	}
}

func TestLookupNormalizesKey(t *testing.T) {
	c := Default()
	in, err := c.Lookup("  Intern_Roulette ")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if in.Key != "intern_roulette" {
		t.Fatalf("got key %q", in.Key)
	}
	if _, err := c.Lookup("does_not_exist"); err != ErrInstrumentNotFound {
		t.Fatalf("expected ErrInstrumentNotFound, got %v", err)
	}
}

func TestAestheticInstrumentsCarryEffects(t *testing.T) {
	for _, in := range Default().List() {
		if in.Class == ClassAesthetic && in.SystemEffect == "" {
			t.Fatalf("aesthetic instrument %q has no system effect", in.Key)
		}
	}
}

func TestModifierForFallsBack(t *testing.T) {
	if m := ModifierFor("nonsense"); m != psycheModifiers[DefaultArchetype] {
		t.Fatalf("unknown archetype should be neutral, got %+v", m)
	}
	m := ModifierFor("highroller")
	if m.OddsFactor >= 1 || m.BoonFactor <= 1 {
		t.Fatalf("highroller should trade odds for payout, got %+v", m)
	}
}
