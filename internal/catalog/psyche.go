package catalog

// PsycheModifier scales odds and payout per user archetype, applied
// before the luck bias.
type PsycheModifier struct {
	OddsFactor float64 `json:"odds_factor"`
	BoonFactor float64 `json:"boon_factor"`
}

var psycheModifiers = map[string]PsycheModifier{
	"grinder":    {OddsFactor: 1.00, BoonFactor: 1.00},
	"optimist":   {OddsFactor: 1.10, BoonFactor: 1.00},
	"doomer":     {OddsFactor: 0.90, BoonFactor: 1.25},
	"highroller": {OddsFactor: 0.85, BoonFactor: 1.50},
}

const DefaultArchetype = "grinder"

// ModifierFor returns the archetype's factor pair, neutral for unknown
// archetypes so a bad row can never zero out a user's odds.
func ModifierFor(archetype string) PsycheModifier {
	if m, ok := psycheModifiers[archetype]; ok {
		return m
	}
	return psycheModifiers[DefaultArchetype]
}
