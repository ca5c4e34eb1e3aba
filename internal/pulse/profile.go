package pulse

import (
	"errors"
	"time"
)

const (
	DefaultAmplitude    = 0.25
	DefaultFrequency    = 0.05 // cycles per minute, one full wave every 20 minutes
	DefaultBaseline     = 0.50
	DefaultRiskAversion = 0.50

	MinLuck = 0.05
	MaxLuck = 0.95

	DefaultPityThreshold = 5
)

var (
	ErrProfileNotFound = errors.New("pulse profile not found")
)

// Interaction is the kind of the last resolved tribute, stamped on the
// profile for diagnostics and UI display.
type Interaction string

const (
	InteractionNone     Interaction = ""
	InteractionWin      Interaction = "WIN"
	InteractionLoss     Interaction = "LOSS"
	InteractionPityBoon Interaction = "PITY_BOON"
)

// Profile carries the per-user sine-wave parameters and psychological
// state. One row per user, created lazily on first access.
type Profile struct {
	UserID            string      `json:"user_id"`
	Archetype         string      `json:"archetype"`
	Amplitude         float64     `json:"amplitude"`
	Frequency         float64     `json:"frequency"`
	PhaseOffset       float64     `json:"phase_offset"`
	BaselineLuck      float64     `json:"baseline_luck"`
	LastEventAt       time.Time   `json:"last_event_at"`
	LastWinAt         time.Time   `json:"last_win_at"`
	ConsecutiveLosses int         `json:"consecutive_losses"`
	Frustration       float64     `json:"frustration"`
	FlowState         float64     `json:"flow_state"`
	RiskAversion      float64     `json:"risk_aversion"`
	LastResolvedPhase string      `json:"last_resolved_phase"`
	LastInteraction   Interaction `json:"last_interaction"`
}

// NewProfile builds a fresh profile. The phase offset is supplied by
// the caller so users de-synchronize without hiding randomness here.
func NewProfile(userID, archetype string, phaseOffset float64, now time.Time) Profile {
	return Profile{
		UserID:       userID,
		Archetype:    archetype,
		Amplitude:    DefaultAmplitude,
		Frequency:    DefaultFrequency,
		PhaseOffset:  phaseOffset,
		BaselineLuck: DefaultBaseline,
		LastEventAt:  now,
		RiskAversion: DefaultRiskAversion,
	}
}

// PityDue reports whether the user is owed a guaranteed partial reward.
func PityDue(p Profile, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultPityThreshold
	}
	return p.ConsecutiveLosses >= threshold
}
