package pulse

import "time"

const (
	winFrustrationDrop = 0.20
	winFlowBoost       = 0.15
	lossFrustrationAdd = 0.10
	lossFlowDrop       = 0.10
)

// ApplyWin records a won tribute: streak reset, frustration relief,
// flow boost, both timestamp anchors moved to now.
func ApplyWin(p *Profile, now time.Time) {
	stampResolution(p, InteractionWin, now)
	p.ConsecutiveLosses = 0
	p.Frustration = clamp01(p.Frustration - winFrustrationDrop)
	p.FlowState = clamp01(p.FlowState + winFlowBoost)
	p.LastWinAt = now
	p.LastEventAt = now
}

// ApplyLoss records a lost tribute. The win anchor is left alone so the
// wave keeps measuring time since the last relief.
func ApplyLoss(p *Profile, now time.Time) {
	stampResolution(p, InteractionLoss, now)
	p.ConsecutiveLosses++
	p.Frustration = clamp01(p.Frustration + lossFrustrationAdd)
	p.FlowState = clamp01(p.FlowState - lossFlowDrop)
	p.LastEventAt = now
}

// ApplyPityBoon records a forced relief payout. It follows the win path
// (streak reset, win anchor moved) but stamps its own interaction kind.
func ApplyPityBoon(p *Profile, now time.Time) {
	stampResolution(p, InteractionPityBoon, now)
	p.ConsecutiveLosses = 0
	p.Frustration = clamp01(p.Frustration - winFrustrationDrop)
	p.FlowState = clamp01(p.FlowState + winFlowBoost)
	p.LastWinAt = now
	p.LastEventAt = now
}

// stampResolution captures the wave phase before the anchors move.
func stampResolution(p *Profile, kind Interaction, now time.Time) {
	p.LastResolvedPhase = PhaseLabel(*p, now)
	p.LastInteraction = kind
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
