package pulse

import (
	"math"
	"time"
)

// LuckWeight computes the bounded probability bias for a profile at a
// point in time. Deterministic: identical inputs always produce the
// identical value. The [MinLuck, MaxLuck] clamp is a hard invariant so
// the wave alone can never force a guaranteed win or loss.
func LuckWeight(p Profile, now time.Time) float64 {
	s := math.Sin(waveArg(p, now))
	if math.IsNaN(s) {
		s = 0
	}
	return clampLuck(p.BaselineLuck + p.Amplitude*s)
}

// PhaseLabel names the quadrant of the wave at a point in time.
func PhaseLabel(p Profile, now time.Time) string {
	arg := math.Mod(waveArg(p, now), 2*math.Pi)
	if math.IsNaN(arg) {
		return "drift"
	}
	if arg < 0 {
		arg += 2 * math.Pi
	}
	switch {
	case arg < math.Pi/2:
		return "ascent"
	case arg < math.Pi:
		return "crest"
	case arg < 3*math.Pi/2:
		return "descent"
	default:
		return "trough"
	}
}

func waveArg(p Profile, now time.Time) float64 {
	return 2*math.Pi*p.Frequency*elapsedMinutes(p, now) + p.PhaseOffset
}

// elapsedMinutes anchors on the last win when one exists, otherwise on
// the last event (profile creation stamps it).
func elapsedMinutes(p Profile, now time.Time) float64 {
	anchor := p.LastWinAt
	if anchor.IsZero() {
		anchor = p.LastEventAt
	}
	if anchor.IsZero() {
		return 0
	}
	return now.Sub(anchor).Minutes()
}

func clampLuck(v float64) float64 {
	if !(v > MinLuck) { // also catches NaN
		return MinLuck
	}
	if v > MaxLuck {
		return MaxLuck
	}
	return v
}
