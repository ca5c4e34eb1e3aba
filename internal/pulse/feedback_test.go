package pulse

import (
	"testing"
	"time"
)

func TestApplyWinResetsStreak(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewProfile("u1", "grinder", 0, base)
	p.ConsecutiveLosses = 4
	p.Frustration = 0.5
	p.FlowState = 0.2

	at := base.Add(5 * time.Minute)
	ApplyWin(&p, at)

	if p.ConsecutiveLosses != 0 {
		t.Fatalf("losses not reset: %d", p.ConsecutiveLosses)
	}
	if p.Frustration != 0.3 {
		t.Fatalf("frustration got %v", p.Frustration)
	}
	if p.FlowState != 0.35 {
		t.Fatalf("flow got %v", p.FlowState)
	}
	if p.LastInteraction != InteractionWin {
		t.Fatalf("interaction got %q", p.LastInteraction)
	}
	if !p.LastWinAt.Equal(at) || !p.LastEventAt.Equal(at) {
		t.Fatalf("anchors not stamped: win=%v event=%v", p.LastWinAt, p.LastEventAt)
	}
	if p.LastResolvedPhase == "" {
		t.Fatalf("phase not recorded")
	}
}

func TestApplyLossIncrementsAndClamps(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewProfile("u1", "grinder", 0, base)
	p.Frustration = 0.95
	p.FlowState = 0.05

	at := base.Add(time.Minute)
	ApplyLoss(&p, at)
	ApplyLoss(&p, at.Add(time.Minute))

	if p.ConsecutiveLosses != 2 {
		t.Fatalf("losses got %d", p.ConsecutiveLosses)
	}
	if p.Frustration != 1 {
		t.Fatalf("frustration should ceil at 1, got %v", p.Frustration)
	}
	if p.FlowState != 0 {
		t.Fatalf("flow should floor at 0, got %v", p.FlowState)
	}
	if !p.LastWinAt.IsZero() {
		t.Fatalf("loss must not move the win anchor")
	}
	if p.LastInteraction != InteractionLoss {
		t.Fatalf("interaction got %q", p.LastInteraction)
	}
}

func TestApplyPityBoonActsAsRelief(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewProfile("u1", "grinder", 0, base)
	p.ConsecutiveLosses = 7
	p.Frustration = 0.9

	at := base.Add(time.Minute)
	ApplyPityBoon(&p, at)

	if p.ConsecutiveLosses != 0 {
		t.Fatalf("losses not reset: %d", p.ConsecutiveLosses)
	}
	if p.LastInteraction != InteractionPityBoon {
		t.Fatalf("interaction got %q", p.LastInteraction)
	}
	if !p.LastWinAt.Equal(at) {
		t.Fatalf("pity should move the win anchor")
	}
}

func TestPityDue(t *testing.T) {
	p := Profile{ConsecutiveLosses: 4}
	if PityDue(p, 5) {
		t.Fatalf("4 losses should not trigger threshold 5")
	}
	p.ConsecutiveLosses = 5
	if !PityDue(p, 5) {
		t.Fatalf("5 losses should trigger threshold 5")
	}
	if !PityDue(p, 0) {
		t.Fatalf("non-positive threshold should fall back to default %d", DefaultPityThreshold)
	}
}
