package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"klepsydra/internal/catalog"
	"klepsydra/internal/engine"
	"klepsydra/internal/pulse"

	"github.com/fatih/color"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

type luckPayload struct {
	Luck float64 `json:"luck"`
}

type instrumentView struct {
	catalog.Instrument
	BaseOdds      float64 `json:"base_odds"`
	WinMultiplier float64 `json:"win_multiplier"`
}

type instrumentsPayload struct {
	Instruments []instrumentView `json:"instruments"`
}

type ledgerPayload struct {
	Entries []engine.LedgerEntry `json:"entries"`
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func renderLuck(raw map[string]any) error {
	payload, err := decodeInto[luckPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== CURRENT LUCK ==")
	fmt.Printf("Luck weight: %s\n", colorizeLuck(payload.Luck))
	fmt.Println()
	return nil
}

func renderProfile(raw map[string]any) error {
	p, err := decodeInto[pulse.Profile](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== PULSE PROFILE ==")
	fmt.Printf("User:               %s\n", p.UserID)
	fmt.Printf("Archetype:          %s\n", p.Archetype)
	fmt.Printf("Baseline luck:      %.3f\n", p.BaselineLuck)
	fmt.Printf("Amplitude:          %.3f\n", p.Amplitude)
	fmt.Printf("Frequency:          %.4f cycles/min\n", p.Frequency)
	fmt.Printf("Consecutive losses: %d\n", p.ConsecutiveLosses)
	fmt.Printf("Frustration:        %.2f\n", p.Frustration)
	fmt.Printf("Flow state:         %.2f\n", p.FlowState)
	if p.LastResolvedPhase != "" {
		fmt.Printf("Last phase:         %s\n", p.LastResolvedPhase)
	}
	if p.LastInteraction != pulse.InteractionNone {
		fmt.Printf("Last interaction:   %s\n", p.LastInteraction)
	}
	if !p.LastWinAt.IsZero() {
		fmt.Printf("Last win:           %s\n", p.LastWinAt.Local().Format(time.RFC822))
	}
	fmt.Println()
	return nil
}

func renderInstruments(raw map[string]any) error {
	payload, err := decodeInto[instrumentsPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== TRIBUTE INSTRUMENTS ==")
	if len(payload.Instruments) == 0 {
		printInfo("No instruments available.")
		return nil
	}
	fmt.Printf("%-18s %-24s %10s %8s %8s %-10s\n", "KEY", "NAME", "COST", "ODDS", "PAYS", "CLASS")
	for _, in := range payload.Instruments {
		fmt.Printf("%-18s %-24s %10s %7.0f%% %7.2fx %-10s\n",
			in.Key,
			truncate(in.Name, 24),
			formatCredits(in.CostMicros),
			in.BaseOdds*100,
			in.WinMultiplier,
			strings.ToLower(string(in.Class)),
		)
	}
	fmt.Println()
	return nil
}

func renderTribute(instrumentKey string, raw map[string]any) error {
	result, err := decodeInto[engine.TributeResult](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== TRIBUTE: %s ==\n", instrumentKey)
	switch result.Outcome {
	case engine.OutcomeWin:
		success.Println("Outcome: WIN")
	case engine.OutcomePityBoon:
		warn.Println("Outcome: PITY BOON")
	default:
		danger.Println("Outcome: LOSS")
	}
	if result.BoonMicros > 0 {
		fmt.Printf("Boon:       %s credits\n", formatCredits(result.BoonMicros))
	}
	fmt.Printf("Net:        %s credits\n", colorizeCredits(result.NetMicros))
	fmt.Printf("Balance:    %s credits\n", formatCredits(result.BalanceMicros))
	fmt.Printf("Luck:       %s\n", colorizeLuck(result.LuckWeight))
	fmt.Println()
	return nil
}

func renderWorkspace(raw map[string]any) error {
	state, err := decodeInto[engine.WorkspaceState](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== WORKSPACE %s ==\n", state.WorkspaceID)
	fmt.Printf("Balance:        %s credits\n", formatCredits(state.BalanceMicros))
	fmt.Printf("Pity threshold: %d losses\n", state.PityThreshold)
	fmt.Println()
	accent.Println("Active effects")
	if len(state.Effects) == 0 {
		printInfo("No active system effects.")
	} else {
		fmt.Printf("%-20s %-10s %-20s\n", "EFFECT", "CLASS", "EXPIRES")
		for _, e := range state.Effects {
			fmt.Printf("%-20s %-10s %-20s\n",
				e.EffectKey,
				strings.ToLower(e.Class),
				e.ExpiresAt.Local().Format(time.RFC822),
			)
		}
	}
	fmt.Println()
	return nil
}

func renderLedger(raw map[string]any) error {
	payload, err := decodeInto[ledgerPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== LEDGER ==")
	if len(payload.Entries) == 0 {
		printInfo("No tributes resolved yet.")
		return nil
	}
	fmt.Printf("%-18s %-10s %12s %7s %-12s %-20s\n", "INSTRUMENT", "OUTCOME", "NET", "LUCK", "USER", "WHEN")
	for _, e := range payload.Entries {
		fmt.Printf("%-18s %-10s %12s %7.3f %-12s %-20s\n",
			e.InstrumentKey,
			string(e.Outcome),
			colorizeCredits(e.NetMicros),
			e.LuckWeight,
			truncate(e.UserID, 12),
			e.CreatedAt.Local().Format(time.RFC822),
		)
	}
	fmt.Println()
	return nil
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func colorizeLuck(v float64) string {
	text := fmt.Sprintf("%.3f", v)
	switch {
	case v >= 0.65:
		return success.Sprint(text)
	case v <= 0.35:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizeCredits(v int64) string {
	text := signedCredits(v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func formatCredits(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / catalog.MicrosPerCredit
	frac := (v % catalog.MicrosPerCredit) / 10_000
	return fmt.Sprintf("%s%s.%02d", sign, comma(whole), frac)
}

func signedCredits(v int64) string {
	if v > 0 {
		return "+" + formatCredits(v)
	}
	return formatCredits(v)
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
