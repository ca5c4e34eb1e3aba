package engine

import (
	"errors"
	"time"
)

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrWorkspaceNotFound    = errors.New("workspace not found")
	ErrInstrumentNotFound   = errors.New("instrument not found")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrTxConflict           = errors.New("transaction conflict")
	ErrTributeFailed        = errors.New("tribute failed")
)

// Outcome is the closed set of tribute resolutions. Every consumer
// switches exhaustively on it.
type Outcome string

const (
	OutcomeWin      Outcome = "win"
	OutcomeLoss     Outcome = "loss"
	OutcomePityBoon Outcome = "pity_boon"
)

type TributeInput struct {
	UserID         string
	WorkspaceID    string
	InstrumentKey  string
	IdempotencyKey string
}

type TributeResult struct {
	Outcome       Outcome `json:"outcome"`
	BoonMicros    int64   `json:"boon_micros"`
	NetMicros     int64   `json:"net_micros"`
	BalanceMicros int64   `json:"balance_micros"`
	LuckWeight    float64 `json:"luck_weight"`
}

// Workspace is the balance row read under lock inside a resolution.
type Workspace struct {
	ID            string
	BalanceMicros int64
	PityThreshold int
}

// LedgerEntry is one immutable row per resolved tribute, the sole
// source of truth for balance reconciliation.
type LedgerEntry struct {
	ID            string    `json:"id"`
	WorkspaceID   string    `json:"workspace_id"`
	UserID        string    `json:"user_id"`
	InstrumentKey string    `json:"instrument_key"`
	NetMicros     int64     `json:"net_micros"`
	Outcome       Outcome   `json:"outcome"`
	LuckWeight    float64   `json:"luck_weight"`
	BoonMicros    int64     `json:"boon_micros"`
	Archetype     string    `json:"archetype"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

const LedgerStatusResolved = "resolved"

type SystemEffect struct {
	WorkspaceID string    `json:"workspace_id"`
	EffectKey   string    `json:"effect_key"`
	Class       string    `json:"class"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type WorkspaceState struct {
	WorkspaceID   string         `json:"workspace_id"`
	BalanceMicros int64          `json:"balance_micros"`
	PityThreshold int            `json:"pity_threshold"`
	Effects       []SystemEffect `json:"effects"`
}
