package engine

import (
	"context"
	"time"

	"klepsydra/internal/pulse"
)

// Store is the durable side of the engine. WithinTx runs fn inside one
// atomic unit: every mutation fn performs commits together or not at
// all, and a serialization conflict surfaces as ErrTxConflict.
type Store interface {
	WithinTx(ctx context.Context, fn func(Tx) error) error

	LoadProfile(ctx context.Context, userID string) (pulse.Profile, bool, error)
	CreateProfile(ctx context.Context, p pulse.Profile) (pulse.Profile, error)
	EnsureWorkspace(ctx context.Context, workspaceID string, starterMicros int64, pityThreshold int) error
	WorkspaceState(ctx context.Context, workspaceID string) (WorkspaceState, error)
	Ledger(ctx context.Context, workspaceID string, limit int) ([]LedgerEntry, error)
	RecordDiscovery(ctx context.Context, userID, instrumentKey string, at time.Time) error
	SweepExpiredEffects(ctx context.Context, now time.Time) (int64, error)
}

// Tx exposes the sub-steps of a tribute resolution. Passing it
// explicitly keeps step ordering and rollback visible in signatures.
type Tx interface {
	ClaimIdempotency(ctx context.Context, userID, key, action string) error
	WorkspaceForUpdate(ctx context.Context, workspaceID string) (Workspace, error)
	SetBalance(ctx context.Context, workspaceID string, balanceMicros int64) error
	ProfileForUpdate(ctx context.Context, userID string) (pulse.Profile, bool, error)
	InsertProfile(ctx context.Context, p pulse.Profile) error
	SaveProfile(ctx context.Context, p pulse.Profile) error
	AppendLedger(ctx context.Context, entry LedgerEntry) error
	GrantInstrument(ctx context.Context, userID, instrumentKey string, at time.Time) error
	ReplaceSystemEffect(ctx context.Context, effect SystemEffect) error
	ConvertDiscovery(ctx context.Context, userID, instrumentKey string, at time.Time) error
}
