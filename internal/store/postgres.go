package store

import (
	"context"
	"errors"
	"time"

	"klepsydra/internal/engine"
	"klepsydra/internal/pulse"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements engine.Store on a pgx pool. Every tribute runs
// under serializable isolation with the workspace row locked, so two
// concurrent tributes against one workspace serialize on the balance.
type Postgres struct {
	db        *pgxpool.Pool
	txTimeout time.Duration
}

func NewPostgres(db *pgxpool.Pool, txTimeout time.Duration) *Postgres {
	if txTimeout <= 0 {
		txTimeout = 10 * time.Second
	}
	return &Postgres{db: db, txTimeout: txTimeout}
}

func (s *Postgres) WithinTx(ctx context.Context, fn func(engine.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		if isSerializationError(err) {
			return engine.ErrTxConflict
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isSerializationError(err) {
			return engine.ErrTxConflict
		}
		return err
	}
	return nil
}

func (s *Postgres) LoadProfile(ctx context.Context, userID string) (pulse.Profile, bool, error) {
	p, err := scanProfile(s.db.QueryRow(ctx, selectProfileSQL+` WHERE user_id = $1`, userID))
	if err == pgx.ErrNoRows {
		return pulse.Profile{}, false, nil
	}
	if err != nil {
		return pulse.Profile{}, false, err
	}
	return p, true, nil
}

func (s *Postgres) CreateProfile(ctx context.Context, p pulse.Profile) (pulse.Profile, error) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO pulse.profiles
		    (user_id, archetype, amplitude, frequency, phase_offset, baseline_luck, last_event_at, last_win_at, risk_aversion)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO NOTHING
	`, p.UserID, p.Archetype, p.Amplitude, p.Frequency, p.PhaseOffset, p.BaselineLuck, p.LastEventAt, nullableTime(p.LastWinAt), p.RiskAversion)
	if err != nil {
		return pulse.Profile{}, err
	}
	// Re-read so a lost creation race still returns the canonical row.
	existing, found, err := s.LoadProfile(ctx, p.UserID)
	if err != nil {
		return pulse.Profile{}, err
	}
	if !found {
		return pulse.Profile{}, pulse.ErrProfileNotFound
	}
	return existing, nil
}

func (s *Postgres) EnsureWorkspace(ctx context.Context, workspaceID string, starterMicros int64, pityThreshold int) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO pulse.workspace_balances (workspace_id, balance_micros, pity_threshold)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id) DO NOTHING
	`, workspaceID, starterMicros, pityThreshold)
	return err
}

func (s *Postgres) WorkspaceState(ctx context.Context, workspaceID string) (engine.WorkspaceState, error) {
	var out engine.WorkspaceState
	out.WorkspaceID = workspaceID
	err := s.db.QueryRow(ctx, `
		SELECT balance_micros, pity_threshold
		FROM pulse.workspace_balances
		WHERE workspace_id = $1
	`, workspaceID).Scan(&out.BalanceMicros, &out.PityThreshold)
	if err == pgx.ErrNoRows {
		return out, engine.ErrWorkspaceNotFound
	}
	if err != nil {
		return out, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT effect_key, class, expires_at
		FROM pulse.active_system_effects
		WHERE workspace_id = $1 AND expires_at > now()
		ORDER BY expires_at
	`, workspaceID)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		e := engine.SystemEffect{WorkspaceID: workspaceID}
		if err := rows.Scan(&e.EffectKey, &e.Class, &e.ExpiresAt); err != nil {
			return out, err
		}
		out.Effects = append(out.Effects, e)
	}
	return out, rows.Err()
}

func (s *Postgres) Ledger(ctx context.Context, workspaceID string, limit int) ([]engine.LedgerEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, workspace_id, user_id, instrument_key, net_micros, outcome, luck_weight, boon_micros, archetype, status, created_at
		FROM pulse.ledger_transactions
		WHERE workspace_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.LedgerEntry
	for rows.Next() {
		var e engine.LedgerEntry
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.UserID, &e.InstrumentKey, &e.NetMicros, &e.Outcome, &e.LuckWeight, &e.BoonMicros, &e.Archetype, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) RecordDiscovery(ctx context.Context, userID, instrumentKey string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO pulse.instrument_discoveries (user_id, instrument_key, first_viewed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, instrument_key) DO NOTHING
	`, userID, instrumentKey, at)
	return err
}

func (s *Postgres) SweepExpiredEffects(ctx context.Context, now time.Time) (int64, error) {
	cmd, err := s.db.Exec(ctx, `
		DELETE FROM pulse.active_system_effects
		WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) ClaimIdempotency(ctx context.Context, userID, key, action string) error {
	if key == "" {
		return errors.New("idempotency key is required")
	}
	cmd, err := t.tx.Exec(ctx, `
		INSERT INTO pulse.idempotency_keys (user_id, key, action)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, key) DO NOTHING
	`, userID, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return engine.ErrDuplicateIdempotency
	}
	return nil
}

func (t *pgTx) WorkspaceForUpdate(ctx context.Context, workspaceID string) (engine.Workspace, error) {
	ws := engine.Workspace{ID: workspaceID}
	err := t.tx.QueryRow(ctx, `
		SELECT balance_micros, pity_threshold
		FROM pulse.workspace_balances
		WHERE workspace_id = $1
		FOR UPDATE
	`, workspaceID).Scan(&ws.BalanceMicros, &ws.PityThreshold)
	if err == pgx.ErrNoRows {
		return ws, engine.ErrWorkspaceNotFound
	}
	return ws, err
}

func (t *pgTx) SetBalance(ctx context.Context, workspaceID string, balanceMicros int64) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE pulse.workspace_balances
		SET balance_micros = $1, updated_at = now()
		WHERE workspace_id = $2
	`, balanceMicros, workspaceID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return engine.ErrWorkspaceNotFound
	}
	return nil
}

func (t *pgTx) ProfileForUpdate(ctx context.Context, userID string) (pulse.Profile, bool, error) {
	p, err := scanProfile(t.tx.QueryRow(ctx, selectProfileSQL+` WHERE user_id = $1 FOR UPDATE`, userID))
	if err == pgx.ErrNoRows {
		return pulse.Profile{}, false, nil
	}
	if err != nil {
		return pulse.Profile{}, false, err
	}
	return p, true, nil
}

func (t *pgTx) InsertProfile(ctx context.Context, p pulse.Profile) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO pulse.profiles
		    (user_id, archetype, amplitude, frequency, phase_offset, baseline_luck, last_event_at, last_win_at, risk_aversion)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.UserID, p.Archetype, p.Amplitude, p.Frequency, p.PhaseOffset, p.BaselineLuck, p.LastEventAt, nullableTime(p.LastWinAt), p.RiskAversion)
	return err
}

func (t *pgTx) SaveProfile(ctx context.Context, p pulse.Profile) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE pulse.profiles
		SET amplitude = $1,
		    frequency = $2,
		    phase_offset = $3,
		    baseline_luck = $4,
		    last_event_at = $5,
		    last_win_at = $6,
		    consecutive_losses = $7,
		    frustration = $8,
		    flow_state = $9,
		    risk_aversion = $10,
		    last_resolved_phase = $11,
		    last_interaction = $12,
		    updated_at = now()
		WHERE user_id = $13
	`, p.Amplitude, p.Frequency, p.PhaseOffset, p.BaselineLuck, p.LastEventAt, nullableTime(p.LastWinAt),
		p.ConsecutiveLosses, p.Frustration, p.FlowState, p.RiskAversion, p.LastResolvedPhase, string(p.LastInteraction), p.UserID)
	return err
}

func (t *pgTx) AppendLedger(ctx context.Context, e engine.LedgerEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO pulse.ledger_transactions
		    (id, workspace_id, user_id, instrument_key, net_micros, outcome, luck_weight, boon_micros, archetype, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.WorkspaceID, e.UserID, e.InstrumentKey, e.NetMicros, string(e.Outcome), e.LuckWeight, e.BoonMicros, e.Archetype, e.Status, e.CreatedAt)
	return err
}

func (t *pgTx) GrantInstrument(ctx context.Context, userID, instrumentKey string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO pulse.owned_instruments (user_id, instrument_key, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, instrument_key) DO NOTHING
	`, userID, instrumentKey, at)
	return err
}

// ReplaceSystemEffect retires every active effect of the same class in
// the workspace before inserting the new one, inside the caller's
// transaction, so exactly one effect per class survives the commit.
func (t *pgTx) ReplaceSystemEffect(ctx context.Context, e engine.SystemEffect) error {
	if _, err := t.tx.Exec(ctx, `
		DELETE FROM pulse.active_system_effects
		WHERE workspace_id = $1 AND class = $2
	`, e.WorkspaceID, e.Class); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO pulse.active_system_effects (workspace_id, effect_key, class, expires_at)
		VALUES ($1, $2, $3, $4)
	`, e.WorkspaceID, e.EffectKey, e.Class, e.ExpiresAt)
	return err
}

func (t *pgTx) ConvertDiscovery(ctx context.Context, userID, instrumentKey string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE pulse.instrument_discoveries
		SET converted = true,
		    minutes_to_convert = GREATEST(1, FLOOR(EXTRACT(EPOCH FROM ($3::timestamptz - first_viewed_at)) / 60)::bigint)
		WHERE user_id = $1 AND instrument_key = $2 AND converted = false
	`, userID, instrumentKey, at)
	return err
}

const selectProfileSQL = `
	SELECT user_id, archetype, amplitude, frequency, phase_offset, baseline_luck,
	       last_event_at, last_win_at, consecutive_losses, frustration, flow_state,
	       risk_aversion, last_resolved_phase, last_interaction
	FROM pulse.profiles`

func scanProfile(row pgx.Row) (pulse.Profile, error) {
	var p pulse.Profile
	var lastWin *time.Time
	var interaction string
	err := row.Scan(&p.UserID, &p.Archetype, &p.Amplitude, &p.Frequency, &p.PhaseOffset, &p.BaselineLuck,
		&p.LastEventAt, &lastWin, &p.ConsecutiveLosses, &p.Frustration, &p.FlowState,
		&p.RiskAversion, &p.LastResolvedPhase, &interaction)
	if err != nil {
		return p, err
	}
	if lastWin != nil {
		p.LastWinAt = *lastWin
	}
	p.LastInteraction = pulse.Interaction(interaction)
	return p, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}
