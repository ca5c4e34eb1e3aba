package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS pulse;

CREATE TABLE IF NOT EXISTS pulse.profiles (
  user_id text PRIMARY KEY,
  archetype text NOT NULL DEFAULT 'grinder',
  amplitude double precision NOT NULL,
  frequency double precision NOT NULL,
  phase_offset double precision NOT NULL,
  baseline_luck double precision NOT NULL,
  last_event_at timestamptz NOT NULL,
  last_win_at timestamptz,
  consecutive_losses integer NOT NULL DEFAULT 0,
  frustration double precision NOT NULL DEFAULT 0,
  flow_state double precision NOT NULL DEFAULT 0,
  risk_aversion double precision NOT NULL DEFAULT 0.5,
  last_resolved_phase text NOT NULL DEFAULT '',
  last_interaction text NOT NULL DEFAULT '',
  updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pulse.workspace_balances (
  workspace_id text PRIMARY KEY,
  balance_micros bigint NOT NULL,
  pity_threshold integer NOT NULL DEFAULT 5,
  updated_at timestamptz NOT NULL DEFAULT now()
);

-- Append-only; the source of truth for balance reconciliation.
CREATE TABLE IF NOT EXISTS pulse.ledger_transactions (
  id uuid PRIMARY KEY,
  workspace_id text NOT NULL,
  user_id text NOT NULL,
  instrument_key text NOT NULL,
  net_micros bigint NOT NULL,
  outcome text NOT NULL,
  luck_weight double precision NOT NULL,
  boon_micros bigint NOT NULL,
  archetype text NOT NULL,
  status text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_ledger_workspace_created
  ON pulse.ledger_transactions (workspace_id, created_at DESC);

CREATE TABLE IF NOT EXISTS pulse.owned_instruments (
  user_id text NOT NULL,
  instrument_key text NOT NULL,
  granted_at timestamptz NOT NULL,
  PRIMARY KEY (user_id, instrument_key)
);

CREATE TABLE IF NOT EXISTS pulse.active_system_effects (
  workspace_id text NOT NULL,
  effect_key text NOT NULL,
  class text NOT NULL,
  expires_at timestamptz NOT NULL,
  PRIMARY KEY (workspace_id, effect_key)
);

CREATE TABLE IF NOT EXISTS pulse.instrument_discoveries (
  user_id text NOT NULL,
  instrument_key text NOT NULL,
  first_viewed_at timestamptz NOT NULL,
  converted boolean NOT NULL DEFAULT false,
  minutes_to_convert bigint,
  PRIMARY KEY (user_id, instrument_key)
);

CREATE TABLE IF NOT EXISTS pulse.idempotency_keys (
  user_id text NOT NULL,
  key text NOT NULL,
  action text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (user_id, key)
);
`

// EnsureSchema creates the pulse tables if missing. Idempotent; every
// binary runs it on startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
