package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"klepsydra/internal/pulse"
)

// memStore is a transactional in-memory Store. WithinTx holds a single
// mutex (serializable by construction) and restores a snapshot on
// error, so rollback semantics match the real store.
type memStore struct {
	mu          sync.Mutex
	workspaces  map[string]Workspace
	profiles    map[string]pulse.Profile
	ledger      []LedgerEntry
	owned       map[string]map[string]time.Time
	effects     []SystemEffect
	discoveries map[string]*discoveryRow
	idem        map[string]bool

	failLedger    error
	conflictsLeft int
}

type discoveryRow struct {
	FirstViewedAt    time.Time
	Converted        bool
	MinutesToConvert int64
}

func newMemStore() *memStore {
	return &memStore{
		workspaces:  make(map[string]Workspace),
		profiles:    make(map[string]pulse.Profile),
		owned:       make(map[string]map[string]time.Time),
		discoveries: make(map[string]*discoveryRow),
		idem:        make(map[string]bool),
	}
}

type snapshot struct {
	workspaces  map[string]Workspace
	profiles    map[string]pulse.Profile
	ledger      []LedgerEntry
	owned       map[string]map[string]time.Time
	effects     []SystemEffect
	discoveries map[string]*discoveryRow
	idem        map[string]bool
}

func (m *memStore) snapshot() snapshot {
	s := snapshot{
		workspaces:  make(map[string]Workspace, len(m.workspaces)),
		profiles:    make(map[string]pulse.Profile, len(m.profiles)),
		ledger:      append([]LedgerEntry(nil), m.ledger...),
		owned:       make(map[string]map[string]time.Time, len(m.owned)),
		effects:     append([]SystemEffect(nil), m.effects...),
		discoveries: make(map[string]*discoveryRow, len(m.discoveries)),
		idem:        make(map[string]bool, len(m.idem)),
	}
	for k, v := range m.workspaces {
		s.workspaces[k] = v
	}
	for k, v := range m.profiles {
		s.profiles[k] = v
	}
	for k, v := range m.owned {
		inner := make(map[string]time.Time, len(v))
		for ik, iv := range v {
			inner[ik] = iv
		}
		s.owned[k] = inner
	}
	for k, v := range m.discoveries {
		row := *v
		s.discoveries[k] = &row
	}
	for k, v := range m.idem {
		s.idem[k] = v
	}
	return s
}

func (m *memStore) restore(s snapshot) {
	m.workspaces = s.workspaces
	m.profiles = s.profiles
	m.ledger = s.ledger
	m.owned = s.owned
	m.effects = s.effects
	m.discoveries = s.discoveries
	m.idem = s.idem
}

func (m *memStore) WithinTx(_ context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		return ErrTxConflict
	}
	snap := m.snapshot()
	if err := fn(&memTx{store: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) LoadProfile(_ context.Context, userID string) (pulse.Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	return p, ok, nil
}

func (m *memStore) CreateProfile(_ context.Context, p pulse.Profile) (pulse.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.profiles[p.UserID]; ok {
		return existing, nil
	}
	m.profiles[p.UserID] = p
	return p, nil
}

func (m *memStore) EnsureWorkspace(_ context.Context, workspaceID string, starterMicros int64, pityThreshold int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workspaces[workspaceID]; !ok {
		m.workspaces[workspaceID] = Workspace{ID: workspaceID, BalanceMicros: starterMicros, PityThreshold: pityThreshold}
	}
	return nil
}

func (m *memStore) WorkspaceState(_ context.Context, workspaceID string) (WorkspaceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[workspaceID]
	if !ok {
		return WorkspaceState{}, ErrWorkspaceNotFound
	}
	out := WorkspaceState{WorkspaceID: ws.ID, BalanceMicros: ws.BalanceMicros, PityThreshold: ws.PityThreshold}
	for _, e := range m.effects {
		if e.WorkspaceID == workspaceID {
			out.Effects = append(out.Effects, e)
		}
	}
	return out, nil
}

func (m *memStore) Ledger(_ context.Context, workspaceID string, limit int) ([]LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LedgerEntry
	for i := len(m.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if m.ledger[i].WorkspaceID == workspaceID {
			out = append(out, m.ledger[i])
		}
	}
	return out, nil
}

func (m *memStore) RecordDiscovery(_ context.Context, userID, instrumentKey string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "|" + instrumentKey
	if _, ok := m.discoveries[key]; !ok {
		m.discoveries[key] = &discoveryRow{FirstViewedAt: at}
	}
	return nil
}

func (m *memStore) SweepExpiredEffects(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []SystemEffect
	var removed int64
	for _, e := range m.effects {
		if e.ExpiresAt.After(now) {
			kept = append(kept, e)
		} else {
			removed++
		}
	}
	m.effects = kept
	return removed, nil
}

type memTx struct {
	store *memStore
}

func (t *memTx) ClaimIdempotency(_ context.Context, userID, key, action string) error {
	if key == "" {
		return fmt.Errorf("idempotency key is required")
	}
	k := userID + "|" + action + "|" + key
	if t.store.idem[k] {
		return ErrDuplicateIdempotency
	}
	t.store.idem[k] = true
	return nil
}

func (t *memTx) WorkspaceForUpdate(_ context.Context, workspaceID string) (Workspace, error) {
	ws, ok := t.store.workspaces[workspaceID]
	if !ok {
		return Workspace{}, ErrWorkspaceNotFound
	}
	return ws, nil
}

func (t *memTx) SetBalance(_ context.Context, workspaceID string, balanceMicros int64) error {
	ws, ok := t.store.workspaces[workspaceID]
	if !ok {
		return ErrWorkspaceNotFound
	}
	ws.BalanceMicros = balanceMicros
	t.store.workspaces[workspaceID] = ws
	return nil
}

func (t *memTx) ProfileForUpdate(_ context.Context, userID string) (pulse.Profile, bool, error) {
	p, ok := t.store.profiles[userID]
	return p, ok, nil
}

func (t *memTx) InsertProfile(_ context.Context, p pulse.Profile) error {
	t.store.profiles[p.UserID] = p
	return nil
}

func (t *memTx) SaveProfile(_ context.Context, p pulse.Profile) error {
	t.store.profiles[p.UserID] = p
	return nil
}

func (t *memTx) AppendLedger(_ context.Context, entry LedgerEntry) error {
	if t.store.failLedger != nil {
		return t.store.failLedger
	}
	t.store.ledger = append(t.store.ledger, entry)
	return nil
}

func (t *memTx) GrantInstrument(_ context.Context, userID, instrumentKey string, at time.Time) error {
	owned := t.store.owned[userID]
	if owned == nil {
		owned = make(map[string]time.Time)
		t.store.owned[userID] = owned
	}
	if _, ok := owned[instrumentKey]; !ok {
		owned[instrumentKey] = at
	}
	return nil
}

func (t *memTx) ReplaceSystemEffect(_ context.Context, effect SystemEffect) error {
	var kept []SystemEffect
	for _, e := range t.store.effects {
		if e.WorkspaceID == effect.WorkspaceID && e.Class == effect.Class {
			continue
		}
		kept = append(kept, e)
	}
	t.store.effects = append(kept, effect)
	return nil
}

func (t *memTx) ConvertDiscovery(_ context.Context, userID, instrumentKey string, at time.Time) error {
	row, ok := t.store.discoveries[userID+"|"+instrumentKey]
	if !ok || row.Converted {
		return nil
	}
	minutes := int64(at.Sub(row.FirstViewedAt).Minutes())
	if minutes < 1 {
		minutes = 1
	}
	row.Converted = true
	row.MinutesToConvert = minutes
	return nil
}
