package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	mathrand "math/rand"
	"sync"
	"time"

	"klepsydra/internal/catalog"
	"klepsydra/internal/pulse"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// PityBoonRate is the fraction of the tribute refunded on a forced
	// relief outcome.
	PityBoonRate = 0.5

	StarterBalanceMicros = int64(500) * catalog.MicrosPerCredit

	DefaultEffectTTL = 30 * time.Minute

	profileCacheSize = 4096
)

type Service struct {
	store   Store
	catalog *catalog.Catalog
	log     *slog.Logger
	cache   *expirable.LRU[string, pulse.Profile]

	effectTTL time.Duration

	mu   sync.Mutex
	rand *mathrand.Rand
	roll func() float64
	now  func() time.Time
}

func NewService(store Store, cat *catalog.Catalog, logger *slog.Logger, cacheTTL time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cat == nil {
		cat = catalog.Default()
	}
	if cacheTTL <= 0 {
		cacheTTL = 90 * time.Second
	}
	s := &Service{
		store:     store,
		catalog:   cat,
		log:       logger,
		cache:     expirable.NewLRU[string, pulse.Profile](profileCacheSize, nil, cacheTTL),
		effectTTL: DefaultEffectTTL,
		rand:      mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}
	s.roll = s.nextFloat
	return s
}

func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// ResolveTribute resolves a wager of the instrument's cost against the
// workspace balance. Every side effect commits in one atomic unit; a
// serialization conflict is retried once before surfacing.
func (s *Service) ResolveTribute(ctx context.Context, in TributeInput) (TributeResult, error) {
	var out TributeResult
	if in.UserID == "" || in.WorkspaceID == "" {
		return out, errors.New("user and workspace are required")
	}
	instrument, err := s.catalog.Lookup(in.InstrumentKey)
	if err != nil {
		return out, ErrInstrumentNotFound
	}

	const maxAttempts = 2
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		out, err = s.resolveOnce(ctx, in, instrument)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrTxConflict) || attempt == maxAttempts-1 {
			return out, err
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return out, err
		}
		retryDelay *= 2
	}
	return out, ErrTxConflict
}

func (s *Service) resolveOnce(ctx context.Context, in TributeInput, instrument catalog.Instrument) (TributeResult, error) {
	var out TributeResult
	var committed pulse.Profile

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		now := s.now()

		if err := tx.ClaimIdempotency(ctx, in.UserID, in.IdempotencyKey, "resolve_tribute"); err != nil {
			return err
		}

		ws, err := tx.WorkspaceForUpdate(ctx, in.WorkspaceID)
		if err != nil {
			return err
		}
		if ws.BalanceMicros < instrument.CostMicros {
			return ErrInsufficientFunds
		}

		profile, found, err := tx.ProfileForUpdate(ctx, in.UserID)
		if err != nil {
			return err
		}
		if !found {
			profile = pulse.NewProfile(in.UserID, catalog.DefaultArchetype, s.randomPhase(), now)
			if err := tx.InsertProfile(ctx, profile); err != nil {
				return err
			}
		}

		modifier := catalog.ModifierFor(profile.Archetype)
		luck := pulse.LuckWeight(profile, now)

		outcome, boonMicros := s.decideOutcome(instrument, modifier, profile, ws.PityThreshold, luck)
		netMicros := boonMicros - instrument.CostMicros
		newBalance := ws.BalanceMicros + netMicros

		if err := tx.SetBalance(ctx, in.WorkspaceID, newBalance); err != nil {
			return err
		}

		if err := tx.AppendLedger(ctx, LedgerEntry{
			ID:            uuid.NewString(),
			WorkspaceID:   in.WorkspaceID,
			UserID:        in.UserID,
			InstrumentKey: instrument.Key,
			NetMicros:     netMicros,
			Outcome:       outcome,
			LuckWeight:    luck,
			BoonMicros:    boonMicros,
			Archetype:     profile.Archetype,
			Status:        LedgerStatusResolved,
			CreatedAt:     now,
		}); err != nil {
			return err
		}

		switch outcome {
		case OutcomeWin:
			pulse.ApplyWin(&profile, now)
		case OutcomePityBoon:
			pulse.ApplyPityBoon(&profile, now)
		case OutcomeLoss:
			pulse.ApplyLoss(&profile, now)
		}
		if err := tx.SaveProfile(ctx, profile); err != nil {
			return err
		}

		if outcome != OutcomeLoss {
			if err := tx.GrantInstrument(ctx, in.UserID, instrument.Key, now); err != nil {
				return err
			}
			if instrument.Class == catalog.ClassAesthetic && instrument.SystemEffect != "" {
				if err := tx.ReplaceSystemEffect(ctx, SystemEffect{
					WorkspaceID: in.WorkspaceID,
					EffectKey:   instrument.SystemEffect,
					Class:       string(instrument.Class),
					ExpiresAt:   now.Add(s.effectTTL),
				}); err != nil {
					return err
				}
			}
		}

		if err := tx.ConvertDiscovery(ctx, in.UserID, instrument.Key, now); err != nil {
			return err
		}

		committed = profile
		out = TributeResult{
			Outcome:       outcome,
			BoonMicros:    boonMicros,
			NetMicros:     netMicros,
			BalanceMicros: newBalance,
			LuckWeight:    luck,
		}
		return nil
	})
	if err != nil {
		return TributeResult{}, s.classify(err, in, instrument.Key)
	}

	// Durable store committed first; the cache only ever trails it.
	s.cache.Add(in.UserID, committed)
	return out, nil
}

// decideOutcome applies the precedence pity > roll > loss.
func (s *Service) decideOutcome(instrument catalog.Instrument, modifier catalog.PsycheModifier, profile pulse.Profile, pityThreshold int, luck float64) (Outcome, int64) {
	if pulse.PityDue(profile, pityThreshold) {
		return OutcomePityBoon, int64(math.Round(float64(instrument.CostMicros) * PityBoonRate))
	}
	finalOdds := clamp01(instrument.BaseOdds() * modifier.OddsFactor * luck)
	if s.roll() < finalOdds {
		boon := int64(math.Round(float64(instrument.CostMicros) * instrument.WinMultiplier() * modifier.BoonFactor))
		return OutcomeWin, boon
	}
	return OutcomeLoss, 0
}

// classify keeps expected errors intact and folds everything else into
// a generic tribute failure after logging full context.
func (s *Service) classify(err error, in TributeInput, instrumentKey string) error {
	switch {
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrWorkspaceNotFound),
		errors.Is(err, ErrDuplicateIdempotency),
		errors.Is(err, ErrTxConflict),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	s.log.Error("tribute failed",
		"user_id", in.UserID,
		"workspace_id", in.WorkspaceID,
		"instrument", instrumentKey,
		"err", err,
	)
	return ErrTributeFailed
}

// CurrentLuck is the read-only luck query for UI display. It creates
// the profile on first access but never touches outcome state.
func (s *Service) CurrentLuck(ctx context.Context, userID string) (float64, error) {
	profile, err := s.profileForRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	return pulse.LuckWeight(profile, s.now()), nil
}

// Profile returns the cached-or-stored profile for diagnostics.
func (s *Service) Profile(ctx context.Context, userID string) (pulse.Profile, error) {
	return s.profileForRead(ctx, userID)
}

func (s *Service) profileForRead(ctx context.Context, userID string) (pulse.Profile, error) {
	if p, ok := s.cache.Get(userID); ok {
		return p, nil
	}
	p, found, err := s.store.LoadProfile(ctx, userID)
	if err != nil {
		return pulse.Profile{}, err
	}
	if !found {
		p, err = s.store.CreateProfile(ctx, pulse.NewProfile(userID, catalog.DefaultArchetype, s.randomPhase(), s.now()))
		if err != nil {
			return pulse.Profile{}, err
		}
	}
	s.cache.Add(userID, p)
	return p, nil
}

func (s *Service) EnsureWorkspace(ctx context.Context, workspaceID string) error {
	return s.store.EnsureWorkspace(ctx, workspaceID, StarterBalanceMicros, pulse.DefaultPityThreshold)
}

func (s *Service) WorkspaceState(ctx context.Context, workspaceID string) (WorkspaceState, error) {
	return s.store.WorkspaceState(ctx, workspaceID)
}

func (s *Service) Ledger(ctx context.Context, workspaceID string, limit int) ([]LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.Ledger(ctx, workspaceID, limit)
}

// RecordDiscovery stamps the first time a user saw an instrument. The
// conversion half happens inside ResolveTribute.
func (s *Service) RecordDiscovery(ctx context.Context, userID, instrumentKey string) error {
	if _, err := s.catalog.Lookup(instrumentKey); err != nil {
		return ErrInstrumentNotFound
	}
	return s.store.RecordDiscovery(ctx, userID, instrumentKey, s.now())
}

// SweepExpiredEffects removes lapsed system effects; called by the
// worker binary on a ticker.
func (s *Service) SweepExpiredEffects(ctx context.Context) (int64, error) {
	return s.store.SweepExpiredEffects(ctx, s.now())
}

func (s *Service) nextFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64()
}

func (s *Service) randomPhase() float64 {
	return s.nextFloat() * 2 * math.Pi
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

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
