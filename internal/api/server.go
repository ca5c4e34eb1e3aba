package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"klepsydra/internal/catalog"
	"klepsydra/internal/config"
	"klepsydra/internal/engine"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type contextKey string

const userContextKey contextKey = "user"

type Server struct {
	cfg    config.APIConfig
	log    *slog.Logger
	engine *engine.Service
	mux    *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, svc *engine.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		log:    logger,
		engine: svc,
		mux:    chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/instruments", s.handleInstruments)

		r.Group(func(r chi.Router) {
			r.Use(s.identityMiddleware)
			r.Get("/luck", s.handleCurrentLuck)
			r.Get("/profile", s.handleProfile)
			r.Post("/discoveries", s.handleRecordDiscovery)

			r.Post("/workspaces", s.handleEnsureWorkspace)
			r.Get("/workspaces/{id}", s.handleWorkspaceState)
			r.Post("/workspaces/{id}/tributes", s.handleResolveTribute)
			r.Get("/workspaces/{id}/ledger", s.handleLedger)
		})
	})
}

// identityMiddleware trusts the caller-supplied user id; authentication
// lives in the product shell in front of this service.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userContextKey).(string)
	if !ok || userID == "" {
		return "", errors.New("missing identity context")
	}
	return userID, nil
}

func (s *Server) handleInstruments(w http.ResponseWriter, _ *http.Request) {
	type view struct {
		catalog.Instrument
		BaseOdds      float64 `json:"base_odds"`
		WinMultiplier float64 `json:"win_multiplier"`
	}
	var out []view
	for _, in := range s.engine.Catalog().List() {
		out = append(out, view{Instrument: in, BaseOdds: in.BaseOdds(), WinMultiplier: in.WinMultiplier()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"instruments": out})
}

func (s *Server) handleCurrentLuck(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	luck, err := s.engine.CurrentLuck(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"luck": luck})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	profile, err := s.engine.Profile(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleRecordDiscovery(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		InstrumentKey string `json:"instrument_key"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.RecordDiscovery(r.Context(), userID, in.InstrumentKey); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleEnsureWorkspace(w http.ResponseWriter, r *http.Request) {
	var in struct {
		WorkspaceID string `json:"workspace_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.WorkspaceID = strings.TrimSpace(in.WorkspaceID)
	if in.WorkspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspace_id is required")
		return
	}
	if err := s.engine.EnsureWorkspace(r.Context(), in.WorkspaceID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
}

func (s *Server) handleWorkspaceState(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.WorkspaceState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleResolveTribute(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		InstrumentKey string `json:"instrument_key"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.engine.ResolveTribute(r.Context(), engine.TributeInput{
		UserID:         userID,
		WorkspaceID:    chi.URLParam(r, "id"),
		InstrumentKey:  in.InstrumentKey,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := s.engine.Ledger(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInsufficientFunds):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrInstrumentNotFound), errors.Is(err, engine.ErrWorkspaceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrDuplicateIdempotency), errors.Is(err, engine.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrTributeFailed):
		writeError(w, http.StatusInternalServerError, "could not complete the tribute; nothing was charged")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}
