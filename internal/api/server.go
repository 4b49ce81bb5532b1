package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"colonycore/internal/config"
	"colonycore/internal/events"
	"colonycore/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

type contextKey string

const playerContextKey contextKey = "player"

// PlayerHeader carries the player identity resolved by the upstream gateway.
const PlayerHeader = "X-Player-ID"

// Visitors idle longer than visitorIdleTTL lose their limiter and their
// known-player mark. Sweeps run at most once per sweepEvery.
const (
	visitorIdleTTL = 10 * time.Minute
	sweepEvery     = time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Server struct {
	cfg  config.APIConfig
	log  *slog.Logger
	game *game.Service
	mux  *chi.Mux

	mu        sync.Mutex
	now       func() time.Time
	players   map[string]*visitor  // request budget per player id
	creators  map[string]*visitor  // player creation budget per client ip
	known     map[string]time.Time // player ids already ensured
	lastSweep time.Time
}

func New(cfg config.APIConfig, logger *slog.Logger, gameSvc *game.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		game:     gameSvc,
		mux:      chi.NewRouter(),
		now:      time.Now,
		players:  make(map[string]*visitor),
		creators: make(map[string]*visitor),
		known:    make(map[string]time.Time),
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
		r.Use(s.identityMiddleware)
		r.Use(s.rateLimitMiddleware)
		r.Use(s.ensurePlayerMiddleware)

		r.Get("/colony", s.handleColony)
		r.Get("/modifiers", s.handleModifiers)
		r.Get("/ledger", s.handleLedger)
		r.Get("/market", s.handleMarket)
		r.Get("/market/{resource}/depth", s.handleDepth)

		r.Post("/modules", s.handleBuild)
		r.Post("/modules/{id}/upgrade", s.moduleHandler(s.game.UpgradeModule))
		r.Post("/modules/{id}/toggle", s.moduleHandler(s.game.ToggleModule))
		r.Post("/modules/{id}/repair", s.moduleHandler(s.game.RepairModule))
		r.Delete("/modules/{id}", s.moduleHandler(s.game.DemolishModule))

		r.Post("/collect", s.handleCollect)
		r.Post("/trades", s.handleTrade)
		r.Post("/crew", s.handleRecruit)
		r.Post("/crew/{id}/assign", s.handleAssign)
		r.Post("/daily", s.handleDaily)
	})
}

// identityMiddleware trusts the gateway-provided player id.
func (s *Server) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		playerID := strings.TrimSpace(r.Header.Get(PlayerHeader))
		if playerID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+PlayerHeader+" header")
			return
		}
		ctx := context.WithValue(r.Context(), playerContextKey, playerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.getLimiter(s.players, playerFromContext(r.Context())).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ensurePlayerMiddleware creates the player row on first sight. Creations
// share a budget per client address so rotating ids cannot flood the store.
func (s *Server) ensurePlayerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		playerID := playerFromContext(r.Context())
		if !s.touchKnown(playerID) {
			if !s.getLimiter(s.creators, clientIP(r)).Allow() {
				writeError(w, http.StatusTooManyRequests, "too many new players from this address")
				return
			}
			created, err := s.game.EnsurePlayer(r.Context(), playerID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			if created {
				s.log.Info("player created", "player_id", playerID)
			}
			s.mu.Lock()
			s.known[playerID] = s.now()
			s.mu.Unlock()
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) touchKnown(playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.known[playerID]; !ok {
		return false
	}
	s.known[playerID] = s.now()
	return true
}

func (s *Server) getLimiter(set map[string]*visitor, key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	v, exists := set[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(s.cfg.RateLimitRPS), s.cfg.RateLimitBurst)}
		set[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

func (s *Server) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < sweepEvery {
		return
	}
	s.lastSweep = now
	for _, set := range []map[string]*visitor{s.players, s.creators} {
		for key, v := range set {
			if now.Sub(v.lastSeen) > visitorIdleTTL {
				delete(set, key)
			}
		}
	}
	for id, seen := range s.known {
		if now.Sub(seen) > visitorIdleTTL {
			delete(s.known, id)
		}
	}
}

// clientIP is the address left by middleware.RealIP, without a port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func playerFromContext(ctx context.Context) string {
	id, _ := ctx.Value(playerContextKey).(string)
	return id
}

// rollEvents gives player-triggered events a chance to start. A failed roll
// never blocks the read it rides on.
func (s *Server) rollEvents(ctx context.Context, playerID, triggerContext string) []string {
	started, err := s.game.RollPlayerEvents(ctx, playerID, triggerContext)
	if err != nil {
		s.log.Warn("roll player events", "player_id", playerID, "context", triggerContext, "err", err)
	}
	names := make([]string, 0, len(started))
	for _, ev := range started {
		names = append(names, ev.Name)
	}
	return names
}

func (s *Server) handleColony(w http.ResponseWriter, r *http.Request) {
	playerID := playerFromContext(r.Context())
	started := s.rollEvents(r.Context(), playerID, events.ContextColonyView)
	view, err := s.game.Colony(r.Context(), playerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"colony": view, "events_started": started})
}

func (s *Server) handleModifiers(w http.ResponseWriter, r *http.Request) {
	mods, err := s.game.Modifiers(r.Context(), playerFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"modifiers": mods})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := s.game.Ledger(r.Context(), playerFromContext(r.Context()), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	started := s.rollEvents(r.Context(), playerFromContext(r.Context()), events.ContextShopOpen)
	prices, err := s.game.Market(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"prices": prices, "events_started": started})
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	book, err := s.game.Depth(r.Context(), chi.URLParam(r, "resource"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"depth": book})
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Type string `json:"type"`
		Tier string `json:"tier"`
		X    int    `json:"x"`
		Y    int    `json:"y"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.game.BuildModule(r.Context(), game.BuildModuleInput{
		PlayerID:       playerFromContext(r.Context()),
		Type:           in.Type,
		Tier:           in.Tier,
		X:              in.X,
		Y:              in.Y,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"result": res})
}

type moduleAction func(context.Context, game.ModuleInput) (game.ModuleResult, error)

func (s *Server) moduleHandler(action moduleAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := action(r.Context(), game.ModuleInput{
			PlayerID:       playerFromContext(r.Context()),
			ModuleID:       chi.URLParam(r, "id"),
			IdempotencyKey: idempotencyKey(r),
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"result": res})
	}
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	res, err := s.game.CollectEarnings(r.Context(), game.PlayerInput{
		PlayerID:       playerFromContext(r.Context()),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"result": res})
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Resource string `json:"resource"`
		Side     string `json:"side"`
		Quantity int64  `json:"quantity"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.game.ExecuteTrade(r.Context(), game.TradeInput{
		PlayerID:       playerFromContext(r.Context()),
		Resource:       in.Resource,
		Side:           in.Side,
		Quantity:       in.Quantity,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"result": res})
}

func (s *Server) handleRecruit(w http.ResponseWriter, r *http.Request) {
	res, err := s.game.RecruitCrew(r.Context(), game.PlayerInput{
		PlayerID:       playerFromContext(r.Context()),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"result": res})
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ModuleID string `json:"module_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.game.AssignCrew(r.Context(), game.AssignCrewInput{
		PlayerID:       playerFromContext(r.Context()),
		CrewID:         chi.URLParam(r, "id"),
		ModuleID:       in.ModuleID,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"result": res})
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	res, err := s.game.ClaimDailyReward(r.Context(), game.PlayerInput{
		PlayerID:       playerFromContext(r.Context()),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"result": res})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var ge *game.Error
	msg := err.Error()
	if !errors.As(err, &ge) {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	switch game.KindOf(err) {
	case game.KindValidation:
		writeError(w, http.StatusBadRequest, msg)
	case game.KindPrecondition:
		writeError(w, http.StatusUnprocessableEntity, msg)
	case game.KindNotFound:
		writeError(w, http.StatusNotFound, msg)
	case game.KindConflict:
		writeError(w, http.StatusConflict, msg)
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOK(w http.ResponseWriter, status int, fields map[string]any) {
	fields["success"] = true
	writeJSON(w, status, fields)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}
