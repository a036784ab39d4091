package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/matchpoint-server/internal/domain"
	"github.com/matchpoint-server/internal/websocket"
)

// callerHeader carries the authenticated account ID, injected by the
// upstream identity gateway
const callerHeader = "X-User-ID"

// MatchService is the coordinator surface the HTTP layer calls
type MatchService interface {
	CreateMatch(ctx context.Context, hostID string, req domain.CreateMatchRequest) (*domain.Match, error)
	JoinMatch(ctx context.Context, roomCode, userID string) (*domain.Membership, error)
	StartMatch(ctx context.Context, roomCode, callerID string) (*domain.Match, error)
	GetSnapshot(ctx context.Context, roomCode string) (*domain.Snapshot, error)
	SubmitResults(ctx context.Context, roomCode, callerID string, req domain.SubmitResultsRequest) (map[string]int64, error)
	AdvanceMatch(ctx context.Context, roomCode, callerID string) (*domain.Match, error)
	RenameMatch(ctx context.Context, roomCode, callerID, name string) (*domain.Match, error)
	ListGames(ctx context.Context) ([]domain.Game, error)
}

// Handler provides HTTP handlers for the match API
type Handler struct {
	service MatchService
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service MatchService, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/matches", func(r chi.Router) {
			r.Post("/", h.CreateMatch)

			r.Route("/{roomCode}", func(r chi.Router) {
				r.Get("/", h.GetSnapshot)
				r.Patch("/", h.RenameMatch)
				r.Post("/join", h.JoinMatch)
				r.Post("/start", h.StartMatch)
				r.Post("/results", h.SubmitResults)
				r.Post("/advance", h.AdvanceMatch)
			})
		})

		// Game catalog
		r.Get("/games", h.ListGames)

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-User-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError maps a domain error to its HTTP status
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case domain.IsNotFoundError(err):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNoPlayers):
		status = http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrCodesExhausted):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
		err = domain.ErrInternalError
	}
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// caller extracts the authenticated account ID from the request
func caller(r *http.Request) (string, error) {
	id := r.Header.Get(callerHeader)
	if id == "" {
		return "", domain.ErrUnauthenticated
	}
	return id, nil
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// CreateMatch handles match creation
func (h *Handler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	hostID, err := caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req domain.CreateMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidation)
		return
	}

	match, err := h.service.CreateMatch(r.Context(), hostID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    match,
	})
}

// GetSnapshot returns the full current state of a match
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.GetSnapshot(r.Context(), chi.URLParam(r, "roomCode"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, snapshot)
}

// JoinMatch adds the caller to a match roster
func (h *Handler) JoinMatch(w http.ResponseWriter, r *http.Request) {
	userID, err := caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	membership, err := h.service.JoinMatch(r.Context(), chi.URLParam(r, "roomCode"), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, membership)
}

// StartMatch transitions a match to in_progress (host only)
func (h *Handler) StartMatch(w http.ResponseWriter, r *http.Request) {
	callerID, err := caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	match, err := h.service.StartMatch(r.Context(), chi.URLParam(r, "roomCode"), callerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"status":             match.Status,
		"current_game_index": match.CurrentGameIndex,
	})
}

// SubmitResults records one game's outcome (host only)
func (h *Handler) SubmitResults(w http.ResponseWriter, r *http.Request) {
	callerID, err := caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req domain.SubmitResultsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidation)
		return
	}

	scores, err := h.service.SubmitResults(r.Context(), chi.URLParam(r, "roomCode"), callerID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{"scores": scores})
}

// AdvanceMatch moves a match to the next game or finishes it (host only)
func (h *Handler) AdvanceMatch(w http.ResponseWriter, r *http.Request) {
	callerID, err := caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	match, err := h.service.AdvanceMatch(r.Context(), chi.URLParam(r, "roomCode"), callerID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	data := map[string]interface{}{
		"status":             match.Status,
		"current_game_index": match.CurrentGameIndex,
	}
	if match.WinnerID != "" {
		data["winner_id"] = match.WinnerID
	}
	h.writeSuccess(w, data)
}

// RenameMatch updates a match's display name (host only)
func (h *Handler) RenameMatch(w http.ResponseWriter, r *http.Request) {
	callerID, err := caller(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req domain.RenameMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.ErrValidation)
		return
	}

	match, err := h.service.RenameMatch(r.Context(), chi.URLParam(r, "roomCode"), callerID, req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"name": match.Name})
}

// ListGames returns the mini-game catalog
func (h *Handler) ListGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.service.ListGames(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, games)
}
