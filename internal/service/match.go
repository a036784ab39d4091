package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/matchpoint-server/internal/config"
	"github.com/matchpoint-server/internal/domain"
	"github.com/matchpoint-server/internal/registry"
)

// MatchStore is the durable storage the coordinator depends on
type MatchStore interface {
	CreateMatch(ctx context.Context, m *domain.Match) error
	GetMatch(ctx context.Context, matchID string) (*domain.Match, error)
	FindActiveByCode(ctx context.Context, roomCode string) (*domain.Match, error)
	UpdateMatchProgress(ctx context.Context, matchID string, status domain.Status, currentGameIndex int, winnerID string) error
	RenameMatch(ctx context.Context, matchID, name string) error
	UpsertMembership(ctx context.Context, m *domain.Membership) (*domain.Membership, bool, error)
	ListMemberships(ctx context.Context, matchID string) ([]domain.Membership, error)
	CountMemberships(ctx context.Context, matchID string) (int, error)
	RecordGameResult(ctx context.Context, matchID string, gameIndex int, winnerIDs []string, points int64) (bool, error)
	GetScores(ctx context.Context, matchID string) (map[string]int64, error)
	GetGamesByIDs(ctx context.Context, gameIDs []int64) ([]domain.Game, error)
	ListGames(ctx context.Context) ([]domain.Game, error)
}

// CodeRegistry maps room codes to match IDs
type CodeRegistry interface {
	Allocate(ctx context.Context, matchID string) (string, error)
	Resolve(ctx context.Context, roomCode string) (string, error)
	Bind(ctx context.Context, roomCode, matchID string) error
	Release(ctx context.Context, roomCode, matchID string) error
}

// Broadcaster pushes state-change events to a room's subscribers
type Broadcaster interface {
	BroadcastEvent(roomCode, eventType string, data interface{})
}

// UserDirectory resolves account display names
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (*domain.UserInfo, error)
}

// EventPublisher records committed state changes on the analytics stream
type EventPublisher interface {
	Publish(event domain.MatchEvent)
}

// MatchService coordinates the match lifecycle: it owns per-match
// serialization, composes storage, the room registry, and the broadcast
// channel, and is the only entry point HTTP handlers call.
type MatchService struct {
	store     MatchStore
	registry  CodeRegistry
	hub       Broadcaster
	directory UserDirectory
	events    EventPublisher
	config    *config.MatchConfig
	logger    *slog.Logger
	locks     *keyedMutex
}

// NewMatchService creates the match coordinator
func NewMatchService(
	store MatchStore,
	reg CodeRegistry,
	hub Broadcaster,
	directory UserDirectory,
	cfg *config.MatchConfig,
	logger *slog.Logger,
) *MatchService {
	return &MatchService{
		store:     store,
		registry:  reg,
		hub:       hub,
		directory: directory,
		config:    cfg,
		logger:    logger,
		locks:     newKeyedMutex(),
	}
}

// SetPublisher attaches the optional analytics-stream publisher
func (s *MatchService) SetPublisher(p EventPublisher) {
	s.events = p
}

// CreateMatch allocates a room code and creates a match in waiting status
func (s *MatchService) CreateMatch(ctx context.Context, hostID string, req domain.CreateMatchRequest) (*domain.Match, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	sequence := req.GameSequence
	if sequence == nil {
		sequence = append([]int64(nil), s.config.DefaultGameSequence...)
	}
	if len(sequence) == 0 {
		return nil, fmt.Errorf("%w: game_sequence must not be empty", domain.ErrValidation)
	}

	matchID := uuid.New().String()
	code, err := s.registry.Allocate(ctx, matchID)
	if err != nil {
		return nil, err
	}

	match := &domain.Match{
		ID:           matchID,
		RoomCode:     code,
		HostID:       hostID,
		Name:         req.Name,
		Status:       domain.StatusWaiting,
		GameSequence: sequence,
	}
	if err := s.store.CreateMatch(ctx, match); err != nil {
		if relErr := s.registry.Release(ctx, code, matchID); relErr != nil {
			s.logger.Warn("failed to release room code after create failure", "room_code", code, "error", relErr)
		}
		return nil, err
	}

	s.logger.Info("match created", "match_id", matchID, "room_code", code, "host_id", hostID)
	return match, nil
}

// JoinMatch adds a player to a waiting match. Joining is idempotent: a
// repeat join returns the existing membership and emits no event.
func (s *MatchService) JoinMatch(ctx context.Context, roomCode, userID string) (*domain.Membership, error) {
	matchID, err := s.resolveMatchID(ctx, roomCode)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Acquire(matchID)
	defer unlock()

	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match.Status != domain.StatusWaiting {
		return nil, fmt.Errorf("%w: cannot join a %s match", domain.ErrInvalidTransition, match.Status)
	}

	user, err := s.directory.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	membership := &domain.Membership{
		ID:          uuid.New().String(),
		MatchID:     match.ID,
		UserID:      userID,
		DisplayName: user.DisplayName,
	}
	stored, created, err := s.store.UpsertMembership(ctx, membership)
	if err != nil {
		return nil, err
	}

	if created {
		count, err := s.store.CountMemberships(ctx, match.ID)
		if err != nil {
			s.logger.Warn("failed to count memberships", "match_id", match.ID, "error", err)
			count = 0
		}
		s.emit(match.RoomCode, match.ID, domain.EventPlayerJoined, domain.PlayerJoinedEvent{
			Membership:  *stored,
			PlayerCount: count,
		})
	}
	return stored, nil
}

// StartMatch transitions a waiting match to in_progress. Host-only.
func (s *MatchService) StartMatch(ctx context.Context, roomCode, callerID string) (*domain.Match, error) {
	matchID, err := s.resolveMatchID(ctx, roomCode)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Acquire(matchID)
	defer unlock()

	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountMemberships(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := match.Start(callerID, count); err != nil {
		return nil, err
	}
	if err := s.store.UpdateMatchProgress(ctx, match.ID, match.Status, match.CurrentGameIndex, ""); err != nil {
		return nil, err
	}

	s.emit(match.RoomCode, match.ID, domain.EventPhaseChanged, domain.PhaseChangedEvent{
		Reason:           domain.PhaseReasonStarted,
		Status:           match.Status,
		CurrentGameIndex: match.CurrentGameIndex,
		TotalGames:       match.TotalGames(),
	})
	s.logger.Info("match started", "match_id", match.ID, "players", count)
	return match, nil
}

// SubmitResults records one game's outcome and awards points to the listed
// winners. Replays of an already-recorded game index are a no-op and return
// the current totals unchanged.
func (s *MatchService) SubmitResults(ctx context.Context, roomCode, callerID string, req domain.SubmitResultsRequest) (map[string]int64, error) {
	if len(req.WinnerMembershipIDs) == 0 {
		return nil, fmt.Errorf("%w: winner_membership_ids must not be empty", domain.ErrValidation)
	}
	if req.Points <= 0 {
		return nil, fmt.Errorf("%w: points must be positive", domain.ErrValidation)
	}

	matchID, err := s.resolveMatchID(ctx, roomCode)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Acquire(matchID)
	defer unlock()

	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if callerID != match.HostID {
		return nil, domain.ErrForbidden
	}
	if match.Status != domain.StatusInProgress {
		return nil, fmt.Errorf("%w: cannot record results for a %s match", domain.ErrInvalidTransition, match.Status)
	}
	if req.GameIndex < 0 || req.GameIndex >= match.TotalGames() {
		return nil, fmt.Errorf("%w: game_index out of range", domain.ErrValidation)
	}

	applied, err := s.store.RecordGameResult(ctx, match.ID, req.GameIndex, req.WinnerMembershipIDs, req.Points)
	if err != nil {
		return nil, err
	}

	scores, err := s.store.GetScores(ctx, match.ID)
	if err != nil {
		return nil, err
	}

	if applied {
		s.emit(match.RoomCode, match.ID, domain.EventScoresUpdated, domain.ScoresUpdatedEvent{
			GameIndex: req.GameIndex,
			Points:    req.Points,
			Scores:    scores,
		})
	} else {
		s.logger.Info("duplicate result submission ignored",
			"match_id", match.ID,
			"game_index", req.GameIndex,
		)
	}
	return scores, nil
}

// AdvanceMatch moves the match to its next game, or finishes it after the
// last one. On finish the winner is the strictly highest scorer; a tie
// leaves the winner unset.
func (s *MatchService) AdvanceMatch(ctx context.Context, roomCode, callerID string) (*domain.Match, error) {
	matchID, err := s.resolveMatchID(ctx, roomCode)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Acquire(matchID)
	defer unlock()

	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	finished, err := match.Advance(callerID)
	if err != nil {
		return nil, err
	}

	reason := domain.PhaseReasonAdvanced
	if finished {
		reason = domain.PhaseReasonFinished
		scores, err := s.store.GetScores(ctx, match.ID)
		if err != nil {
			return nil, err
		}
		match.WinnerID = domain.WinnerID(scores)
	}
	if err := s.store.UpdateMatchProgress(ctx, match.ID, match.Status, match.CurrentGameIndex, match.WinnerID); err != nil {
		return nil, err
	}

	s.emit(match.RoomCode, match.ID, domain.EventPhaseChanged, domain.PhaseChangedEvent{
		Reason:           reason,
		Status:           match.Status,
		CurrentGameIndex: match.CurrentGameIndex,
		TotalGames:       match.TotalGames(),
		WinnerID:         match.WinnerID,
	})
	s.logger.Info("match advanced",
		"match_id", match.ID,
		"status", match.Status,
		"current_game_index", match.CurrentGameIndex,
	)
	return match, nil
}

// RenameMatch changes the match's display label. Host-only, any
// non-finished status.
func (s *MatchService) RenameMatch(ctx context.Context, roomCode, callerID, name string) (*domain.Match, error) {
	matchID, err := s.resolveMatchID(ctx, roomCode)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Acquire(matchID)
	defer unlock()

	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := match.Rename(callerID, name); err != nil {
		return nil, err
	}
	if err := s.store.RenameMatch(ctx, match.ID, name); err != nil {
		return nil, err
	}

	s.emit(match.RoomCode, match.ID, domain.EventPhaseChanged, domain.PhaseChangedEvent{
		Reason:           domain.PhaseReasonRenamed,
		Status:           match.Status,
		CurrentGameIndex: match.CurrentGameIndex,
		TotalGames:       match.TotalGames(),
		Name:             match.Name,
	})
	return match, nil
}

// GetSnapshot returns the full current state of a match. This is the
// reconciliation path for clients that missed broadcasts, so it must work
// regardless of real-time delivery.
func (s *MatchService) GetSnapshot(ctx context.Context, roomCode string) (*domain.Snapshot, error) {
	matchID, err := s.resolveMatchID(ctx, roomCode)
	if err != nil {
		return nil, err
	}

	match, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	players, err := s.store.ListMemberships(ctx, matchID)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]int64, len(players))
	for _, p := range players {
		scores[p.ID] = p.TotalScore
	}

	games, err := s.store.GetGamesByIDs(ctx, match.GameSequence)
	if err != nil {
		// Catalog is display-only; the snapshot stays useful without it
		s.logger.Warn("failed to resolve game sequence", "match_id", matchID, "error", err)
	}

	return &domain.Snapshot{
		Match:   *match,
		Players: players,
		Scores:  scores,
		Games:   games,
	}, nil
}

// ListGames returns the mini-game catalog
func (s *MatchService) ListGames(ctx context.Context) ([]domain.Game, error) {
	return s.store.ListGames(ctx)
}

// resolveMatchID maps a room code to a match ID, preferring the Redis
// registry and falling back to the database. A successful fallback re-binds
// the registry so subsequent lookups stay on the fast path.
func (s *MatchService) resolveMatchID(ctx context.Context, roomCode string) (string, error) {
	code := registry.Normalize(roomCode)
	if code == "" {
		return "", fmt.Errorf("%w: room code is required", domain.ErrValidation)
	}

	matchID, err := s.registry.Resolve(ctx, code)
	if err == nil {
		return matchID, nil
	}
	if !errors.Is(err, domain.ErrRoomCodeNotFound) {
		return "", err
	}

	match, err := s.store.FindActiveByCode(ctx, code)
	if err != nil {
		return "", err
	}
	if bindErr := s.registry.Bind(ctx, code, match.ID); bindErr != nil {
		s.logger.Warn("failed to re-bind room code", "room_code", code, "error", bindErr)
	}
	return match.ID, nil
}

// emit pushes an event to room subscribers and the analytics stream. Both
// paths are advisory: failures are logged by the transports and never
// surface to the caller.
func (s *MatchService) emit(roomCode, matchID, eventType string, data interface{}) {
	s.hub.BroadcastEvent(roomCode, eventType, data)
	if s.events != nil {
		s.events.Publish(domain.MatchEvent{
			Type:      eventType,
			RoomCode:  roomCode,
			MatchID:   matchID,
			Data:      data,
			Timestamp: time.Now(),
		})
	}
}
