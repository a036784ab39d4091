package domain

import (
	"fmt"
	"time"
)

// Status represents the lifecycle phase of a match
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
)

// Match represents one played session, addressed externally by room code
type Match struct {
	ID               string    `json:"id"`
	RoomCode         string    `json:"room_code"`
	HostID           string    `json:"host_id"`
	Name             string    `json:"name"`
	Status           Status    `json:"status"`
	CurrentGameIndex int       `json:"current_game_index"`
	GameSequence     []int64   `json:"game_sequence"`
	WinnerID         string    `json:"winner_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TotalGames returns the length of the match's game sequence
func (m *Match) TotalGames() int {
	return len(m.GameSequence)
}

// Start transitions the match from waiting to in_progress.
// Host identity is checked before status so a non-host caller always
// observes ErrForbidden regardless of match state.
func (m *Match) Start(callerID string, playerCount int) error {
	if callerID != m.HostID {
		return ErrForbidden
	}
	if m.Status != StatusWaiting {
		return fmt.Errorf("%w: cannot start a %s match", ErrInvalidTransition, m.Status)
	}
	if playerCount == 0 {
		return ErrNoPlayers
	}
	m.Status = StatusInProgress
	return nil
}

// Advance moves the match to the next game, or to finished when the
// sequence is exhausted. Returns true when the match finished.
func (m *Match) Advance(callerID string) (bool, error) {
	if callerID != m.HostID {
		return false, ErrForbidden
	}
	if m.Status != StatusInProgress {
		return false, fmt.Errorf("%w: cannot advance a %s match", ErrInvalidTransition, m.Status)
	}
	if m.CurrentGameIndex+1 < m.TotalGames() {
		m.CurrentGameIndex++
		return false, nil
	}
	m.Status = StatusFinished
	return true, nil
}

// Rename changes the match's display label. Allowed in any non-finished status.
func (m *Match) Rename(callerID, name string) error {
	if callerID != m.HostID {
		return ErrForbidden
	}
	if m.Status == StatusFinished {
		return fmt.Errorf("%w: cannot rename a finished match", ErrInvalidTransition)
	}
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	m.Name = name
	return nil
}

// WinnerID returns the membership with the strictly highest total score,
// or an empty string when the match is empty or the top score is tied.
func WinnerID(scores map[string]int64) string {
	var winner string
	var best int64
	tied := false
	for id, score := range scores {
		switch {
		case winner == "" || score > best:
			winner, best, tied = id, score, false
		case score == best:
			tied = true
		}
	}
	if tied {
		return ""
	}
	return winner
}

// Membership is a player's participation record within a specific match
type Membership struct {
	ID          string    `json:"membership_id"`
	MatchID     string    `json:"match_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	TotalScore  int64     `json:"total_score"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Game is a catalog entry for a mini-game, read-only from the core
type Game struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	PointsValue int64  `json:"points_value"`
}

// UserInfo is the identity-directory view of an account
type UserInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Snapshot is the full current state of a match, fetched on demand and
// used by clients to reconcile missed broadcasts
type Snapshot struct {
	Match   Match            `json:"match"`
	Players []Membership     `json:"players"`
	Scores  map[string]int64 `json:"scores"`
	Games   []Game           `json:"games,omitempty"`
}

// CreateMatchRequest is the payload for creating a match
type CreateMatchRequest struct {
	Name         string  `json:"name"`
	GameSequence []int64 `json:"game_sequence,omitempty"`
}

// RenameMatchRequest is the payload for renaming a match
type RenameMatchRequest struct {
	Name string `json:"name"`
}

// SubmitResultsRequest is the payload for recording one game's outcome
type SubmitResultsRequest struct {
	GameIndex           int      `json:"game_index"`
	WinnerMembershipIDs []string `json:"winner_membership_ids"`
	Points              int64    `json:"points"`
}
