package domain

import "time"

// Event types pushed to room subscribers and published to the event stream
const (
	EventPlayerJoined  = "player_joined"
	EventScoresUpdated = "scores_updated"
	EventPhaseChanged  = "phase_changed"
)

// Reasons carried by phase_changed events
const (
	PhaseReasonStarted  = "started"
	PhaseReasonAdvanced = "advanced"
	PhaseReasonFinished = "finished"
	PhaseReasonRenamed  = "renamed"
)

// MatchEvent is a state-change record for the analytics stream
type MatchEvent struct {
	Type      string      `json:"type"`
	RoomCode  string      `json:"room_code"`
	MatchID   string      `json:"match_id"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// PlayerJoinedEvent is the payload for player_joined
type PlayerJoinedEvent struct {
	Membership  Membership `json:"membership"`
	PlayerCount int        `json:"player_count"`
}

// ScoresUpdatedEvent is the payload for scores_updated
type ScoresUpdatedEvent struct {
	GameIndex int              `json:"game_index"`
	Points    int64            `json:"points"`
	Scores    map[string]int64 `json:"scores"`
}

// PhaseChangedEvent is the payload for phase_changed. Reason distinguishes
// lifecycle transitions from name-only edits.
type PhaseChangedEvent struct {
	Reason           string `json:"reason"`
	Status           Status `json:"status"`
	CurrentGameIndex int    `json:"current_game_index"`
	TotalGames       int    `json:"total_games"`
	WinnerID         string `json:"winner_id,omitempty"`
	Name             string `json:"name,omitempty"`
}
