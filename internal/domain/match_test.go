package domain

import (
	"errors"
	"testing"
)

func newWaitingMatch() *Match {
	return &Match{
		ID:           "match-1",
		RoomCode:     "ABC234",
		HostID:       "host-1",
		Name:         "Friday Night",
		Status:       StatusWaiting,
		GameSequence: []int64{1, 2, 3},
	}
}

func TestStart_Transitions(t *testing.T) {
	m := newWaitingMatch()
	if err := m.Start("host-1", 3); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if m.Status != StatusInProgress {
		t.Fatalf("Expected status %s, got %s", StatusInProgress, m.Status)
	}
	if m.CurrentGameIndex != 0 {
		t.Fatalf("Expected current game index 0, got %d", m.CurrentGameIndex)
	}
}

func TestStart_NonHostForbidden(t *testing.T) {
	m := newWaitingMatch()
	if err := m.Start("player-2", 3); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Expected ErrForbidden, got %v", err)
	}
	if m.Status != StatusWaiting {
		t.Fatalf("Expected status unchanged, got %s", m.Status)
	}
}

func TestStart_NonHostForbiddenEvenWhenInProgress(t *testing.T) {
	m := newWaitingMatch()
	m.Status = StatusInProgress

	// Identity is checked before state, so a non-host caller never learns
	// the match status from the error
	if err := m.Start("player-2", 3); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Expected ErrForbidden, got %v", err)
	}
}

func TestStart_AlreadyInProgress(t *testing.T) {
	m := newWaitingMatch()
	m.Status = StatusInProgress
	if err := m.Start("host-1", 3); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition, got %v", err)
	}
}

func TestStart_NoPlayers(t *testing.T) {
	m := newWaitingMatch()
	if err := m.Start("host-1", 0); !errors.Is(err, ErrNoPlayers) {
		t.Fatalf("Expected ErrNoPlayers, got %v", err)
	}
	if m.Status != StatusWaiting {
		t.Fatalf("Expected status unchanged, got %s", m.Status)
	}
}

func TestAdvance_StepsThroughSequence(t *testing.T) {
	m := newWaitingMatch()
	m.Status = StatusInProgress

	finished, err := m.Advance("host-1")
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if finished {
		t.Fatal("Expected match to keep going after the first game")
	}
	if m.CurrentGameIndex != 1 {
		t.Fatalf("Expected current game index 1, got %d", m.CurrentGameIndex)
	}

	if _, err := m.Advance("host-1"); err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}

	finished, err = m.Advance("host-1")
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if !finished {
		t.Fatal("Expected match to finish after the last game")
	}
	if m.Status != StatusFinished {
		t.Fatalf("Expected status %s, got %s", StatusFinished, m.Status)
	}
	if m.CurrentGameIndex != 2 {
		t.Fatalf("Expected current game index to stay at 2, got %d", m.CurrentGameIndex)
	}
}

func TestAdvance_NonHostForbidden(t *testing.T) {
	m := newWaitingMatch()
	m.Status = StatusInProgress
	if _, err := m.Advance("player-2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Expected ErrForbidden, got %v", err)
	}
}

func TestAdvance_RejectsWaitingAndFinished(t *testing.T) {
	m := newWaitingMatch()
	if _, err := m.Advance("host-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition for waiting match, got %v", err)
	}

	m.Status = StatusFinished
	if _, err := m.Advance("host-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition for finished match, got %v", err)
	}
}

func TestAdvance_SingleGameSequenceFinishesImmediately(t *testing.T) {
	m := newWaitingMatch()
	m.GameSequence = []int64{7}
	m.Status = StatusInProgress

	finished, err := m.Advance("host-1")
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if !finished {
		t.Fatal("Expected a one-game match to finish on the first advance")
	}
}

func TestRename(t *testing.T) {
	m := newWaitingMatch()
	if err := m.Rename("host-1", "Saturday Rematch"); err != nil {
		t.Fatalf("Rename returned error: %v", err)
	}
	if m.Name != "Saturday Rematch" {
		t.Fatalf("Expected renamed match, got %q", m.Name)
	}

	if err := m.Rename("player-2", "Hijacked"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Expected ErrForbidden, got %v", err)
	}
	if err := m.Rename("host-1", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation for empty name, got %v", err)
	}

	m.Status = StatusFinished
	if err := m.Rename("host-1", "Too Late"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition for finished match, got %v", err)
	}
}

func TestWinnerID(t *testing.T) {
	tests := []struct {
		name   string
		scores map[string]int64
		want   string
	}{
		{"single leader", map[string]int64{"a": 10, "b": 20, "c": 5}, "b"},
		{"tie at the top", map[string]int64{"a": 20, "b": 20, "c": 5}, ""},
		{"tie below the top", map[string]int64{"a": 5, "b": 20, "c": 5}, "b"},
		{"sole player", map[string]int64{"a": 0}, "a"},
		{"empty", map[string]int64{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WinnerID(tt.scores); got != tt.want {
				t.Fatalf("WinnerID(%v) = %q, want %q", tt.scores, got, tt.want)
			}
		})
	}
}
