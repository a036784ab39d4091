package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matchpoint-server/internal/domain"
	"github.com/matchpoint-server/internal/websocket"
)

type fakeService struct {
	match      *domain.Match
	membership *domain.Membership
	snapshot   *domain.Snapshot
	scores     map[string]int64
	games      []domain.Game
	err        error

	lastCaller   string
	lastRoomCode string
}

func (f *fakeService) CreateMatch(ctx context.Context, hostID string, req domain.CreateMatchRequest) (*domain.Match, error) {
	f.lastCaller = hostID
	return f.match, f.err
}

func (f *fakeService) JoinMatch(ctx context.Context, roomCode, userID string) (*domain.Membership, error) {
	f.lastCaller = userID
	f.lastRoomCode = roomCode
	return f.membership, f.err
}

func (f *fakeService) StartMatch(ctx context.Context, roomCode, callerID string) (*domain.Match, error) {
	f.lastCaller = callerID
	f.lastRoomCode = roomCode
	return f.match, f.err
}

func (f *fakeService) GetSnapshot(ctx context.Context, roomCode string) (*domain.Snapshot, error) {
	f.lastRoomCode = roomCode
	return f.snapshot, f.err
}

func (f *fakeService) SubmitResults(ctx context.Context, roomCode, callerID string, req domain.SubmitResultsRequest) (map[string]int64, error) {
	f.lastCaller = callerID
	f.lastRoomCode = roomCode
	return f.scores, f.err
}

func (f *fakeService) AdvanceMatch(ctx context.Context, roomCode, callerID string) (*domain.Match, error) {
	f.lastCaller = callerID
	f.lastRoomCode = roomCode
	return f.match, f.err
}

func (f *fakeService) RenameMatch(ctx context.Context, roomCode, callerID, name string) (*domain.Match, error) {
	f.lastCaller = callerID
	f.lastRoomCode = roomCode
	return f.match, f.err
}

func (f *fakeService) ListGames(ctx context.Context) ([]domain.Game, error) {
	return f.games, f.err
}

func newTestHandler(svc *fakeService) *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(svc, websocket.NewHub(logger), logger)
}

func doRequest(h *Handler, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	var buf io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		buf = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestCreateMatch_Created(t *testing.T) {
	svc := &fakeService{match: &domain.Match{
		ID:       "match-1",
		RoomCode: "ABC234",
		HostID:   "host-1",
		Status:   domain.StatusWaiting,
	}}
	h := newTestHandler(svc)

	rec := doRequest(h, "POST", "/api/v1/matches", "host-1", domain.CreateMatchRequest{Name: "Friday"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Fatalf("Expected success, got %+v", resp)
	}
	if svc.lastCaller != "host-1" {
		t.Fatalf("Expected caller host-1, got %q", svc.lastCaller)
	}
}

func TestCreateMatch_MissingIdentity(t *testing.T) {
	h := newTestHandler(&fakeService{})

	rec := doRequest(h, "POST", "/api/v1/matches", "", domain.CreateMatchRequest{Name: "Friday"})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", rec.Code)
	}
}

func TestCreateMatch_MalformedBody(t *testing.T) {
	h := newTestHandler(&fakeService{})

	req := httptest.NewRequest("POST", "/api/v1/matches", bytes.NewReader([]byte("{not json")))
	req.Header.Set("X-User-ID", "host-1")
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.ErrValidation, http.StatusBadRequest},
		{"forbidden", domain.ErrForbidden, http.StatusForbidden},
		{"match not found", domain.ErrMatchNotFound, http.StatusNotFound},
		{"room code not found", domain.ErrRoomCodeNotFound, http.StatusNotFound},
		{"membership not found", domain.ErrMembershipNotFound, http.StatusNotFound},
		{"invalid transition", domain.ErrInvalidTransition, http.StatusConflict},
		{"no players", domain.ErrNoPlayers, http.StatusPreconditionFailed},
		{"codes exhausted", domain.ErrCodesExhausted, http.StatusServiceUnavailable},
		{"unknown", errors.New("pg connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakeService{err: tt.err})
			rec := doRequest(h, "POST", "/api/v1/matches/ABC234/start", "host-1", nil)
			if rec.Code != tt.want {
				t.Fatalf("Expected %d, got %d", tt.want, rec.Code)
			}
			resp := decodeResponse(t, rec)
			if resp.Success {
				t.Fatal("Expected success=false")
			}
			if resp.Error == "" {
				t.Fatal("Expected an error message")
			}
		})
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	h := newTestHandler(&fakeService{err: errors.New("dial tcp 10.0.0.5:5432: connection refused")})

	rec := doRequest(h, "POST", "/api/v1/matches/ABC234/start", "host-1", nil)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Error != domain.ErrInternalError.Error() {
		t.Fatalf("Expected a generic error message, got %q", resp.Error)
	}
}

func TestJoinMatch(t *testing.T) {
	svc := &fakeService{membership: &domain.Membership{
		ID:      "mem-1",
		MatchID: "match-1",
		UserID:  "alice",
	}}
	h := newTestHandler(svc)

	rec := doRequest(h, "POST", "/api/v1/matches/ABC234/join", "alice", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if svc.lastRoomCode != "ABC234" {
		t.Fatalf("Expected room code ABC234, got %q", svc.lastRoomCode)
	}
	if svc.lastCaller != "alice" {
		t.Fatalf("Expected caller alice, got %q", svc.lastCaller)
	}
}

func TestGetSnapshot_NoIdentityRequired(t *testing.T) {
	svc := &fakeService{snapshot: &domain.Snapshot{
		Match:  domain.Match{ID: "match-1", RoomCode: "ABC234"},
		Scores: map[string]int64{"mem-1": 10},
	}}
	h := newTestHandler(svc)

	// Snapshot is a read and works without the identity header
	rec := doRequest(h, "GET", "/api/v1/matches/ABC234", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitResults(t *testing.T) {
	svc := &fakeService{scores: map[string]int64{"mem-1": 10, "mem-2": 20}}
	h := newTestHandler(svc)

	rec := doRequest(h, "POST", "/api/v1/matches/ABC234/results", "host-1", domain.SubmitResultsRequest{
		GameIndex:           0,
		WinnerMembershipIDs: []string{"mem-2"},
		Points:              20,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Unexpected data shape: %T", resp.Data)
	}
	if _, ok := data["scores"]; !ok {
		t.Fatalf("Expected scores in response, got %v", data)
	}
}

func TestAdvanceMatch_IncludesWinnerWhenFinished(t *testing.T) {
	svc := &fakeService{match: &domain.Match{
		ID:               "match-1",
		Status:           domain.StatusFinished,
		CurrentGameIndex: 2,
		WinnerID:         "mem-2",
	}}
	h := newTestHandler(svc)

	rec := doRequest(h, "POST", "/api/v1/matches/ABC234/advance", "host-1", nil)

	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]interface{})
	if data["winner_id"] != "mem-2" {
		t.Fatalf("Expected winner mem-2, got %v", data)
	}
	if data["status"] != string(domain.StatusFinished) {
		t.Fatalf("Expected finished status, got %v", data)
	}
}

func TestRenameMatch(t *testing.T) {
	svc := &fakeService{match: &domain.Match{ID: "match-1", Name: "After"}}
	h := newTestHandler(svc)

	rec := doRequest(h, "PATCH", "/api/v1/matches/ABC234", "host-1", domain.RenameMatchRequest{Name: "After"})

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
}

func TestListGames(t *testing.T) {
	svc := &fakeService{games: []domain.Game{
		{ID: 1, Title: "Trivia Blitz"},
		{ID: 2, Title: "Picture Puzzle"},
	}}
	h := newTestHandler(svc)

	rec := doRequest(h, "GET", "/api/v1/games", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	games, ok := resp.Data.([]interface{})
	if !ok || len(games) != 2 {
		t.Fatalf("Expected 2 games, got %v", resp.Data)
	}
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestHandler(&fakeService{})

	for _, path := range []string{"/health", "/ready"} {
		rec := doRequest(h, "GET", path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200 for %s, got %d", path, rec.Code)
		}
	}
}
