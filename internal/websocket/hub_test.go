package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func newTestClient() *Client {
	return &Client{
		id:   "test-" + time.Now().Format("150405.000000000"),
		send: make(chan []byte, 16),
	}
}

// waitFor polls until cond is true; hub operations are asynchronous
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not reached in time")
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := newTestHub(t)
	client := newTestClient()

	hub.Register(client)
	waitFor(t, func() bool { return hub.GetTotalConnections() == 1 })

	hub.Unregister(client)
	waitFor(t, func() bool { return hub.GetTotalConnections() == 0 })

	// Unregister closes the send channel
	select {
	case _, open := <-client.send:
		if open {
			t.Fatal("Expected send channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("Send channel was not closed")
	}
}

func TestHub_SubscribeAndBroadcast(t *testing.T) {
	hub := newTestHub(t)
	client := newTestClient()

	hub.Register(client)
	hub.Subscribe(client, "ABC234")
	waitFor(t, func() bool { return hub.GetSubscriberCount("ABC234") == 1 })

	hub.BroadcastEvent("ABC234", "scores_updated", map[string]int64{"m1": 10})

	select {
	case raw := <-client.send:
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("Failed to decode broadcast: %v", err)
		}
		if msg.Type != "scores_updated" || msg.RoomCode != "ABC234" {
			t.Fatalf("Unexpected message: %+v", msg)
		}
		if msg.Timestamp.IsZero() {
			t.Fatal("Expected broadcast timestamp to be set")
		}
	case <-time.After(time.Second):
		t.Fatal("Broadcast was not delivered")
	}
}

func TestHub_BroadcastNormalizesRoomCode(t *testing.T) {
	hub := newTestHub(t)
	client := newTestClient()

	hub.Register(client)
	hub.Subscribe(client, "ABC234")
	waitFor(t, func() bool { return hub.GetSubscriberCount("ABC234") == 1 })

	hub.BroadcastEvent("abc234", "phase_changed", nil)

	select {
	case <-client.send:
	case <-time.After(time.Second):
		t.Fatal("Lowercase room code did not reach uppercase subscribers")
	}
}

func TestHub_SingleRoomPerClient(t *testing.T) {
	hub := newTestHub(t)
	client := newTestClient()

	hub.Register(client)
	hub.Subscribe(client, "ROOM01")
	waitFor(t, func() bool { return hub.GetSubscriberCount("ROOM01") == 1 })

	// A second subscription moves the client, it does not add a room
	hub.Subscribe(client, "ROOM02")
	waitFor(t, func() bool { return hub.GetSubscriberCount("ROOM02") == 1 })
	waitFor(t, func() bool { return hub.GetSubscriberCount("ROOM01") == 0 })

	hub.BroadcastEvent("ROOM01", "phase_changed", nil)
	hub.BroadcastEvent("ROOM02", "phase_changed", nil)

	var delivered int
	timeout := time.After(time.Second)
	for delivered == 0 {
		select {
		case raw := <-client.send:
			var msg Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("Failed to decode broadcast: %v", err)
			}
			if msg.RoomCode != "ROOM02" {
				t.Fatalf("Received message for the old room: %+v", msg)
			}
			delivered++
		case <-timeout:
			t.Fatal("Broadcast was not delivered")
		}
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := newTestHub(t)
	client := newTestClient()

	hub.Register(client)
	hub.Subscribe(client, "ROOM01")
	waitFor(t, func() bool { return hub.GetSubscriberCount("ROOM01") == 1 })

	hub.Unsubscribe(client, "ROOM01")
	waitFor(t, func() bool { return hub.GetSubscriberCount("ROOM01") == 0 })

	// Still connected, just not subscribed
	if hub.GetTotalConnections() != 1 {
		t.Fatalf("Expected client to stay connected, got %d connections", hub.GetTotalConnections())
	}
}

func TestHub_UnregisterLeavesRoom(t *testing.T) {
	hub := newTestHub(t)
	stay := newTestClient()
	leave := newTestClient()

	hub.Register(stay)
	hub.Register(leave)
	hub.Subscribe(stay, "ROOM01")
	hub.Subscribe(leave, "ROOM01")
	waitFor(t, func() bool { return hub.GetSubscriberCount("ROOM01") == 2 })

	hub.Unregister(leave)
	waitFor(t, func() bool { return hub.GetSubscriberCount("ROOM01") == 1 })

	hub.BroadcastEvent("ROOM01", "player_joined", nil)
	select {
	case <-stay.send:
	case <-time.After(time.Second):
		t.Fatal("Remaining subscriber did not receive the broadcast")
	}
}

func TestHub_BroadcastToEmptyRoom(t *testing.T) {
	hub := newTestHub(t)

	// Must not panic or block
	hub.BroadcastEvent("NOROOM", "phase_changed", nil)
}
