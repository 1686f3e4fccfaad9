package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gwatchdev/gwatch/internal/session"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()

	s := NewServer(&Config{
		Port:   0, // ephemeral port
		Root:   "/repo",
		Logger: log.New(os.Stderr, "", 0),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	})
	return s
}

func dialTestServer(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://%s/ws", s.Addr()), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to unmarshal message: %v", err)
	}
	return msg
}

// TestServer_Health verifies the health endpoint reports status and
// client count.
func TestServer_Health(t *testing.T) {
	s := startTestServer(t)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", s.Addr()))
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.Clients != 0 {
		t.Errorf("clients = %d, want 0", body.Clients)
	}
}

// TestServer_HelloOnConnect verifies a new client is greeted with the
// session description.
func TestServer_HelloOnConnect(t *testing.T) {
	s := startTestServer(t)

	conn := dialTestServer(t, s)
	defer conn.Close(websocket.StatusNormalClosure, "")

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeHello {
		t.Fatalf("first message type = %q, want hello", msg.Type)
	}

	var hello HelloData
	if err := json.Unmarshal(msg.Data, &hello); err != nil {
		t.Fatalf("failed to unmarshal hello: %v", err)
	}
	if hello.Root != "/repo" {
		t.Errorf("hello root = %q, want /repo", hello.Root)
	}
}

// TestServer_SnapshotBroadcast verifies published snapshots reach
// connected clients intact.
func TestServer_SnapshotBroadcast(t *testing.T) {
	s := startTestServer(t)

	conn := dialTestServer(t, s)
	defer conn.Close(websocket.StatusNormalClosure, "")

	if msg := readMessage(t, conn); msg.Type != MessageTypeHello {
		t.Fatalf("expected hello first, got %q", msg.Type)
	}

	s.PublishSnapshot(session.Snapshot{
		TakenAt:   time.Now(),
		ModeLabel: "All Changes",
		History: []session.HistoryEntry{
			{ID: 1, RelPath: "main.go", OpName: "modify", Added: 2, Removed: 1},
		},
	})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeSnapshot {
		t.Fatalf("message type = %q, want snapshot", msg.Type)
	}

	var snap session.Snapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatalf("failed to unmarshal snapshot: %v", err)
	}
	if snap.ModeLabel != "All Changes" {
		t.Errorf("mode label = %q, want All Changes", snap.ModeLabel)
	}
	if len(snap.History) != 1 || snap.History[0].RelPath != "main.go" {
		t.Errorf("history = %+v, want the single main.go entry", snap.History)
	}
}

// TestServer_ClientCount verifies connect and disconnect tracking.
func TestServer_ClientCount(t *testing.T) {
	s := startTestServer(t)

	conn := dialTestServer(t, s)
	if msg := readMessage(t, conn); msg.Type != MessageTypeHello {
		t.Fatalf("expected hello, got %q", msg.Type)
	}
	if n := s.ClientCount(); n != 1 {
		t.Errorf("ClientCount = %d after connect, want 1", n)
	}

	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.ClientCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("ClientCount = %d after disconnect, want 0", s.ClientCount())
}
