package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
	"github.com/nextlevelbuilder/chatpilot/pkg/protocol"
)

func TestHealthEndpoints(t *testing.T) {
	s := NewServer(Options{Version: "1.2.3"})
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	for _, path := range []string{"/", "/health"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			var body map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body["status"] != "healthy" || body["service"] != "chatpilot" || body["version"] != "1.2.3" {
				t.Errorf("body = %v", body)
			}
		})
	}

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		status StatusFunc
		code   int
	}{
		{"ok", func(ctx context.Context) (any, error) { return map[string]int{"queued": 2}, nil }, http.StatusOK},
		{"error", func(ctx context.Context) (any, error) { return nil, errors.New("db down") }, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(NewServer(Options{Status: tt.status}).BuildMux())
			defer ts.Close()
			resp, err := http.Get(ts.URL + "/status")
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.code {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.code)
			}
		})
	}
}

func TestWebSocketFeed(t *testing.T) {
	broker := bus.NewBroker()
	s := NewServer(Options{Events: broker, Version: "dev"})
	ts := httptest.NewServer(s.BuildMux())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello protocol.EventFrame
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatal(err)
	}
	if hello.Event != protocol.EventHealth || hello.Seq != 1 {
		t.Fatalf("first frame = %+v", hello)
	}

	// The subscription is registered before the hello frame is queued.
	broker.Broadcast(bus.Event{Name: protocol.EventTurn, Payload: map[string]any{"type": protocol.TurnEventStarted}})

	var f protocol.EventFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatal(err)
	}
	if f.Event != protocol.EventTurn || f.Seq != 2 {
		t.Errorf("frame = %+v", f)
	}
	if s.Clients() != 1 {
		t.Errorf("Clients = %d", s.Clients())
	}
}

func TestWatchReceivesFrames(t *testing.T) {
	broker := bus.NewBroker()
	ts := httptest.NewServer(NewServer(Options{Events: broker}).BuildMux())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []protocol.EventFrame
	errCh := make(chan error, 1)
	go func() {
		errCh <- Watch(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", func(f protocol.EventFrame) {
			got = append(got, f)
			switch f.Event {
			case protocol.EventHealth:
				broker.Broadcast(bus.Event{Name: protocol.EventShutdown})
			case protocol.EventShutdown:
				cancel()
			}
		})
	}()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("Watch did not return")
	}
	if len(got) != 2 || got[1].Event != protocol.EventShutdown || got[1].Seq != 2 {
		t.Errorf("frames = %+v", got)
	}
}
