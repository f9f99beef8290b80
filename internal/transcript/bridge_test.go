package transcript

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talentloop/interviewd/internal/interview"
)

type toggleReporter struct{ on atomic.Bool }

func (r *toggleReporter) Speaking() bool { return r.on.Load() }

// sttServer is an in-process stand-in for the streaming service: it upgrades,
// announces the stream and then replays scripted messages on demand.
type sttServer struct {
	srv *httptest.Server
	out chan serverMessage
}

func newSTTServer(t *testing.T) *sttServer {
	t.Helper()
	s := &sttServer{out: make(chan serverMessage, 8)}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		_ = conn.WriteJSON(serverMessage{Type: "Begin", ID: "stream-1"})
		for msg := range s.out {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *sttServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func startBridge(t *testing.T, s *sttServer, reporter interview.SpeakingReporter) *Bridge {
	t.Helper()
	b := NewBridge("test-key", reporter, WithSocketURL(s.wsURL()))
	audio := make(chan []byte)
	if err := b.Start(context.Background(), audio, "en"); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = b.Stop() })

	select {
	case <-b.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never became ready")
	}
	return b
}

func TestBridgeReadyOnBegin(t *testing.T) {
	s := newSTTServer(t)
	startBridge(t, s, nil)
}

func TestBridgeEmitsPartialAndFinal(t *testing.T) {
	s := newSTTServer(t)
	b := startBridge(t, s, nil)

	s.out <- serverMessage{Type: "Turn", Transcript: "hel"}
	select {
	case ev := <-b.Events():
		if ev.IsFinal || ev.Text != "hel" {
			t.Fatalf("partial event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no partial event")
	}

	s.out <- serverMessage{Type: "Turn", Transcript: "hello world", EndOfTurn: true}
	select {
	case ev := <-b.Events():
		if !ev.IsFinal || ev.Text != "hello world" {
			t.Fatalf("final event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no final event")
	}
}

func TestBridgeDropsFinalWhileSpeaking(t *testing.T) {
	s := newSTTServer(t)
	reporter := &toggleReporter{}
	b := startBridge(t, s, reporter)

	reporter.on.Store(true)
	s.out <- serverMessage{Type: "Turn", Transcript: "echoed speech", EndOfTurn: true}
	select {
	case ev := <-b.Events():
		t.Fatalf("suppressed event delivered: %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}

	// Once playback ends, finals flow again; the dropped one is gone.
	reporter.on.Store(false)
	s.out <- serverMessage{Type: "Turn", Transcript: "real answer", EndOfTurn: true}
	select {
	case ev := <-b.Events():
		if !ev.IsFinal || ev.Text != "real answer" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("post-playback final not delivered")
	}
}

func TestBridgeReportsServiceErrors(t *testing.T) {
	s := newSTTServer(t)
	b := startBridge(t, s, nil)

	s.out <- serverMessage{Type: "Error", Error: "rate limited"}
	select {
	case err := <-b.Errors():
		if !strings.Contains(err.Error(), "rate limited") {
			t.Fatalf("error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service error not reported")
	}
}

func TestBridgeRequiresAPIKey(t *testing.T) {
	b := NewBridge("", nil)
	if err := b.Start(context.Background(), make(chan []byte), "en"); err == nil {
		t.Fatal("expected error with empty api key")
	}
}

func TestBridgeStopIsIdempotent(t *testing.T) {
	s := newSTTServer(t)
	b := startBridge(t, s, nil)
	if err := b.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
