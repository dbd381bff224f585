package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/satriahrh/arunika/transcriber/adapters/stt"
	"github.com/satriahrh/arunika/transcriber/internal/audio"
	"github.com/satriahrh/arunika/transcriber/internal/metrics"
	"github.com/satriahrh/arunika/transcriber/internal/session"
)

type testServer struct {
	hub     *Hub
	server  *httptest.Server
	tempDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithConfig(t, HubConfig{
		AllowedOrigins:    []string{"*"},
		KeepAliveInterval: time.Second,
	})
}

func newTestServerWithConfig(t *testing.T, config HubConfig) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	policy := session.DefaultPolicy()
	policy.TempDir = t.TempDir()
	policy.MinInterval = 0

	engine := session.NewEngine(
		policy,
		audio.NewFFmpegCorrector(audio.CorrectorConfig{Profile: policy.Profile}, logger),
		stt.MockFactory(0, logger),
		metrics.NewMetrics(prometheus.NewRegistry()),
		logger,
	)
	hub := NewHub(engine, config, logger)
	go hub.Run()

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return HandleWebSocket(hub, c)
	})
	server := httptest.NewServer(e)

	ts := &testServer{hub: hub, server: server, tempDir: policy.TempDir}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if !ts.closed() {
			hub.Shutdown(ctx)
		}
		server.Close()
	})
	return ts
}

func (ts *testServer) closed() bool {
	select {
	case <-ts.hub.quit:
		return true
	default:
		return false
	}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func testClip(t *testing.T) []byte {
	t.Helper()
	samples := make([]int16, 8000)
	for i := range samples {
		samples[i] = int16(i % 128 * 64)
	}
	clip, err := audio.EncodeSamples(samples, 16000, 1)
	if err != nil {
		t.Fatalf("EncodeSamples failed: %v", err)
	}
	return clip
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestHub_TranscribesOverSocket(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	envelope, _ := json.Marshal(map[string]string{
		"audio":    base64.StdEncoding.EncodeToString(testClip(t)),
		"mimeType": "audio/wav",
	})
	if err := conn.WriteMessage(websocket.TextMessage, envelope); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	var msg session.SuccessMessage
	if err := json.Unmarshal(reply, &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if msg.Transcript == "" {
		t.Errorf("Expected a mock transcript, got %s", reply)
	}
	if ts.hub.ActiveSessions() != 1 {
		t.Errorf("Expected 1 active session, got %d", ts.hub.ActiveSessions())
	}
	if n := len(dirEntries(t, ts.tempDir)); n != 1 {
		t.Errorf("Expected one session work directory, got %d", n)
	}
}

func TestHub_DisconnectReleasesSession(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t)

	eventually(t, "registration", func() bool { return ts.hub.ActiveSessions() == 1 })

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	conn.Close()

	eventually(t, "unregistration", func() bool { return ts.hub.ActiveSessions() == 0 })
	eventually(t, "work directory removal", func() bool { return len(dirEntries(t, ts.tempDir)) == 0 })
}

func TestHub_ShutdownSendsNormalClosure(t *testing.T) {
	ts := newTestServer(t)
	first := ts.dial(t)
	second := ts.dial(t)

	eventually(t, "registration", func() bool { return ts.hub.ActiveSessions() == 2 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.hub.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := conn.ReadMessage()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Errorf("Expected normal closure, got %v", err)
		}
	}

	if ts.hub.ActiveSessions() != 0 {
		t.Errorf("Expected no active sessions after shutdown, got %d", ts.hub.ActiveSessions())
	}
	if names := dirEntries(t, ts.tempDir); len(names) != 0 {
		t.Errorf("Expected work directories removed, found %v", names)
	}
}

func TestHub_KeepAlivePings(t *testing.T) {
	ts := newTestServerWithConfig(t, HubConfig{
		AllowedOrigins:    []string{"*"},
		KeepAliveInterval: 50 * time.Millisecond,
	})
	conn := ts.dial(t)

	var pings atomic.Int32
	conn.SetPingHandler(func(data string) error {
		pings.Add(1)
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	eventually(t, "keep-alive pings", func() bool { return pings.Load() >= 3 })

	// Pongs extend the read deadline, so the session outlives several
	// deadline windows of 2x the interval.
	time.Sleep(300 * time.Millisecond)
	if ts.hub.ActiveSessions() != 1 {
		t.Fatalf("Session should stay alive while pongs arrive, got %d sessions", ts.hub.ActiveSessions())
	}

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case err := <-readErr:
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Errorf("Expected the close handshake to complete, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for close handshake")
	}

	eventually(t, "unregistration", func() bool { return ts.hub.ActiveSessions() == 0 })
	eventually(t, "work directory removal", func() bool { return len(dirEntries(t, ts.tempDir)) == 0 })
}

func TestHub_SilentPeerTimesOut(t *testing.T) {
	ts := newTestServerWithConfig(t, HubConfig{
		AllowedOrigins:    []string{"*"},
		KeepAliveInterval: 50 * time.Millisecond,
	})
	// The client never reads, so pings go unanswered
	ts.dial(t)

	eventually(t, "registration", func() bool { return ts.hub.ActiveSessions() == 1 })
	eventually(t, "read deadline expiry", func() bool { return ts.hub.ActiveSessions() == 0 })
}

func TestClient_LogCloseSeverity(t *testing.T) {
	tests := []struct {
		name     string
		lifetime time.Duration
		err      error
		want     zapcore.Level
	}{
		{"quick abnormal close", 100 * time.Millisecond, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, zapcore.DebugLevel},
		{"quick normal close", 100 * time.Millisecond, &websocket.CloseError{Code: websocket.CloseNormalClosure}, zapcore.DebugLevel},
		{"abnormal close", 10 * time.Second, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, zapcore.WarnLevel},
		{"policy violation", 10 * time.Second, &websocket.CloseError{Code: websocket.ClosePolicyViolation}, zapcore.WarnLevel},
		{"normal close", 10 * time.Second, &websocket.CloseError{Code: websocket.CloseNormalClosure}, zapcore.InfoLevel},
		{"going away", 10 * time.Second, &websocket.CloseError{Code: websocket.CloseGoingAway}, zapcore.InfoLevel},
		{"no status", 10 * time.Second, &websocket.CloseError{Code: websocket.CloseNoStatusReceived}, zapcore.InfoLevel},
		{"transport error", 10 * time.Second, io.ErrUnexpectedEOF, zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			client := &Client{
				hub:         &Hub{config: HubConfig{QuickCloseWindow: time.Second}},
				connectedAt: time.Now().Add(-tt.lifetime),
				logger:      zap.New(core),
			}

			client.logClose(tt.err)

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("Expected one log entry, got %d", len(entries))
			}
			if entries[0].Level != tt.want {
				t.Errorf("Expected %s, got %s (%s)", tt.want, entries[0].Level, entries[0].Message)
			}
			if _, ok := entries[0].ContextMap()["error"]; !ok {
				t.Errorf("Expected the close error to be logged, got %v", entries[0].ContextMap())
			}
		})
	}
}

func TestHub_CheckOrigin(t *testing.T) {
	hub := NewHub(nil, HubConfig{AllowedOrigins: []string{"https://app.example.com"}}, zap.NewNop())

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://app.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := hub.checkOrigin(req); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestSessionIDFromDir(t *testing.T) {
	tests := []struct {
		name string
		id   string
		ok   bool
	}{
		{"session-6f1c2a9e-8d7b-4c3a-9e1f-0a1b2c3d4e5f-123456", "6f1c2a9e-8d7b-4c3a-9e1f-0a1b2c3d4e5f", true},
		{"session-abc-42", "abc", true},
		{"session-abc", "", false},
		{"fix-123", "", false},
	}
	for _, tt := range tests {
		id, ok := sessionIDFromDir(tt.name)
		if id != tt.id || ok != tt.ok {
			t.Errorf("sessionIDFromDir(%q) = %q, %v; want %q, %v", tt.name, id, ok, tt.id, tt.ok)
		}
	}
}

func TestSessionCleanupService_RunCleanup(t *testing.T) {
	root := t.TempDir()
	hub := NewHub(nil, HubConfig{}, zap.NewNop())
	hub.clients["live"] = &Client{id: "live"}

	old := time.Now().Add(-2 * time.Hour)
	mkdir := func(name string, modTime time.Time) {
		path := filepath.Join(root, name)
		if err := os.Mkdir(path, 0o700); err != nil {
			t.Fatalf("Mkdir failed: %v", err)
		}
		if err := os.WriteFile(filepath.Join(path, "input.wav"), []byte("x"), 0o600); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		if err := os.Chtimes(path, modTime, modTime); err != nil {
			t.Fatalf("Chtimes failed: %v", err)
		}
	}
	mkdir("session-gone-111", old)
	mkdir("session-live-222", old)
	mkdir("session-fresh-333", time.Now())
	mkdir("unrelated", old)

	svc := NewSessionCleanupService(hub, root, time.Minute, time.Hour, zap.NewNop())
	if removed := svc.runCleanup(); removed != 1 {
		t.Errorf("Expected 1 directory removed, got %d", removed)
	}

	got := strings.Join(dirEntries(t, root), ",")
	if got != "session-fresh-333,session-live-222,unrelated" {
		t.Errorf("Unexpected remaining directories: %s", got)
	}
}

func TestSessionCleanupService_StartStop(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "session-crashed-1")
	if err := os.Mkdir(stale, 0o700); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	os.Chtimes(stale, old, old)

	svc := NewSessionCleanupService(NewHub(nil, HubConfig{}, zap.NewNop()), root, time.Hour, time.Hour, zap.NewNop())
	svc.Start()
	defer svc.Stop()

	eventually(t, "startup sweep", func() bool { return len(dirEntries(t, root)) == 0 })
}
