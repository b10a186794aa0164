package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jenfonro/MeowFilmTV/internal/player"
)

type rawWSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startRendererHub(t *testing.T) *RendererHub {
	t.Helper()
	hub := NewRendererHub(slog.Default())
	go hub.Run()
	t.Cleanup(hub.Close)
	return hub
}

func newPlayerServer(t *testing.T) (*httptest.Server, *player.Controller, *RendererHub) {
	t.Helper()
	hub := startRendererHub(t)
	controller := player.NewController(
		player.NewRemoteEngine(player.EnginePrimary, hub),
		player.NewRemoteEngine(player.EngineSoftware, hub),
		player.WithStateListener(hub.BroadcastState),
	)
	server := NewServer(nil, WithPlayer(controller, hub))
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv, controller, hub
}

func dialRenderer(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/player/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *RendererHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d renderers, got %d", n, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// readCommand reads messages until a command matching want arrives.
func readCommand(t *testing.T, conn *websocket.Conn, want func(player.Command) bool) player.Command {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read ws message: %v", err)
		}
		var msg rawWSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal ws message: %v (raw: %s)", err, data)
		}
		if msg.Type != "command" {
			continue
		}
		var cmd player.Command
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			t.Fatalf("unmarshal command: %v", err)
		}
		if want(cmd) {
			return cmd
		}
	}
}

func TestRendererReceivesLoadCommand(t *testing.T) {
	srv, controller, hub := newPlayerServer(t)
	conn := dialRenderer(t, srv)
	waitForClients(t, hub, 1)

	headers := map[string]string{"Referer": "https://site.example/watch"}
	if err := controller.SetSource(context.Background(), "https://cdn.example/v.m3u8", headers, true); err != nil {
		t.Fatalf("SetSource: %v", err)
	}

	cmd := readCommand(t, conn, func(c player.Command) bool { return c.Type == player.CommandLoad })
	if cmd.Engine != player.EnginePrimary || cmd.URL != "https://cdn.example/v.m3u8" {
		t.Fatalf("unexpected load command %+v", cmd)
	}
	if cmd.Headers["Origin"] != "https://site.example" || cmd.Headers["User-Agent"] == "" {
		t.Fatalf("expected normalized headers, got %v", cmd.Headers)
	}
}

func TestLateRendererGetsCurrentSource(t *testing.T) {
	srv, controller, hub := newPlayerServer(t)
	if err := controller.SetSource(context.Background(), "https://cdn.example/late.mp4", nil, true); err != nil {
		t.Fatalf("SetSource: %v", err)
	}

	conn := dialRenderer(t, srv)
	waitForClients(t, hub, 1)
	cmd := readCommand(t, conn, func(c player.Command) bool { return c.Type == player.CommandLoad })
	if cmd.URL != "https://cdn.example/late.mp4" {
		t.Fatalf("unexpected replayed command %+v", cmd)
	}
}

func TestRendererHEVCErrorFallsBackOnce(t *testing.T) {
	srv, controller, hub := newPlayerServer(t)
	conn := dialRenderer(t, srv)
	waitForClients(t, hub, 1)

	if err := controller.SetSource(context.Background(), "https://cdn.example/hevc.mkv", nil, true); err != nil {
		t.Fatalf("SetSource: %v", err)
	}
	readCommand(t, conn, func(c player.Command) bool {
		return c.Type == player.CommandLoad && c.Engine == player.EnginePrimary
	})

	report := rendererMessage{
		Type:    "error",
		Engine:  "primary",
		Message: "Source error",
		Causes: []rendererCause{
			{Type: "MediaCodecRenderer$DecoderInitializationException", Message: "Decoder init failed: MediaCodecVideoRenderer, Format(video/hevc, 3840x2160)"},
		},
	}
	if err := conn.WriteJSON(report); err != nil {
		t.Fatalf("write report: %v", err)
	}

	cmd := readCommand(t, conn, func(c player.Command) bool {
		return c.Type == player.CommandLoad && c.Engine == player.EngineSoftware
	})
	if cmd.URL != "https://cdn.example/hevc.mkv" {
		t.Fatalf("fallback reloaded the wrong source: %+v", cmd)
	}

	state := controller.State()
	if state.Engine != player.EngineSoftware || !state.RetriedFallback {
		t.Fatalf("expected software engine with fallback used, got %+v", state)
	}

	// The same failure from the software engine is terminal.
	report.Engine = "software"
	if err := conn.WriteJSON(report); err != nil {
		t.Fatalf("write report: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for controller.State().Status != player.StatusError {
		if time.Now().After(deadline) {
			t.Fatalf("expected error status, got %+v", controller.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := controller.State(); got.Engine != player.EngineSoftware || !strings.Contains(got.LastError, "HEVC") {
		t.Fatalf("unexpected terminal state %+v", got)
	}
}

func TestRendererStatusReport(t *testing.T) {
	srv, controller, hub := newPlayerServer(t)
	conn := dialRenderer(t, srv)
	waitForClients(t, hub, 1)

	if err := conn.WriteJSON(rendererMessage{Type: "status", Engine: "primary", Status: "ready"}); err != nil {
		t.Fatalf("write status: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for controller.State().Status != player.StatusReady {
		if time.Now().After(deadline) {
			t.Fatalf("expected ready status, got %+v", controller.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPlayerEngineAndStopHandlers(t *testing.T) {
	srv, controller, _ := newPlayerServer(t)

	resp, err := http.Post(srv.URL+"/player/engine", "application/json", strings.NewReader(`{"engine":"software"}`))
	if err != nil {
		t.Fatalf("switch request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if controller.State().Engine != player.EngineSoftware {
		t.Fatalf("expected software engine, got %s", controller.State().Engine)
	}

	resp, err = http.Post(srv.URL+"/player/engine", "application/json", strings.NewReader(`{"engine":"vlc"}`))
	if err != nil {
		t.Fatalf("switch request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown engine, got %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/player/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("stop request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	controller.Release()
	resp, err = http.Post(srv.URL+"/player/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("stop request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 after release, got %d", resp.StatusCode)
	}
}

func TestRendererMessageFailureChain(t *testing.T) {
	msg := rendererMessage{
		Message: "top",
		Causes:  []rendererCause{{Type: "A", Message: "first"}, {Type: "B", Message: "second"}},
	}
	if got := player.Describe(msg.failure()); got != "top | A: first | B: second" {
		t.Fatalf("unexpected description %q", got)
	}
}

func TestHubSendAfterClose(t *testing.T) {
	hub := NewRendererHub(slog.Default())
	hub.Close()
	hub.Close()
	if err := hub.Send(player.Command{Type: player.CommandStop}); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("expected ErrHubClosed, got %v", err)
	}
}
