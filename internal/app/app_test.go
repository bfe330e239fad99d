package app_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxline/internal/app"
	"github.com/MrWong99/voxline/internal/config"
	"github.com/MrWong99/voxline/internal/observe"
	"github.com/MrWong99/voxline/internal/record"
	"github.com/MrWong99/voxline/pkg/provider/generate"
	genmock "github.com/MrWong99/voxline/pkg/provider/generate/mock"
	synthmock "github.com/MrWong99/voxline/pkg/provider/synthesize/mock"
	transmock "github.com/MrWong99/voxline/pkg/provider/transcribe/mock"
	"github.com/gorilla/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type fixture struct {
	app   *app.App
	trans *transmock.Provider
	gen   *genmock.Provider
	synth *synthmock.Provider
	store *record.MemoryStore
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":0"},
		Agent: config.AgentConfig{
			SystemPrompt: "You answer phones.",
			Voice:        config.VoiceConfig{VoiceID: "v1"},
		},
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		trans: &transmock.Provider{},
		gen:   &genmock.Provider{Chunks: []generate.Chunk{{Text: "Hi there."}}},
		synth: &synthmock.Provider{AudioPerText: []byte{0x01, 0x02}},
		store: record.NewMemoryStore(),
	}
	cfg := testConfig()
	cfg.Scripts.Greeting = "Hello, thanks for calling."

	a, err := app.New(context.Background(), cfg, &app.Providers{
		Transcribe: fx.trans,
		Generate:   fx.gen,
		Synthesize: fx.synth,
	},
		app.WithRecordStore(fx.store),
		app.WithMetrics(testMetrics(t)),
		app.WithLogger(slog.New(slog.DiscardHandler)),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	fx.app = a
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return fx
}

func getJSON(t *testing.T, srv *httptest.Server, path string, v any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()
	_, err := app.New(context.Background(), testConfig(), &app.Providers{})
	if err == nil {
		t.Fatal("expected error for missing providers, got nil")
	}
}

func TestApp_DiagnosticsEndpoints(t *testing.T) {
	fx := newFixture(t)
	srv := httptest.NewServer(fx.app.Handler())
	t.Cleanup(srv.Close)

	if code := getJSON(t, srv, "/healthz", nil); code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", code)
	}
	if code := getJSON(t, srv, "/readyz", nil); code != http.StatusOK {
		t.Errorf("/readyz = %d, want 200", code)
	}

	var circuits struct {
		Circuits []struct {
			Name  string `json:"name"`
			State string `json:"state"`
		} `json:"circuits"`
	}
	if code := getJSON(t, srv, "/circuits", &circuits); code != http.StatusOK {
		t.Errorf("/circuits = %d, want 200", code)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics = %d, want 200", resp.StatusCode)
	}
}

func TestApp_ReadyzFailsWhenRecordsDegraded(t *testing.T) {
	trans := &transmock.Provider{}
	a, err := app.New(context.Background(), testConfig(), &app.Providers{
		Transcribe: trans,
		Generate:   &genmock.Provider{},
		Synthesize: &synthmock.Provider{},
	},
		app.WithRecordStore(&failingStore{}),
		app.WithMetrics(testMetrics(t)),
		app.WithLogger(slog.New(slog.DiscardHandler)),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	// Healthy until a write fails.
	if code := getJSON(t, srv, "/readyz", nil); code != http.StatusOK {
		t.Fatalf("/readyz before failure = %d, want 200", code)
	}

	// Open a call; the session's initial record write fails and degrades
	// the store.
	conn := dialStream(t, srv)
	sendStart(t, conn, "MZ1", "CA1")
	waitFor(t, func() bool {
		return getJSON(t, srv, "/readyz", nil) == http.StatusServiceUnavailable
	}, "/readyz never reported the degraded store")
}

func TestApp_CallLifecycleOverWebSocket(t *testing.T) {
	fx := newFixture(t)
	srv := httptest.NewServer(fx.app.Handler())
	t.Cleanup(srv.Close)

	conn := dialStream(t, srv)
	sendStart(t, conn, "MZabc", "CAabc")

	// The greeting is synthesized through the mock provider and arrives as
	// a media frame.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frame struct {
		Event string `json:"event"`
		Media struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read greeting frame: %v", err)
	}
	if frame.Event != "media" {
		t.Fatalf("event = %q, want media", frame.Event)
	}
	audio, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
	if err != nil || len(audio) == 0 {
		t.Fatalf("greeting payload = %q (%v)", frame.Media.Payload, err)
	}

	// The session shows up in the diagnostics snapshot under its call SID.
	var sessions struct {
		Sessions []struct {
			ID string `json:"id"`
		} `json:"sessions"`
	}
	if code := getJSON(t, srv, "/sessions", &sessions); code != http.StatusOK {
		t.Fatalf("/sessions = %d, want 200", code)
	}
	if len(sessions.Sessions) != 1 || sessions.Sessions[0].ID != "CAabc" {
		t.Fatalf("sessions = %+v, want one session CAabc", sessions.Sessions)
	}

	// Caller audio flows through to the transcription stream.
	mediaMsg := map[string]any{
		"event": "media",
		"media": map[string]string{
			"payload": base64.StdEncoding.EncodeToString([]byte{0x7f}),
		},
	}
	if err := conn.WriteJSON(mediaMsg); err != nil {
		t.Fatalf("write media: %v", err)
	}
	waitFor(t, func() bool {
		st := fx.trans.LastStream()
		return st != nil && len(st.Sent()) == 1
	}, "transcriber never received audio")

	// Hanging up ends the session and frees the slot.
	stopMsg := map[string]any{"event": "stop"}
	if err := conn.WriteJSON(stopMsg); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	waitFor(t, func() bool {
		var s struct {
			Sessions []struct{} `json:"sessions"`
		}
		getJSON(t, srv, "/sessions", &s)
		return len(s.Sessions) == 0
	}, "session never removed after stop")

	// The hangup is recorded.
	rec, ok := fx.store.Call("CAabc")
	if !ok {
		t.Fatal("no call record for CAabc")
	}
	if rec.EndReason == "" {
		t.Errorf("call record missing end reason: %+v", rec)
	}
}

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/call/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendStart(t *testing.T, conn *websocket.Conn, streamSID, callSID string) {
	t.Helper()
	msg := map[string]any{
		"event":     "start",
		"streamSid": streamSID,
		"start": map[string]any{
			"streamSid":  streamSID,
			"callSid":    callSID,
			"accountSid": "ACtest",
		},
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write start: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// failingStore fails every write, for degradation tests.
type failingStore struct{}

func (failingStore) WriteCall(context.Context, record.CallRecord) error {
	return context.DeadlineExceeded
}

func (failingStore) WriteTurn(context.Context, record.TurnRecord) error {
	return context.DeadlineExceeded
}

func (failingStore) Close() error { return nil }
