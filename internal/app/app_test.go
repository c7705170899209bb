package app_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/navassist/internal/app"
	"github.com/MrWong99/navassist/internal/config"
	"github.com/MrWong99/navassist/internal/feed"
	"github.com/MrWong99/navassist/internal/observe"
	audiomock "github.com/MrWong99/navassist/pkg/audio/mock"
	"github.com/MrWong99/navassist/pkg/types"
)

// carFrame holds one car 3.0 m ahead, which is CRITICAL.
const carFrame = `{"width":1200,"height":720,"detections":[{"class_name":"car","confidence":0.9,"bbox":[500,100,700,400]}]}`

// testConfig returns the defaults with the HTTP server disabled.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = ""
	return cfg
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

// fakeDB records every statement executed against it.
type fakeDB struct {
	mu    sync.Mutex
	execs []string
}

func (d *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.execs = append(d.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (d *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (d *fakeDB) Ping(context.Context) error { return nil }

func (d *fakeDB) count(substr string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.execs {
		if strings.Contains(s, substr) {
			n++
		}
	}
	return n
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) (*app.App, *audiomock.Speaker, *audiomock.Tone) {
	t.Helper()
	speaker := &audiomock.Speaker{Started: make(chan string, 8)}
	tone := &audiomock.Tone{}
	opts = append([]app.Option{
		app.WithSpeaker(speaker),
		app.WithTone(tone),
		app.WithMetrics(testMetrics(t)),
	}, opts...)
	a, err := app.New(context.Background(), cfg, nil, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a, speaker, tone
}

func TestRun_SpeaksCriticalFrame(t *testing.T) {
	t.Parallel()

	a, speaker, tone := newApp(t, testConfig())

	r := feed.NewReader(strings.NewReader("not a frame\n" + carFrame + "\n"))
	if err := a.Run(context.Background(), r); err != nil {
		t.Fatalf("Run() = %v, want nil at end of input", err)
	}

	select {
	case text := <-speaker.Started:
		if !strings.Contains(text, "car") {
			t.Errorf("spoken text = %q, want mention of car", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alert was never spoken")
	}
	if got := tone.CallCount(); got != 1 {
		t.Errorf("tone calls = %d, want 1 for an urgent alert", got)
	}
	if st := a.Engine().Status(); st.LastAlert == "" || st.Objects != 1 {
		t.Errorf("status after run = %+v", st)
	}
}

func TestRun_JournalsAlerts(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	a, _, _ := newApp(t, testConfig(), app.WithJournalDB(db))

	if got := db.count("CREATE TABLE"); got != 1 {
		t.Errorf("migrations = %d, want 1", got)
	}

	r := feed.NewReader(strings.NewReader(carFrame + "\n"))
	if err := a.Run(context.Background(), r); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	// Run returns only after the journal writer has drained.
	if got := db.count("INSERT INTO alert_journal"); got != 1 {
		t.Errorf("inserts = %d, want 1", got)
	}
}

func TestRun_HTTPOnlyStopsOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	a, _, _ := newApp(t, testConfig(), app.WithListener(ln))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, nil) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("GET /healthz = %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_CancelWithIdleInput(t *testing.T) {
	t.Parallel()

	a, _, _ := newApp(t, testConfig())
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, feed.NewReader(pr)) }()

	// One frame proves the loop is live before the source goes quiet.
	if _, err := io.WriteString(pw, carFrame+"\n"); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for a.Engine().Status().Objects != 1 {
		if time.Now().After(deadline) {
			t.Fatal("frame was never processed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run still blocked after cancel while the input was idle")
	}

	if _, err := io.WriteString(pw, carFrame+"\n"); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("write after cancel = %v, want io.ErrClosedPipe from the closed source", err)
	}
	sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer scancel()
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()

	a, _, _ := newApp(t, testConfig())
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{path: "/healthz", wantCode: http.StatusOK},
		{path: "/readyz", wantCode: http.StatusOK, wantBody: "announcer"},
		{path: "/status", wantCode: http.StatusOK, wantBody: `"state":"RUNNING"`},
		{path: "/alerts", wantCode: http.StatusNotFound},
		{path: "/metrics", wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET %s: %v", tt.path, err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.wantCode {
				t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.wantCode)
			}
			if tt.wantBody != "" && !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("GET %s body = %s, want it to contain %s", tt.path, body, tt.wantBody)
			}
		})
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	lv := new(slog.LevelVar)
	old := testConfig()
	a, _, _ := newApp(t, old, app.WithLogLevel(lv))

	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	next.Engine.Cooldown = 5 * time.Second
	next.Engine.ConfidenceThreshold = 0.8
	next.Engine.ObjectHeights = map[string]float64{"car": 2.0}
	next.Audio.Muted = true

	diff := config.Diff(old, next)
	if !diff.HotReloadable() {
		t.Fatalf("diff %+v not hot reloadable", diff)
	}
	a.ApplyConfig(old, next, diff)

	if got := lv.Level(); got != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", got)
	}
	if got := a.Engine().Dispatcher().Cooldown(); got != 5*time.Second {
		t.Errorf("cooldown = %v, want 5s", got)
	}
	if !a.Engine().Status().Muted {
		t.Error("engine not muted after reload")
	}

	// The new threshold drops a 0.7 detection.
	car := types.Detection{ClassName: "car", Confidence: 0.7, Box: types.BBox{X1: 500, Y1: 100, X2: 700, Y2: 400}}
	res, ok := a.Engine().ProcessFrame(context.Background(), []types.Detection{car}, 1200)
	if ok || len(res.Detections) != 0 {
		t.Errorf("0.7 detection survived the 0.8 threshold: %+v", res)
	}
}

func TestRun_ReloadsConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "navassist.yaml")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	write("server:\n  listen_addr: \"\"\n")
	a, _, _ := newApp(t, testConfig(), app.WithConfigFile(path))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, nil) }()

	write("server:\n  listen_addr: \"\"\nengine:\n  cooldown: 7s\n")
	deadline := time.Now().Add(2 * time.Second)
	for a.Engine().Dispatcher().Cooldown() != 7*time.Second {
		if time.Now().After(deadline) {
			t.Fatal("cooldown never reloaded")
		}
		a.ReloadConfig()
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}

func TestNew_ConfigFileMissing(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(), nil,
		app.WithSpeaker(&audiomock.Speaker{}),
		app.WithTone(&audiomock.Tone{}),
		app.WithMetrics(testMetrics(t)),
		app.WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")),
	)
	if err == nil {
		t.Fatal("New() with a missing config file returned nil error")
	}
}

func TestNew_StartsMuted(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Audio.Muted = true
	a, _, _ := newApp(t, cfg)

	if !a.Engine().Status().Muted {
		t.Error("engine not muted at startup")
	}
}

func TestNew_ToneFileMissing(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Audio.ToneFile = t.TempDir() + "/missing.wav"

	_, err := app.New(context.Background(), cfg, nil,
		app.WithSpeaker(&audiomock.Speaker{}),
		app.WithMetrics(testMetrics(t)),
	)
	if err == nil {
		t.Fatal("New() with a missing tone file returned nil error")
	}
}

func TestNew_FailureFinalisesRecording(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := testConfig()
	cfg.Audio.OutputWAV = filepath.Join(dir, "out.wav")
	cfg.Audio.ToneFile = filepath.Join(dir, "missing.wav")

	_, err := app.New(context.Background(), cfg, nil,
		app.WithSpeaker(&audiomock.Speaker{}),
		app.WithMetrics(testMetrics(t)),
	)
	if err == nil {
		t.Fatal("New() with a missing tone file returned nil error")
	}

	data, err := os.ReadFile(cfg.Audio.OutputWAV)
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	// An unclosed recorder leaves the encoder's placeholder sizes behind.
	if len(data) != 44 {
		t.Fatalf("recording is %d bytes, want a bare 44-byte header", len(data))
	}
	if got := binary.LittleEndian.Uint32(data[4:]); got != 36 {
		t.Errorf("riff size = %d, want 36 once the recorder is closed", got)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	a, _, _ := newApp(t, testConfig())
	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown() = %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() = %v", err)
	}
	if _, ok := a.Engine().ProcessFrame(ctx, nil, 1200); ok {
		t.Error("ProcessFrame after shutdown reported a winner")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := app.SlogLevel(in); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
