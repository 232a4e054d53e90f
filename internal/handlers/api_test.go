package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/art-injener/satsky-go/internal/config"
	"github.com/art-injener/satsky-go/internal/logging"
	"github.com/art-injener/satsky-go/internal/metrics"
	"github.com/art-injener/satsky-go/internal/tracker"
)

var trackStart = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type loaderFunc func(ctx context.Context) (*tracker.LoadResult, error)

func (f loaderFunc) Load(ctx context.Context) (*tracker.LoadResult, error) {
	return f(ctx)
}

func builtinChain() *tracker.SourceChain {
	return &tracker.SourceChain{
		Sources: []tracker.TLESource{tracker.DefaultInlineSource()},
		Logger:  logging.Discard(),
	}
}

func newTestHandler(t *testing.T, loader Loader) (*APIHandler, *metrics.Collector) {
	t.Helper()

	c, err := metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	h := NewAPIHandler(loader,
		WithLogger(logging.Discard()),
		WithMetrics(c),
		WithObserver(tracker.GeodeticPoint{Lat: 55.7558, Lon: 37.6173, Alt: 156}),
		WithClock(func() time.Time { return trackStart }),
	)

	return h, c
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))

	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}

	return v
}

func TestLook_JSON(t *testing.T) {
	t.Parallel()

	h, c := newTestHandler(t, nil)
	rr := do(t, h.Routes(), http.MethodGet, "/api/look?obs=51.5,0,0&target=51.5,10,400000")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != contentTypeJSON {
		t.Errorf("Content-Type = %q", ct)
	}

	got := decode[lookResponse](t, rr)

	if math.Abs(got.AzimuthDeg-86.0831) > 1e-3 {
		t.Errorf("azimuth = %v, want ~86.0831", got.AzimuthDeg)
	}
	if math.Abs(got.AltitudeDeg-26.0706) > 1e-3 {
		t.Errorf("altitude = %v, want ~26.0706", got.AltitudeDeg)
	}
	if math.Abs(got.RangeM-819193.4148) > 1 {
		t.Errorf("range = %v, want ~819193.4", got.RangeM)
	}
	if got.Degenerate {
		t.Error("unexpected degenerate flag")
	}
	if got.Target.Alt != 400000 {
		t.Errorf("target echo = %+v", got.Target)
	}

	if v := testutil.ToFloat64(c.Looks.WithLabelValues(metrics.ResultOK)); v != 1 {
		t.Errorf("look ok count = %v, want 1", v)
	}
}

func TestLook_Text(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, nil)
	rr := do(t, h.Routes(), http.MethodGet, "/api/look?obs=51.5,0&target=51.5,10,400000&format=text")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type = %q", rr.Header().Get("Content-Type"))
	}

	body := rr.Body.String()
	for _, want := range []string{"altitude=26.07", "azimuth=86.08"} {
		if !strings.Contains(body, want) {
			t.Errorf("text report missing %q:\n%s", want, body)
		}
	}
}

func TestLook_Degenerate(t *testing.T) {
	t.Parallel()

	h, c := newTestHandler(t, nil)
	rr := do(t, h.Routes(), http.MethodGet, "/api/look?obs=0,0,0&target=0,0,1000")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	got := decode[lookResponse](t, rr)
	if !got.Degenerate || got.AzimuthDeg != tracker.AzimuthFallback || math.Abs(got.AltitudeDeg-90) > 1e-9 {
		t.Errorf("overhead look = %+v", got.Topocentric)
	}

	if v := testutil.ToFloat64(c.Looks.WithLabelValues(metrics.ResultDegenerate)); v != 1 {
		t.Errorf("degenerate count = %v, want 1", v)
	}
}

func TestLook_InvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
	}{
		{"missing obs", "?target=0,0,0"},
		{"missing target", "?obs=0,0,0"},
		{"latitude out of range", "?obs=91,0,0&target=0,0,0"},
		{"not a number", "?obs=north,0&target=0,0,0"},
		{"too many components", "?obs=1,2,3,4&target=0,0,0"},
		{"NaN", "?obs=NaN,0&target=0,0,0"},
		{"infinite altitude", "?obs=0,0&target=0,0,Inf"},
	}

	h, c := newTestHandler(t, nil)
	routes := h.Routes()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, routes, http.MethodGet, "/api/look"+tt.query)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}

			got := decode[errorResponse](t, rr)
			if got.Kind != KindInvalidInput || got.Error == "" {
				t.Errorf("error body = %+v", got)
			}
		})
	}

	if v := testutil.ToFloat64(c.Looks.WithLabelValues(metrics.ResultInvalidInput)); v != float64(len(tests)) {
		t.Errorf("invalid_input count = %v, want %d", v, len(tests))
	}
}

type trackBody struct {
	NoradID int                `json:"norad_id"`
	Name    string             `json:"name"`
	Start   time.Time          `json:"start"`
	Points  []tracker.SkyPoint `json:"points"`
	Passes  []tracker.Pass     `json:"passes"`
}

func TestTrack_NoTLELoaded(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, builtinChain())
	rr := do(t, h.Routes(), http.MethodGet, "/api/track")

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if got := decode[errorResponse](t, rr); got.Kind != KindUnavailable {
		t.Errorf("kind = %q", got.Kind)
	}
}

func TestTrack_AfterReload(t *testing.T) {
	t.Parallel()

	h, c := newTestHandler(t, builtinChain())
	if err := h.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	rr := do(t, h.Routes(), http.MethodGet, "/api/track?span=3h&step=1m")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	got := decode[trackBody](t, rr)

	if got.NoradID != 25544 || got.Name != tracker.DefaultTLEName {
		t.Errorf("satellite = %d %q", got.NoradID, got.Name)
	}
	if !got.Start.Equal(trackStart) {
		t.Errorf("start = %v, want clock time %v", got.Start, trackStart)
	}
	if len(got.Points) != 181 {
		t.Fatalf("points = %d, want 181", len(got.Points))
	}

	for i, p := range got.Points {
		if p.AltitudeDeg < -90 || p.AltitudeDeg > 90 || p.AzimuthDeg < 0 || p.AzimuthDeg >= 360 || p.RangeM <= 0 {
			t.Fatalf("point %d out of range: %+v", i, p)
		}
	}

	for _, pass := range got.Passes {
		if len(pass.Points) != 0 {
			t.Error("passes must be returned without points")
		}
		if pass.End.Before(pass.Start) {
			t.Errorf("pass end before start: %+v", pass)
		}
	}

	if n := testutil.CollectAndCount(c.TrackDurations); n != 1 {
		t.Errorf("track histogram series = %d, want 1", n)
	}
}

func TestTrack_Errors(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, builtinChain())
	if err := h.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantKind   string
	}{
		{"unknown satellite", "?norad=99999", http.StatusNotFound, KindNotFound},
		{"bad norad", "?norad=-1", http.StatusBadRequest, KindInvalidInput},
		{"zero step", "?step=0s", http.StatusBadRequest, KindInvalidInput},
		{"negative span", "?span=-1h", http.StatusBadRequest, KindInvalidInput},
		{"too many points", "?span=1000h&step=1s", http.StatusBadRequest, KindInvalidInput},
		{"bad duration", "?span=forever", http.StatusBadRequest, KindInvalidInput},
		{"bad start", "?start=yesterday", http.StatusBadRequest, KindInvalidInput},
		{"min_alt out of range", "?min_alt=95", http.StatusBadRequest, KindInvalidInput},
		{"bad observer", "?obs=100,0", http.StatusBadRequest, KindInvalidInput},
	}

	routes := h.Routes()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, routes, http.MethodGet, "/api/track"+tt.query)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if got := decode[errorResponse](t, rr); got.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", got.Kind, tt.wantKind)
			}
		})
	}
}

func TestSourcesAndReload(t *testing.T) {
	t.Parallel()

	fail := false
	loader := loaderFunc(func(ctx context.Context) (*tracker.LoadResult, error) {
		if fail {
			return &tracker.LoadResult{
				Attempts: []tracker.Attempt{{Source: "file:missing.tle", Err: errors.New("missing")}},
			}, tracker.ErrAllSourcesFailed
		}

		return builtinChain().Load(ctx)
	})

	h, c := newTestHandler(t, loader)
	routes := h.Routes()

	rr := do(t, routes, http.MethodPost, "/api/reload")
	if rr.Code != http.StatusOK {
		t.Fatalf("reload status = %d, body = %s", rr.Code, rr.Body.String())
	}

	got := decode[sourcesResponse](t, do(t, routes, http.MethodGet, "/api/sources"))
	if got.Source != "inline:builtin" || got.Count != 1 || got.LoadedAt == nil {
		t.Errorf("sources = %+v", got)
	}
	if len(got.Attempts) != 1 || !got.Attempts[0].OK {
		t.Errorf("attempts = %+v", got.Attempts)
	}
	if v := testutil.ToFloat64(c.LoadedTLEs); v != 1 {
		t.Errorf("loaded gauge = %v, want 1", v)
	}

	fail = true

	rr = do(t, routes, http.MethodPost, "/api/reload")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("failed reload status = %d, want 502", rr.Code)
	}

	got = decode[sourcesResponse](t, rr)
	if got.Count != 1 {
		t.Errorf("previous TLE set lost: count = %d", got.Count)
	}
	if got.Error == "" || len(got.Attempts) != 1 || got.Attempts[0].OK || got.Attempts[0].Error != "missing" {
		t.Errorf("failed reload response = %+v", got)
	}

	if rr := do(t, routes, http.MethodGet, "/api/track?span=10m"); rr.Code != http.StatusOK {
		t.Errorf("track after failed reload: status = %d", rr.Code)
	}
}

func TestReload_NilLoader(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, nil)
	if err := h.Reload(context.Background()); !errors.Is(err, ErrNoTLELoaded) {
		t.Errorf("Reload() error = %v, want ErrNoTLELoaded", err)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, builtinChain())
	routes := h.Routes()

	got := decode[map[string]any](t, do(t, routes, http.MethodGet, "/healthz"))
	if got["status"] != "no_tle" {
		t.Errorf("status before load = %v", got["status"])
	}

	if err := h.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	got = decode[map[string]any](t, do(t, routes, http.MethodGet, "/healthz"))
	if got["status"] != "ok" || got["tle_loaded"] != float64(1) {
		t.Errorf("health after load = %v", got)
	}
}

func TestRoutes_MethodsAndIndex(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, nil)
	routes := h.Routes()

	if rr := do(t, routes, http.MethodGet, "/"); rr.Code != http.StatusOK {
		t.Errorf("index status = %d", rr.Code)
	}
	if rr := do(t, routes, http.MethodGet, "/api/reload"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/reload status = %d, want 405", rr.Code)
	}
	if rr := do(t, routes, http.MethodGet, "/nowhere"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", rr.Code)
	}
}

func TestRoutes_RequestIDAndMetrics(t *testing.T) {
	t.Parallel()

	h, c := newTestHandler(t, nil)
	routes := h.Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/look?obs=0,0&target=10,0", nil)
	req.Header.Set(headerRequestID, "abc123")
	rr := httptest.NewRecorder()
	routes.ServeHTTP(rr, req)

	if got := rr.Header().Get(headerRequestID); got != "abc123" {
		t.Errorf("X-Request-ID = %q, want echo", got)
	}

	rr = do(t, routes, http.MethodGet, "/healthz")
	if id := rr.Header().Get(headerRequestID); len(id) != 16 {
		t.Errorf("generated request id = %q", id)
	}

	if v := testutil.ToFloat64(c.HTTPRequests.WithLabelValues("/api/look", "GET", "200")); v != 1 {
		t.Errorf("look requests = %v, want 1", v)
	}

	rr = do(t, routes, http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "satsky_look_total") {
		t.Errorf("/metrics status = %d", rr.Code)
	}
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, nil)
	srv := NewServer(config.ServerConfig{
		Addr:            "127.0.0.1:0",
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
	}, h, logging.Discard())

	if srv.HTTPServer().ReadTimeout != time.Second {
		t.Errorf("ReadTimeout = %v", srv.HTTPServer().ReadTimeout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
