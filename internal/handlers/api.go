// Package handlers реализует HTTP API satsky.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/art-injener/satsky-go/internal/logging"
	"github.com/art-injener/satsky-go/internal/metrics"
	"github.com/art-injener/satsky-go/internal/observability"
	"github.com/art-injener/satsky-go/internal/tracker"
)

// Виды ошибок в JSON ответе.
const (
	KindInvalidInput      = "invalid_input"
	KindPropagationFailed = "propagation_failed"
	KindNotFound          = "not_found"
	KindUnavailable       = "unavailable"
	KindInternal          = "internal"
)

const (
	contentTypeJSON = "application/json"
	contentTypeText = "text/plain; charset=utf-8"
	headerRequestID = "X-Request-ID"

	// maxTrackPoints ограничивает размер трека в одном ответе.
	maxTrackPoints = 100_000

	defaultNoradID = 25544
)

// ErrNoTLELoaded возвращается, пока ни одна загрузка TLE не завершилась успешно.
var ErrNoTLELoaded = errors.New("no TLE loaded")

// Loader загружает набор TLE (tracker.SourceChain).
type Loader interface {
	Load(ctx context.Context) (*tracker.LoadResult, error)
}

// TrackDefaults — параметры трека, если они не заданы в запросе.
type TrackDefaults struct {
	NoradID        int
	Span           time.Duration
	Step           time.Duration
	MinAltitudeDeg float64
}

// APIHandler обслуживает /api/*. Загруженный набор TLE защищён RWMutex и может перезагружаться.
type APIHandler struct {
	loader   Loader
	logger   *slog.Logger
	metrics  *metrics.Collector
	tracer   trace.Tracer
	gravity  tracker.GravityModel
	observer tracker.GeodeticPoint
	track    TrackDefaults
	now      func() time.Time

	mu          sync.RWMutex
	result      *tracker.LoadResult
	loadErr     error
	propagators map[int]*tracker.SGP4Propagator
}

// Option настраивает APIHandler.
type Option func(*APIHandler)

// WithLogger задаёт логгер.
func WithLogger(l *slog.Logger) Option {
	return func(h *APIHandler) { h.logger = l }
}

// WithMetrics задаёт коллектор метрик.
func WithMetrics(c *metrics.Collector) Option {
	return func(h *APIHandler) { h.metrics = c }
}

// WithTracer задаёт трассировщик.
func WithTracer(t trace.Tracer) Option {
	return func(h *APIHandler) { h.tracer = t }
}

// WithGravity задаёт модель гравитации SGP4.
func WithGravity(g tracker.GravityModel) Option {
	return func(h *APIHandler) { h.gravity = g }
}

// WithObserver задаёт наблюдателя по умолчанию для /api/track.
func WithObserver(p tracker.GeodeticPoint) Option {
	return func(h *APIHandler) { h.observer = p }
}

// WithTrackDefaults задаёт параметры трека по умолчанию.
func WithTrackDefaults(d TrackDefaults) Option {
	return func(h *APIHandler) { h.track = d }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(h *APIHandler) { h.now = now }
}

// NewAPIHandler создаёт обработчик. Загрузка TLE выполняется отдельно через Reload.
func NewAPIHandler(loader Loader, opts ...Option) *APIHandler {
	h := &APIHandler{
		loader: loader,
		track: TrackDefaults{
			NoradID: defaultNoradID,
			Span:    24 * time.Hour,
			Step:    time.Minute,
		},
		now:         time.Now,
		propagators: make(map[int]*tracker.SGP4Propagator),
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.tracer == nil {
		h.tracer = observability.Tracer()
	}
	if h.track.NoradID <= 0 {
		h.track.NoradID = defaultNoradID
	}
	if h.track.Step <= 0 {
		h.track.Step = time.Minute
	}

	return h
}

// Reload загружает TLE и атомарно заменяет текущий набор.
// При неудаче предыдущий набор сохраняется, а попытки доступны через /api/sources.
func (h *APIHandler) Reload(ctx context.Context) error {
	if h.loader == nil {
		return ErrNoTLELoaded
	}

	result, err := h.loader.Load(ctx)
	h.metrics.ObserveLoad(result)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.loadErr = err
	if err != nil {
		if h.result == nil {
			h.result = result
		} else if result != nil {
			kept := *h.result
			kept.Attempts = result.Attempts
			h.result = &kept
		}

		return err
	}

	h.result = result
	h.propagators = make(map[int]*tracker.SGP4Propagator)

	return nil
}

// Routes возвращает маршрутизатор API с middleware.
func (h *APIHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.Index)
	mux.HandleFunc("GET /api/look", h.Look)
	mux.HandleFunc("GET /api/track", h.Track)
	mux.HandleFunc("GET /api/sources", h.Sources)
	mux.HandleFunc("POST /api/reload", h.ReloadHandler)
	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /metrics", h.metrics.Handler())

	var handler http.Handler = mux
	handler = h.loggingMiddleware(handler)
	handler = h.metrics.Middleware(handler)

	return handler
}

// Index перечисляет доступные маршруты.
func (h *APIHandler) Index(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"service": "satsky",
		"endpoints": []string{
			"GET /api/look?obs=lat,lon[,alt]&target=lat,lon[,alt][&format=text]",
			"GET /api/track?norad=&obs=&start=&span=&step=&min_alt=",
			"GET /api/sources",
			"POST /api/reload",
			"GET /healthz",
			"GET /metrics",
		},
	})
}

// lookResponse — ответ /api/look.
type lookResponse struct {
	Observer tracker.GeodeticPoint `json:"observer"`
	Target   tracker.GeodeticPoint `json:"target"`
	tracker.Topocentric
}

// Look вычисляет положение цели на небе наблюдателя.
func (h *APIHandler) Look(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handlers.look")
	defer span.End()

	q := r.URL.Query()

	observer, err := pointParam(q, "obs")
	if err != nil {
		h.metrics.ObserveLook(tracker.Topocentric{}, err)
		h.fail(ctx, w, span, err)
		return
	}

	target, err := pointParam(q, "target")
	if err != nil {
		h.metrics.ObserveLook(tracker.Topocentric{}, err)
		h.fail(ctx, w, span, err)
		return
	}

	report, err := tracker.BuildLookReport(observer, target)
	h.metrics.ObserveLook(report.Result, err)
	if err != nil {
		h.fail(ctx, w, span, err)
		return
	}

	span.SetAttributes(
		attribute.Float64("look.altitude_deg", report.Result.AltitudeDeg),
		attribute.Float64("look.azimuth_deg", report.Result.AzimuthDeg),
		attribute.Float64("look.range_m", report.Result.RangeM),
		attribute.Bool("look.degenerate", report.Result.Degenerate),
	)

	if q.Get("format") == "text" {
		w.Header().Set("Content-Type", contentTypeText)
		if _, err := report.WriteTo(w); err != nil {
			h.logger.WarnContext(ctx, "failed to write look report", logging.KeyError, err)
		}
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, lookResponse{
		Observer:    observer,
		Target:      target,
		Topocentric: report.Result,
	})
}

// trackResponse — ответ /api/track.
type trackResponse struct {
	NoradID  int                   `json:"norad_id"`
	Name     string                `json:"name"`
	Observer tracker.GeodeticPoint `json:"observer"`
	Start    time.Time             `json:"start"`
	Span     string                `json:"span"`
	Step     string                `json:"step"`
	MinAlt   float64               `json:"min_altitude_deg"`
	Points   []tracker.SkyPoint    `json:"points"`
	Passes   []tracker.Pass        `json:"passes"`
}

// Track строит трек спутника на небе наблюдателя и выделяет видимые проходы.
func (h *APIHandler) Track(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handlers.track")
	defer span.End()

	req, err := h.parseTrackRequest(r)
	if err != nil {
		h.fail(ctx, w, span, err)
		return
	}

	span.SetAttributes(
		attribute.Int("track.norad_id", req.noradID),
		attribute.String("track.span", req.span.String()),
		attribute.String("track.step", req.step.String()),
	)

	tle, prop, err := h.propagator(req.noradID)
	if err != nil {
		h.fail(ctx, w, span, err)
		return
	}

	started := time.Now()
	points, err := tracker.GenerateSkyTrack(ctx, tracker.PropagatedSource{Propagator: prop},
		req.observer, req.start, req.span, req.step)
	h.metrics.ObserveTrack(time.Since(started))
	if err != nil {
		h.fail(ctx, w, span, err)
		return
	}

	passes := tracker.SplitVisiblePasses(points, req.minAlt)
	for i := range passes {
		passes[i].Points = nil
	}

	span.SetAttributes(
		attribute.Int("track.points", len(points)),
		attribute.Int("track.passes", len(passes)),
	)

	h.writeJSON(ctx, w, http.StatusOK, trackResponse{
		NoradID:  tle.NoradID,
		Name:     tle.Name,
		Observer: req.observer,
		Start:    req.start,
		Span:     req.span.String(),
		Step:     req.step.String(),
		MinAlt:   req.minAlt,
		Points:   points,
		Passes:   passes,
	})
}

type trackRequest struct {
	noradID  int
	observer tracker.GeodeticPoint
	start    time.Time
	span     time.Duration
	step     time.Duration
	minAlt   float64
}

func (h *APIHandler) parseTrackRequest(r *http.Request) (trackRequest, error) {
	q := r.URL.Query()
	req := trackRequest{observer: h.observer}

	var err error

	if req.noradID, err = intParam(q, "norad", h.track.NoradID); err != nil {
		return req, err
	}

	if q.Get("obs") != "" {
		if req.observer, err = pointParam(q, "obs"); err != nil {
			return req, err
		}
	}

	if req.start, err = timeParam(q, "start", h.now().UTC()); err != nil {
		return req, err
	}
	if req.span, err = durationParam(q, "span", h.track.Span); err != nil {
		return req, err
	}
	if req.step, err = durationParam(q, "step", h.track.Step); err != nil {
		return req, err
	}
	if req.minAlt, err = floatParam(q, "min_alt", h.track.MinAltitudeDeg); err != nil {
		return req, err
	}

	if req.step <= 0 {
		return req, fmt.Errorf("%w: %w", tracker.ErrInvalidInput, tracker.ErrInvalidStep)
	}
	if req.span < 0 {
		return req, fmt.Errorf("%w: %w", tracker.ErrInvalidInput, tracker.ErrInvalidSpan)
	}
	if req.span/req.step > maxTrackPoints {
		return req, fmt.Errorf("%w: span/step exceeds %d points", tracker.ErrInvalidInput, maxTrackPoints)
	}
	if !(req.minAlt >= -90 && req.minAlt <= 90) {
		return req, fmt.Errorf("%w: min_alt %v outside [-90, 90]", tracker.ErrInvalidInput, req.minAlt)
	}

	return req, nil
}

// propagator возвращает TLE и закешированный пропагатор для NORAD ID.
func (h *APIHandler) propagator(noradID int) (*tracker.TLE, *tracker.SGP4Propagator, error) {
	h.mu.RLock()
	result := h.result
	prop, cached := h.propagators[noradID]
	h.mu.RUnlock()

	if result == nil || len(result.TLEs) == 0 {
		return nil, nil, ErrNoTLELoaded
	}

	tle, ok := result.Find(noradID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: NORAD %d", errNotFound, noradID)
	}

	if cached && prop.TLE() == tle {
		return tle, prop, nil
	}

	prop, err := tracker.NewSGP4PropagatorWithGravity(tle, h.gravity)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", tracker.ErrPropagationFailed, err)
	}

	h.mu.Lock()
	h.propagators[noradID] = prop
	h.mu.Unlock()

	return tle, prop, nil
}

var errNotFound = errors.New("not found")

// attemptView — попытка загрузки в JSON.
type attemptView struct {
	Source     string  `json:"source"`
	Count      int     `json:"count"`
	DurationMS float64 `json:"duration_ms"`
	OK         bool    `json:"ok"`
	Error      string  `json:"error,omitempty"`
}

type sourcesResponse struct {
	Source   string        `json:"source,omitempty"`
	Count    int           `json:"count"`
	LoadedAt *time.Time    `json:"loaded_at,omitempty"`
	Error    string        `json:"error,omitempty"`
	Attempts []attemptView `json:"attempts"`
}

// Sources показывает результат последней загрузки TLE.
func (h *APIHandler) Sources(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	resp := h.sourcesLocked()
	h.mu.RUnlock()

	h.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *APIHandler) sourcesLocked() sourcesResponse {
	resp := sourcesResponse{Attempts: []attemptView{}}

	if h.loadErr != nil {
		resp.Error = h.loadErr.Error()
	}

	if h.result == nil {
		return resp
	}

	resp.Source = h.result.Source
	resp.Count = len(h.result.TLEs)
	if !h.result.LoadedAt.IsZero() {
		loadedAt := h.result.LoadedAt.UTC()
		resp.LoadedAt = &loadedAt
	}

	for _, a := range h.result.Attempts {
		view := attemptView{
			Source:     a.Source,
			Count:      a.Count,
			DurationMS: float64(a.Duration.Microseconds()) / 1000,
			OK:         a.OK(),
		}
		if a.Err != nil {
			view.Error = a.Err.Error()
		}
		resp.Attempts = append(resp.Attempts, view)
	}

	return resp
}

// ReloadHandler перезагружает TLE по запросу.
func (h *APIHandler) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	err := h.Reload(ctx)

	h.mu.RLock()
	resp := h.sourcesLocked()
	h.mu.RUnlock()

	status := http.StatusOK
	if err != nil {
		h.logger.WarnContext(ctx, "TLE reload failed", logging.KeyError, err)
		status = http.StatusBadGateway
	}

	h.writeJSON(ctx, w, status, resp)
}

// Health сообщает состояние сервиса.
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	count := 0
	if h.result != nil {
		count = len(h.result.TLEs)
	}
	h.mu.RUnlock()

	status := "ok"
	if count == 0 {
		status = "no_tle"
	}

	h.writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"status":     status,
		"tle_loaded": count,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// classify сопоставляет ошибку с HTTP статусом и видом.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, tracker.ErrPropagationFailed):
		return http.StatusUnprocessableEntity, KindPropagationFailed
	case errors.Is(err, tracker.ErrInvalidInput):
		return http.StatusBadRequest, KindInvalidInput
	case errors.Is(err, errNotFound):
		return http.StatusNotFound, KindNotFound
	case errors.Is(err, ErrNoTLELoaded):
		return http.StatusServiceUnavailable, KindUnavailable
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

func (h *APIHandler) fail(ctx context.Context, w http.ResponseWriter, span trace.Span, err error) {
	status, kind := classify(err)

	span.RecordError(err)
	span.SetStatus(codes.Error, kind)

	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, "request failed",
		"kind", kind,
		"status", status,
		logging.KeyError, err,
	)

	h.writeJSON(ctx, w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func (h *APIHandler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WarnContext(ctx, "failed to encode response", logging.KeyError, err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware добавляет request_id и пишет строку лога на каждый запрос.
func (h *APIHandler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get(headerRequestID); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
		}
		ctx, id := logging.EnsureRequestID(ctx)
		w.Header().Set(headerRequestID, id)

		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sr, r.WithContext(ctx))

		level := slog.LevelInfo
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			level = slog.LevelDebug
		}

		h.logger.Log(ctx, level, "request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
