// Package metrics собирает Prometheus метрики HTTP API и конвейера.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/art-injener/satsky-go/internal/tracker"
)

// Результаты расчёта положения для метки result.
const (
	ResultOK                = "ok"
	ResultDegenerate        = "degenerate"
	ResultInvalidInput      = "invalid_input"
	ResultPropagationFailed = "propagation_failed"
	ResultError             = "error"
)

// routeOther — метка для неизвестных путей, чтобы не раздувать кардинальность.
const routeOther = "other"

var knownRoutes = map[string]struct{}{
	"/":            {},
	"/healthz":     {},
	"/metrics":     {},
	"/api/look":    {},
	"/api/track":   {},
	"/api/sources": {},
	"/api/reload":  {},
}

// Collector хранит метрики satsky.
type Collector struct {
	gatherer prometheus.Gatherer

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	Looks          *prometheus.CounterVec
	TrackDurations prometheus.Histogram
	SourceAttempts *prometheus.CounterVec
	LoadedTLEs     prometheus.Gauge
}

// NewCollector регистрирует метрики в reg; nil означает глобальный реестр.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "satsky_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"path", "method", "code"}))
	if err != nil {
		return nil, err
	}

	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "satsky_http_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method"}))
	if err != nil {
		return nil, err
	}

	looks, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "satsky_look_total",
		Help: "Topocentric look computations by result.",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}

	tracks, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "satsky_track_duration_seconds",
		Help:    "Sky track generation time in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}))
	if err != nil {
		return nil, err
	}

	attempts, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "satsky_tle_source_attempts_total",
		Help: "TLE source attempts by source kind and outcome.",
	}, []string{"kind", "outcome"}))
	if err != nil {
		return nil, err
	}

	loaded, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "satsky_tle_loaded",
		Help: "Number of TLE sets currently loaded.",
	}))
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:       gatherer,
		HTTPRequests:   requests,
		HTTPDurations:  durations,
		Looks:          looks,
		TrackDurations: tracks,
		SourceAttempts: attempts,
		LoadedTLEs:     loaded,
	}, nil
}

// register регистрирует коллектор или возвращает уже зарегистрированный того же типа.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}

			return c, fmt.Errorf("collector already registered with incompatible type: %w", err)
		}

		return c, err
	}

	return c, nil
}

// Handler отдаёт метрики в формате Prometheus.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// ObserveLook учитывает результат расчёта положения.
func (c *Collector) ObserveLook(look tracker.Topocentric, err error) {
	if c == nil {
		return
	}

	c.Looks.WithLabelValues(LookResult(look, err)).Inc()
}

// ObserveTrack учитывает время построения трека.
func (c *Collector) ObserveTrack(d time.Duration) {
	if c == nil {
		return
	}

	c.TrackDurations.Observe(d.Seconds())
}

// ObserveLoad учитывает попытки загрузки TLE и итоговое количество наборов.
func (c *Collector) ObserveLoad(result *tracker.LoadResult) {
	if c == nil || result == nil {
		return
	}

	for _, a := range result.Attempts {
		outcome := "ok"
		if !a.OK() {
			outcome = "failed"
		}
		c.SourceAttempts.WithLabelValues(SourceKind(a.Source), outcome).Inc()
	}

	if len(result.TLEs) > 0 {
		c.LoadedTLEs.Set(float64(len(result.TLEs)))
	}
}

// LookResult классифицирует результат для метки result.
func LookResult(look tracker.Topocentric, err error) string {
	switch {
	case err == nil && look.Degenerate:
		return ResultDegenerate
	case err == nil:
		return ResultOK
	case errors.Is(err, tracker.ErrPropagationFailed):
		return ResultPropagationFailed
	case errors.Is(err, tracker.ErrInvalidInput):
		return ResultInvalidInput
	default:
		return ResultError
	}
}

// SourceKind отбрасывает параметры из имени источника ("file:/x" → "file").
func SourceKind(name string) string {
	kind, _, _ := strings.Cut(name, ":")
	if kind == "" {
		return "unknown"
	}

	return kind
}

// responseWriter запоминает код ответа.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware считает запросы и их длительность.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := normalizeRoute(r.URL.Path)
		c.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rw.statusCode)).Inc()
		c.HTTPDurations.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func normalizeRoute(path string) string {
	if _, ok := knownRoutes[path]; ok {
		return path
	}

	return routeOther
}
