// Package config загружает YAML конфигурацию satsky.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/art-injener/satsky-go/internal/tracker"
)

// Значения по умолчанию.
const (
	DefaultServerAddr      = ":8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 5 * time.Second

	DefaultCelestrakGroup = "stations"
	DefaultCachePath      = "data/tle_cache/stations.tle"

	DefaultTrackSpan = 24 * time.Hour
	DefaultTrackStep = time.Minute

	// MaxTrackPoints ограничивает размер одного трека (span/step).
	MaxTrackPoints = 100_000

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	DefaultServiceName = "satsky"
	DefaultGravity     = "wgs72"
)

// ErrInvalidConfig возвращается при недопустимых значениях конфигурации.
var ErrInvalidConfig = errors.New("invalid config")

// Config — корневая конфигурация.
type Config struct {
	Observer   ObserverConfig   `yaml:"observer"`
	Sources    SourcesConfig    `yaml:"sources"`
	Propagator PropagatorConfig `yaml:"propagator"`
	Track      TrackConfig      `yaml:"track"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ObserverConfig — положение наблюдателя по умолчанию.
type ObserverConfig struct {
	Name string  `yaml:"name"`
	Lat  float64 `yaml:"lat"`
	Lon  float64 `yaml:"lon"`
	Alt  float64 `yaml:"alt"` // Метры над эллипсоидом.
}

// Point возвращает наблюдателя как геодезическую точку.
func (o ObserverConfig) Point() tracker.GeodeticPoint {
	return tracker.GeodeticPoint{Lat: o.Lat, Lon: o.Lon, Alt: o.Alt}
}

// SourcesConfig задаёт порядок источников TLE.
// Порядок фиксирован: Celestrak, файлы (включая кеш), inline текст, встроенный TLE.
type SourcesConfig struct {
	Celestrak CelestrakConfig `yaml:"celestrak"`

	// CachePath — файл кеша; сетевой результат сохраняется сюда и читается при сбое сети.
	CachePath string `yaml:"cache_path"`

	// Files — дополнительные файлы с TLE.
	Files []string `yaml:"files"`

	// Inline — TLE текстом прямо в конфигурации.
	Inline string `yaml:"inline"`

	// DisableBuiltin отключает встроенный TLE МКС как последний резерв.
	DisableBuiltin bool `yaml:"disable_builtin"`
}

// CelestrakConfig — параметры загрузки с Celestrak.
type CelestrakConfig struct {
	Enabled    bool          `yaml:"enabled"`
	BaseURL    string        `yaml:"base_url"`
	Group      string        `yaml:"group"`
	NoradID    int           `yaml:"norad_id"` // Если задан, вместо группы загружается один спутник.
	RateLimit  time.Duration `yaml:"rate_limit"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// PropagatorConfig — параметры SGP4.
type PropagatorConfig struct {
	Gravity string `yaml:"gravity"` // wgs72 | wgs84
}

// GravityModel переводит имя модели в tracker.GravityModel.
func (p PropagatorConfig) GravityModel() tracker.GravityModel {
	if strings.EqualFold(p.Gravity, "wgs84") {
		return tracker.GravityWGS84
	}

	return tracker.GravityWGS72
}

// TrackConfig — параметры трека по умолчанию.
type TrackConfig struct {
	NoradID        int           `yaml:"norad_id"`
	Span           time.Duration `yaml:"span"`
	Step           time.Duration `yaml:"step"`
	MinAltitudeDeg float64       `yaml:"min_altitude_deg"`
}

// ServerConfig — параметры HTTP сервера.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig — уровень и формат логов.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text | json
}

// TracingConfig — параметры OpenTelemetry.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default возвращает конфигурацию со значениями по умолчанию.
func Default() *Config {
	return &Config{
		Observer: ObserverConfig{Name: "Greenwich", Lat: 51.4779, Lon: 0, Alt: 46},
		Sources: SourcesConfig{
			Celestrak: CelestrakConfig{
				Enabled:    true,
				BaseURL:    tracker.CelestrakBaseURL,
				Group:      DefaultCelestrakGroup,
				RateLimit:  tracker.DefaultRateLimit,
				Timeout:    tracker.DefaultTimeout,
				MaxRetries: tracker.DefaultMaxRetries,
			},
			CachePath: DefaultCachePath,
		},
		Propagator: PropagatorConfig{Gravity: DefaultGravity},
		Track: TrackConfig{
			NoradID: 25544,
			Span:    DefaultTrackSpan,
			Step:    DefaultTrackStep,
		},
		Server: ServerConfig{
			Addr:            DefaultServerAddr,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Logging: LoggingConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		Tracing: TracingConfig{ServiceName: DefaultServiceName, SampleRatio: 1},
	}
}

// Load читает YAML файл поверх значений по умолчанию и проверяет результат.
// Пустой path возвращает конфигурацию по умолчанию.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate корректирует нулевые значения и проверяет допустимость остальных.
func (c *Config) Validate() error {
	var problems []string

	if err := c.Observer.Point().Validate(); err != nil {
		problems = append(problems, "observer: "+err.Error())
	}

	src := &c.Sources.Celestrak
	if src.BaseURL == "" {
		src.BaseURL = tracker.CelestrakBaseURL
	}
	if src.Group == "" && src.NoradID == 0 {
		src.Group = DefaultCelestrakGroup
	}
	if src.NoradID < 0 {
		problems = append(problems, fmt.Sprintf("sources.celestrak.norad_id: %d is negative", src.NoradID))
	}
	if src.RateLimit < 0 {
		src.RateLimit = tracker.DefaultRateLimit
	}
	if src.Timeout <= 0 {
		src.Timeout = tracker.DefaultTimeout
	}
	if src.MaxRetries < 0 {
		src.MaxRetries = tracker.DefaultMaxRetries
	}

	switch strings.ToLower(c.Propagator.Gravity) {
	case "":
		c.Propagator.Gravity = DefaultGravity
	case "wgs72", "wgs84":
	default:
		problems = append(problems, fmt.Sprintf("propagator.gravity: unknown model %q", c.Propagator.Gravity))
	}

	if c.Track.Span <= 0 {
		c.Track.Span = DefaultTrackSpan
	}
	if c.Track.Step <= 0 {
		c.Track.Step = DefaultTrackStep
	}
	if c.Track.Span/c.Track.Step > MaxTrackPoints {
		problems = append(problems, fmt.Sprintf("track: span %v with step %v exceeds %d points",
			c.Track.Span, c.Track.Step, MaxTrackPoints))
	}
	if !(c.Track.MinAltitudeDeg >= -90 && c.Track.MinAltitudeDeg <= 90) {
		problems = append(problems, fmt.Sprintf("track.min_altitude_deg: %v outside [-90, 90]", c.Track.MinAltitudeDeg))
	}

	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	switch strings.ToLower(c.Logging.Level) {
	case "":
		c.Logging.Level = DefaultLogLevel
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level: unknown level %q", c.Logging.Level))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "":
		c.Logging.Format = DefaultLogFormat
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format: unknown format %q", c.Logging.Format))
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultServiceName
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		problems = append(problems, fmt.Sprintf("tracing.sample_ratio: %v outside [0, 1]", c.Tracing.SampleRatio))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}

	return nil
}
