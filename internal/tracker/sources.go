package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrAllSourcesFailed возвращается, когда ни один источник TLE не дал данных.
var ErrAllSourcesFailed = errors.New("all TLE sources failed")

// Эталонный TLE МКС, используемый как последний источник по умолчанию.
const (
	DefaultTLEName  = "ISS (ZARYA)"
	DefaultTLELine1 = "1 25544U 98067A   24001.50000000  .00016717  00000-0  10270-3 0  9997"
	DefaultTLELine2 = "2 25544  51.6400 247.4627 0006703 130.5360 325.0288 15.49815571423401"
)

// TLESource — стратегия получения набора TLE.
type TLESource interface {
	Name() string
	Fetch(ctx context.Context) ([]*TLE, error)
}

// Attempt — результат одной попытки загрузки из источника.
type Attempt struct {
	Source   string        `json:"source"`
	Count    int           `json:"count"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// OK возвращает true, если попытка дала данные.
func (a Attempt) OK() bool {
	return a.Err == nil && a.Count > 0
}

// LoadResult — итог загрузки цепочки источников.
type LoadResult struct {
	Source   string    // Источник, давший данные.
	TLEs     []*TLE    // Загруженные TLE.
	Attempts []Attempt // Все попытки по порядку.
	LoadedAt time.Time // Время завершения загрузки.
}

// Find возвращает TLE по NORAD ID.
func (r *LoadResult) Find(noradID int) (*TLE, bool) {
	if r == nil {
		return nil, false
	}

	for _, tle := range r.TLEs {
		if tle.NoradID == noradID {
			return tle, true
		}
	}

	return nil, false
}

// SourceChain перебирает источники по порядку до первого успешного.
// После успеха сетевого источника результат сохраняется в CachePath (если задан).
type SourceChain struct {
	Sources   []TLESource
	CachePath string
	Logger    *slog.Logger
}

// Load загружает TLE из первого успешного источника.
// При полной неудаче возвращает результат со всеми попытками и ErrAllSourcesFailed.
func (c *SourceChain) Load(ctx context.Context) (*LoadResult, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	result := &LoadResult{}
	if len(c.Sources) == 0 {
		return result, fmt.Errorf("%w: no sources configured", ErrAllSourcesFailed)
	}

	var errs []error

	for _, src := range c.Sources {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		started := time.Now()
		tles, err := src.Fetch(ctx)
		if err == nil && len(tles) == 0 {
			err = ErrNoTLE
		}

		attempt := Attempt{
			Source:   src.Name(),
			Count:    len(tles),
			Duration: time.Since(started),
			Err:      err,
		}
		result.Attempts = append(result.Attempts, attempt)

		if err != nil {
			logger.WarnContext(ctx, "TLE source failed, trying next",
				"source", attempt.Source,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", attempt.Source, err))
			continue
		}

		logger.InfoContext(ctx, "loaded TLE",
			"source", attempt.Source,
			"count", attempt.Count,
			"duration", attempt.Duration,
		)

		result.Source = attempt.Source
		result.TLEs = tles
		result.LoadedAt = time.Now()

		c.saveCache(ctx, logger, src, tles)

		return result, nil
	}

	return result, fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))
}

func (c *SourceChain) saveCache(ctx context.Context, logger *slog.Logger, src TLESource, tles []*TLE) {
	if c.CachePath == "" {
		return
	}

	switch s := src.(type) {
	case *FileSource:
		if filepath.Clean(s.Path) == filepath.Clean(c.CachePath) {
			return
		}
	case *InlineSource:
		return
	}

	if err := SaveTLEFile(c.CachePath, tles); err != nil {
		logger.WarnContext(ctx, "failed to save TLE cache",
			"path", c.CachePath,
			"error", err,
		)
	}
}

// CelestrakSource загружает группу или один спутник с Celestrak.
type CelestrakSource struct {
	Client  *CelestrakClient
	Group   string // Группа, например "stations".
	NoradID int    // Если задан, загружается один спутник.
}

// Name возвращает имя источника.
func (s *CelestrakSource) Name() string {
	if s.NoradID > 0 {
		return fmt.Sprintf("celestrak:catnr=%d", s.NoradID)
	}

	return "celestrak:group=" + s.Group
}

// Fetch загружает TLE с Celestrak.
func (s *CelestrakSource) Fetch(ctx context.Context) ([]*TLE, error) {
	client := s.Client
	if client == nil {
		client = NewCelestrakClient()
	}

	if s.NoradID > 0 {
		return client.FetchByNoradID(ctx, s.NoradID)
	}

	return client.FetchGroup(ctx, s.Group)
}

// FileSource читает TLE из файла (файловый кеш или пользовательский набор).
type FileSource struct {
	Path string
}

// Name возвращает имя источника.
func (s *FileSource) Name() string {
	return "file:" + s.Path
}

// Fetch читает и парсит файл.
func (s *FileSource) Fetch(_ context.Context) ([]*TLE, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading TLE file: %w", err)
	}

	return ParseTLEBlocks(string(data))
}

// InlineSource отдаёт TLE из текста (конфигурация, встроенный набор по умолчанию).
type InlineSource struct {
	Label string
	Text  string
}

// DefaultInlineSource возвращает источник со встроенным TLE МКС.
func DefaultInlineSource() *InlineSource {
	return &InlineSource{
		Label: "builtin",
		Text:  DefaultTLEName + "\n" + DefaultTLELine1 + "\n" + DefaultTLELine2,
	}
}

// Name возвращает имя источника.
func (s *InlineSource) Name() string {
	if s.Label == "" {
		return "inline"
	}

	return "inline:" + s.Label
}

// Fetch парсит встроенный текст.
func (s *InlineSource) Fetch(_ context.Context) ([]*TLE, error) {
	return ParseTLEBlocks(s.Text)
}

// SaveTLEFile сохраняет TLE в файл в 3-line формате.
func SaveTLEFile(path string, tles []*TLE) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("creating cache dir: %w", err)
		}
	}

	var builder strings.Builder
	for _, tle := range tles {
		builder.WriteString(tle.String())
		builder.WriteString("\n")
	}

	if err := os.WriteFile(path, []byte(builder.String()), 0600); err != nil {
		return fmt.Errorf("writing TLE file: %w", err)
	}

	return nil
}
