package config

import (
	"log/slog"
	"net/http"

	"github.com/art-injener/satsky-go/internal/tracker"
)

// Chain собирает цепочку источников TLE в фиксированном порядке:
// Celestrak, кеш, пользовательские файлы, inline текст, встроенный TLE.
func (s SourcesConfig) Chain(logger *slog.Logger) *tracker.SourceChain {
	var sources []tracker.TLESource

	if s.Celestrak.Enabled {
		client := tracker.NewCelestrakClient(
			tracker.WithBaseURL(s.Celestrak.BaseURL),
			tracker.WithHTTPClient(&http.Client{Timeout: s.Celestrak.Timeout}),
			tracker.WithRateLimit(s.Celestrak.RateLimit),
			tracker.WithMaxRetries(s.Celestrak.MaxRetries),
		)
		sources = append(sources, &tracker.CelestrakSource{
			Client:  client,
			Group:   s.Celestrak.Group,
			NoradID: s.Celestrak.NoradID,
		})
	}

	if s.CachePath != "" {
		sources = append(sources, &tracker.FileSource{Path: s.CachePath})
	}

	for _, path := range s.Files {
		sources = append(sources, &tracker.FileSource{Path: path})
	}

	if s.Inline != "" {
		sources = append(sources, &tracker.InlineSource{Label: "config", Text: s.Inline})
	}

	if !s.DisableBuiltin {
		sources = append(sources, tracker.DefaultInlineSource())
	}

	return &tracker.SourceChain{
		Sources:   sources,
		CachePath: s.CachePath,
		Logger:    logger,
	}
}
