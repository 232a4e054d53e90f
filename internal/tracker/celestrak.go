package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Константы Celestrak API
const (
	// CelestrakBaseURL базовый URL Celestrak GP API
	CelestrakBaseURL = "https://celestrak.org/NORAD/elements/gp.php"

	// DefaultRateLimit минимальный интервал между запросами (рекомендация Celestrak)
	DefaultRateLimit = 2 * time.Second

	// DefaultTimeout таймаут HTTP запроса
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries количество повторных попыток
	DefaultMaxRetries = 3

	userAgent  = "satsky-go/1.0 (https://github.com/art-injener/satsky-go)"
	noDataBody = "No GP data found"
)

// Ошибки Celestrak клиента
var (
	ErrCelestrakNotFound    = errors.New("satellite not found")
	ErrCelestrakRateLimit   = errors.New("rate limited (429)")
	ErrCelestrakServerError = errors.New("server error")
	ErrCelestrakClientError = errors.New("client error")
)

// CelestrakClient HTTP клиент для загрузки TLE с Celestrak.
type CelestrakClient struct {
	httpClient *http.Client
	baseURL    string
	rateLimit  time.Duration
	maxRetries int

	mu          sync.Mutex
	lastRequest time.Time
}

// CelestrakOption функция настройки клиента.
type CelestrakOption func(*CelestrakClient)

// WithHTTPClient устанавливает кастомный HTTP клиент.
func WithHTTPClient(client *http.Client) CelestrakOption {
	return func(c *CelestrakClient) {
		c.httpClient = client
	}
}

// WithRateLimit устанавливает интервал между запросами.
func WithRateLimit(d time.Duration) CelestrakOption {
	return func(c *CelestrakClient) {
		c.rateLimit = d
	}
}

// WithMaxRetries устанавливает количество повторных попыток.
func WithMaxRetries(n int) CelestrakOption {
	return func(c *CelestrakClient) {
		c.maxRetries = n
	}
}

// WithBaseURL устанавливает базовый URL (для тестирования и зеркал).
func WithBaseURL(u string) CelestrakOption {
	return func(c *CelestrakClient) {
		c.baseURL = u
	}
}

// NewCelestrakClient создаёт новый клиент Celestrak.
func NewCelestrakClient(opts ...CelestrakOption) *CelestrakClient {
	c := &CelestrakClient{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    CelestrakBaseURL,
		rateLimit:  DefaultRateLimit,
		maxRetries: DefaultMaxRetries,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// FetchByNoradID загружает TLE по NORAD ID.
func (c *CelestrakClient) FetchByNoradID(ctx context.Context, noradID int) ([]*TLE, error) {
	return c.fetchTLE(ctx, "CATNR", strconv.Itoa(noradID))
}

// FetchGroup загружает TLE для группы спутников ("stations", "amateur", ...).
func (c *CelestrakClient) FetchGroup(ctx context.Context, group string) ([]*TLE, error) {
	return c.fetchTLE(ctx, "GROUP", group)
}

func (c *CelestrakClient) fetchTLE(ctx context.Context, key, value string) ([]*TLE, error) {
	query := url.Values{}
	query.Set(key, value)
	query.Set("FORMAT", "TLE")

	body, err := c.fetch(ctx, c.baseURL+"?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("fetching %s=%s: %w", key, value, err)
	}

	tles, err := ParseTLEBlocks(body)
	if err != nil {
		return nil, fmt.Errorf("parsing TLE: %w", err)
	}

	return tles, nil
}

// fetch выполняет HTTP запрос с rate limiting и retry.
func (c *CelestrakClient) fetch(ctx context.Context, u string) (string, error) {
	if err := c.waitForRateLimit(ctx); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s...
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		body, err := c.doRequest(ctx, u)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !retryable(err) || ctx.Err() != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("after %d retries: %w", c.maxRetries, lastErr)
}

// retryable сообщает, стоит ли повторять запрос: 429, 5xx и сетевые ошибки.
// Остальные ответы 4xx и отсутствие данных не изменятся при повторе.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrCelestrakRateLimit), errors.Is(err, ErrCelestrakServerError):
		return true
	case errors.Is(err, ErrCelestrakNotFound), errors.Is(err, ErrCelestrakClientError):
		return false
	default:
		return true
	}
}

// waitForRateLimit ждёт соблюдения rate limit.
func (c *CelestrakClient) waitForRateLimit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if wait := c.rateLimit - time.Since(c.lastRequest); wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	c.lastRequest = time.Now()

	return nil
}

// doRequest выполняет один HTTP запрос.
func (c *CelestrakClient) doRequest(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return "", ErrCelestrakNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrCelestrakRateLimit
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: %d", ErrCelestrakServerError, resp.StatusCode)
	default:
		return "", fmt.Errorf("%w: unexpected status %d", ErrCelestrakClientError, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	// Celestrak отвечает 200 с текстом "No GP data found", если данных нет.
	if strings.TrimSpace(string(body)) == noDataBody {
		return "", ErrCelestrakNotFound
	}

	return string(body), nil
}
