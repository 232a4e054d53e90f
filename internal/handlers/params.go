package handlers

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/art-injener/satsky-go/internal/tracker"
)

// pointParam читает обязательный параметр-точку.
func pointParam(q url.Values, name string) (tracker.GeodeticPoint, error) {
	raw := q.Get(name)
	if raw == "" {
		return tracker.GeodeticPoint{}, fmt.Errorf("%w: missing %q parameter", tracker.ErrInvalidInput, name)
	}

	p, err := tracker.ParseGeodeticPoint(raw)
	if err != nil {
		return tracker.GeodeticPoint{}, fmt.Errorf("%s: %w", name, err)
	}

	return p, nil
}

func durationParam(q url.Values, name string, def time.Duration) (time.Duration, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", tracker.ErrInvalidInput, name, err)
	}

	return d, nil
}

func timeParam(q url.Values, name string, def time.Time) (time.Time, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", tracker.ErrInvalidInput, name, err)
	}

	return t.UTC(), nil
}

func floatParam(q url.Values, name string, def float64) (float64, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", tracker.ErrInvalidInput, name, err)
	}

	return v, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", tracker.ErrInvalidInput, name, raw)
	}

	return v, nil
}
