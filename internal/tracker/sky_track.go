package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Ошибки построения трека на небе.
var (
	ErrInvalidStep = errors.New("step must be positive")
	ErrInvalidSpan = errors.New("span must not be negative")
)

// SkyPoint — положение спутника на небе наблюдателя в момент Time.
type SkyPoint struct {
	Time        time.Time `json:"time"`
	AltitudeDeg float64   `json:"altitude_deg"`
	AzimuthDeg  float64   `json:"azimuth_deg"`
	RangeM      float64   `json:"range_m"`
}

// Pass — непрерывный участок трека над горизонтом.
type Pass struct {
	Start          time.Time  `json:"start"`
	End            time.Time  `json:"end"`
	StartAzimuth   float64    `json:"start_azimuth_deg"`
	EndAzimuth     float64    `json:"end_azimuth_deg"`
	MaxAltitudeDeg float64    `json:"max_altitude_deg"`
	MaxAt          time.Time  `json:"max_at"`
	Points         []SkyPoint `json:"points,omitempty"`
}

// Duration возвращает длительность прохода.
func (p Pass) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// GenerateSkyTrack рассчитывает положение цели на небе наблюдателя
// с шагом step на интервале [start, start+span].
// Моменты, для которых источник не дал позицию, пропускаются;
// если не удалось получить ни одной точки, возвращается ошибка источника.
func GenerateSkyTrack(
	ctx context.Context,
	src PositionSource,
	observer GeodeticPoint,
	start time.Time,
	span, step time.Duration,
) ([]SkyPoint, error) {
	if src == nil {
		return nil, ErrNilPropagator
	}

	if step <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStep, step)
	}

	if span < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpan, span)
	}

	if err := observer.Validate(); err != nil {
		return nil, fmt.Errorf("observer: %w", err)
	}

	observerECEF := GeodeticToECEF(observer)
	points := make([]SkyPoint, 0, int(span/step)+1)

	var lastErr error

	for offset := time.Duration(0); offset <= span; offset += step {
		if err := ctx.Err(); err != nil {
			return points, err
		}

		t := start.Add(offset)

		target, err := src.PositionECEF(t)
		if err != nil {
			lastErr = err
			continue
		}

		if target.Validate() != nil {
			lastErr = fmt.Errorf("%w: non-finite position at %s", ErrPropagationFailed, t.Format(time.RFC3339))
			continue
		}

		_, look := lookFrom(observer, observerECEF, target)

		points = append(points, SkyPoint{
			Time:        t,
			AltitudeDeg: look.AltitudeDeg,
			AzimuthDeg:  look.AzimuthDeg,
			RangeM:      look.RangeM,
		})
	}

	if len(points) == 0 && lastErr != nil {
		return nil, propagationError(lastErr)
	}

	return points, nil
}

// SplitVisiblePasses разбивает трек на непрерывные участки с углом места не ниже minAltitudeDeg.
func SplitVisiblePasses(points []SkyPoint, minAltitudeDeg float64) []Pass {
	var (
		passes  []Pass
		current []SkyPoint
	)

	for _, p := range points {
		if p.AltitudeDeg >= minAltitudeDeg {
			current = append(current, p)
			continue
		}

		if len(current) > 0 {
			passes = append(passes, SummarizePass(current))
			current = nil
		}
	}

	if len(current) > 0 {
		passes = append(passes, SummarizePass(current))
	}

	return passes
}

// SummarizePass собирает сводку прохода по его точкам.
func SummarizePass(points []SkyPoint) Pass {
	if len(points) == 0 {
		return Pass{}
	}

	first, last := points[0], points[len(points)-1]
	pass := Pass{
		Start:          first.Time,
		End:            last.Time,
		StartAzimuth:   first.AzimuthDeg,
		EndAzimuth:     last.AzimuthDeg,
		MaxAltitudeDeg: first.AltitudeDeg,
		MaxAt:          first.Time,
		Points:         points,
	}

	for _, p := range points[1:] {
		if p.AltitudeDeg > pass.MaxAltitudeDeg {
			pass.MaxAltitudeDeg = p.AltitudeDeg
			pass.MaxAt = p.Time
		}
	}

	return pass
}
