package tracker

import (
	"math"
	"time"
)

// Параметры синтетической орбиты по умолчанию (приближение МКС).
const (
	DefaultSyntheticPeriod    = 95 * time.Minute
	DefaultSyntheticMaxLatDeg = 51.6
	DefaultSyntheticAltM      = 420000.0

	// syntheticLonRateDeg — смещение подспутниковой точки по долготе, градусов в минуту.
	syntheticLonRateDeg = 3.6
)

// SyntheticOrbit — упрощённая круговая орбита без TLE.
// Подспутниковая точка движется по синусоиде по широте и равномерно по долготе.
// Используется для демонстраций и тестов там, где SGP4 не нужен.
type SyntheticOrbit struct {
	Period    time.Duration
	MaxLatDeg float64
	AltM      float64
	Epoch     time.Time // Момент нулевой фазы.
}

// DefaultSyntheticOrbit возвращает орбиту с параметрами по умолчанию.
func DefaultSyntheticOrbit(epoch time.Time) SyntheticOrbit {
	return SyntheticOrbit{
		Period:    DefaultSyntheticPeriod,
		MaxLatDeg: DefaultSyntheticMaxLatDeg,
		AltM:      DefaultSyntheticAltM,
		Epoch:     epoch,
	}
}

// Subpoint возвращает подспутниковую точку через phaseMinutes минут после эпохи.
func (o SyntheticOrbit) Subpoint(phaseMinutes float64) GeodeticPoint {
	period := o.Period.Minutes()
	if period <= 0 {
		period = DefaultSyntheticPeriod.Minutes()
	}

	phase := phaseMinutes / period * 2 * math.Pi

	return GeodeticPoint{
		Lat: o.MaxLatDeg * math.Sin(phase),
		Lon: NormalizeLongitude(phaseMinutes*syntheticLonRateDeg - 180),
		Alt: o.AltM,
	}
}

// PositionECEF реализует PositionSource.
func (o SyntheticOrbit) PositionECEF(t time.Time) (ECEFVector, error) {
	return GeodeticToECEF(o.Subpoint(t.Sub(o.Epoch).Minutes())), nil
}
