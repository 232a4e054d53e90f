package tracker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	pkgerrors "github.com/pkg/errors"
)

// Ошибки SGP4 пропагации.
var (
	ErrInvalidTLEForPropagation = errors.New("invalid TLE for SGP4 propagation")
	ErrPropagationFailed        = errors.New("SGP4 propagation failed")
	ErrNilTLE                   = errors.New("TLE is nil")
	ErrNilPropagator            = errors.New("propagator is nil")
)

// GravityModel определяет модель гравитации для SGP4.
type GravityModel int

const (
	// GravityWGS72 — модель WGS-72 (стандарт для TLE).
	GravityWGS72 GravityModel = iota
	// GravityWGS84 — модель WGS-84.
	GravityWGS84
)

// ECIPosition представляет позицию и скорость спутника в системе ECI (TEME).
// Координаты в километрах, скорости в км/с.
type ECIPosition struct {
	X  float64
	Y  float64
	Z  float64
	Vx float64
	Vy float64
	Vz float64

	Time time.Time
}

// OrbitPropagator — внешний пропагатор орбиты.
// Конвейер координат не реализует орбитальную механику и получает пропагатор явно.
type OrbitPropagator interface {
	Propagate(t time.Time) (*ECIPosition, error)
}

// PositionSource выдаёт позицию цели в ECEF на момент времени.
type PositionSource interface {
	PositionECEF(t time.Time) (ECEFVector, error)
}

// SGP4Propagator — пропагатор SGP4 поверх библиотеки go-satellite.
type SGP4Propagator struct {
	tle       *TLE
	satellite satellite.Satellite
	gravity   GravityModel
}

// NewSGP4Propagator создаёт пропагатор из TLE с моделью гравитации WGS72.
func NewSGP4Propagator(tle *TLE) (*SGP4Propagator, error) {
	return NewSGP4PropagatorWithGravity(tle, GravityWGS72)
}

// NewSGP4PropagatorWithGravity создаёт пропагатор с указанной моделью гравитации.
func NewSGP4PropagatorWithGravity(tle *TLE, gravity GravityModel) (*SGP4Propagator, error) {
	if tle == nil {
		return nil, ErrNilTLE
	}

	if tle.Line1 == "" || tle.Line2 == "" {
		return nil, fmt.Errorf("%w: missing Line1 or Line2", ErrInvalidTLEForPropagation)
	}

	gravConst := satellite.GravityWGS72
	if gravity == GravityWGS84 {
		gravConst = satellite.GravityWGS84
	}

	return &SGP4Propagator{
		tle:       tle,
		satellite: satellite.TLEToSat(tle.Line1, tle.Line2, gravConst),
		gravity:   gravity,
	}, nil
}

// Propagate рассчитывает положение спутника в ECI (TEME) на указанное время.
func (p *SGP4Propagator) Propagate(t time.Time) (*ECIPosition, error) {
	if p == nil {
		return nil, ErrNilPropagator
	}

	t = t.UTC()
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	position, velocity := satellite.Propagate(
		p.satellite,
		year, int(month), day,
		hour, minute, sec,
	)

	// NaN в результате — признак ошибки пропагации (распад орбиты, битый TLE).
	if !isFinite(position.X) || !isFinite(position.Y) || !isFinite(position.Z) {
		return nil, pkgerrors.Wrapf(ErrPropagationFailed,
			"NORAD %d at %s: non-finite position", p.tle.NoradID, t.Format(time.RFC3339))
	}

	return &ECIPosition{
		X:    position.X,
		Y:    position.Y,
		Z:    position.Z,
		Vx:   velocity.X,
		Vy:   velocity.Y,
		Vz:   velocity.Z,
		Time: t,
	}, nil
}

// TLE возвращает исходный TLE.
func (p *SGP4Propagator) TLE() *TLE {
	if p == nil {
		return nil
	}

	return p.tle
}

// GravityModel возвращает используемую модель гравитации.
func (p *SGP4Propagator) GravityModel() GravityModel {
	return p.gravity
}

// GMST рассчитывает Greenwich Mean Sidereal Time (радианы) для указанного времени.
func GMST(t time.Time) float64 {
	t = t.UTC()
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	return satellite.GSTimeFromDate(year, int(month), day, hour, minute, sec)
}

// JulianDay рассчитывает юлианскую дату для указанного времени.
func JulianDay(t time.Time) float64 {
	t = t.UTC()
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	return satellite.JDay(year, int(month), day, hour, minute, sec)
}

// ECIToECEF поворачивает позицию ECI (км) на угол GMST и возвращает ECEF в метрах.
func ECIToECEF(eci *ECIPosition) ECEFVector {
	return eciToECEFWithGMST(eci, GMST(eci.Time))
}

func eciToECEFWithGMST(eci *ECIPosition, gmst float64) ECEFVector {
	cosG := math.Cos(gmst)
	sinG := math.Sin(gmst)

	return ECEFVector{
		X: (eci.X*cosG + eci.Y*sinG) * 1000.0,
		Y: (-eci.X*sinG + eci.Y*cosG) * 1000.0,
		Z: eci.Z * 1000.0,
	}
}

// PropagatedSource адаптирует OrbitPropagator к PositionSource.
type PropagatedSource struct {
	Propagator OrbitPropagator
}

// PositionECEF пропагирует орбиту и переводит результат в ECEF.
func (s PropagatedSource) PositionECEF(t time.Time) (ECEFVector, error) {
	if s.Propagator == nil {
		return ECEFVector{}, ErrNilPropagator
	}

	eci, err := s.Propagator.Propagate(t)
	if err != nil {
		return ECEFVector{}, err
	}

	return ECIToECEF(eci), nil
}

// LookAt пропагирует орбиту на момент t и вычисляет положение спутника на небе наблюдателя.
// Ошибки пропагатора возвращаются как ErrPropagationFailed и не смешиваются с ErrInvalidInput.
func LookAt(ctx context.Context, prop OrbitPropagator, observer GeodeticPoint, t time.Time) (Topocentric, error) {
	if err := ctx.Err(); err != nil {
		return Topocentric{}, err
	}

	if err := observer.Validate(); err != nil {
		return Topocentric{}, fmt.Errorf("observer: %w", err)
	}

	target, err := PropagatedSource{Propagator: prop}.PositionECEF(t)
	if err != nil {
		return Topocentric{}, propagationError(err)
	}

	if err := target.Validate(); err != nil {
		return Topocentric{}, fmt.Errorf("%w: %s", ErrPropagationFailed, err.Error())
	}

	return lookECEF(observer, target), nil
}

// propagationError помечает ошибку как ошибку пропагации, если она ещё не помечена.
func propagationError(err error) error {
	if errors.Is(err, ErrPropagationFailed) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrPropagationFailed, err)
}

// String возвращает строковое представление ECIPosition.
func (pos *ECIPosition) String() string {
	return fmt.Sprintf("ECI[%.3f, %.3f, %.3f km] V[%.6f, %.6f, %.6f km/s] @ %s",
		pos.X, pos.Y, pos.Z,
		pos.Vx, pos.Vy, pos.Vz,
		pos.Time.UTC().Format(time.RFC3339),
	)
}

// Magnitude возвращает расстояние от центра Земли в километрах.
func (pos *ECIPosition) Magnitude() float64 {
	return math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
}

// Speed возвращает скорость спутника в км/с.
func (pos *ECIPosition) Speed() float64 {
	return math.Sqrt(pos.Vx*pos.Vx + pos.Vy*pos.Vy + pos.Vz*pos.Vz)
}
