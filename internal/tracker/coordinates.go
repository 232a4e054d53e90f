package tracker

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Константы WGS84 эллипсоида.
const (
	// WGS84A — экваториальный радиус Земли (большая полуось), м.
	WGS84A = 6378137.0

	// WGS84E2 — квадрат первого эксцентриситета.
	WGS84E2 = 6.69437999014e-3

	// WGS84B — полярный радиус Земли (малая полуось), м.
	WGS84B = 6356752.314245

	// Deg2Rad — коэффициент перевода градусов в радианы.
	Deg2Rad = math.Pi / 180.0

	// Rad2Deg — коэффициент перевода радианов в градусы.
	Rad2Deg = 180.0 / math.Pi

	// AzimuthFallback — азимут при вырожденной геометрии (цель в зените или совпадает с наблюдателем).
	AzimuthFallback = 0.0

	// degenerateEpsilon — относительный порог горизонтальной составляющей,
	// ниже которого азимут считается неопределённым.
	degenerateEpsilon = 1e-9
)

// Ошибки топоцентрического конвейера.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrDegenerateGeometry = errors.New("degenerate geometry")
)

// GeodeticPoint — геодезические координаты относительно эллипсоида WGS84.
type GeodeticPoint struct {
	Lat float64 `json:"lat"` // Широта, градусы [-90, 90].
	Lon float64 `json:"lon"` // Долгота, градусы.
	Alt float64 `json:"alt"` // Высота над эллипсоидом, м.
}

// ECEFVector — позиция в системе ECEF (Earth-Centered Earth-Fixed), м.
type ECEFVector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ENUVector — вектор в локальной системе наблюдателя East-North-Up, м.
type ENUVector struct {
	East  float64 `json:"east"`
	North float64 `json:"north"`
	Up    float64 `json:"up"`
}

// Topocentric — положение цели на небе наблюдателя.
type Topocentric struct {
	AltitudeDeg float64 `json:"altitude_deg"` // Угол места, [-90, 90].
	AzimuthDeg  float64 `json:"azimuth_deg"`  // Азимут от севера по часовой стрелке, [0, 360).
	RangeM      float64 `json:"range_m"`      // Наклонная дальность, м.

	// Degenerate выставлен, если горизонтальная составляющая нулевая
	// и азимут заменён на AzimuthFallback.
	Degenerate bool `json:"degenerate"`
}

// Validate проверяет, что координаты конечны и широта лежит в [-90, 90].
func (p GeodeticPoint) Validate() error {
	if !isFinite(p.Lat) || !isFinite(p.Lon) || !isFinite(p.Alt) {
		return fmt.Errorf("%w: non-finite geodetic point (lat=%v, lon=%v, alt=%v)",
			ErrInvalidInput, p.Lat, p.Lon, p.Alt)
	}

	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v outside [-90, 90]", ErrInvalidInput, p.Lat)
	}

	return nil
}

// Validate проверяет, что все компоненты вектора конечны.
func (v ECEFVector) Validate() error {
	if !isFinite(v.X) || !isFinite(v.Y) || !isFinite(v.Z) {
		return fmt.Errorf("%w: non-finite ECEF vector (%v, %v, %v)", ErrInvalidInput, v.X, v.Y, v.Z)
	}

	return nil
}

// Magnitude возвращает длину вектора, м.
func (v ECEFVector) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Err возвращает ErrDegenerateGeometry, если при расчёте был применён запасной азимут.
func (t Topocentric) Err() error {
	if !t.Degenerate {
		return nil
	}

	return fmt.Errorf("%w: azimuth set to %v deg (range %.3f m)", ErrDegenerateGeometry, AzimuthFallback, t.RangeM)
}

// GeodeticToECEF преобразует геодезические координаты в ECEF.
// Широта и долгота в градусах, высота в метрах.
func GeodeticToECEF(p GeodeticPoint) ECEFVector {
	lat := p.Lat * Deg2Rad
	lon := p.Lon * Deg2Rad

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	sinLon := math.Sin(lon)
	cosLon := math.Cos(lon)

	// radiusN — радиус кривизны в первом вертикале.
	radiusN := WGS84A / math.Sqrt(1.0-WGS84E2*sinLat*sinLat)

	return ECEFVector{
		X: (radiusN + p.Alt) * cosLat * cosLon,
		Y: (radiusN + p.Alt) * cosLat * sinLon,
		Z: (radiusN*(1.0-WGS84E2) + p.Alt) * sinLat,
	}
}

// ECEFToGeodetic преобразует ECEF в геодезические координаты.
// Использует итеративный алгоритм Bowring.
func ECEFToGeodetic(v ECEFVector) GeodeticPoint {
	x, y, z := v.X, v.Y, v.Z

	lon := math.Atan2(y, x)

	// Расстояние от оси Z.
	p := math.Sqrt(x*x + y*y)

	// Начальное приближение широты.
	lat := math.Atan2(z, p*(1.0-WGS84E2))

	const maxIterations = 10
	const tolerance = 1e-12

	for range maxIterations {
		sinLat := math.Sin(lat)
		radiusN := WGS84A / math.Sqrt(1.0-WGS84E2*sinLat*sinLat)

		latNew := math.Atan2(z+WGS84E2*radiusN*sinLat, p)
		if math.Abs(latNew-lat) < tolerance {
			lat = latNew
			break
		}

		lat = latNew
	}

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	radiusN := WGS84A / math.Sqrt(1.0-WGS84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - radiusN
	} else {
		// Вблизи полюсов.
		alt = math.Abs(z)/math.Abs(sinLat) - radiusN*(1.0-WGS84E2)
	}

	return GeodeticPoint{
		Lat: lat * Rad2Deg,
		Lon: lon * Rad2Deg,
		Alt: alt,
	}
}

// ECEFToENU переводит вектор от наблюдателя к цели в локальную систему ENU наблюдателя.
// observer — геодезические координаты наблюдателя (используются только широта и долгота).
func ECEFToENU(observer GeodeticPoint, observerECEF, targetECEF ECEFVector) ENUVector {
	d := mat.NewVecDense(3, []float64{
		targetECEF.X - observerECEF.X,
		targetECEF.Y - observerECEF.Y,
		targetECEF.Z - observerECEF.Z,
	})

	var local mat.VecDense
	local.MulVec(enuRotation(observer), d)

	return ENUVector{
		East:  local.AtVec(0),
		North: local.AtVec(1),
		Up:    local.AtVec(2),
	}
}

// enuRotation возвращает матрицу поворота ECEF → ENU для наблюдателя.
// Строки матрицы — орты East, North, Up в ECEF.
func enuRotation(observer GeodeticPoint) *mat.Dense {
	lat := observer.Lat * Deg2Rad
	lon := observer.Lon * Deg2Rad

	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)

	return mat.NewDense(3, 3, []float64{
		-sinLon, cosLon, 0,
		-sinLat * cosLon, -sinLat * sinLon, cosLat,
		cosLat * cosLon, cosLat * sinLon, sinLat,
	})
}

// ENUToECEF выполняет обратное преобразование: локальный вектор ENU наблюдателя → позиция цели в ECEF.
// Матрица поворота ортогональна, поэтому обратная к ней — транспонированная.
func ENUToECEF(observer GeodeticPoint, observerECEF ECEFVector, enu ENUVector) ECEFVector {
	rot := enuRotation(observer)

	local := mat.NewVecDense(3, []float64{enu.East, enu.North, enu.Up})

	var delta mat.VecDense
	delta.MulVec(rot.T(), local)

	return ECEFVector{
		X: observerECEF.X + delta.AtVec(0),
		Y: observerECEF.Y + delta.AtVec(1),
		Z: observerECEF.Z + delta.AtVec(2),
	}
}

// ENUToTopocentric вычисляет угол места, азимут и дальность по вектору ENU.
// Если горизонтальная составляющая вырождена, азимут равен AzimuthFallback,
// а при нулевой дальности угол места принимается равным 90°.
// Вектор должен быть конечным: для NaN и Inf все поля результата равны NaN,
// а Degenerate не выставляется. Look, LookECEF и LookAt проверяют входы до вызова.
func ENUToTopocentric(enu ENUVector) Topocentric {
	if !isFinite(enu.East) || !isFinite(enu.North) || !isFinite(enu.Up) {
		nan := math.NaN()
		return Topocentric{AltitudeDeg: nan, AzimuthDeg: nan, RangeM: nan}
	}

	horizontal := math.Hypot(enu.East, enu.North)
	rng := math.Hypot(horizontal, enu.Up)

	if horizontal <= degenerateEpsilon*math.Max(rng, 1.0) {
		altitude := 90.0
		if enu.Up < 0 {
			altitude = -90.0
		}

		return Topocentric{
			AltitudeDeg: altitude,
			AzimuthDeg:  AzimuthFallback,
			RangeM:      rng,
			Degenerate:  true,
		}
	}

	return Topocentric{
		AltitudeDeg: math.Atan2(enu.Up, horizontal) * Rad2Deg,
		AzimuthDeg:  normalizeAzimuth(math.Atan2(enu.East, enu.North) * Rad2Deg),
		RangeM:      rng,
	}
}

// Look вычисляет положение цели на небе наблюдателя по геодезическим координатам обоих.
func Look(observer, target GeodeticPoint) (Topocentric, error) {
	if err := validatePair(observer, target); err != nil {
		return Topocentric{}, err
	}

	return lookECEF(observer, GeodeticToECEF(target)), nil
}

func validatePair(observer, target GeodeticPoint) error {
	if err := observer.Validate(); err != nil {
		return fmt.Errorf("observer: %w", err)
	}

	if err := target.Validate(); err != nil {
		return fmt.Errorf("target: %w", err)
	}

	return nil
}

// LookECEF вычисляет положение цели, заданной уже в ECEF (например, из пропагатора).
func LookECEF(observer GeodeticPoint, target ECEFVector) (Topocentric, error) {
	if err := observer.Validate(); err != nil {
		return Topocentric{}, fmt.Errorf("observer: %w", err)
	}

	if err := target.Validate(); err != nil {
		return Topocentric{}, fmt.Errorf("target: %w", err)
	}

	return lookECEF(observer, target), nil
}

func lookECEF(observer GeodeticPoint, target ECEFVector) Topocentric {
	_, look := lookFrom(observer, GeodeticToECEF(observer), target)

	return look
}

// lookFrom — единственный путь конвейера ECEF → ENU → топоцентрические координаты.
// observerECEF передаётся явно, чтобы трек не пересчитывал его на каждом шаге.
func lookFrom(observer GeodeticPoint, observerECEF, target ECEFVector) (ENUVector, Topocentric) {
	enu := ECEFToENU(observer, observerECEF, target)

	return enu, ENUToTopocentric(enu)
}

// ParseGeodeticPoint разбирает строку "lat,lon[,alt]"; высота по умолчанию 0 м.
func ParseGeodeticPoint(raw string) (GeodeticPoint, error) {
	parts := strings.Split(raw, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return GeodeticPoint{}, fmt.Errorf("%w: expected lat,lon[,alt], got %q", ErrInvalidInput, raw)
	}

	var values [3]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return GeodeticPoint{}, fmt.Errorf("%w: %q is not a number", ErrInvalidInput, part)
		}
		values[i] = v
	}

	p := GeodeticPoint{Lat: values[0], Lon: values[1], Alt: values[2]}
	if err := p.Validate(); err != nil {
		return GeodeticPoint{}, err
	}

	return p, nil
}

// NormalizeLongitude приводит долготу к диапазону (-180, 180].
func NormalizeLongitude(deg float64) float64 {
	v := math.Mod(math.Mod(deg+180, 360)+360, 360) - 180
	if v == -180 {
		v = 180
	}

	return v
}

// normalizeAzimuth приводит азимут к диапазону [0, 360).
func normalizeAzimuth(deg float64) float64 {
	az := math.Mod(deg+360, 360)
	if az >= 360 || az < 0 {
		az = 0
	}

	return az
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
