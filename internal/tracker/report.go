package tracker

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Trace накапливает шаги вычисления для вывода пользователю.
type Trace struct {
	steps []string
}

// Step добавляет шаг "label: value".
func (t *Trace) Step(label string, value any) {
	t.steps = append(t.steps, fmt.Sprintf("%s: %v", label, value))
}

// Steps возвращает копию накопленных шагов.
func (t *Trace) Steps() []string {
	return append([]string(nil), t.steps...)
}

// FormatNumber форматирует число с заданной точностью; нечисловые значения выводятся как "NaN".
func FormatNumber(v float64, digits int) string {
	if !isFinite(v) {
		return "NaN"
	}

	return strconv.FormatFloat(v, 'f', digits, 64)
}

// LookReport — полный набор промежуточных величин конвейера для одной пары наблюдатель/цель.
type LookReport struct {
	Observer     GeodeticPoint `json:"observer"`
	Target       GeodeticPoint `json:"target"`
	ObserverECEF ECEFVector    `json:"observer_ecef"`
	TargetECEF   ECEFVector    `json:"target_ecef"`
	ENU          ENUVector     `json:"enu"`
	Result       Topocentric   `json:"result"`
}

// BuildLookReport прогоняет конвейер и сохраняет все промежуточные величины.
func BuildLookReport(observer, target GeodeticPoint) (LookReport, error) {
	if err := validatePair(observer, target); err != nil {
		return LookReport{}, err
	}

	obsECEF := GeodeticToECEF(observer)
	tgtECEF := GeodeticToECEF(target)
	enu, look := lookFrom(observer, obsECEF, tgtECEF)

	return LookReport{
		Observer:     observer,
		Target:       target,
		ObserverECEF: obsECEF,
		TargetECEF:   tgtECEF,
		ENU:          enu,
		Result:       look,
	}, nil
}

// WriteTo выводит отчёт в текстовом виде.
func (r LookReport) WriteTo(w io.Writer) (int64, error) {
	lines := []string{
		"Coordinate pipeline",
		"",
		fmt.Sprintf("Observer geodetic: lat=%s°, lon=%s°, alt=%s m",
			FormatNumber(r.Observer.Lat, 4), FormatNumber(r.Observer.Lon, 4), FormatNumber(r.Observer.Alt, 1)),
		fmt.Sprintf("Target geodetic:   lat=%s°, lon=%s°, alt=%s m",
			FormatNumber(r.Target.Lat, 4), FormatNumber(r.Target.Lon, 4), FormatNumber(r.Target.Alt, 1)),
		"",
		"Observer ECEF (m)",
		"  " + formatECEF(r.ObserverECEF),
		"Target ECEF (m)",
		"  " + formatECEF(r.TargetECEF),
		"",
		"Relative ENU vector (m)",
		fmt.Sprintf("  east=%s  north=%s  up=%s",
			FormatNumber(r.ENU.East, 3), FormatNumber(r.ENU.North, 3), FormatNumber(r.ENU.Up, 3)),
		"",
		"Topocentric result",
		"  altitude=" + FormatNumber(r.Result.AltitudeDeg, 4) + "°",
		"  azimuth=" + FormatNumber(r.Result.AzimuthDeg, 4) + "°",
		"  slant range=" + FormatNumber(r.Result.RangeM/1000, 3) + " km",
	}

	if r.Result.Degenerate {
		lines = append(lines, "  note: azimuth undefined, fallback applied")
	}

	n, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")

	return int64(n), err
}

// PropagationReport — результат одной пропагации с трассировкой шагов.
type PropagationReport struct {
	TLE      *TLE
	Time     time.Time
	ECI      *ECIPosition
	ECEF     ECEFVector
	Subpoint GeodeticPoint
	Look     *Topocentric // Заполнено, если задан наблюдатель.
	Trace    []string
}

// BuildPropagationReport пропагирует TLE на момент t и собирает все промежуточные величины.
// observer может быть nil — тогда положение на небе не вычисляется.
func BuildPropagationReport(prop OrbitPropagator, tle *TLE, t time.Time, observer *GeodeticPoint) (*PropagationReport, error) {
	if prop == nil {
		return nil, ErrNilPropagator
	}

	var trace Trace

	trace.Step("Input date", t.UTC().Format(time.RFC3339))
	trace.Step("Step 1", "Propagate to ECI")

	eci, err := prop.Propagate(t)
	if err != nil {
		return &PropagationReport{TLE: tle, Time: t, Trace: trace.Steps()}, propagationError(err)
	}

	trace.Step("Step 2", "Compute GMST")
	gmst := GMST(t)
	trace.Step("GMST (rad)", FormatNumber(gmst, 6))

	trace.Step("Step 3", "Convert ECI -> ECEF")
	ecef := eciToECEFWithGMST(eci, gmst)

	trace.Step("Step 4", "Convert ECEF -> geodetic")
	report := &PropagationReport{
		TLE:      tle,
		Time:     t,
		ECI:      eci,
		ECEF:     ecef,
		Subpoint: ECEFToGeodetic(ecef),
	}

	if observer != nil {
		trace.Step("Step 5", "Convert ECEF -> topocentric")

		look, err := LookECEF(*observer, ecef)
		if err != nil {
			report.Trace = trace.Steps()
			return report, err
		}
		report.Look = &look
	}

	report.Trace = trace.Steps()

	return report, nil
}

// WriteTo выводит отчёт о пропагации в текстовом виде.
func (r *PropagationReport) WriteTo(w io.Writer) (int64, error) {
	var lines []string

	if r.TLE != nil {
		lines = append(lines,
			"Satellite: "+r.TLE.Name,
			"TLE:",
			"  "+r.TLE.Line1,
			"  "+r.TLE.Line2,
			"",
		)
	}

	lines = append(lines, "Date (UTC): "+r.Time.UTC().Format(time.RFC3339), "", "Computation trace:")
	for _, step := range r.Trace {
		lines = append(lines, "  - "+step)
	}

	if r.ECI != nil {
		lines = append(lines,
			"",
			"ECI position (km):",
			fmt.Sprintf("  x=%s  y=%s  z=%s", FormatNumber(r.ECI.X, 3), FormatNumber(r.ECI.Y, 3), FormatNumber(r.ECI.Z, 3)),
			"ECI velocity (km/s):",
			fmt.Sprintf("  xdot=%s  ydot=%s  zdot=%s", FormatNumber(r.ECI.Vx, 6), FormatNumber(r.ECI.Vy, 6), FormatNumber(r.ECI.Vz, 6)),
			"",
			"ECEF position (m):",
			"  "+formatECEF(r.ECEF),
			"",
			"Geodetic subpoint:",
			"  lat="+FormatNumber(r.Subpoint.Lat, 4)+" deg",
			"  lon="+FormatNumber(r.Subpoint.Lon, 4)+" deg",
			"  height="+FormatNumber(r.Subpoint.Alt/1000, 4)+" km",
		)
	}

	if r.Look != nil {
		visible := "NO"
		if r.Look.AltitudeDeg > 0 {
			visible = "YES"
		}

		lines = append(lines,
			"",
			"Observer-relative topocentric coordinates",
			"  altitude="+FormatNumber(r.Look.AltitudeDeg, 3)+"°",
			"  azimuth="+FormatNumber(r.Look.AzimuthDeg, 3)+"°",
			"  slant range="+FormatNumber(r.Look.RangeM/1000, 3)+" km",
			"",
			"Visible above horizon: "+visible,
		)
	}

	n, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")

	return int64(n), err
}

func formatECEF(v ECEFVector) string {
	return fmt.Sprintf("x=%s  y=%s  z=%s", FormatNumber(v.X, 3), FormatNumber(v.Y, 3), FormatNumber(v.Z, 3))
}
