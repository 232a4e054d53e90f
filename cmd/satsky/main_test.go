package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/art-injener/satsky-go/internal/tracker"
)

// offlineConfig — конфигурация без сети и кеша: остаётся только встроенный TLE.
const offlineConfig = `
sources:
  celestrak:
    enabled: false
  cache_path: ""
logging:
  level: error
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}

	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)

	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no command", nil, 2},
		{"unknown command", []string{"fly"}, 2},
		{"help", []string{"help"}, 0},
		{"look without target", []string{"look", "-obs", "0,0"}, 2},
		{"look with target and norad", []string{"look", "-obs", "0,0", "-target", "1,0", "-norad", "25544"}, 2},
		{"look unknown flag", []string{"look", "-moon"}, 1},
		{"look bad format", []string{"look", "-obs", "0,0", "-target", "1,0", "-format", "xml"}, 2},
		{"look invalid point", []string{"look", "-obs", "95,0", "-target", "1,0"}, 1},
	}

	for _, tt := range tests {
		if code, _, _ := runCLI(t, tt.args...); code != tt.want {
			t.Errorf("%s: exit code = %d, want %d", tt.name, code, tt.want)
		}
	}
}

func TestRun_LookText(t *testing.T) {
	t.Parallel()

	code, out, errOut := runCLI(t, "look", "-obs", "51.5,0,0", "-target", "51.5,10,400000")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut)
	}

	for _, want := range []string{"altitude=26.07", "azimuth=86.08", "slant range=819.193 km"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_LookJSON(t *testing.T) {
	t.Parallel()

	code, out, errOut := runCLI(t, "look", "-obs", "0,0,0", "-target", "0,0,500000", "-format", "json")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut)
	}

	var look tracker.Topocentric
	if err := json.Unmarshal([]byte(out), &look); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !look.Degenerate || look.AzimuthDeg != 0 || look.AltitudeDeg != 90 {
		t.Errorf("overhead result = %+v", look)
	}
	if look.RangeM < 499999.999 || look.RangeM > 500000.001 {
		t.Errorf("range = %v, want 500000", look.RangeM)
	}
}

func TestRun_LookAtSatellite(t *testing.T) {
	t.Parallel()

	cfg := writeFile(t, "satsky.yaml", offlineConfig)
	at := "2024-01-01T12:00:00Z"

	code, out, errOut := runCLI(t, "look", "-config", cfg, "-obs", "55.7558,37.6173,156",
		"-norad", "25544", "-at", at, "-format", "json")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut)
	}

	var got satelliteLook
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.NoradID != 25544 || got.Time.Format(time.RFC3339) != at {
		t.Errorf("satellite look header = %+v", got)
	}
	if got.AltitudeDeg < -90 || got.AltitudeDeg > 90 || got.AzimuthDeg < 0 || got.AzimuthDeg >= 360 {
		t.Errorf("look out of range: %+v", got.Topocentric)
	}
	// ISS на высоте ~420 км: дальность не меньше высоты и не больше диаметра Земли.
	if got.RangeM < 350e3 || got.RangeM > 2*tracker.WGS84A+1e6 {
		t.Errorf("range = %v m", got.RangeM)
	}

	code, out, errOut = runCLI(t, "look", "-config", cfg, "-obs", "55.7558,37.6173,156", "-norad", "25544", "-at", at)
	if code != 0 {
		t.Fatalf("text: exit code = %d, stderr = %s", code, errOut)
	}
	for _, want := range []string{"Satellite: " + tracker.DefaultTLEName + " (NORAD 25544)", "altitude=", "slant range="} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}

	code, _, _ = runCLI(t, "look", "-config", cfg, "-obs", "0,0", "-norad", "99999", "-at", at)
	if code != 1 {
		t.Errorf("unknown satellite: exit code = %d, want 1", code)
	}
}

func TestRun_TrackFromFile(t *testing.T) {
	t.Parallel()

	cfg := writeFile(t, "satsky.yaml", offlineConfig)
	tle := writeFile(t, "iss.tle", strings.Join([]string{
		tracker.DefaultTLEName, tracker.DefaultTLELine1, tracker.DefaultTLELine2,
	}, "\n"))

	code, out, errOut := runCLI(t, "track",
		"-config", cfg,
		"-tle", tle,
		"-obs", "55.7558,37.6173,156",
		"-start", "2024-01-01T12:00:00Z",
		"-span", "3h",
		"-step", "1m",
		"-points",
		"-format", "json",
	)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut)
	}

	var got trackOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.NoradID != 25544 || got.Name != tracker.DefaultTLEName {
		t.Errorf("satellite = %d %q", got.NoradID, got.Name)
	}
	if len(got.Points) != 181 {
		t.Errorf("points = %d, want 181", len(got.Points))
	}
}

func TestRun_TrackErrors(t *testing.T) {
	t.Parallel()

	cfg := writeFile(t, "satsky.yaml", offlineConfig)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"unknown satellite", []string{"-norad", "99999"}, 1},
		{"missing tle file", []string{"-tle", filepath.Join(t.TempDir(), "none.tle")}, 1},
		{"bad start", []string{"-start", "tomorrow"}, 2},
		{"too many points", []string{"-span", "1000h", "-step", "1s"}, 2},
		{"bad observer", []string{"-obs", "0"}, 1},
		{"min-alt NaN", []string{"-min-alt", "NaN"}, 2},
		{"min-alt out of range", []string{"-min-alt", "91"}, 2},
	}

	for _, tt := range tests {
		args := append([]string{"track", "-config", cfg}, tt.args...)
		if code, _, _ := runCLI(t, args...); code != tt.want {
			t.Errorf("%s: exit code = %d, want %d", tt.name, code, tt.want)
		}
	}
}

func TestRun_TrackSynthetic(t *testing.T) {
	t.Parallel()

	cfg := writeFile(t, "satsky.yaml", offlineConfig)

	code, out, errOut := runCLI(t, "track", "-config", cfg, "-synthetic",
		"-obs", "0,0", "-start", "2024-01-01T00:00:00Z", "-span", "95m", "-step", "1m")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut)
	}

	if !strings.Contains(out, "Satellite: synthetic") || !strings.Contains(out, "Points: 96") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestRun_Demo(t *testing.T) {
	t.Parallel()

	cfg := writeFile(t, "satsky.yaml", offlineConfig)

	code, out, errOut := runCLI(t, "demo", "-config", cfg, "-at", "2024-01-01T12:00:00Z")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, errOut)
	}

	for _, want := range []string{
		"TLE source: inline:builtin",
		"Satellite: " + tracker.DefaultTLEName,
		"Computation trace:",
		"Geodetic subpoint:",
		"Visible above horizon:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("demo output missing %q:\n%s", want, out)
		}
	}
}
