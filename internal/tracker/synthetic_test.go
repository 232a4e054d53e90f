package tracker

import (
	"math"
	"testing"
	"time"
)

func TestSyntheticOrbit_Subpoint(t *testing.T) {
	t.Parallel()

	orbit := DefaultSyntheticOrbit(issEpoch)
	quarter := DefaultSyntheticPeriod.Minutes() / 4

	tests := []struct {
		name    string
		minutes float64
		wantLat float64
		wantLon float64
	}{
		{"epoch", 0, 0, 180},
		{"quarter period", quarter, DefaultSyntheticMaxLatDeg, NormalizeLongitude(quarter*3.6 - 180)},
		{"half period", 2 * quarter, 0, NormalizeLongitude(2*quarter*3.6 - 180)},
		{"three quarters", 3 * quarter, -DefaultSyntheticMaxLatDeg, NormalizeLongitude(3*quarter*3.6 - 180)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := orbit.Subpoint(tt.minutes)

			if !almostEqual(got.Lat, tt.wantLat, 1e-9) {
				t.Errorf("Lat = %v, want %v", got.Lat, tt.wantLat)
			}
			if !almostEqual(got.Lon, tt.wantLon, 1e-9) {
				t.Errorf("Lon = %v, want %v", got.Lon, tt.wantLon)
			}
			if got.Alt != DefaultSyntheticAltM {
				t.Errorf("Alt = %v, want %v", got.Alt, DefaultSyntheticAltM)
			}
		})
	}
}

func TestSyntheticOrbit_Bounds(t *testing.T) {
	t.Parallel()

	orbit := DefaultSyntheticOrbit(issEpoch)

	for m := 0.0; m < 24*60; m += 0.5 {
		p := orbit.Subpoint(m)

		if math.Abs(p.Lat) > DefaultSyntheticMaxLatDeg+1e-9 {
			t.Fatalf("Subpoint(%v).Lat = %v exceeds max", m, p.Lat)
		}
		if p.Lon <= -180 || p.Lon > 180 {
			t.Fatalf("Subpoint(%v).Lon = %v out of (-180, 180]", m, p.Lon)
		}
	}
}

func TestSyntheticOrbit_ZeroPeriodFallsBack(t *testing.T) {
	t.Parallel()

	custom := SyntheticOrbit{MaxLatDeg: 10, AltM: 1000, Epoch: issEpoch}
	def := SyntheticOrbit{Period: DefaultSyntheticPeriod, MaxLatDeg: 10, AltM: 1000, Epoch: issEpoch}

	if custom.Subpoint(17) != def.Subpoint(17) {
		t.Errorf("zero period: %+v, want %+v", custom.Subpoint(17), def.Subpoint(17))
	}
}

func TestSyntheticOrbit_PositionECEF(t *testing.T) {
	t.Parallel()

	orbit := DefaultSyntheticOrbit(issEpoch)
	at := issEpoch.Add(30 * time.Minute)

	got, err := orbit.PositionECEF(at)
	if err != nil {
		t.Fatalf("PositionECEF() error = %v", err)
	}

	back := ECEFToGeodetic(got)
	want := orbit.Subpoint(30)

	if !almostEqual(back.Lat, want.Lat, toleranceDegree) ||
		!almostEqual(back.Lon, want.Lon, toleranceDegree) ||
		!almostEqual(back.Alt, want.Alt, toleranceMeters) {
		t.Errorf("ECEFToGeodetic(PositionECEF) = %+v, want %+v", back, want)
	}
}
