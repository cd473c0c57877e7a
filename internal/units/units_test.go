package units

import (
	"math"
	"testing"
)

func TestToRadians(t *testing.T) {
	tests := []struct {
		angle float64
		unit  string
		want  float64
	}{
		{180, Degrees, math.Pi},
		{90, Degrees, math.Pi / 2},
		{-15, Degrees, -15 * math.Pi / 180},
		{1.5, Radians, 1.5},
		{360, "", 2 * math.Pi},
	}
	for _, tt := range tests {
		if got := ToRadians(tt.angle, tt.unit); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("ToRadians(%v, %q) = %v, want %v", tt.angle, tt.unit, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, deg := range []float64{0, 0.1719, 15, 90, 359.9} {
		if got := RadToDeg(DegToRad(deg)); math.Abs(got-deg) > 1e-9 {
			t.Errorf("RadToDeg(DegToRad(%v)) = %v", deg, got)
		}
	}
}

func TestIsValid(t *testing.T) {
	for _, u := range ValidUnits {
		if !IsValid(u) {
			t.Errorf("IsValid(%q) = false", u)
		}
	}
	if IsValid("grad") {
		t.Error("IsValid(\"grad\") = true")
	}
}
