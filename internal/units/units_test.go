package units

import (
	"math"
	"testing"
)

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name     string
		speedMPS float64
		units    string
		expected float64
	}{
		{"10 m/s to mph", 10.0, MPH, 22.3694},
		{"10 m/s to kmph", 10.0, KMPH, 36.0},
		{"10 m/s to kph", 10.0, KPH, 36.0},
		{"10 m/s to mps", 10.0, MPS, 10.0},
		{"unknown units default to mps", 10.0, "unknown", 10.0},
		{"0 m/s to mph", 0.0, MPH, 0.0},
		{"highway speed 31.29 m/s to mph", 31.29, MPH, 70.0},
		{"city speed 13.89 m/s to kmph", 13.89, KMPH, 50.004},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertSpeed(tt.speedMPS, tt.units)
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("ConvertSpeed(%f, %s) = %f, want %f", tt.speedMPS, tt.units, result, tt.expected)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	for _, u := range ValidUnits {
		if !IsValid(u) {
			t.Errorf("IsValid(%q) = false", u)
		}
	}
	if IsValid("knots") {
		t.Error("IsValid(\"knots\") = true")
	}
	if got, want := ValidUnitsString(), "mps, mph, kmph, kph"; got != want {
		t.Errorf("ValidUnitsString() = %q, want %q", got, want)
	}
}

func TestLabel(t *testing.T) {
	tests := map[string]string{MPS: "m/s", MPH: "mph", KMPH: "km/h", KPH: "km/h", "": "m/s"}
	for unit, want := range tests {
		if got := Label(unit); got != want {
			t.Errorf("Label(%q) = %q, want %q", unit, got, want)
		}
	}
}

func TestCompassHeading(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{45, 45},
		{360, 0},
		{370, 10},
		{-10, 350},
		{-720, 0},
	}
	for _, tt := range tests {
		if got := CompassHeading(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("CompassHeading(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
