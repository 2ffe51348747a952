package egomotion

import (
	"math"
	"testing"
)

func TestGpsFresh(t *testing.T) {
	tests := []struct {
		name    string
		current float64
		gpsTs   float64
		want    bool
	}{
		{"same time", 1000, 1000, true},
		{"20ms old", 1000, 980, true},
		{"exactly 50ms old", 1000, 950, true},
		{"50.1ms old", 1000, 949.9, false},
		{"110ms old", 1000, 890, false},
		{"50ms in the future", 1000, 1050, true},
		{"60ms in the future", 1000, 1060, false},
		{"NaN timestamp", 1000, math.NaN(), false},
		{"infinite timestamp", 1000, math.Inf(-1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GpsFresh(tt.current, tt.gpsTs, DefaultGpsMaxAgeMs); got != tt.want {
				t.Errorf("GpsFresh(%v, %v) = %v, want %v", tt.current, tt.gpsTs, got, tt.want)
			}
		})
	}
}
