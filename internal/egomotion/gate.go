package egomotion

import "math"

// GpsFresh reports whether a GPS fix stamped gpsTimestamp may be fused at
// currentTime. The boundary is inclusive. A NaN or infinite gap is never fresh.
func GpsFresh(currentTime, gpsTimestamp, maxAgeMs float64) bool {
	return math.Abs(currentTime-gpsTimestamp) <= maxAgeMs
}
