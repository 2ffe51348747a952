package egomotion

// StateSize is the number of tracked quantities in the state vector.
const StateSize = 5

// State vector indices.
const (
	IdxVelX = iota
	IdxVelY
	IdxAccelX
	IdxAccelY
	IdxHeading
)

// EstimatorState is the estimator's memory between control cycles.
// It is owned by exactly one caller; nothing in this package retains it.
type EstimatorState struct {
	// X = [vx, vy, ax, ay, heading_deg]
	X [StateSize]float64
	// P is the 5x5 covariance, row-major.
	P [StateSize * StateSize]float64

	// LastUpdateTime is the CurrentTime (ms) of the last applied cycle.
	LastUpdateTime float64

	// Last accepted value per channel, consulted by the spike filter.
	LastAccelX  float64
	LastAccelY  float64
	LastYawRate float64
	LastGpsVelX float64
	LastGpsVelY float64

	// Seeded marks channels whose first sample has been taken
	// unconditionally. Only used when Config.SeedSpikeFilter is set.
	Seeded ChannelSet
}

// TimeSample carries the scheduler time for the current cycle.
type TimeSample struct {
	CurrentTime float64 `json:"current_time_ms"`
}

// GpsSample is a GPS velocity fix in m/s stamped with its acquisition time (ms).
type GpsSample struct {
	Timestamp float64 `json:"timestamp_ms"`
	VelocityX float64 `json:"velocity_x"`
	VelocityY float64 `json:"velocity_y"`
}

// ImuSample is one inertial reading: accelerations in m/s², yaw rate in deg/s.
type ImuSample struct {
	AccelX  float64 `json:"accel_x"`
	AccelY  float64 `json:"accel_y"`
	YawRate float64 `json:"yaw_rate"`
}

// EgoMotionRecord is the per-cycle output consumed by the control stack.
// Position is not estimated and is always zero.
type EgoMotionRecord struct {
	VelocityX     float64 `json:"velocity_x"`
	VelocityY     float64 `json:"velocity_y"`
	AccelerationX float64 `json:"acceleration_x"`
	AccelerationY float64 `json:"acceleration_y"`
	Heading       float64 `json:"heading"`
	PositionX     float64 `json:"position_x"`
	PositionY     float64 `json:"position_y"`
	PositionZ     float64 `json:"position_z"`
}

// CycleReport describes what a single Step did. It is informational only;
// the estimator contract does not depend on callers inspecting it.
type CycleReport struct {
	// Applied is false when the call was a no-op.
	Applied      bool       `json:"applied"`
	DtSeconds    float64    `json:"dt_seconds"`
	GpsFresh     bool       `json:"gps_fresh"`
	GpsCorrected bool       `json:"gps_corrected"`
	Singular     bool       `json:"singular"`
	Rejected     ChannelSet `json:"rejected"`
	// Innovation is the GPS velocity residual before correction.
	Innovation [2]float64 `json:"innovation"`
}
