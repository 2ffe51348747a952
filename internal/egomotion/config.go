package egomotion

import "github.com/banshee-data/egomotion/internal/config"

// Default estimator parameters.
const (
	DefaultGpsMaxAgeMs               = 50.0
	DefaultAccelSpikeThreshold       = 3.0
	DefaultYawRateSpikeThreshold     = 30.0
	DefaultGpsVelocitySpikeThreshold = 10.0
	DefaultMinDtMs                   = 10.0
	DefaultInitialCovariance         = 100.0
	DefaultProcessNoiseVelocity      = 0.01
	DefaultProcessNoiseAccel         = 0.1
	DefaultProcessNoiseHeading       = 0.01
	DefaultMeasurementNoiseVelocity  = 0.1
)

// Config holds the estimator's thresholds and noise model.
type Config struct {
	// GpsMaxAgeMs is the largest |CurrentTime - GpsSample.Timestamp| accepted.
	GpsMaxAgeMs float64

	AccelSpikeThreshold       float64 // m/s²
	YawRateSpikeThreshold     float64 // deg/s
	GpsVelocitySpikeThreshold float64 // m/s

	// MinDtMs floors the elapsed time between cycles.
	MinDtMs float64
	// MaxDtMs caps the elapsed time between cycles. Zero disables the cap.
	MaxDtMs float64

	InitialCovariance float64

	// Q diagonal, added once per prediction.
	ProcessNoiseVelocity float64
	ProcessNoiseAccel    float64
	ProcessNoiseHeading  float64

	// R diagonal for the GPS velocity observation.
	MeasurementNoiseVelocity float64

	// WrapHeading canonicalises heading into [-180, 180) after prediction.
	WrapHeading bool
	// SymmetrizeCovariance replaces P with (P + Pᵀ)/2 after each correction.
	SymmetrizeCovariance bool
	// SeedSpikeFilter accepts the first finite sample of each channel
	// after Initialize regardless of its deviation from zero.
	SeedSpikeFilter bool
}

// DefaultConfig returns the built-in estimator configuration.
func DefaultConfig() Config {
	return Config{
		GpsMaxAgeMs:               DefaultGpsMaxAgeMs,
		AccelSpikeThreshold:       DefaultAccelSpikeThreshold,
		YawRateSpikeThreshold:     DefaultYawRateSpikeThreshold,
		GpsVelocitySpikeThreshold: DefaultGpsVelocitySpikeThreshold,
		MinDtMs:                   DefaultMinDtMs,
		InitialCovariance:         DefaultInitialCovariance,
		ProcessNoiseVelocity:      DefaultProcessNoiseVelocity,
		ProcessNoiseAccel:         DefaultProcessNoiseAccel,
		ProcessNoiseHeading:       DefaultProcessNoiseHeading,
		MeasurementNoiseVelocity:  DefaultMeasurementNoiseVelocity,
		SymmetrizeCovariance:      true,
	}
}

// ConfigFromTuning builds a Config from a TuningConfig.
// Fields left unset in cfg fall back to the TuningConfig defaults.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		GpsMaxAgeMs:               cfg.GetGpsMaxAgeMs(),
		AccelSpikeThreshold:       cfg.GetAccelSpikeThreshold(),
		YawRateSpikeThreshold:     cfg.GetYawRateSpikeThreshold(),
		GpsVelocitySpikeThreshold: cfg.GetGpsVelocitySpikeThreshold(),
		MinDtMs:                   cfg.GetMinDtMs(),
		MaxDtMs:                   cfg.GetMaxDtMs(),
		InitialCovariance:         cfg.GetInitialCovariance(),
		ProcessNoiseVelocity:      cfg.GetProcessNoiseVelocity(),
		ProcessNoiseAccel:         cfg.GetProcessNoiseAccel(),
		ProcessNoiseHeading:       cfg.GetProcessNoiseHeading(),
		MeasurementNoiseVelocity:  cfg.GetMeasurementNoiseVelocity(),
		WrapHeading:               cfg.GetWrapHeading(),
		SymmetrizeCovariance:      cfg.GetSymmetrizeCovariance(),
		SeedSpikeFilter:           cfg.GetSeedSpikeFilter(),
	}
}
