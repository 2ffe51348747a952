package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds the estimator tuning and host loop parameters.
// Every field is optional; the Get* methods supply defaults for unset fields,
// so partial JSON files are safe.
type TuningConfig struct {
	// GPS freshness gate
	GpsMaxAgeMs *float64 `json:"gps_max_age_ms,omitempty"`

	// Spike rejection thresholds
	AccelSpikeThreshold       *float64 `json:"accel_spike_threshold,omitempty"`
	YawRateSpikeThreshold     *float64 `json:"yaw_rate_spike_threshold,omitempty"`
	GpsVelocitySpikeThreshold *float64 `json:"gps_velocity_spike_threshold,omitempty"`
	SeedSpikeFilter           *bool    `json:"seed_spike_filter,omitempty"`

	// Prediction interval bounds
	MinDtMs *float64 `json:"min_dt_ms,omitempty"`
	MaxDtMs *float64 `json:"max_dt_ms,omitempty"` // 0 disables the cap

	// Noise model
	InitialCovariance        *float64 `json:"initial_covariance,omitempty"`
	ProcessNoiseVelocity     *float64 `json:"process_noise_velocity,omitempty"`
	ProcessNoiseAccel        *float64 `json:"process_noise_accel,omitempty"`
	ProcessNoiseHeading      *float64 `json:"process_noise_heading,omitempty"`
	MeasurementNoiseVelocity *float64 `json:"measurement_noise_velocity,omitempty"`

	WrapHeading          *bool `json:"wrap_heading,omitempty"`
	SymmetrizeCovariance *bool `json:"symmetrize_covariance,omitempty"`

	// Host loop
	CycleInterval *string `json:"cycle_interval,omitempty"` // duration string like "10ms"
	StaleAfter    *string `json:"stale_after,omitempty"`    // duration string like "1s"
	PersistEvery  *int    `json:"persist_every,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated with
// its default value. It is what tuning.defaults.json contains.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		GpsMaxAgeMs:               ptrFloat64(50),
		AccelSpikeThreshold:       ptrFloat64(3.0),
		YawRateSpikeThreshold:     ptrFloat64(30.0),
		GpsVelocitySpikeThreshold: ptrFloat64(10.0),
		SeedSpikeFilter:           ptrBool(false),
		MinDtMs:                   ptrFloat64(10),
		MaxDtMs:                   ptrFloat64(0),
		InitialCovariance:         ptrFloat64(100),
		ProcessNoiseVelocity:      ptrFloat64(0.01),
		ProcessNoiseAccel:         ptrFloat64(0.1),
		ProcessNoiseHeading:       ptrFloat64(0.01),
		MeasurementNoiseVelocity:  ptrFloat64(0.1),
		WrapHeading:               ptrBool(false),
		SymmetrizeCovariance:      ptrBool(true),
		CycleInterval:             ptrString("10ms"),
		StaleAfter:                ptrString("1s"),
		PersistEvery:              ptrInt(1),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/egoctl/...
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// JSON renders the config as indented JSON, as stored alongside each run.
func (c *TuningConfig) JSON() (string, error) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal tuning config: %w", err)
	}
	return string(b), nil
}

// Validate checks that the configuration values are usable.
func (c *TuningConfig) Validate() error {
	nonNegative := []struct {
		name string
		v    *float64
	}{
		{"gps_max_age_ms", c.GpsMaxAgeMs},
		{"accel_spike_threshold", c.AccelSpikeThreshold},
		{"yaw_rate_spike_threshold", c.YawRateSpikeThreshold},
		{"gps_velocity_spike_threshold", c.GpsVelocitySpikeThreshold},
		{"max_dt_ms", c.MaxDtMs},
		{"process_noise_velocity", c.ProcessNoiseVelocity},
		{"process_noise_accel", c.ProcessNoiseAccel},
		{"process_noise_heading", c.ProcessNoiseHeading},
	}
	for _, f := range nonNegative {
		if f.v == nil {
			continue
		}
		if math.IsNaN(*f.v) || math.IsInf(*f.v, 0) || *f.v < 0 {
			return fmt.Errorf("%s must be a finite non-negative number, got %v", f.name, *f.v)
		}
	}

	positive := []struct {
		name string
		v    *float64
	}{
		{"min_dt_ms", c.MinDtMs},
		{"initial_covariance", c.InitialCovariance},
		{"measurement_noise_velocity", c.MeasurementNoiseVelocity},
	}
	for _, f := range positive {
		if f.v == nil {
			continue
		}
		if math.IsNaN(*f.v) || math.IsInf(*f.v, 0) || *f.v <= 0 {
			return fmt.Errorf("%s must be a finite positive number, got %v", f.name, *f.v)
		}
	}

	if c.MaxDtMs != nil && *c.MaxDtMs > 0 && *c.MaxDtMs < c.GetMinDtMs() {
		return fmt.Errorf("max_dt_ms (%v) must be 0 or at least min_dt_ms (%v)", *c.MaxDtMs, c.GetMinDtMs())
	}

	for _, d := range []struct {
		name string
		v    *string
	}{
		{"cycle_interval", c.CycleInterval},
		{"stale_after", c.StaleAfter},
	} {
		if d.v == nil || *d.v == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.v)
		}
	}

	if c.PersistEvery != nil && *c.PersistEvery < 1 {
		return fmt.Errorf("persist_every must be at least 1, got %d", *c.PersistEvery)
	}

	return nil
}

func getFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func getBool(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def // default on parse error
	}
	return d
}

// GetGpsMaxAgeMs returns the gps_max_age_ms value or the default.
func (c *TuningConfig) GetGpsMaxAgeMs() float64 { return getFloat(c.GpsMaxAgeMs, 50) }

// GetAccelSpikeThreshold returns the accel_spike_threshold value or the default.
func (c *TuningConfig) GetAccelSpikeThreshold() float64 { return getFloat(c.AccelSpikeThreshold, 3.0) }

// GetYawRateSpikeThreshold returns the yaw_rate_spike_threshold value or the default.
func (c *TuningConfig) GetYawRateSpikeThreshold() float64 {
	return getFloat(c.YawRateSpikeThreshold, 30.0)
}

// GetGpsVelocitySpikeThreshold returns the gps_velocity_spike_threshold value or the default.
func (c *TuningConfig) GetGpsVelocitySpikeThreshold() float64 {
	return getFloat(c.GpsVelocitySpikeThreshold, 10.0)
}

// GetSeedSpikeFilter returns the seed_spike_filter value or the default.
func (c *TuningConfig) GetSeedSpikeFilter() bool { return getBool(c.SeedSpikeFilter, false) }

// GetMinDtMs returns the min_dt_ms value or the default.
func (c *TuningConfig) GetMinDtMs() float64 { return getFloat(c.MinDtMs, 10) }

// GetMaxDtMs returns the max_dt_ms value or the default (no cap).
func (c *TuningConfig) GetMaxDtMs() float64 { return getFloat(c.MaxDtMs, 0) }

// GetInitialCovariance returns the initial_covariance value or the default.
func (c *TuningConfig) GetInitialCovariance() float64 { return getFloat(c.InitialCovariance, 100) }

// GetProcessNoiseVelocity returns the process_noise_velocity value or the default.
func (c *TuningConfig) GetProcessNoiseVelocity() float64 {
	return getFloat(c.ProcessNoiseVelocity, 0.01)
}

// GetProcessNoiseAccel returns the process_noise_accel value or the default.
func (c *TuningConfig) GetProcessNoiseAccel() float64 { return getFloat(c.ProcessNoiseAccel, 0.1) }

// GetProcessNoiseHeading returns the process_noise_heading value or the default.
func (c *TuningConfig) GetProcessNoiseHeading() float64 {
	return getFloat(c.ProcessNoiseHeading, 0.01)
}

// GetMeasurementNoiseVelocity returns the measurement_noise_velocity value or the default.
func (c *TuningConfig) GetMeasurementNoiseVelocity() float64 {
	return getFloat(c.MeasurementNoiseVelocity, 0.1)
}

// GetWrapHeading returns the wrap_heading value or the default.
func (c *TuningConfig) GetWrapHeading() bool { return getBool(c.WrapHeading, false) }

// GetSymmetrizeCovariance returns the symmetrize_covariance value or the default.
func (c *TuningConfig) GetSymmetrizeCovariance() bool { return getBool(c.SymmetrizeCovariance, true) }

// GetCycleInterval returns the cycle_interval as a time.Duration.
func (c *TuningConfig) GetCycleInterval() time.Duration {
	return getDuration(c.CycleInterval, 10*time.Millisecond)
}

// GetStaleAfter returns the stale_after as a time.Duration.
func (c *TuningConfig) GetStaleAfter() time.Duration {
	return getDuration(c.StaleAfter, time.Second)
}

// GetPersistEvery returns the persist_every value or the default.
func (c *TuningConfig) GetPersistEvery() int {
	if c.PersistEvery == nil {
		return 1
	}
	return *c.PersistEvery
}
