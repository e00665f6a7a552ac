// Package model defines the data structures for gelpilot's configuration,
// protocols, labware, run state, and status enums.
package model

// Config is the bench configuration loaded from .gelpilot/config.yaml.
type Config struct {
	SchemaVersion int                 `yaml:"schema_version"`
	FileType      string              `yaml:"file_type"`
	Bench         BenchConfig         `yaml:"bench"`
	Robot         RobotConfig         `yaml:"robot"`
	Pipette       PipetteConfig       `yaml:"pipette"`
	Thermal       ThermalConfig       `yaml:"thermal"`
	Mixing        MixingConfig        `yaml:"mixing"`
	Logging       LoggingConfig       `yaml:"logging"`
	Notifications NotificationConfig  `yaml:"notifications"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Calibration   []CalibrationOffset `yaml:"calibration,omitempty"`
}

type BenchConfig struct {
	Name    string `yaml:"name"`
	Created string `yaml:"created"`
	Root    string `yaml:"root"`
}

type RobotConfig struct {
	Driver         string  `yaml:"driver"` // "simulator" is the only built-in
	GantrySpeedMMS float64 `yaml:"gantry_speed_mm_s"`
}

type PipetteConfig struct {
	Channels           int     `yaml:"channels"` // 1 or 8
	MinVolumeUL        float64 `yaml:"min_volume_ul"`
	MaxVolumeUL        float64 `yaml:"max_volume_ul"`
	AspirateRateULS    float64 `yaml:"aspirate_rate_ul_s"`
	DispenseRateULS    float64 `yaml:"dispense_rate_ul_s"`
	BlowoutRateULS     float64 `yaml:"blowout_rate_ul_s"`
	WithdrawalSpeedMMS float64 `yaml:"withdrawal_speed_mm_s"` // slow exit after viscous mixes
}

type ThermalConfig struct {
	PollIntervalMS    int     `yaml:"poll_interval_ms"`
	StableToleranceC  float64 `yaml:"stable_tolerance_c"`
	SettleSamples     int     `yaml:"settle_samples"`
	DefaultTimeoutSec int     `yaml:"default_timeout_sec"`
	TimeoutPolicy     string  `yaml:"timeout_policy"` // "abort" or "proceed_with_warning"
	MaxReadFailures   int     `yaml:"max_read_failures"`
}

type MixingConfig struct {
	MaxFillFraction      float64 `yaml:"max_fill_fraction"`
	InterstitialPauseSec int     `yaml:"interstitial_pause_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type NotificationConfig struct {
	Enabled bool `yaml:"enabled"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// CalibrationOffset overrides the labware library's offset for one labware
// on this bench. Values add to the library definition, they do not replace it.
type CalibrationOffset struct {
	LabwareID string `yaml:"labware_id"`
	Offset    Point  `yaml:"offset"`
}

// CalibrationMap keys the calibration entries by labware ID. Duplicate
// entries for one labware accumulate, matching the additive offset model.
func (c *Config) CalibrationMap() map[string]Point {
	if len(c.Calibration) == 0 {
		return nil
	}
	m := make(map[string]Point, len(c.Calibration))
	for _, cal := range c.Calibration {
		m[cal.LabwareID] = m[cal.LabwareID].Add(cal.Offset)
	}
	return m
}

// Timeout policies for temperature gates.
const (
	TimeoutPolicyAbort   = "abort"
	TimeoutPolicyProceed = "proceed_with_warning"
)

// DefaultConfig returns the built-in defaults applied underneath the bench
// config file. The template config.yaml spells these out; this keeps old
// workspaces working when new keys appear.
func DefaultConfig() Config {
	return Config{
		SchemaVersion: 1,
		FileType:      FileTypeBenchConfig,
		Robot: RobotConfig{
			Driver:         "simulator",
			GantrySpeedMMS: 100,
		},
		Pipette: PipetteConfig{
			Channels:           1,
			MinVolumeUL:        1.0,
			MaxVolumeUL:        20.0,
			AspirateRateULS:    3.0,
			DispenseRateULS:    4.0,
			BlowoutRateULS:     5.0,
			WithdrawalSpeedMMS: 5.0,
		},
		Thermal: ThermalConfig{
			PollIntervalMS:    500,
			StableToleranceC:  0.5,
			SettleSamples:     3,
			DefaultTimeoutSec: 600,
			TimeoutPolicy:     TimeoutPolicyAbort,
			MaxReadFailures:   3,
		},
		Mixing: MixingConfig{
			MaxFillFraction:      0.8,
			InterstitialPauseSec: 2,
		},
		Logging:       LoggingConfig{Level: "info"},
		Notifications: NotificationConfig{Enabled: true},
		Metrics:       MetricsConfig{Enabled: false, ListenAddr: "127.0.0.1:9464"},
	}
}

// ApplyDefaults fills zero-valued fields from DefaultConfig. Booleans are
// left alone: false is a meaningful setting for them.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.Robot.Driver == "" {
		c.Robot.Driver = def.Robot.Driver
	}
	if c.Robot.GantrySpeedMMS == 0 {
		c.Robot.GantrySpeedMMS = def.Robot.GantrySpeedMMS
	}
	if c.Pipette.Channels == 0 {
		c.Pipette.Channels = def.Pipette.Channels
	}
	if c.Pipette.MinVolumeUL == 0 {
		c.Pipette.MinVolumeUL = def.Pipette.MinVolumeUL
	}
	if c.Pipette.MaxVolumeUL == 0 {
		c.Pipette.MaxVolumeUL = def.Pipette.MaxVolumeUL
	}
	if c.Pipette.AspirateRateULS == 0 {
		c.Pipette.AspirateRateULS = def.Pipette.AspirateRateULS
	}
	if c.Pipette.DispenseRateULS == 0 {
		c.Pipette.DispenseRateULS = def.Pipette.DispenseRateULS
	}
	if c.Pipette.BlowoutRateULS == 0 {
		c.Pipette.BlowoutRateULS = def.Pipette.BlowoutRateULS
	}
	if c.Pipette.WithdrawalSpeedMMS == 0 {
		c.Pipette.WithdrawalSpeedMMS = def.Pipette.WithdrawalSpeedMMS
	}
	if c.Thermal.PollIntervalMS == 0 {
		c.Thermal.PollIntervalMS = def.Thermal.PollIntervalMS
	}
	if c.Thermal.StableToleranceC == 0 {
		c.Thermal.StableToleranceC = def.Thermal.StableToleranceC
	}
	if c.Thermal.SettleSamples == 0 {
		c.Thermal.SettleSamples = def.Thermal.SettleSamples
	}
	if c.Thermal.DefaultTimeoutSec == 0 {
		c.Thermal.DefaultTimeoutSec = def.Thermal.DefaultTimeoutSec
	}
	if c.Thermal.TimeoutPolicy == "" {
		c.Thermal.TimeoutPolicy = def.Thermal.TimeoutPolicy
	}
	if c.Thermal.MaxReadFailures == 0 {
		c.Thermal.MaxReadFailures = def.Thermal.MaxReadFailures
	}
	if c.Mixing.MaxFillFraction == 0 {
		c.Mixing.MaxFillFraction = def.Mixing.MaxFillFraction
	}
	if c.Mixing.InterstitialPauseSec == 0 {
		c.Mixing.InterstitialPauseSec = def.Mixing.InterstitialPauseSec
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = def.Metrics.ListenAddr
	}
}

// Validate checks the bench config for values the run cannot proceed with.
func (c *Config) Validate() *ValidationErrors {
	ve := &ValidationErrors{}
	if c.Pipette.Channels != 1 && c.Pipette.Channels != 8 {
		ve.Add("pipette.channels", "must be 1 or 8")
	}
	if c.Pipette.MinVolumeUL <= 0 {
		ve.Add("pipette.min_volume_ul", "must be positive")
	}
	if c.Pipette.MaxVolumeUL <= c.Pipette.MinVolumeUL {
		ve.Add("pipette.max_volume_ul", "must exceed min_volume_ul")
	}
	if c.Thermal.TimeoutPolicy != TimeoutPolicyAbort && c.Thermal.TimeoutPolicy != TimeoutPolicyProceed {
		ve.Add("thermal.timeout_policy", "must be \"abort\" or \"proceed_with_warning\"")
	}
	if c.Mixing.MaxFillFraction <= 0 || c.Mixing.MaxFillFraction > 1.0 {
		ve.Add("mixing.max_fill_fraction", "must be in (0, 1]")
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}
