// Package config provides analysis settings: built-in defaults, an optional
// YAML file, and environment overrides.
package config

import (
	"math"
	"os"
	"strconv"

	"rooflytics/internal/energy"
	"rooflytics/internal/errs"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	maxTileSize   = 8192
	maxKernelSize = 31
	maxWorkers    = 256
)

// Config holds every tunable of an analysis job.
type Config struct {
	Tiling      TilingConfig      `yaml:"tiling"`
	Mask        MaskConfig        `yaml:"mask"`
	Reflectance ReflectanceConfig `yaml:"reflectance"`
	Thermal     ThermalConfig     `yaml:"thermal"`
	Energy      energy.Constants  `yaml:"energy"`
	Footprint   FootprintConfig   `yaml:"footprint"`
	Logging     LoggingConfig     `yaml:"logging"`
	Redis       RedisConfig       `yaml:"redis"`
}

// TilingConfig configures tiled inference.
type TilingConfig struct {
	TileSize int `yaml:"tile_size"`
	Overlap  int `yaml:"overlap"`
	Workers  int `yaml:"workers"` // 0 = one per CPU
}

// MaskConfig configures probability thresholding and cleanup.
type MaskConfig struct {
	Threshold  float64 `yaml:"threshold"`
	KernelSize int     `yaml:"kernel_size"`
	MinArea    int     `yaml:"min_area"`
}

// ReflectanceConfig configures per-roof reflectance aggregation.
type ReflectanceConfig struct {
	MinPixels int `yaml:"min_pixels"`
}

// ThermalConfig configures hot/cool clustering.
type ThermalConfig struct {
	Seed     int `yaml:"seed"`
	Attempts int `yaml:"attempts"`
}

// FootprintConfig configures GeoJSON outline export.
type FootprintConfig struct {
	SimplifyTolerance float64 `yaml:"simplify_tolerance"` // ground units
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RedisConfig configures the summary store. An empty address disables it.
type RedisConfig struct {
	Address   string `yaml:"address"`
	MaxIdle   int    `yaml:"max_idle"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Default returns the settings used in production.
func Default() Config {
	return Config{
		Tiling: TilingConfig{
			TileSize: 512,
			Overlap:  0,
		},
		Mask: MaskConfig{
			Threshold:  0.5,
			KernelSize: 3,
			MinArea:    150,
		},
		Reflectance: ReflectanceConfig{
			MinPixels: 50,
		},
		Thermal: ThermalConfig{
			Seed:     42,
			Attempts: 10,
		},
		Energy: energy.DefaultConstants(),
		Footprint: FootprintConfig{
			SimplifyTolerance: 0.25,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Redis: RedisConfig{
			MaxIdle:   3,
			KeyPrefix: "rooflytics",
		},
	}
}

// Load builds a Config from the defaults, the YAML file at path (skipped when
// path is empty), and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "unable to read config file %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, &errs.ConfigurationError{Key: path, Reason: err.Error()}
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables. lookup is normally
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	floats := []struct {
		key string
		dst *float64
	}{
		{"SOLAR_IRRADIANCE", &c.Energy.SolarIrradiance},
		{"SUNLIGHT_HOURS", &c.Energy.SunlightHours},
		{"COOLING_EFFICIENCY", &c.Energy.CoolingEfficiency},
		{"ELECTRICITY_PRICE", &c.Energy.ElectricityPrice},
		{"EMISSION_FACTOR", &c.Energy.EmissionFactor},
		{"USAGE_FACTOR", &c.Energy.UsageFactor},
		{"MAX_KWH_PER_ROOF", &c.Energy.MaxKWhPerRoof},
		{"MASK_THRESHOLD", &c.Mask.Threshold},
	}
	for _, f := range floats {
		s, ok := lookup(f.key)
		if !ok || s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return errs.Config(f.key, "not a number: %q", s)
		}
		*f.dst = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"TILE_SIZE", &c.Tiling.TileSize},
		{"TILE_OVERLAP", &c.Tiling.Overlap},
		{"WORKERS", &c.Tiling.Workers},
		{"KERNEL_SIZE", &c.Mask.KernelSize},
		{"MIN_ROOF_AREA", &c.Mask.MinArea},
		{"MIN_ROOF_PIXELS", &c.Reflectance.MinPixels},
	}
	for _, i := range ints {
		s, ok := lookup(i.key)
		if !ok || s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return errs.Config(i.key, "not an integer: %q", s)
		}
		*i.dst = v
	}

	if s, ok := lookup("LOG_LEVEL"); ok && s != "" {
		c.Logging.Level = s
	}
	if s, ok := lookup("REDIS_ADDRESS"); ok {
		c.Redis.Address = s
	}
	return nil
}

// Validate checks every setting and returns a ConfigurationError for the
// first invalid one.
func (c *Config) Validate() error {
	if c.Tiling.TileSize < 1 || c.Tiling.TileSize > maxTileSize {
		return errs.Config("tiling.tile_size", "must be in [1, %d], got %d", maxTileSize, c.Tiling.TileSize)
	}
	if c.Tiling.Overlap < 0 || c.Tiling.Overlap >= c.Tiling.TileSize {
		return errs.Config("tiling.overlap", "must be in [0, tile_size), got %d", c.Tiling.Overlap)
	}
	if c.Tiling.Workers < 0 {
		return errs.Config("tiling.workers", "cannot be negative")
	}
	if c.Tiling.Workers > maxWorkers {
		// limit to max value
		log.Debugf("tiling.workers value %d exceeds the max value allowed, set to max value %d",
			c.Tiling.Workers, maxWorkers)
		c.Tiling.Workers = maxWorkers
	}

	if math.IsNaN(c.Mask.Threshold) || c.Mask.Threshold <= 0 || c.Mask.Threshold > 1 {
		return errs.Config("mask.threshold", "must be in (0, 1], got %v", c.Mask.Threshold)
	}
	if c.Mask.KernelSize < 1 || c.Mask.KernelSize%2 == 0 || c.Mask.KernelSize > maxKernelSize {
		return errs.Config("mask.kernel_size", "must be an odd number in [1, %d], got %d", maxKernelSize, c.Mask.KernelSize)
	}
	if c.Mask.MinArea < 0 {
		return errs.Config("mask.min_area", "cannot be negative")
	}
	if c.Reflectance.MinPixels < 0 {
		return errs.Config("reflectance.min_pixels", "cannot be negative")
	}
	if c.Thermal.Attempts < 10 {
		return errs.Config("thermal.attempts", "must be at least 10, got %d", c.Thermal.Attempts)
	}
	if c.Footprint.SimplifyTolerance < 0 {
		return errs.Config("footprint.simplify_tolerance", "cannot be negative")
	}
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return errs.Config("logging.level", "%v", err)
	}

	return c.Energy.Validate()
}
