package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"rooflytics/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 512, cfg.Tiling.TileSize)
	assert.Equal(t, 150, cfg.Mask.MinArea)
	assert.Equal(t, 5000.0, cfg.Energy.MaxKWhPerRoof)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(lookupFrom(map[string]string{
		"TILE_SIZE":        "256",
		"USAGE_FACTOR":     "0.05",
		"MAX_KWH_PER_ROOF": "3000",
		"MIN_ROOF_AREA":    "100",
		"KERNEL_SIZE":      "5",
		"LOG_LEVEL":        "debug",
		"SUNLIGHT_HOURS":   "",
	}))
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.Tiling.TileSize)
	assert.Equal(t, 0.05, cfg.Energy.UsageFactor)
	assert.Equal(t, 3000.0, cfg.Energy.MaxKWhPerRoof)
	assert.Equal(t, 100, cfg.Mask.MinArea)
	assert.Equal(t, 5, cfg.Mask.KernelSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 1700.0, cfg.Energy.SunlightHours, "empty values are ignored")
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvUnparseable(t *testing.T) {
	for key, value := range map[string]string{
		"SOLAR_IRRADIANCE": "bright",
		"TILE_SIZE":        "12.5",
	} {
		cfg := Default()
		err := cfg.ApplyEnv(lookupFrom(map[string]string{key: value}))

		var cfgErr *errs.ConfigurationError
		require.True(t, errors.As(err, &cfgErr), key)
		assert.Equal(t, key, cfgErr.Key)
	}
}

func TestValidate(t *testing.T) {
	for name, tc := range map[string]struct {
		mutate func(*Config)
		key    string
	}{
		"even kernel":       {func(c *Config) { c.Mask.KernelSize = 4 }, "mask.kernel_size"},
		"overlap too big":   {func(c *Config) { c.Tiling.Overlap = 512 }, "tiling.overlap"},
		"zero tile":         {func(c *Config) { c.Tiling.TileSize = 0 }, "tiling.tile_size"},
		"few attempts":      {func(c *Config) { c.Thermal.Attempts = 1 }, "thermal.attempts"},
		"threshold":         {func(c *Config) { c.Mask.Threshold = 1.5 }, "mask.threshold"},
		"negative price":    {func(c *Config) { c.Energy.ElectricityPrice = -1 }, "energy.electricity_price"},
		"bad log level":     {func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		"negative min px":   {func(c *Config) { c.Reflectance.MinPixels = -1 }, "reflectance.min_pixels"},
		"negative min area": {func(c *Config) { c.Mask.MinArea = -5 }, "mask.min_area"},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()

			var cfgErr *errs.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tc.key, cfgErr.Key)
		})
	}
}

func TestValidateClampsWorkers(t *testing.T) {
	cfg := Default()
	cfg.Tiling.Workers = 10000
	require.NoError(t, cfg.Validate())
	assert.Equal(t, maxWorkers, cfg.Tiling.Workers)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("ELECTRICITY_PRICE", "0.42")

	path := filepath.Join(t.TempDir(), "rooflytics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tiling:
  tile_size: 1024
mask:
  min_area: 120
energy:
  usage_factor: 0.03
redis:
  address: localhost:6379
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.Tiling.TileSize)
	assert.Equal(t, 120, cfg.Mask.MinArea)
	assert.Equal(t, 0.03, cfg.Energy.UsageFactor)
	assert.Equal(t, 0.42, cfg.Energy.ElectricityPrice, "environment overrides the file")
	assert.Equal(t, 1700.0, cfg.Energy.SunlightHours, "unset keys keep defaults")
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiling: [unterminated"), 0o644))

	_, err := Load(path)
	var cfgErr *errs.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
