package blockperf

import (
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/Octogonapus/BlockBenchmark/aggregator"
	"github.com/Octogonapus/BlockBenchmark/baseline"
	"github.com/Octogonapus/BlockBenchmark/fio"
)

type BaselinesConfig struct {
	// Location is a local path or an s3://bucket/key URI. Empty disables baseline checks.
	Location    string `mapstructure:"location"`
	KeyTemplate string `mapstructure:"key_template"`
}

// Config is the block device test configuration. It is loaded once and treated as read-only.
type Config struct {
	Time            int                                  `mapstructure:"time"` // seconds, also the sample count per CPU series
	Omit            int                                  `mapstructure:"omit"` // ramp-up seconds
	LoadFactor      int                                  `mapstructure:"load_factor"`
	BlockDeviceSize int                                  `mapstructure:"block_device_size"` // MiB
	Device          string                               `mapstructure:"device"`
	FioModes        []fio.Mode                           `mapstructure:"fio_modes"`
	FioBlockSizes   []int                                `mapstructure:"fio_blk_sizes"`
	Measurements    map[string]aggregator.MeasurementDef `mapstructure:"measurements"`
	Baselines       BaselinesConfig                      `mapstructure:"baselines"`
	ResultsDir      string                               `mapstructure:"results_dir"`
	PipeTimeout     time.Duration                        `mapstructure:"pipe_timeout"`
	Iterations      int                                  `mapstructure:"iterations"`
	MinFioVersion   string                               `mapstructure:"min_fio_version"`
	Debug           bool                                 `mapstructure:"debug"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device", "vdb")
	v.SetDefault("results_dir", "results")
	v.SetDefault("iterations", 1)
	v.SetDefault("min_fio_version", "3.0")
	v.SetDefault("load_factor", 1)
	v.SetDefault("baselines.key_template", baseline.DefaultKeyTemplate)
}

// DirectionHookFunc decodes fio directions from their names.
func DirectionHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(fio.Read) {
			return data, nil
		}
		return fio.ParseDirection(data.(string))
	}
}

var decodeHook = viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
	mapstructure.StringToTimeDurationHookFunc(),
	DirectionHookFunc(),
))

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	err := v.ReadInConfig()
	if err != nil {
		return nil, fmt.Errorf("reading config failed: %w", err)
	}

	cfg := &Config{}
	err = v.Unmarshal(cfg, decodeHook)
	if err != nil {
		return nil, fmt.Errorf("decoding config failed: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateMeasurement checks a definition against what the exercise records under name. Ids with a
// direction qualifier are fio log series.
func validateMeasurement(name string, def aggregator.MeasurementDef) error {
	id := aggregator.ParseMeasurementID(name, fio.DirectionNames...)
	if id.Qualifier == "" {
		return def.Validate()
	}
	if !slices.Contains(logMeasurements, id.Base) {
		return fmt.Errorf("fio logs no %q per direction, expected one of %v", id.Base, logMeasurements)
	}
	return def.ValidateRaw()
}

func (c *Config) Validate() error {
	if c.Time <= 0 {
		return fmt.Errorf("time must be positive, got %d", c.Time)
	}
	if c.Omit < 0 {
		return fmt.Errorf("omit must not be negative, got %d", c.Omit)
	}
	if c.LoadFactor <= 0 {
		return fmt.Errorf("load_factor must be positive, got %d", c.LoadFactor)
	}
	if c.BlockDeviceSize <= 0 {
		return fmt.Errorf("block_device_size must be positive, got %d", c.BlockDeviceSize)
	}
	if len(c.FioModes) == 0 {
		return fmt.Errorf("no fio_modes configured")
	}
	for _, m := range c.FioModes {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	if len(c.FioBlockSizes) == 0 {
		return fmt.Errorf("no fio_blk_sizes configured")
	}
	for name, def := range c.Measurements {
		if err := validateMeasurement(name, def); err != nil {
			return fmt.Errorf("measurement %s: %w", name, err)
		}
	}
	if c.PipeTimeout < 0 {
		return fmt.Errorf("pipe_timeout must not be negative")
	}
	return nil
}
