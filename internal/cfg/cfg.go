package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"time"

	"prisml-train/internal/common"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Settings is the resolved configuration of one training run.
type Settings struct {
	InputPath   string
	OutputPath  string
	Algorithm   string
	TestSplit   float64
	MinAccuracy float64
	Seed        int64

	LogLevel      string
	MetricsFile   string
	HistoryDB     string
	NotifyURL     string
	NotifyTimeout time.Duration
	VerifyExport  bool
}

// ConfigFile is the YAML layout. Pointer fields distinguish "unset" from an
// explicit zero.
type ConfigFile struct {
	Training struct {
		Algorithm   string   `yaml:"algorithm"`
		TestSplit   *float64 `yaml:"testSplit"`
		MinAccuracy *float64 `yaml:"minAccuracy"`
		Seed        *int64   `yaml:"seed"`
	} `yaml:"training"`

	Export struct {
		Verify *bool `yaml:"verify"`
	} `yaml:"export"`

	Notify struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"notify"`

	System struct {
		LogLevel    string `yaml:"logLevel"`
		MetricsFile string `yaml:"metricsFile"`
		HistoryDB   string `yaml:"historyDB"`
	} `yaml:"system"`
}

// Defaults returns the settings used when nothing overrides them.
func Defaults() Settings {
	return Settings{
		Algorithm:     common.DefaultAlgorithm,
		TestSplit:     common.DefaultTestSplit,
		MinAccuracy:   common.DefaultMinAccuracy,
		Seed:          common.DefaultSeed,
		LogLevel:      common.DefaultLogLevel,
		NotifyTimeout: common.DefaultNotifyTimeout,
		VerifyExport:  common.DefaultVerifyExport,
	}
}

// Load resolves settings from, in increasing precedence: defaults, the YAML
// file at configPath (or $CONFIG_FILE), and PRISML_* environment variables.
// A .env file in the working directory is loaded first if present.
// Command-line flags are applied by the caller, which then calls Validate.
func Load(configPath string) (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("failed to load .env: %w", err)
	}

	settings := Defaults()

	if configPath == "" {
		configPath = os.Getenv(common.EnvConfigFile)
	}
	if configPath != "" {
		if err := loadFromYAML(configPath, &settings); err != nil {
			return Settings{}, err
		}
	}

	if err := loadFromEnv(&settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func loadFromYAML(path string, s *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Training.Algorithm != "" {
		s.Algorithm = config.Training.Algorithm
	}
	if config.Training.TestSplit != nil {
		s.TestSplit = *config.Training.TestSplit
	}
	if config.Training.MinAccuracy != nil {
		s.MinAccuracy = *config.Training.MinAccuracy
	}
	if config.Training.Seed != nil {
		s.Seed = *config.Training.Seed
	}
	if config.Export.Verify != nil {
		s.VerifyExport = *config.Export.Verify
	}
	if config.Notify.URL != "" {
		s.NotifyURL = config.Notify.URL
	}
	if config.Notify.Timeout != "" {
		d, err := time.ParseDuration(config.Notify.Timeout)
		if err != nil {
			return fmt.Errorf("invalid notify timeout %q: %w", config.Notify.Timeout, err)
		}
		s.NotifyTimeout = d
	}
	if config.System.LogLevel != "" {
		s.LogLevel = config.System.LogLevel
	}
	if config.System.MetricsFile != "" {
		s.MetricsFile = config.System.MetricsFile
	}
	if config.System.HistoryDB != "" {
		s.HistoryDB = config.System.HistoryDB
	}
	return nil
}

// loadFromEnv overrides s with any environment variables that are set. A set
// but unparseable value is an error rather than being silently ignored.
func loadFromEnv(s *Settings) error {
	s.Algorithm = getEnvOrDefault(common.EnvAlgorithm, s.Algorithm)
	s.LogLevel = getEnvOrDefault(common.EnvLogLevel, s.LogLevel)
	s.MetricsFile = getEnvOrDefault(common.EnvMetricsFile, s.MetricsFile)
	s.HistoryDB = getEnvOrDefault(common.EnvHistoryDB, s.HistoryDB)
	s.NotifyURL = getEnvOrDefault(common.EnvNotifyURL, s.NotifyURL)

	var err error
	if s.TestSplit, err = getFloatOrDefault(common.EnvTestSplit, s.TestSplit); err != nil {
		return err
	}
	if s.MinAccuracy, err = getFloatOrDefault(common.EnvMinAccuracy, s.MinAccuracy); err != nil {
		return err
	}
	if s.Seed, err = getInt64OrDefault(common.EnvSeed, s.Seed); err != nil {
		return err
	}
	if s.NotifyTimeout, err = getDurationOrDefault(common.EnvNotifyTimeout, s.NotifyTimeout); err != nil {
		return err
	}
	if s.VerifyExport, err = getBoolOrDefault(common.EnvVerifyExport, s.VerifyExport); err != nil {
		return err
	}
	return nil
}

// Validate checks the fully resolved settings.
func (s *Settings) Validate() error {
	if err := validateSettings(s); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Level returns the parsed log level. Call after Validate.
func (s *Settings) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return f, nil
}

func getInt64OrDefault(key string, defaultValue int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return i, nil
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func getBoolOrDefault(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

// validateSettings performs range checks on configuration values. The
// algorithm name is checked later against the task type found in the data.
func validateSettings(s *Settings) error {
	if s.InputPath == "" {
		return errors.New(common.ErrMsgInputRequired)
	}
	if s.OutputPath == "" {
		return errors.New(common.ErrMsgOutputRequired)
	}
	if s.Algorithm == "" {
		return errors.New("algorithm cannot be empty")
	}

	if math.IsNaN(s.TestSplit) || s.TestSplit <= 0 || s.TestSplit >= 1 {
		return fmt.Errorf("test split must be between 0 and 1 (exclusive), got %g", s.TestSplit)
	}
	// Regression gates on R², which can be negative, so only the upper bound
	// is fixed.
	if math.IsNaN(s.MinAccuracy) || math.IsInf(s.MinAccuracy, 0) || s.MinAccuracy > common.MaxMinAccuracy {
		return fmt.Errorf("min accuracy must be a finite value <= %g, got %g", common.MaxMinAccuracy, s.MinAccuracy)
	}

	if _, err := zerolog.ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", s.LogLevel)
	}

	if s.NotifyURL != "" {
		if s.NotifyTimeout < common.MinNotifyTimeout || s.NotifyTimeout > common.MaxNotifyTimeout {
			return fmt.Errorf("notify timeout must be between %v and %v, got %v",
				common.MinNotifyTimeout, common.MaxNotifyTimeout, s.NotifyTimeout)
		}
	}
	return nil
}
