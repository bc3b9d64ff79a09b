// Package config defines the scenefetch configuration: file, environment,
// and flag layers merged over the documented defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rasterline/imagery-retriever/model"
	"github.com/rasterline/imagery-retriever/retrieve"
)

// Config defines configuration for the scenefetch CLI.
type Config struct {
	Catalog     CatalogConfig `yaml:"catalog"`
	Fetch       FetchConfig   `yaml:"fetch"`
	Retry       RetryConfig   `yaml:"retry"`
	Export      ExportConfig  `yaml:"export"`
	Workers     int           `yaml:"workers"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

// CatalogConfig locates and authenticates the imagery catalog.
type CatalogConfig struct {
	URL         string        `yaml:"url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxInFlight int           `yaml:"max_in_flight"`
}

// FetchConfig carries the per-request defaults.
type FetchConfig struct {
	Sensor  string `yaml:"sensor"`
	GridKey string `yaml:"grid_key"`
	Region  string `yaml:"region"`
	// Bounds is west, south, east, north in degrees. Ignored when a grid
	// key is set.
	Bounds    []float64 `yaml:"bounds"`
	StartDate string    `yaml:"start_date"`
	EndDate   string    `yaml:"end_date"`
	ScaleM    float64   `yaml:"scale_m"`
	MaxImages int       `yaml:"max_images"`
	CloudMin  float64   `yaml:"cloud_min"`
	CloudMax  float64   `yaml:"cloud_max"`
	Bands     []string  `yaml:"bands"`
	Format    string    `yaml:"format"`
	OutDir    string    `yaml:"out_dir"`
	CRS       string    `yaml:"crs"`
	Seed      int64     `yaml:"seed"`
	// HalfWidthM and HalfHeightM size custom mosaics.
	HalfWidthM  float64 `yaml:"half_width_m"`
	HalfHeightM float64 `yaml:"half_height_m"`
}

// RetryConfig defines the download retry schedule.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Delay      time.Duration `yaml:"delay"`
	Multiplier float64       `yaml:"multiplier"`
}

// ExportConfig tunes export job polling.
type ExportConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Default returns a Config with the documented defaults.
func Default() Config {
	return Config{
		Catalog: CatalogConfig{
			Timeout:     30 * time.Second,
			MaxInFlight: 8,
		},
		Fetch: FetchConfig{
			Sensor:      "l8",
			Bounds:      []float64{-84, 24, -78, 32},
			StartDate:   "2022",
			EndDate:     "2023",
			ScaleM:      328.0,
			MaxImages:   10,
			CloudMin:    0,
			CloudMax:    30,
			Bands:       model.DefaultBands(),
			Format:      string(model.FormatGeoTIFF),
			OutDir:      "landsat_images",
			HalfWidthM:  425088,
			HalfHeightM: 318816,
		},
		Retry: RetryConfig{
			Attempts:   10,
			Delay:      time.Second,
			Multiplier: 2,
		},
		Export: ExportConfig{
			PollInterval: 60 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	Catalog     yamlCatalogConfig `yaml:"catalog"`
	Fetch       FetchConfig       `yaml:"fetch"`
	Retry       yamlRetryConfig   `yaml:"retry"`
	Export      yamlExportConfig  `yaml:"export"`
	Workers     int               `yaml:"workers"`
	MetricsAddr string            `yaml:"metrics_addr"`
}

type yamlCatalogConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Timeout     string `yaml:"timeout"`
	MaxInFlight int    `yaml:"max_in_flight"`
}

type yamlRetryConfig struct {
	Attempts   int     `yaml:"attempts"`
	Delay      string  `yaml:"delay"`
	Multiplier float64 `yaml:"multiplier"`
}

type yamlExportConfig struct {
	PollInterval string `yaml:"poll_interval"`
}

// LoadFromFile loads configuration from a YAML file, layering it over
// the defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Catalog.URL != "" {
		cfg.Catalog.URL = yc.Catalog.URL
	}
	if yc.Catalog.APIKey != "" {
		cfg.Catalog.APIKey = yc.Catalog.APIKey
	}
	if yc.Catalog.Timeout != "" {
		d, err := time.ParseDuration(yc.Catalog.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse catalog.timeout: %w", err)
		}
		cfg.Catalog.Timeout = d
	}
	if yc.Catalog.MaxInFlight != 0 {
		cfg.Catalog.MaxInFlight = yc.Catalog.MaxInFlight
	}

	cfg.Fetch = cfg.Fetch.merge(yc.Fetch)

	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.Delay != "" {
		d, err := time.ParseDuration(yc.Retry.Delay)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.delay: %w", err)
		}
		cfg.Retry.Delay = d
	}
	if yc.Retry.Multiplier != 0 {
		cfg.Retry.Multiplier = yc.Retry.Multiplier
	}
	if yc.Export.PollInterval != "" {
		d, err := time.ParseDuration(yc.Export.PollInterval)
		if err != nil {
			return Config{}, fmt.Errorf("parse export.poll_interval: %w", err)
		}
		cfg.Export.PollInterval = d
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.MetricsAddr != "" {
		cfg.MetricsAddr = yc.MetricsAddr
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SCENEFETCH_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("SCENEFETCH_CATALOG_URL"); v != "" {
		c.Catalog.URL = v
	}
	if v := os.Getenv("SCENEFETCH_CATALOG_API_KEY"); v != "" {
		c.Catalog.APIKey = v
	}
	if v := os.Getenv("SCENEFETCH_CATALOG_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse SCENEFETCH_CATALOG_TIMEOUT: %w", err)
		}
		c.Catalog.Timeout = d
	}
	if v := os.Getenv("SCENEFETCH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SCENEFETCH_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("SCENEFETCH_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Catalog.URL == "" {
		return errors.New("config: catalog.url is required")
	}
	if c.Catalog.Timeout <= 0 {
		return errors.New("config: catalog.timeout must be positive")
	}
	if c.Catalog.MaxInFlight < 0 {
		return errors.New("config: catalog.max_in_flight must not be negative")
	}
	if _, err := model.ParseSensor(c.Fetch.Sensor); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if len(c.Fetch.Bounds) != 4 {
		return errors.New("config: bounds needs exactly four values: west, south, east, north")
	}
	if c.Fetch.ScaleM <= 0 {
		return errors.New("config: scale_m must be positive")
	}
	if c.Fetch.MaxImages <= 0 {
		return errors.New("config: max_images must be positive")
	}
	if c.Fetch.CloudMin < 0 || c.Fetch.CloudMax > 100 || c.Fetch.CloudMin > c.Fetch.CloudMax {
		return errors.New("config: cloud cover range must satisfy 0 <= cloud_min <= cloud_max <= 100")
	}
	if _, err := model.ParseOutputFormat(c.Fetch.Format); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Fetch.OutDir == "" {
		return errors.New("config: out_dir is required")
	}
	if c.Fetch.HalfWidthM <= 0 || c.Fetch.HalfHeightM <= 0 {
		return errors.New("config: mosaic half extents must be positive")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry.attempts must be positive")
	}
	if c.Retry.Delay <= 0 {
		return errors.New("config: retry.delay must be positive")
	}
	if c.Retry.Multiplier < 1 {
		return errors.New("config: retry.multiplier must be at least 1")
	}
	if c.Export.PollInterval <= 0 {
		return errors.New("config: export.poll_interval must be positive")
	}
	if c.Workers < 0 {
		return errors.New("config: workers must not be negative")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Catalog.URL != "" {
		c.Catalog.URL = override.Catalog.URL
	}
	if override.Catalog.APIKey != "" {
		c.Catalog.APIKey = override.Catalog.APIKey
	}
	if override.Catalog.Timeout != 0 {
		c.Catalog.Timeout = override.Catalog.Timeout
	}
	if override.Catalog.MaxInFlight != 0 {
		c.Catalog.MaxInFlight = override.Catalog.MaxInFlight
	}
	c.Fetch = c.Fetch.merge(override.Fetch)
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Delay != 0 {
		c.Retry.Delay = override.Retry.Delay
	}
	if override.Retry.Multiplier != 0 {
		c.Retry.Multiplier = override.Retry.Multiplier
	}
	if override.Export.PollInterval != 0 {
		c.Export.PollInterval = override.Export.PollInterval
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.MetricsAddr != "" {
		c.MetricsAddr = override.MetricsAddr
	}
	return c
}

func (f FetchConfig) merge(override FetchConfig) FetchConfig {
	if override.Sensor != "" {
		f.Sensor = override.Sensor
	}
	if override.GridKey != "" {
		f.GridKey = override.GridKey
	}
	if override.Region != "" {
		f.Region = override.Region
	}
	if len(override.Bounds) != 0 {
		f.Bounds = override.Bounds
	}
	if override.StartDate != "" {
		f.StartDate = override.StartDate
	}
	if override.EndDate != "" {
		f.EndDate = override.EndDate
	}
	if override.ScaleM != 0 {
		f.ScaleM = override.ScaleM
	}
	if override.MaxImages != 0 {
		f.MaxImages = override.MaxImages
	}
	if override.CloudMin != 0 {
		f.CloudMin = override.CloudMin
	}
	if override.CloudMax != 0 {
		f.CloudMax = override.CloudMax
	}
	if len(override.Bands) != 0 {
		f.Bands = override.Bands
	}
	if override.Format != "" {
		f.Format = override.Format
	}
	if override.OutDir != "" {
		f.OutDir = override.OutDir
	}
	if override.CRS != "" {
		f.CRS = override.CRS
	}
	if override.Seed != 0 {
		f.Seed = override.Seed
	}
	if override.HalfWidthM != 0 {
		f.HalfWidthM = override.HalfWidthM
	}
	if override.HalfHeightM != 0 {
		f.HalfHeightM = override.HalfHeightM
	}
	return f
}

// BoundingBox returns the configured bounds as a model box. Validate
// must have accepted the config first.
func (f FetchConfig) BoundingBox() model.BoundingBox {
	return model.BoundingBox{
		West:  f.Bounds[0],
		South: f.Bounds[1],
		East:  f.Bounds[2],
		North: f.Bounds[3],
	}
}

// Policy returns the retry schedule as a pipeline policy.
func (r RetryConfig) Policy() retrieve.RetryPolicy {
	return retrieve.RetryPolicy{
		MaxAttempts:  uint(r.Attempts),
		InitialDelay: r.Delay,
		Multiplier:   r.Multiplier,
	}
}
