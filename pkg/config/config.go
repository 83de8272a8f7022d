// Package config provides configuration loading and management for decayindex.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// WCS describes a raster with a linear world coordinate system, using the
// FITS keyword conventions (CRPIX is 1-based).
type WCS struct {
	CRPIX1 float64 `yaml:"crpix1"`
	CRPIX2 float64 `yaml:"crpix2"`
	CDELT1 float64 `yaml:"cdelt1"`
	CDELT2 float64 `yaml:"cdelt2"`
	CRVAL1 float64 `yaml:"crval1"`
	CRVAL2 float64 `yaml:"crval2"`
	NAXIS1 int     `yaml:"naxis1"`
	NAXIS2 int     `yaml:"naxis2"`

	// ObsTime is the observation (or reference) time of the raster
	ObsTime time.Time `yaml:"obsTime"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Reconstruction parameters passed to the field producer
	Reconstruction struct {
		// Nr is the number of radial grid cells
		Nr int `yaml:"nr"`

		// Rss is the source-surface radius in solar radii
		Rss float64 `yaml:"rss"`

		// VolumePath points at a solver output file (.parquet or .parquet.gz).
		// When empty the synthetic producer is used.
		VolumePath string `yaml:"volumePath"`

		// Synthetic field parameters
		Synthetic struct {
			NLon       int     `yaml:"nLon"`
			NLat       int     `yaml:"nLat"`
			DepthMm    float64 `yaml:"depthMm"`
			Exponent   float64 `yaml:"exponent"`
			Noise      float64 `yaml:"noise"`
			Seed       int64   `yaml:"seed"`
			FieldGauss float64 `yaml:"fieldGauss"`
		} `yaml:"synthetic"`
	} `yaml:"reconstruction"`

	// Threshold parameters
	Threshold struct {
		// HeightMm is the maximal height used for sampling and interpolation
		HeightMm float64 `yaml:"heightMm"`

		// KeyDecayIndex is the decay index whose crossing defines the critical height
		KeyDecayIndex float64 `yaml:"keyDecayIndex"`
	} `yaml:"threshold"`

	// Solver controls densification and root finding
	Solver struct {
		InitialGuess  float64 `yaml:"initialGuess"`
		Tolerance     float64 `yaml:"tolerance"`
		MaxIterations int     `yaml:"maxIterations"`
		DensePoints   int     `yaml:"densePoints"`
	} `yaml:"solver"`

	// Frames of the detail raster (clicked on) and the synoptic map
	Frames struct {
		Detail   WCS `yaml:"detail"`
		Synoptic WCS `yaml:"synoptic"`
	} `yaml:"frames"`

	// Output parameters
	Output struct {
		// Dir receives figures, session records and exports
		Dir string `yaml:"dir"`

		// FigureFormat is the file extension used for figures (pdf, png, svg)
		FigureFormat string `yaml:"figureFormat"`

		// LogLevel is a logrus level name
		LogLevel string `yaml:"logLevel"`

		// Verbose forces debug logging
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Catalog of extracted results
	Catalog struct {
		Path string `yaml:"path"`
	} `yaml:"catalog"`

	// Server for the interactive click feed
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Reconstruction.Nr = 100
	cfg.Reconstruction.Rss = 2.0
	cfg.Reconstruction.Synthetic.NLon = 72
	cfg.Reconstruction.Synthetic.NLat = 36
	cfg.Reconstruction.Synthetic.DepthMm = 40
	cfg.Reconstruction.Synthetic.Exponent = 3
	cfg.Reconstruction.Synthetic.Noise = 0.2
	cfg.Reconstruction.Synthetic.Seed = 1
	cfg.Reconstruction.Synthetic.FieldGauss = 500

	cfg.Threshold.HeightMm = 200
	cfg.Threshold.KeyDecayIndex = 1.5

	// Secant defaults match the usual derivative-free Newton settings
	cfg.Solver.InitialGuess = 1.0
	cfg.Solver.Tolerance = 1.48e-8
	cfg.Solver.MaxIterations = 50
	cfg.Solver.DensePoints = 1000

	// A plain Carrington raster covering the whole Sun at 5 degrees per pixel
	syn := WCS{
		CRPIX1: 1, CRPIX2: 1,
		CDELT1: 5, CDELT2: 5,
		CRVAL1: 2.5, CRVAL2: -87.5,
		NAXIS1: 72, NAXIS2: 36,
	}
	syn.ObsTime = time.Date(2017, 7, 14, 1, 0, 0, 0, time.UTC)
	cfg.Frames.Synoptic = syn
	cfg.Frames.Detail = WCS{
		CRPIX1: 1, CRPIX2: 1,
		CDELT1: 0.5, CDELT2: 0.5,
		CRVAL1: 0, CRVAL2: -60,
		NAXIS1: 720, NAXIS2: 240,
		ObsTime: time.Date(2017, 7, 14, 1, 3, 50, 0, time.UTC),
	}

	cfg.Output.Dir = "output"
	cfg.Output.FigureFormat = "pdf"
	cfg.Output.LogLevel = "info"

	cfg.Catalog.Path = ""
	cfg.Server.Addr = ":9000"

	return cfg
}

// Validate checks the parameter ranges the pipeline relies on
func (c *Config) Validate() error {
	if c.Reconstruction.Nr <= 0 {
		return fmt.Errorf("reconstruction.nr must be > 0, got %d", c.Reconstruction.Nr)
	}
	if c.Reconstruction.Rss <= 1.0 {
		return fmt.Errorf("reconstruction.rss must be > 1.0, got %g", c.Reconstruction.Rss)
	}
	if c.Threshold.HeightMm <= 0 {
		return fmt.Errorf("threshold.heightMm must be > 0, got %g", c.Threshold.HeightMm)
	}
	if c.Solver.DensePoints < 2 {
		return fmt.Errorf("solver.densePoints must be >= 2, got %d", c.Solver.DensePoints)
	}
	if c.Solver.MaxIterations <= 0 {
		return fmt.Errorf("solver.maxIterations must be > 0, got %d", c.Solver.MaxIterations)
	}
	switch c.Output.FigureFormat {
	case "pdf", "png", "svg", "eps", "jpg":
	default:
		return fmt.Errorf("output.figureFormat %q is not supported", c.Output.FigureFormat)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
