package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config failed validation: %v", err)
	}
	if cfg.Threshold.KeyDecayIndex != 1.5 {
		t.Errorf("Expected key decay index 1.5, got %f", cfg.Threshold.KeyDecayIndex)
	}
	if cfg.Solver.DensePoints != 1000 {
		t.Errorf("Expected 1000 dense points, got %d", cfg.Solver.DensePoints)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got error: %v", err)
	}
	if cfg.Reconstruction.Nr != 100 {
		t.Errorf("Expected default nr 100, got %d", cfg.Reconstruction.Nr)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Reconstruction.Nr = 40
	cfg.Reconstruction.Rss = 2.5
	cfg.Threshold.HeightMm = 150
	cfg.Frames.Detail.CDELT1 = 0.6

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if loaded.Reconstruction.Nr != 40 || loaded.Reconstruction.Rss != 2.5 {
		t.Errorf("Reconstruction parameters not preserved: %+v", loaded.Reconstruction)
	}
	if loaded.Threshold.HeightMm != 150 {
		t.Errorf("Expected threshold 150, got %f", loaded.Threshold.HeightMm)
	}
	if loaded.Frames.Detail.CDELT1 != 0.6 {
		t.Errorf("Expected detail cdelt1 0.6, got %f", loaded.Frames.Detail.CDELT1)
	}
}

func TestLoadConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("threshold:\n  keyDecayIndex: 1.0\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Threshold.KeyDecayIndex != 1.0 {
		t.Errorf("Expected key decay index 1.0, got %f", cfg.Threshold.KeyDecayIndex)
	}
	if cfg.Threshold.HeightMm != 200 {
		t.Errorf("Expected untouched default height 200, got %f", cfg.Threshold.HeightMm)
	}
}

func TestValidateRejectsBadParameters(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero nr", func(c *Config) { c.Reconstruction.Nr = 0 }},
		{"rss at photosphere", func(c *Config) { c.Reconstruction.Rss = 1.0 }},
		{"negative threshold", func(c *Config) { c.Threshold.HeightMm = -1 }},
		{"one dense point", func(c *Config) { c.Solver.DensePoints = 1 }},
		{"no iterations", func(c *Config) { c.Solver.MaxIterations = 0 }},
		{"unknown figure format", func(c *Config) { c.Output.FigureFormat = "bmp" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}
