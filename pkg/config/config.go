// Package config provides configuration loading and management for segwriter.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"segwriter/internal/models"
)

// Segmentation types understood by the encoder.
const (
	TypeBinary   = "BINARY"
	TypeLabelMap = "LABELMAP"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Workers bounds how many reference series headers are read in parallel
		Workers int `yaml:"workers" validate:"gte=1"`

		// StrictAxis makes an ambiguous slice-axis match an error instead of
		// falling back to the lowest-index axis
		StrictAxis bool `yaml:"strictAxis"`

		// FastPath replaces full reconciliation with the shape guard
		// (axis move only, no flip or rotation)
		FastPath bool `yaml:"fastPath"`

		// KeepIntermediate keeps the uncompressed artifact next to the output
		KeepIntermediate bool `yaml:"keepIntermediate"`
	} `yaml:"processing"`

	// Segmentation encoding parameters
	Segmentation struct {
		// Type is BINARY or LABELMAP
		Type string `yaml:"type" validate:"oneof=BINARY LABELMAP"`

		// OmitEmptyFrames drops frames without any foreground voxel (BINARY only)
		OmitEmptyFrames bool `yaml:"omitEmptyFrames"`

		SeriesDescription string `yaml:"seriesDescription"`
		ContentLabel      string `yaml:"contentLabel" validate:"required,max=16"`
		ContentCreator    string `yaml:"contentCreator"`

		Manufacturer          string `yaml:"manufacturer"`
		ManufacturerModelName string `yaml:"manufacturerModelName"`
		SoftwareVersions      string `yaml:"softwareVersions"`
		DeviceSerialNumber    string `yaml:"deviceSerialNumber"`

		// Codes attached to every compiled label
		PropertyCategory models.Code `yaml:"propertyCategory"`
		PropertyType     models.Code `yaml:"propertyType"`

		AlgorithmName   string      `yaml:"algorithmName" validate:"required"`
		AlgorithmFamily models.Code `yaml:"algorithmFamily"`
	} `yaml:"segmentation"`

	// Output parameters
	Output struct {
		// SavePreview writes colour-coded JPEG slices of the reconciled volume
		SavePreview bool `yaml:"savePreview"`

		// PreviewDir is where preview slices go, relative to the output directory
		PreviewDir string `yaml:"previewDir"`
	} `yaml:"output"`

	// Verify controls the read-back of the written artifact
	Verify struct {
		// Strict turns a failed read-back into a conversion error
		Strict bool `yaml:"strict"`
	} `yaml:"verify"`

	// Logging parameters
	Logging struct {
		Level      string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"maxSizeMB" validate:"gte=0"`
		MaxAgeDays int    `yaml:"maxAgeDays" validate:"gte=0"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.Workers = runtime.NumCPU()
	cfg.Processing.StrictAxis = false
	cfg.Processing.FastPath = false

	// Set default segmentation parameters
	cfg.Segmentation.Type = TypeBinary
	cfg.Segmentation.OmitEmptyFrames = true
	cfg.Segmentation.SeriesDescription = "Segmentation"
	cfg.Segmentation.ContentLabel = "SEGMENTATION"
	cfg.Segmentation.ContentCreator = "MARCOPACS"
	cfg.Segmentation.PropertyCategory = models.Code{Value: "85756007", Scheme: "SCT", Meaning: "Tissue"}
	cfg.Segmentation.PropertyType = models.Code{Value: "85756007", Scheme: "SCT", Meaning: "Tissue"}
	cfg.Segmentation.AlgorithmName = "AI"
	cfg.Segmentation.AlgorithmFamily = models.Code{Value: "123110", Scheme: "DCM", Meaning: "Artificial Intelligence"}

	// Set default output parameters
	cfg.Output.SavePreview = false
	cfg.Output.PreviewDir = "preview"

	cfg.Verify.Strict = false

	cfg.Logging.Level = "info"
	cfg.Logging.MaxSizeMB = 10
	cfg.Logging.MaxAgeDays = 30

	return cfg
}

var validate = validator.New()

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LoadConfig overlays the YAML file at configPath on DefaultConfig and
// validates the result. An empty path or a missing file yields the defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML to configPath, creating parent directories.
// An invalid cfg is rejected before anything touches the disk. The file is
// written next to configPath and renamed into place.
func SaveConfig(cfg *Config, configPath string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".segwriter-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config %s: %w", configPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config %s: %w", configPath, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", configPath, err)
	}
	if err := os.Rename(tmp.Name(), configPath); err != nil {
		return fmt.Errorf("failed to write config %s: %w", configPath, err)
	}
	return nil
}

// CreateDefaultConfigFile writes DefaultConfig to configPath.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
