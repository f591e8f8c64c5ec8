package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath names the environment variable holding the config file path.
	EnvConfigPath     = "CALIBKIT_CONFIG"
	defaultConfigPath = "~/.config/calibkit/config.json"
	defaultParallel   = 2
)

// Config holds user-editable settings for the toolkit.
type Config struct {
	Processing Processing `json:"processing" yaml:"processing"`
	Logging    Logging    `json:"logging" yaml:"logging"`
	Paths      Paths      `json:"paths" yaml:"paths"`
	History    History    `json:"history" yaml:"history"`
	Reformat   Reformat   `json:"reformat" yaml:"reformat"`
	LineList   LineList   `json:"linelist" yaml:"linelist"`
	PSF        PSF        `json:"psf" yaml:"psf"`
	Server     Server     `json:"server" yaml:"server"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs" yaml:"parallel_jobs"`
	TempDir      string `json:"temp_dir" yaml:"temp_dir"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level" yaml:"level"`             // debug, info, warn, error
	Format     string `json:"format" yaml:"format"`           // text, json
	FileOutput bool   `json:"file_output" yaml:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir" yaml:"log_dir"`         // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultOutput string `json:"default_output" yaml:"default_output"`
	DatabasePath  string `json:"database_path" yaml:"database_path"`
}

// History controls the sqlite run ledger. Disabled by default.
type History struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Limit   int  `json:"limit" yaml:"limit"`
}

// Reformat configures raw frame reformatting.
type Reformat struct {
	Flip        bool     `json:"flip" yaml:"flip"`
	DefaultGain float64  `json:"default_gain" yaml:"default_gain"`
	HDU         int      `json:"hdu" yaml:"hdu"`
	Extensions  []string `json:"extensions" yaml:"extensions"`
}

// LineList configures arc line list generation.
type LineList struct {
	CatalogDir string   `json:"catalog_dir" yaml:"catalog_dir"`
	Lamps      []string `json:"lamps" yaml:"lamps"`
	Tolerance  float64  `json:"tolerance" yaml:"tolerance"` // Angstrom
}

// PSF configures the PSF comparison.
type PSF struct {
	Wavelength float64 `json:"wavelength" yaml:"wavelength"`
	HalfWidth  float64 `json:"half_width" yaml:"half_width"`
	Samples    int     `json:"samples" yaml:"samples"`
	Output     string  `json:"output" yaml:"output"`
}

// Server configures the HTTP surface.
type Server struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Load reads configuration from disk, falling back to sensible defaults.
// A .env file in the working directory is loaded first so it can set
// CALIBKIT_CONFIG.
func Load() (*Config, error) {
	_ = godotenv.Load()

	configPath := os.Getenv(EnvConfigPath)
	if configPath == "" {
		configPath = defaultConfigPath
	}
	return LoadFile(configPath)
}

// LoadFile reads the given file over the defaults. A missing file yields the defaults.
func LoadFile(configPath string) (*Config, error) {
	cfg := defaultConfig()

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(expanded)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", expanded, err)
	}
	return cfg, nil
}

// Path returns the config file path Load would use.
func Path() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return defaultConfigPath
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Processing.ParallelJobs < 1 {
		errs = append(errs, fmt.Errorf("processing.parallel_jobs must be >= 1, got %d", c.Processing.ParallelJobs))
	}
	if c.Reformat.HDU < 0 {
		errs = append(errs, fmt.Errorf("reformat.hdu must be >= 0, got %d", c.Reformat.HDU))
	}
	if c.LineList.Tolerance <= 0 {
		errs = append(errs, fmt.Errorf("linelist.tolerance must be positive, got %g", c.LineList.Tolerance))
	}
	if c.PSF.Samples < 3 {
		errs = append(errs, fmt.Errorf("psf.samples must be >= 3, got %d", c.PSF.Samples))
	}
	if c.PSF.HalfWidth <= 0 {
		errs = append(errs, fmt.Errorf("psf.half_width must be positive, got %g", c.PSF.HalfWidth))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug|info|warn|error", c.Logging.Level))
	}
	return errors.Join(errs...)
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			TempDir:      os.TempDir(),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultOutput: "./output",
			DatabasePath:  filepath.Join(os.TempDir(), "calibkit.db"),
		},
		History: History{
			Enabled: false,
			Limit:   50,
		},
		Reformat: Reformat{
			Flip:        true,
			DefaultGain: 1.0,
			HDU:         0,
			Extensions:  []string{".fits", ".fit", ".fts"},
		},
		LineList: LineList{
			CatalogDir: "./arc_lines",
			Tolerance:  1.0,
		},
		PSF: PSF{
			Wavelength: 6000,
			HalfWidth:  5,
			Samples:    51,
			Output:     "psf-comparison.png",
		},
		Server: Server{
			Addr: ":8080",
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
