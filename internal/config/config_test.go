package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFileMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if !cfg.Reformat.Flip {
		t.Fatalf("expected flip enabled by default")
	}
	if cfg.Reformat.DefaultGain != 1.0 {
		t.Fatalf("expected default gain 1.0, got %v", cfg.Reformat.DefaultGain)
	}
	if cfg.History.Enabled {
		t.Fatalf("expected history disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadFileJSONOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"reformat": {"flip": false, "default_gain": 1.5}, "linelist": {"tolerance": 0.5}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Reformat.Flip {
		t.Fatalf("expected flip disabled")
	}
	if cfg.Reformat.DefaultGain != 1.5 {
		t.Fatalf("expected default gain 1.5, got %v", cfg.Reformat.DefaultGain)
	}
	if cfg.LineList.Tolerance != 0.5 {
		t.Fatalf("expected tolerance 0.5, got %v", cfg.LineList.Tolerance)
	}
	if cfg.PSF.Samples != 51 {
		t.Fatalf("expected untouched psf samples, got %d", cfg.PSF.Samples)
	}
}

func TestLoadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "logging:\n  level: debug\nlinelist:\n  lamps: [HgI, NeI]\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected debug level, got %q", cfg.Logging.Level)
	}
	if len(cfg.LineList.Lamps) != 2 || cfg.LineList.Lamps[1] != "NeI" {
		t.Fatalf("unexpected lamps %v", cfg.LineList.Lamps)
	}
}

func TestLoadFileRejectsBadSyntax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadUsesEnvironmentPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.json")
	if err := os.WriteFile(path, []byte(`{"server": {"addr": ":9090"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("expected :9090, got %q", cfg.Server.Addr)
	}
	if Path() != path {
		t.Fatalf("expected Path() to report %s", path)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Processing.ParallelJobs = 0
	cfg.LineList.Tolerance = 0
	cfg.Logging.Level = "loud"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"parallel_jobs", "tolerance", "logging.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %q", want, err.Error())
		}
	}
}
