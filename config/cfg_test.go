package config

import (
	"os"
	"path/filepath"
	"testing"

	"epagin/common"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if cfg.Pagination.BreakMode != common.BreakSnapSplit {
		t.Errorf("Pagination.BreakMode = %v, want BreakSnapSplit", cfg.Pagination.BreakMode)
	}
	if cfg.Output.Suffix != "_paginated" {
		t.Errorf("Output.Suffix = %q, want _paginated", cfg.Output.Suffix)
	}
	if cfg.Logging.ConsoleLogger.Level != "normal" {
		t.Errorf("Logging.ConsoleLogger.Level = %q, want normal", cfg.Logging.ConsoleLogger.Level)
	}
}

func TestLoadConfigurationNoPathReturnsDefault(t *testing.T) {
	cfg, err := LoadConfiguration("")
	if err != nil {
		t.Fatalf("LoadConfiguration(\"\"): %v", err)
	}
	if *cfg != *Default() {
		t.Errorf("LoadConfiguration(\"\") = %+v, want Default()", cfg)
	}
}

func TestLoadConfigurationOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "epagin.yaml")
	const body = `
version: 1
pagination:
  break_mode: next
  nonlinear: ignore
  unlisted: ignore
output:
  suffix: "_paged"
logging:
  file:
    level: none
  console:
    level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := LoadConfiguration(path)
	if err != nil {
		t.Fatalf("LoadConfiguration: %v", err)
	}
	if cfg.Pagination.BreakMode != common.BreakSnapNext {
		t.Errorf("Pagination.BreakMode = %v, want BreakSnapNext", cfg.Pagination.BreakMode)
	}
	if cfg.Pagination.Nonlinear != common.SpinePolicyIgnore {
		t.Errorf("Pagination.Nonlinear = %v, want SpinePolicyIgnore", cfg.Pagination.Nonlinear)
	}
	if cfg.Output.Suffix != "_paged" {
		t.Errorf("Output.Suffix = %q, want _paged", cfg.Output.Suffix)
	}
	if cfg.Logging.ConsoleLogger.Level != "debug" {
		t.Errorf("Logging.ConsoleLogger.Level = %q, want debug", cfg.Logging.ConsoleLogger.Level)
	}
}

func TestLoadConfigurationRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "epagin.yaml")
	if err := os.WriteFile(path, []byte("version: 1\nbogus_field: true\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := LoadConfiguration(path); err == nil {
		t.Error("expected an error for an unknown top-level field")
	}
}

func TestLoadConfigurationRejectsInvalidVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "epagin.yaml")
	if err := os.WriteFile(path, []byte("version: 2\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := LoadConfiguration(path); err == nil {
		t.Error("expected a validation error for version != 1")
	}
}

func TestDumpRoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Pagination.Identify.PageTag = "span.page"
	data, err := Dump(cfg)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "dumped.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing dump: %v", err)
	}

	reloaded, err := LoadConfiguration(path)
	if err != nil {
		t.Fatalf("LoadConfiguration(dumped): %v", err)
	}
	if reloaded.Pagination.Identify.PageTag != "span.page" {
		t.Errorf("Pagination.Identify.PageTag = %q, want span.page", reloaded.Pagination.Identify.PageTag)
	}
}
