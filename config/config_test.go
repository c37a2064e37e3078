package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Decoder.PrefetchBytes != 16 {
		t.Errorf("expected PrefetchBytes=16, got %d", cfg.Decoder.PrefetchBytes)
	}
	if cfg.Decoder.EndianOverride != "" {
		t.Errorf("expected EndianOverride empty, got %q", cfg.Decoder.EndianOverride)
	}

	if cfg.Flow.OutOfBounds != "warn" {
		t.Errorf("expected OutOfBounds=warn, got %s", cfg.Flow.OutOfBounds)
	}
	if cfg.Flow.Unimplemented != "warn" {
		t.Errorf("expected Unimplemented=warn, got %s", cfg.Flow.Unimplemented)
	}
	if cfg.Flow.FlowForInline {
		t.Error("expected FlowForInline=false")
	}

	if cfg.Context.PoolWindow != 64 {
		t.Errorf("expected PoolWindow=64, got %d", cfg.Context.PoolWindow)
	}
	if cfg.Flow.JumpTableFailMode != "return" {
		t.Errorf("expected JumpTableFailMode=return, got %s", cfg.Flow.JumpTableFailMode)
	}
}

func TestGetConfigPath(t *testing.T) {
	path := GetConfigPath()
	if path == "" {
		t.Error("GetConfigPath returned empty string")
	}
	if filepath.Base(path) != "config.toml" {
		t.Errorf("expected path to end with config.toml, got %s", path)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "test_config.toml")

	cfg := DefaultConfig()
	cfg.Decoder.SlaPath = "/tmp/arm.sla"
	cfg.Flow.InstructionMax = 50000
	cfg.Flow.OutOfBounds = "error"
	cfg.Context.PoolWindow = 128

	if err := cfg.SaveTo(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("config file was not created")
	}

	loaded, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if loaded.Decoder.SlaPath != "/tmp/arm.sla" {
		t.Errorf("expected SlaPath=/tmp/arm.sla, got %s", loaded.Decoder.SlaPath)
	}
	if loaded.Flow.InstructionMax != 50000 {
		t.Errorf("expected InstructionMax=50000, got %d", loaded.Flow.InstructionMax)
	}
	if loaded.Flow.OutOfBounds != "error" {
		t.Errorf("expected OutOfBounds=error, got %s", loaded.Flow.OutOfBounds)
	}
	if loaded.Context.PoolWindow != 128 {
		t.Errorf("expected PoolWindow=128, got %d", loaded.Context.PoolWindow)
	}
}

func TestLoadNonExistent(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nonexistent.toml")

	cfg, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("LoadFrom should not error on non-existent file: %v", err)
	}
	if cfg.Decoder.PrefetchBytes != 16 {
		t.Error("expected default config when file doesn't exist")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "invalid.toml")

	invalidTOML := `
[flow]
insn_max = "not a number"
`
	if err := os.WriteFile(configPath, []byte(invalidTOML), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	if _, err := LoadFrom(configPath); err == nil {
		t.Error("expected error when loading invalid TOML")
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "subdir1", "subdir2", "config.toml")

	cfg := DefaultConfig()
	if err := cfg.SaveTo(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}
}
