// Package config loads the decompiler core's session configuration,
// mirroring the nested-struct, toml-tagged layout and DefaultConfig/Load
// pattern of the original arm-emu config package.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config is the full session configuration (SPEC_FULL.md §10.1).
type Config struct {
	Decoder struct {
		SlaPath        string `toml:"sla_path"`
		PrefetchBytes  int    `toml:"prefetch_bytes"`
		EndianOverride string `toml:"endian_override"` // "", "big", "little"
	} `toml:"decoder"`

	Flow struct {
		InstructionMax      int    `toml:"insn_max"`
		OutOfBounds         string `toml:"out_of_bounds"`
		Unimplemented       string `toml:"unimplemented"`
		Reinterpreted       string `toml:"reinterpreted"`
		TooManyInstructions string `toml:"too_many_instructions"`
		UnaccessibleData    string `toml:"unaccessible_data"`
		FlowForInline       bool   `toml:"flow_for_inline"`
		RecordJumpLoads     bool   `toml:"record_jumploads"`
		PossibleUnreachable bool   `toml:"possible_unreachable"`
		JumpTableFailMode   string `toml:"jump_table_fail_mode"` // "", "return", "thunk", "callother"
		MaxJumpTableRounds  int    `toml:"max_jump_table_rounds"`
	} `toml:"flow"`

	Context struct {
		PoolWindow int `toml:"pool_window"`
	} `toml:"context"`

	Inject struct {
		SnippetDir string `toml:"snippet_dir"`
	} `toml:"inject"`
}

// DefaultConfig returns the configuration a session runs with absent a
// config file (spec.md §4.5's default policy: everything warns).
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Decoder.SlaPath = ""
	cfg.Decoder.PrefetchBytes = 16
	cfg.Decoder.EndianOverride = ""

	cfg.Flow.InstructionMax = 0
	cfg.Flow.OutOfBounds = "warn"
	cfg.Flow.Unimplemented = "warn"
	cfg.Flow.Reinterpreted = "warn"
	cfg.Flow.TooManyInstructions = "warn"
	cfg.Flow.UnaccessibleData = "warn"
	cfg.Flow.FlowForInline = false
	cfg.Flow.RecordJumpLoads = false
	cfg.Flow.PossibleUnreachable = false
	cfg.Flow.JumpTableFailMode = "return"
	cfg.Flow.MaxJumpTableRounds = 0

	cfg.Context.PoolWindow = 64

	cfg.Inject.SnippetDir = ""

	return cfg
}

// GetConfigPath returns the platform-specific config file path.
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "sleighcore")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "sleighcore")

	default:
		return "config.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// Load loads configuration from the default config file.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from path, falling back to defaults if the
// file does not exist.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to path.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 -- user config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
