// Package config loads pdsyncd's configuration via viper, following the
// daemon's config package pattern (env-var binding with automatic
// upper-snake-case translation, defaults set before the config file is
// read, a single config file at the XDG config location) while
// surfacing a small typed Config struct instead of stringly-typed
// accessors, since this daemon only has a handful of settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/MiMillieuh/proton-drive-sync/internal/paths"
)

// Config is the daemon's full runtime configuration (spec §4.9 expansion).
type Config struct {
	SyncDirs        []SyncDir `mapstructure:"sync_dirs"`
	RemoteRoot      string    `mapstructure:"remote_root"`
	LogLevel        string    `mapstructure:"log_level"`
	StateDirOverride string   `mapstructure:"state_dir_override"`
	ChangeSourceBin string    `mapstructure:"change_source_bin"`
	ChangeSourceSocket string `mapstructure:"change_source_socket"`
	DryRun          bool      `mapstructure:"dry_run"`
}

// SyncDir is one configured local-to-remote directory mapping.
type SyncDir struct {
	Local  string `mapstructure:"source_path" toml:"source_path"`
	Remote string `mapstructure:"remote" toml:"remote"`
}

var v *viper.Viper

// Load initializes the viper singleton and returns the parsed Config.
// Precedence is environment > XDG config file (paths.ConfigFilePath, read
// only if it exists) > defaults; no other config file is consulted.
// Environment variables are prefixed PDSYNC_ and automatically bound
// (e.g. PDSYNC_LOG_LEVEL).
func Load() (Config, error) {
	v = viper.New()
	v.SetConfigType("toml")

	v.SetEnvPrefix("PDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("dry_run", false)
	v.SetDefault("change_source_bin", "watchman")
	v.SetDefault("change_source_socket", "")
	v.SetDefault("state_dir_override", "")

	configFileSet := false
	if configPath, err := paths.ConfigFilePath(); err == nil {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			configFileSet = true
		}
	}

	var cfg Config
	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("config: reading %s: %w", v.ConfigFileUsed(), err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	if len(cfg.SyncDirs) == 0 {
		return cfg, fmt.Errorf("config: no sync_dirs configured; run 'pdsyncd init-config' first")
	}
	for i, d := range cfg.SyncDirs {
		abs, err := filepath.Abs(d.Local)
		if err != nil {
			return cfg, fmt.Errorf("config: sync_dirs[%d].source_path: %w", i, err)
		}
		cfg.SyncDirs[i].Local = abs
	}
	return cfg, nil
}

// Get returns the current value of key from the viper instance built by
// the last Load. It does not re-read the config file, and nothing in the
// daemon calls it; the config file watcher only sends a signal.
func Get(key string) any {
	if v == nil {
		return nil
	}
	return v.Get(key)
}

// tomlDocument is the on-disk shape written by WriteDefault; kept
// separate from Config so bootstrap defaults and comments are explicit
// rather than derived from zero values.
type tomlDocument struct {
	SyncDirs   []SyncDir `toml:"sync_dirs"`
	RemoteRoot string    `toml:"remote_root"`
	LogLevel   string    `toml:"log_level"`
}

// WriteDefault writes a starter config file to path via BurntSushi/toml,
// the bootstrap step behind `pdsyncd init-config`.
func WriteDefault(path string, localDir string) error {
	doc := tomlDocument{
		SyncDirs:   []SyncDir{{Local: localDir, Remote: "my_files"}},
		RemoteRoot: "my_files",
		LogLevel:   "info",
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(doc)
}
