// Package paths resolves the XDG directories pdsync reads and writes under.
package paths

import (
	"os"
	"path/filepath"
)

const appDirName = "proton-drive-sync"

// StateDir returns $XDG_STATE_HOME/proton-drive-sync, falling back to
// ~/.local/state/proton-drive-sync when XDG_STATE_HOME is unset.
func StateDir() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, appDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", appDirName), nil
}

// ConfigDir returns $XDG_CONFIG_HOME/proton-drive-sync, falling back to
// ~/.config/proton-drive-sync when XDG_CONFIG_HOME is unset.
func ConfigDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appDirName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appDirName), nil
}

// EnsureStateDir creates the state dir (and parents) if missing.
func EnsureStateDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// EnsureConfigDir creates the config dir (and parents) if missing.
func EnsureConfigDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// DBPath returns the path to the embedded state database.
func DBPath() (string, error) {
	dir, err := EnsureStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.db"), nil
}

// LogPath returns the path to the daemon's rotating log file.
func LogPath() (string, error) {
	dir, err := EnsureStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "pdsync.log"), nil
}

// PIDFilePath returns the path to the daemon's flock-guarded pidfile.
func PIDFilePath() (string, error) {
	dir, err := EnsureStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "pdsyncd.lock"), nil
}

// ConfigFilePath returns the default config file path.
func ConfigFilePath() (string, error) {
	dir, err := EnsureConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}
