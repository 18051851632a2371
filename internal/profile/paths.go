// Package profile manages the on-disk layout for chatd: one directory per
// local profile holding config, logs and the single-instance lock.
package profile

import (
	"os"
	"path/filepath"
)

// DefaultName is used when no profile is selected.
const DefaultName = "default"

// BaseDir returns ~/.relay.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".relay")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// ConfigPath returns the profile's config file path.
func ConfigPath(name string) string {
	return filepath.Join(Dir(name), "config.toml")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the chatd log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "chatd.log")
}

// EnsureDir creates the profile directory tree with owner-only permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// Resolve picks the active profile name: the flag override if set,
// otherwise the default.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	return DefaultName
}
