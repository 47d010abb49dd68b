// Package config loads nbexec configuration from file, environment and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv relocates the whole nbexec directory when set.
const HomeEnv = "NBEXEC_HOME"

// DefaultConfigDir returns the nbexec directory: $NBEXEC_HOME when set,
// otherwise ~/.nbexec.
func DefaultConfigDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return ExpandPath(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".nbexec"), nil
}

// DefaultConfigPath returns config.yaml inside DefaultConfigDir.
func DefaultConfigPath() (string, error) {
	return inConfigDir("config.yaml")
}

// DefaultObjectStorePath returns objects.db inside DefaultConfigDir. It
// falls back to the unexpanded ~/.nbexec form when no home is known, which
// storage.Open expands later.
func DefaultObjectStorePath() string {
	path, err := inConfigDir("objects.db")
	if err != nil {
		return "~/.nbexec/objects.db"
	}
	return path
}

func inConfigDir(name string) (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}

	return path, nil
}
