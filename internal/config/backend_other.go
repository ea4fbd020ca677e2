//go:build !darwin

package config

import (
	"cmp"
	"os"
	"path/filepath"
)

// xdgDir returns $env, or homeRel under the home directory when unset. It
// returns "" when neither is available.
func xdgDir(env, homeRel string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, homeRel)
	}
	return ""
}

func defaultDataDir() string {
	if dir := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")); dir != "" {
		return filepath.Join(dir, appName)
	}
	return appName + "-data"
}

func configFilePath() string {
	return filepath.Join(cmp.Or(xdgDir("XDG_CONFIG_HOME", ".config"), "."), appName, "config.json")
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(configFilePath())
}
