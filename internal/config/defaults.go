package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appDir = "cogstate"

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/cogstate/
//   - Linux:   $XDG_DATA_HOME/cogstate/ or ~/.local/share/cogstate/
//   - Windows: %APPDATA%\cogstate\
//
// Falls back to ~/.cogstate.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", appDir)
	case "linux":
		return envDir("XDG_DATA_HOME", ".local", "share")
	case "windows":
		return envDir("APPDATA", "AppData", "Roaming")
	default:
		return fallbackDataDir()
	}
}

// PlatformConfigDir returns the platform-specific config directory. macOS
// and Windows keep configuration next to the data.
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "linux":
		return envDir("XDG_CONFIG_HOME", ".config")
	case "darwin", "windows":
		return PlatformDataDir()
	default:
		return fallbackDataDir()
	}
}

// PlatformLogDir returns the platform-specific log directory.
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Logs", appDir)
	case "linux":
		return filepath.Join(PlatformDataDir(), "logs")
	case "windows":
		return filepath.Join(envDir("LOCALAPPDATA", "AppData", "Local"), "logs")
	default:
		return filepath.Join(fallbackDataDir(), "logs")
	}
}

// SupportedConfigFormats lists the accepted config file extensions.
func SupportedConfigFormats() []string {
	return []string{".toml", ".json", ".yaml", ".yml"}
}

// envDir returns $env/cogstate, or the fallback path under the home
// directory when env is unset.
func envDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appDir)
	}
	parts := append([]string{homeDir()}, fallback...)
	return filepath.Join(append(parts, appDir)...)
}

func fallbackDataDir() string {
	return filepath.Join(homeDir(), ".cogstate")
}

func homeDir() string {
	home, _ := os.UserHomeDir()
	return home
}
