package config

import (
	"os"
	"path/filepath"

	"autocut-desktop/internal/domain"
)

// DefaultDownloadURL points at the packaged autocut release archive.
const DefaultDownloadURL = "https://github.com/mli/autocut/releases/download/v0.0.3/autocut_windows.zip"

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		AutocutPath:  "",
		FFmpegPath:   "ffmpeg",
		FFprobePath:  "ffprobe",
		DownloadURL:  DefaultDownloadURL,
		LogLevel:     "info",
		TaskTimeout:  0,
		ListenAddr:   "127.0.0.1:7345",
		EventHistory: 1000,
	}
}

// DefaultPath returns the settings file location under the user home.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".autocut-desktop", "settings.json"), nil
}
