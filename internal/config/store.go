package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"autocut-desktop/internal/domain"
)

// EnvPrefix namespaces environment overrides, e.g. AUTOCUT_LOG_LEVEL.
const EnvPrefix = "AUTOCUT"

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// JSONStore persists settings in a single JSON file on disk.
// Loads are layered: defaults, then the file, then AUTOCUT_* env vars.
type JSONStore struct {
	path string
}

// NewJSONStore creates a JSON-backed settings store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Path returns the backing file location.
func (s *JSONStore) Path() string {
	return s.path
}

// Load reads settings from disk or returns defaults when missing.
func (s *JSONStore) Load() (domain.Settings, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	registerDefaults(v, DefaultSettings())

	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return domain.Settings{}, fmt.Errorf("parse settings %s: %w", s.path, err)
		}
		if err := v.MergeConfigMap(fileKeys(raw)); err != nil {
			return domain.Settings{}, fmt.Errorf("merge settings %s: %w", s.path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return domain.Settings{}, err
	}

	var cfg domain.Settings
	if err := v.Unmarshal(&cfg); err != nil {
		return domain.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return cfg, nil
}

// Save writes settings as indented JSON and creates parent directories.
func (s *JSONStore) Save(cfg domain.Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o644)
}

// jsonToKey maps the camelCase file keys onto viper keys.
var jsonToKey = map[string]string{
	"autocutPath":  "autocut_path",
	"ffmpegPath":   "ffmpeg_path",
	"ffprobePath":  "ffprobe_path",
	"downloadUrl":  "download_url",
	"logLevel":     "log_level",
	"taskTimeout":  "task_timeout",
	"listenAddr":   "listen_addr",
	"eventHistory": "event_history",
}

func fileKeys(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, val := range raw {
		if key, ok := jsonToKey[k]; ok {
			out[key] = val
		}
	}
	return out
}

// registerDefaults makes every key known to viper so env overrides apply
// even when the file omits them.
func registerDefaults(v *viper.Viper, d domain.Settings) {
	v.SetDefault("autocut_path", d.AutocutPath)
	v.SetDefault("ffmpeg_path", d.FFmpegPath)
	v.SetDefault("ffprobe_path", d.FFprobePath)
	v.SetDefault("download_url", d.DownloadURL)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("task_timeout", d.TaskTimeout)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("event_history", d.EventHistory)
}
