package board

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"
	"github.com/pelletier/go-toml/v2"
)

const DefaultRelayUrl = "ws://localhost:1234/rooms"
const DefaultApiUrl = "http://localhost:8080"

// Config is the client config file. Keys that are absent keep their defaults.
//
//	relay_url = "wss://relay.example.com/rooms"
//	[identity]
//	name = "Ada"
//	color = "#3B82F6"
//	[tool]
//	stroke_width = 6
//	[sync]
//	ping_timeout_ms = 5000
type Config struct {
	RelayUrl   string `toml:"relay_url"`
	ApiUrl     string `toml:"api_url"`
	DataDir    string `toml:"data_dir"`
	AppVersion string `toml:"app_version,omitempty"`
	// nil for a generated identity saved in the local index
	Identity *Identity  `toml:"identity,omitempty"`
	Tool     ToolOptions `toml:"tool"`
	Sync     SyncConfig  `toml:"sync"`
}

type SyncConfig struct {
	PingTimeoutMillis         int64 `toml:"ping_timeout_ms"`
	ReconnectMaxTimeoutMillis int64 `toml:"reconnect_max_timeout_ms"`
	PresenceIntervalMillis    int64 `toml:"presence_interval_ms"`
	ViewportDelayMillis       int64 `toml:"viewport_delay_ms"`
	UndoDepth                 int   `toml:"undo_depth"`
}

func DefaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".sketch")
	}
	return ".sketch"
}

func DefaultConfig() *Config {
	transportSettings := DefaultSyncTransportSettings()
	return &Config{
		RelayUrl: DefaultRelayUrl,
		ApiUrl:   DefaultApiUrl,
		DataDir:  DefaultDataDir(),
		Tool:     *DefaultToolOptions(),
		Sync: SyncConfig{
			PingTimeoutMillis:         transportSettings.PingTimeout.Milliseconds(),
			ReconnectMaxTimeoutMillis: transportSettings.ReconnectMaxTimeout.Milliseconds(),
			PresenceIntervalMillis:    DefaultPresenceSettings().BroadcastInterval.Milliseconds(),
			ViewportDelayMillis:       DefaultLocalIndexSettings().ViewportDelay.Milliseconds(),
			UndoDepth:                 DefaultUndoSettings().MaxDepth,
		},
	}
}

func ParseConfig(configBytes []byte) (*Config, error) {
	config := DefaultConfig()
	if err := toml.Unmarshal(configBytes, config); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfig reads the config file at `path`. A missing file is the default config.
func LoadConfig(path string) (*Config, error) {
	configBytes, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		glog.V(1).Infof("[s]no config at %s, using defaults\n", path)
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}
	return ParseConfig(configBytes)
}

func (self *Config) Save(path string) error {
	configBytes, err := toml.Marshal(self)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, configBytes, 0600)
}

func (self *Config) validate() error {
	if self.RelayUrl == "" {
		return errors.New("Missing relay_url.")
	}
	if self.Tool.StrokeWidth <= 0 {
		return errors.New("tool.stroke_width must be positive.")
	}
	switch self.Tool.StrokeStyle {
	case StrokeStyleSolid, StrokeStyleDashed, StrokeStyleDotted, StrokeStyleWobbly:
	default:
		return errors.New("Unknown tool.stroke_style.")
	}
	if self.Sync.UndoDepth <= 0 {
		return errors.New("sync.undo_depth must be positive.")
	}
	return nil
}

func millis(n int64, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

func (self *Config) SyncTransportSettings() *SyncTransportSettings {
	settings := DefaultSyncTransportSettings()
	settings.PingTimeout = millis(self.Sync.PingTimeoutMillis, settings.PingTimeout)
	settings.ReadTimeout = 3 * settings.PingTimeout
	settings.ReconnectMaxTimeout = millis(self.Sync.ReconnectMaxTimeoutMillis, settings.ReconnectMaxTimeout)
	return settings
}

func (self *Config) PresenceSettings() *PresenceSettings {
	settings := DefaultPresenceSettings()
	settings.BroadcastInterval = millis(self.Sync.PresenceIntervalMillis, settings.BroadcastInterval)
	return settings
}

func (self *Config) LocalIndexSettings() *LocalIndexSettings {
	settings := DefaultLocalIndexSettings()
	settings.ViewportDelay = millis(self.Sync.ViewportDelayMillis, settings.ViewportDelay)
	return settings
}

func (self *Config) UndoSettings() *UndoSettings {
	settings := DefaultUndoSettings()
	settings.MaxDepth = self.Sync.UndoDepth
	return settings
}
