// Package config loads hive-client settings: defaults, then an optional yaml
// file, then HIVE_* environment overrides. Flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"gopkg.in/yaml.v3"
)

const (
	DefaultEndpoint = "ws://localhost:8888"
	DefaultAppID    = "honeyworks-backup"
	DefaultZome     = "humm_hc_data"
	DefaultFn       = "get_revision_digest"
	DefaultPayload  = "dJGu8XGhkZAil0nN2yq8Tn80aAqs5jwPJc11n1Uaa2I="
)

var ErrInvalidEndpoint = errors.New("config: invalid endpoint")

type Config struct {
	Endpoint       string
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	SignalBuffer   int

	AppID    string
	ZomeName string
	FnName   string
	Payload  string

	UIAddr        string
	TriggerRPS    float64
	TriggerBurst  int
	WatchInterval time.Duration

	LogLevel  string
	LogFormat string
}

func Default() Config {
	return Config{
		Endpoint:       DefaultEndpoint,
		ConnectTimeout: 20 * time.Second,
		CallTimeout:    20 * time.Second,
		SignalBuffer:   64,
		AppID:          DefaultAppID,
		ZomeName:       DefaultZome,
		FnName:         DefaultFn,
		Payload:        DefaultPayload,
		TriggerRPS:     2,
		TriggerBurst:   4,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// File is the on-disk layout.
type File struct {
	Conductor     ConductorSection `yaml:"conductor"`
	App           AppSection       `yaml:"app"`
	UI            UISection        `yaml:"ui"`
	Log           LogSection       `yaml:"log"`
	WatchInterval time.Duration    `yaml:"watchInterval"`
}

type ConductorSection struct {
	Endpoint       string        `yaml:"endpoint"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	CallTimeout    time.Duration `yaml:"callTimeout"`
	SignalBuffer   int           `yaml:"signalBuffer"`
}

type AppSection struct {
	ID      string  `yaml:"id"`
	Zome    string  `yaml:"zome"`
	Fn      string  `yaml:"fn"`
	Payload *string `yaml:"payload"`
}

type UISection struct {
	Addr         string   `yaml:"addr"`
	TriggerRPS   *float64 `yaml:"triggerRps"`
	TriggerBurst int      `yaml:"triggerBurst"`
}

type LogSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadFromPath reads configPath, or the first readable default candidate when
// configPath is empty. A missing explicit file or a malformed one is an error;
// missing candidates are not.
func LoadFromPath(configPath string) (Config, error) {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"configs/hive-client.yaml",
			"hive-client.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if configPath != "" {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
			continue
		}

		var parsed File
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
		Merge(&cfg, parsed)
		break
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Merge(dst *Config, src File) {
	if src.Conductor.Endpoint != "" {
		dst.Endpoint = src.Conductor.Endpoint
	}
	if src.Conductor.ConnectTimeout != 0 {
		dst.ConnectTimeout = src.Conductor.ConnectTimeout
	}
	if src.Conductor.CallTimeout != 0 {
		dst.CallTimeout = src.Conductor.CallTimeout
	}
	if src.Conductor.SignalBuffer != 0 {
		dst.SignalBuffer = src.Conductor.SignalBuffer
	}
	if src.App.ID != "" {
		dst.AppID = src.App.ID
	}
	if src.App.Zome != "" {
		dst.ZomeName = src.App.Zome
	}
	if src.App.Fn != "" {
		dst.FnName = src.App.Fn
	}
	if src.App.Payload != nil {
		dst.Payload = *src.App.Payload
	}
	if src.UI.Addr != "" {
		dst.UIAddr = src.UI.Addr
	}
	if src.UI.TriggerRPS != nil {
		dst.TriggerRPS = *src.UI.TriggerRPS
	}
	if src.UI.TriggerBurst != 0 {
		dst.TriggerBurst = src.UI.TriggerBurst
	}
	if src.WatchInterval != 0 {
		dst.WatchInterval = src.WatchInterval
	}
	if src.Log.Level != "" {
		dst.LogLevel = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.LogFormat = src.Log.Format
	}
}

// ApplyEnvOverrides applies HIVE_* variables. Unparseable durations or numbers
// are reported rather than ignored.
func ApplyEnvOverrides(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"HIVE_ENDPOINT", &cfg.Endpoint},
		{"HIVE_APP_ID", &cfg.AppID},
		{"HIVE_ZOME", &cfg.ZomeName},
		{"HIVE_FN", &cfg.FnName},
		{"HIVE_PAYLOAD", &cfg.Payload},
		{"HIVE_UI_ADDR", &cfg.UIAddr},
		{"HIVE_LOG_LEVEL", &cfg.LogLevel},
		{"HIVE_LOG_FORMAT", &cfg.LogFormat},
	}
	for _, s := range strs {
		if v := strings.TrimSpace(os.Getenv(s.key)); v != "" {
			*s.dst = v
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"HIVE_CONNECT_TIMEOUT", &cfg.ConnectTimeout},
		{"HIVE_CALL_TIMEOUT", &cfg.CallTimeout},
		{"HIVE_WATCH_INTERVAL", &cfg.WatchInterval},
	}
	for _, d := range durations {
		raw := strings.TrimSpace(os.Getenv(d.key))
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if raw := strings.TrimSpace(os.Getenv("HIVE_TRIGGER_RPS")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("config: HIVE_TRIGGER_RPS: %w", err)
		}
		cfg.TriggerRPS = v
	}
	return nil
}

func (c Config) Validate() error {
	if _, err := NormalizeEndpoint(c.Endpoint); err != nil {
		return err
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("config: connect timeout must be positive")
	}
	if c.CallTimeout <= 0 {
		return errors.New("config: call timeout must be positive")
	}
	if strings.TrimSpace(c.AppID) == "" {
		return errors.New("config: app id is required")
	}
	if strings.TrimSpace(c.ZomeName) == "" || strings.TrimSpace(c.FnName) == "" {
		return errors.New("config: zome and fn are required")
	}
	if c.WatchInterval < 0 {
		return errors.New("config: watch interval must not be negative")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	return nil
}

// NormalizeEndpoint accepts a ws:// or wss:// URL, or a multiaddr such as
// /ip4/127.0.0.1/tcp/8888/ws, and returns the websocket URL to dial.
func NormalizeEndpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEndpoint)
	}
	if strings.HasPrefix(raw, "/") {
		return fromMultiaddr(raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	return u.String(), nil
}

func fromMultiaddr(raw string) (string, error) {
	addr, err := ma.NewMultiaddr(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	var host string
	for _, code := range []int{ma.P_IP4, ma.P_IP6, ma.P_DNS, ma.P_DNS4, ma.P_DNS6} {
		if v, err := addr.ValueForProtocol(code); err == nil {
			host = v
			break
		}
	}
	if host == "" {
		return "", fmt.Errorf("%w: %s has no host component", ErrInvalidEndpoint, raw)
	}
	port, err := addr.ValueForProtocol(ma.P_TCP)
	if err != nil {
		return "", fmt.Errorf("%w: %s has no tcp port", ErrInvalidEndpoint, raw)
	}

	scheme := ""
	if _, err := addr.ValueForProtocol(ma.P_WSS); err == nil {
		scheme = "wss"
	} else if _, err := addr.ValueForProtocol(ma.P_WS); err == nil {
		scheme = "ws"
	}
	if scheme == "" {
		return "", fmt.Errorf("%w: %s is not a websocket address", ErrInvalidEndpoint, raw)
	}
	return scheme + "://" + net.JoinHostPort(host, port), nil
}
