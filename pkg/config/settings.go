// Package config loads client settings from flags, VOX_* environment
// variables and an optional YAML config file, in that order of precedence.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "VOX"

const (
	KeyServerURL      = "server-url"
	KeyMaxEntries     = "max-entries"
	KeyRequestTimeout = "request-timeout"
	KeyDialTimeout    = "dial-timeout"
	KeyReadLimit      = "read-limit"
	KeySerializeKinds = "serialize-kinds"
	KeyLogLevel       = "log-level"
	KeyLogFormat      = "log-format"
	KeyMetricsAddr    = "metrics-addr"
)

// Settings holds everything the client and the vox CLI are configured with.
type Settings struct {
	// ServerURL is the backend base address. Empty means relative URLs,
	// which fail visibly in the transcript.
	ServerURL string `mapstructure:"server-url"`
	// MaxEntries bounds the transcript; 0 keeps everything.
	MaxEntries int `mapstructure:"max-entries"`
	// RequestTimeout bounds each action request; 0 waits forever.
	RequestTimeout time.Duration `mapstructure:"request-timeout"`
	DialTimeout    time.Duration `mapstructure:"dial-timeout"`
	ReadLimit      int64         `mapstructure:"read-limit"`
	SerializeKinds bool          `mapstructure:"serialize-kinds"`
	LogLevel       string        `mapstructure:"log-level"`
	LogFormat      string        `mapstructure:"log-format"`
	MetricsAddr    string        `mapstructure:"metrics-addr"`
}

func Defaults() Settings {
	return Settings{
		DialTimeout: 10 * time.Second,
		ReadLimit:   1 << 20,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// AddFlags registers one flag per setting, defaulting to Defaults().
func AddFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String(KeyServerURL, d.ServerURL, "Backend base URL, e.g. http://localhost:8000")
	fs.Int(KeyMaxEntries, d.MaxEntries, "Keep at most this many transcript entries (0 = unbounded)")
	fs.Duration(KeyRequestTimeout, d.RequestTimeout, "Per-action request timeout (0 = none)")
	fs.Duration(KeyDialTimeout, d.DialTimeout, "Push channel handshake timeout")
	fs.Int64(KeyReadLimit, d.ReadLimit, "Maximum push frame size in bytes")
	fs.Bool(KeySerializeKinds, d.SerializeKinds, "Issue same-kind actions one at a time")
	fs.String(KeyLogLevel, d.LogLevel, "Log level (trace, debug, info, warn, error)")
	fs.String(KeyLogFormat, d.LogFormat, "Log format (text, json)")
	fs.String(KeyMetricsAddr, d.MetricsAddr, "Serve Prometheus metrics on this address (empty = off)")
}

// NewViper returns a viper instance with defaults and VOX_* environment
// binding. Dashes in keys become underscores: VOX_SERVER_URL.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Defaults()
	v.SetDefault(KeyServerURL, d.ServerURL)
	v.SetDefault(KeyMaxEntries, d.MaxEntries)
	v.SetDefault(KeyRequestTimeout, d.RequestTimeout)
	v.SetDefault(KeyDialTimeout, d.DialTimeout)
	v.SetDefault(KeyReadLimit, d.ReadLimit)
	v.SetDefault(KeySerializeKinds, d.SerializeKinds)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)
	v.SetDefault(KeyMetricsAddr, d.MetricsAddr)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// DefaultConfigFile is $XDG_CONFIG_HOME/vox/config.yaml, or "" when the user
// config directory is unknown.
func DefaultConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "vox", "config.yaml")
}

// Load reads configFile when given and fails if it is missing. Without one,
// the default config file is read if it exists. fs may be nil.
func Load(v *viper.Viper, configFile string, fs *pflag.FlagSet) (Settings, error) {
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return Settings{}, errors.Wrap(err, "bind flags")
		}
	}

	switch {
	case configFile != "":
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, errors.Wrapf(err, "read config %s", configFile)
		}
	default:
		if def := DefaultConfigFile(); def != "" {
			if _, err := os.Stat(def); err == nil {
				v.SetConfigFile(def)
				if err := v.ReadInConfig(); err != nil {
					return Settings{}, errors.Wrapf(err, "read config %s", def)
				}
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, errors.Wrap(err, "decode settings")
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if s.ServerURL != "" {
		u, err := url.Parse(s.ServerURL)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", KeyServerURL)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.Errorf("invalid %s %q: scheme must be http or https", KeyServerURL, s.ServerURL)
		}
	}
	if s.MaxEntries < 0 {
		return errors.Errorf("%s must not be negative", KeyMaxEntries)
	}
	if s.RequestTimeout < 0 || s.DialTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if s.ReadLimit < 0 {
		return errors.Errorf("%s must not be negative", KeyReadLimit)
	}
	return nil
}

// BaseURL is the action endpoint prefix, without a trailing slash.
func (s Settings) BaseURL() string {
	return strings.TrimRight(s.ServerURL, "/")
}

// PushURL derives the push channel address from the base: http becomes ws,
// https becomes wss, and /ws is appended.
func (s Settings) PushURL() string {
	base := s.BaseURL()
	if strings.HasPrefix(base, "http") {
		base = "ws" + strings.TrimPrefix(base, "http")
	}
	return base + "/ws"
}

// YAML renders the settings with durations in their string form.
func (s Settings) YAML() ([]byte, error) {
	out := map[string]any{
		KeyServerURL:      s.ServerURL,
		KeyMaxEntries:     s.MaxEntries,
		KeyRequestTimeout: s.RequestTimeout.String(),
		KeyDialTimeout:    s.DialTimeout.String(),
		KeyReadLimit:      s.ReadLimit,
		KeySerializeKinds: s.SerializeKinds,
		KeyLogLevel:       s.LogLevel,
		KeyLogFormat:      s.LogFormat,
		KeyMetricsAddr:    s.MetricsAddr,
	}
	b, err := yaml.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, "encode settings")
	}
	return b, nil
}
