package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. AEGIS_SUBJECT_ID or
// AEGIS_TRANSPORT_ENDPOINT.
const EnvPrefix = "AEGIS"

// DefaultFile is the config file looked up when none is given.
const DefaultFile = "aegislive.yaml"

// LoadEnv loads the first readable .env file from paths into the process
// environment without overriding variables that are already set. It returns
// the path it loaded, or "" if none was found.
func LoadEnv(paths ...string) string {
	if len(paths) == 0 {
		paths = []string{".env"}
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(home, ".aegislive.env"))
		}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err == nil {
			return path
		}
	}
	return ""
}

// Load reads configuration into v and decodes it. An empty path falls back
// to DefaultFile when it exists; an explicit path that cannot be read is an
// error. Flags bound to v with BindPFlag take precedence over everything else.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	if err := setDefaults(v); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key of Default so AutomaticEnv can resolve
// overrides for keys absent from the file.
func setDefaults(v *viper.Viper) error {
	raw, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}
	for key, value := range flatten("", tree) {
		v.SetDefault(key, value)
	}
	return nil
}

func flatten(prefix string, tree map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			for sk, sv := range flatten(key, sub) {
				out[sk] = sv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// WriteDefault writes Default as YAML to path. It refuses to overwrite an
// existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	raw, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, raw, 0o600)
}

// Durations are written as "150ms" rather than nanosecond integers.

// MarshalYAML implements yaml.Marshaler.
func (c TransportConfig) MarshalYAML() (any, error) {
	return map[string]any{
		"endpoint":             c.Endpoint,
		"subject_param":        c.SubjectParam,
		"dial_timeout":         c.DialTimeout.String(),
		"write_wait":           c.WriteWait.String(),
		"heartbeat_interval":   c.HeartbeatInterval.String(),
		"max_message_size":     c.MaxMessageSize,
		"insecure_skip_verify": c.InsecureSkipVerify,
	}, nil
}

// MarshalYAML implements yaml.Marshaler.
func (c PlaybackConfig) MarshalYAML() (any, error) {
	return map[string]any{
		"sample_rate":   c.SampleRate,
		"debounce":      c.Debounce.String(),
		"output_device": c.OutputDevice,
	}, nil
}

// MarshalYAML implements yaml.Marshaler.
func (c SummaryConfig) MarshalYAML() (any, error) {
	return map[string]any{
		"enabled":         c.Enabled,
		"api_base_url":    c.APIBaseURL,
		"window":          c.Window.String(),
		"interval":        c.Interval.String(),
		"staleness":       c.Staleness.String(),
		"request_timeout": c.RequestTimeout.String(),
	}, nil
}
