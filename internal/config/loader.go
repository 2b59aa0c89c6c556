// Package config loads genwatch settings from defaults, an optional config
// file, the environment, and runtime overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/3leaps/genwatch/pkg/jobapi"
	"github.com/3leaps/genwatch/pkg/stream"
)

const (
	// EnvPrefix prefixes every environment variable genwatch reads.
	EnvPrefix = "GENWATCH"

	// ConfigFileName is looked up in the working directory.
	ConfigFileName = "genwatch.yaml"

	// EnvConfigFile names an explicit config file, bypassing discovery.
	EnvConfigFile = EnvPrefix + "_CONFIG"

	OutputText  = "text"
	OutputJSONL = "jsonl"
)

// Config is the resolved genwatch configuration.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Defaults DefaultsConfig `mapstructure:"defaults"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Output   OutputConfig   `mapstructure:"output"`
}

type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Key        string        `mapstructure:"key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	Burst      int           `mapstructure:"burst"`
	ListPath   string        `mapstructure:"list_path"`
	SubmitPath string        `mapstructure:"submit_path"`
	StreamPath string        `mapstructure:"stream_path"`
}

type StreamConfig struct {
	MaxLineBytes int `mapstructure:"max_line_bytes"`
}

// DefaultsConfig fills in job fields the user leaves empty.
type DefaultsConfig struct {
	Model string `mapstructure:"model"`
	Size  string `mapstructure:"size"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type OutputConfig struct {
	Format string `mapstructure:"format"`
	Copy   bool   `mapstructure:"copy"`
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.API.BaseURL) == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.Timeout < 0 {
		errs = append(errs, errors.New("api.timeout must be >= 0"))
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, errors.New("api.rate_limit must be >= 0"))
	}
	if c.API.Burst < 1 {
		errs = append(errs, errors.New("api.burst must be >= 1"))
	}
	if !strings.Contains(c.API.StreamPath, "{task_id}") {
		errs = append(errs, errors.New("api.stream_path must contain {task_id}"))
	}
	if c.Stream.MaxLineBytes <= 0 {
		errs = append(errs, errors.New("stream.max_line_bytes must be > 0"))
	}
	switch c.Output.Format {
	case OutputText, OutputJSONL:
	default:
		errs = append(errs, fmt.Errorf("output.format must be %q or %q, got %q", OutputText, OutputJSONL, c.Output.Format))
	}
	return errors.Join(errs...)
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// envSpec maps one environment variable to a config key.
type envSpec struct {
	Name string
	Path string
}

// Load resolves configuration. Precedence, highest first: overrides,
// environment (after .env is applied), config file, defaults.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if path := findConfigFile(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Output.Format = strings.ToLower(strings.TrimSpace(cfg.Output.Format))
	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8088")
	v.SetDefault("api.key", "")
	v.SetDefault("api.timeout", jobapi.DefaultTimeout.String())
	v.SetDefault("api.rate_limit", 0)
	v.SetDefault("api.burst", 1)
	v.SetDefault("api.list_path", jobapi.DefaultListPath)
	v.SetDefault("api.submit_path", jobapi.DefaultSubmitPath)
	v.SetDefault("api.stream_path", jobapi.DefaultStreamPath)

	v.SetDefault("stream.max_line_bytes", stream.DefaultMaxLineBytes)

	v.SetDefault("defaults.model", "")
	v.SetDefault("defaults.size", jobapi.DefaultSize)

	v.SetDefault("logging.level", "info")

	v.SetDefault("output.format", OutputText)
	v.SetDefault("output.copy", false)
}

func getEnvSpecs() []envSpec {
	return []envSpec{
		{Name: EnvPrefix + "_BASE_URL", Path: "api.base_url"},
		{Name: EnvPrefix + "_API_KEY", Path: "api.key"},
		{Name: EnvPrefix + "_TIMEOUT", Path: "api.timeout"},
		{Name: EnvPrefix + "_RATE_LIMIT", Path: "api.rate_limit"},
		{Name: EnvPrefix + "_BURST", Path: "api.burst"},
		{Name: EnvPrefix + "_LIST_PATH", Path: "api.list_path"},
		{Name: EnvPrefix + "_SUBMIT_PATH", Path: "api.submit_path"},
		{Name: EnvPrefix + "_STREAM_PATH", Path: "api.stream_path"},
		{Name: EnvPrefix + "_MAX_LINE_BYTES", Path: "stream.max_line_bytes"},
		{Name: EnvPrefix + "_MODEL", Path: "defaults.model"},
		{Name: EnvPrefix + "_SIZE", Path: "defaults.size"},
		{Name: EnvPrefix + "_LOG_LEVEL", Path: "logging.level"},
		{Name: EnvPrefix + "_OUTPUT", Path: "output.format"},
		{Name: EnvPrefix + "_COPY", Path: "output.copy"},
	}
}

// loadDotEnv applies ./.env without overriding variables already set.
func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load .env: %w", err)
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if explicit := strings.TrimSpace(os.Getenv(EnvConfigFile)); explicit != "" {
		return explicit
	}
	candidates := append([]string{ConfigFileName}, getUserConfigPaths()...)
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// getUserConfigPaths lists per-user config file locations.
func getUserConfigPaths() []string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return nil
	}
	return []string{filepath.Join(dir, "genwatch", "config.yaml")}
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := m[k].(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = m[k]
	}
	return out
}
