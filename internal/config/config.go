package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/tapcfg/internal/configdict"
)

const (
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultFormat         = FormatYAML
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
)

// Output formats understood by the CLI and the HTTP surface.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	Port                 string        `yaml:"port"`
	LogLevel             string        `yaml:"log_level"`
	Format               string        `yaml:"format"`
	ShutdownGracePeriod  time.Duration `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    time.Duration `yaml:"read_header_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
	EnableRequestLogging bool          `yaml:"enable_request_logging"`
	RateLimitRPS         float64       `yaml:"-"`
	RateLimitBurst       int           `yaml:"-"`
	Overrides            Overrides     `yaml:"-"`
}

// Assignment is a single "path=value" experiment override.
type Assignment struct {
	Path  string
	Value string
}

// Overrides collects experiment overrides from every source. They are applied
// in precedence order, so a later source wins over an earlier one.
type Overrides struct {
	Env   []Assignment
	File  map[string]any
	Flags []Assignment
}

// Empty reports whether no source supplied an override.
func (o Overrides) Empty() bool {
	return len(o.Env) == 0 && len(o.File) == 0 && len(o.Flags) == 0
}

// Apply assigns every override to cfg: environment first, then the config
// file, then command-line flags. Overrides naming unknown keys of a locked
// record fail.
func (o Overrides) Apply(cfg *configdict.ConfigDict) error {
	for _, a := range o.Env {
		if err := cfg.SetFromString(a.Path, a.Value); err != nil {
			return fmt.Errorf("environment override %s: %w", a.Path, err)
		}
	}
	if len(o.File) > 0 {
		if err := cfg.ApplyOverrides(o.File); err != nil {
			return fmt.Errorf("config file override: %w", err)
		}
	}
	for _, a := range o.Flags {
		if err := cfg.SetFromString(a.Path, a.Value); err != nil {
			return fmt.Errorf("flag override %s: %w", a.Path, err)
		}
	}
	return nil
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	Port                 string         `yaml:"port"`
	LogLevel             string         `yaml:"log_level"`
	Format               string         `yaml:"format"`
	ShutdownGracePeriod  string         `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string         `yaml:"read_header_timeout"`
	WriteTimeout         string         `yaml:"write_timeout"`
	IdleTimeout          string         `yaml:"idle_timeout"`
	EnableRequestLogging *bool          `yaml:"enable_request_logging"`
	RateLimit            yamlRateLimit  `yaml:"rate_limit"`
	Overrides            map[string]any `yaml:"overrides"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile     string
	EnvFile        string
	Port           *string
	LogLevel       *string
	Format         *string
	RateLimitRPS   *float64
	RateLimitBurst *int
	Set            []string
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	var fileVars map[string]string
	if overrides != nil && overrides.EnvFile != "" {
		vars, err := godotenv.Read(overrides.EnvFile)
		if err != nil {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
		fileVars = vars
	}

	if err := applyEnvConfig(&cfg, fileVars); err != nil {
		return Config{}, err
	}

	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML config: %w", err)
		}
	}

	// Apply CLI overrides (highest precedence)
	if overrides != nil {
		if err := applyCLIOverrides(&cfg, overrides); err != nil {
			return Config{}, err
		}
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Port:                 defaultPort,
		LogLevel:             defaultLogLevel,
		Format:               defaultFormat,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	if yamlCfg.Port != "" {
		cfg.Port = yamlCfg.Port
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.Format != "" {
		cfg.Format = yamlCfg.Format
	}

	durations := []struct {
		name  string
		raw   string
		field *time.Duration
	}{
		{"shutdown_grace_period", yamlCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{"read_header_timeout", yamlCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"write_timeout", yamlCfg.WriteTimeout, &cfg.WriteTimeout},
		{"idle_timeout", yamlCfg.IdleTimeout, &cfg.IdleTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.field = parsed
	}

	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}
	if yamlCfg.RateLimit.RPS != nil {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}
	if yamlCfg.RateLimit.Burst != nil {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}

	if len(yamlCfg.Overrides) > 0 {
		cfg.Overrides.File = yamlCfg.Overrides
	}
	return nil
}

// applyEnvConfig applies environment variable configuration. A variable set
// in the process environment wins over the same variable from the env file.
func applyEnvConfig(cfg *Config, fileVars map[string]string) error {
	getenv := func(name string) string {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
		return strings.TrimSpace(fileVars[name])
	}

	if port := getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if level := getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if rps := getenv("RATE_LIMIT_RPS"); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := getenv("RATE_LIMIT_BURST"); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}

	if raw := getenv("TAPNET_OVERRIDES"); raw != "" {
		assignments, err := parseAssignmentList(raw)
		if err != nil {
			return fmt.Errorf("parse TAPNET_OVERRIDES: %w", err)
		}
		cfg.Overrides.Env = assignments
	}
	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) error {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}

	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}

	if overrides.Format != nil && *overrides.Format != "" {
		cfg.Format = *overrides.Format
	}

	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}

	for _, raw := range overrides.Set {
		a, err := ParseAssignment(raw)
		if err != nil {
			return fmt.Errorf("parse --set: %w", err)
		}
		cfg.Overrides.Flags = append(cfg.Overrides.Flags, a)
	}

	return nil
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of debug, info, warn, error; got %q", cfg.LogLevel)
	}
	switch cfg.Format {
	case FormatYAML, FormatJSON:
	default:
		return fmt.Errorf("format must be %s or %s; got %q", FormatYAML, FormatJSON, cfg.Format)
	}
	return nil
}

// ParseAssignment splits a "path=value" override. The value may be empty,
// which clears the field.
func ParseAssignment(raw string) (Assignment, error) {
	path, value, ok := strings.Cut(raw, "=")
	path = strings.TrimSpace(path)
	if !ok || path == "" {
		return Assignment{}, fmt.Errorf("override %q must look like path=value", raw)
	}
	return Assignment{Path: path, Value: strings.TrimSpace(value)}, nil
}

// parseAssignmentList parses semicolon-separated overrides. Semicolons keep
// commas free for tuple values such as "eval_modes=[eval_a, eval_b]".
func parseAssignmentList(raw string) ([]Assignment, error) {
	parts := strings.Split(raw, ";")
	out := make([]Assignment, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		a, err := ParseAssignment(part)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
