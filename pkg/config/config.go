// Package config loads agora settings from YAML files, AGORA_* environment
// variables and command-line overrides.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "AGORA_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Task      TaskConfig      `koanf:"task"`
	Routing   RoutingConfig   `koanf:"routing"`
	Agents    []AgentConfig   `koanf:"agents"`
	GRPC      GRPCConfig      `koanf:"grpc"`

	// Path and Profile record where the configuration was read from.
	Path    string `koanf:"-"`
	Profile string `koanf:"-"`
}

type ServerConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	Name         string `koanf:"name"`
	Description  string `koanf:"description"`
	URL          string `koanf:"url"` // public base url advertised in the agent card
	Version      string `koanf:"version"`
	Organization string `koanf:"organization"`
	OrgURL       string `koanf:"organization_url"`
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// PublicURL returns URL, or an http url built from Addr.
func (s ServerConfig) PublicURL() string {
	if s.URL != "" {
		return strings.TrimRight(s.URL, "/")
	}
	host := s.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.Port))
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // none, stdout, otlp, prometheus
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

type TaskConfig struct {
	Timeout         time.Duration `koanf:"timeout"` // 0 disables the per-task bound
	MaxAge          time.Duration `koanf:"max_age"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	Audit           string        `koanf:"audit"` // none, memory, sqlite
	AuditDSN        string        `koanf:"audit_dsn"`
}

type RoutingConfig struct {
	Strategy    string `koanf:"strategy"`
	HealthyOnly bool   `koanf:"healthy_only"`
	WeightsFile string `koanf:"weights_file"`
}

// AgentConfig declares one agent to build through the provider registry.
type AgentConfig struct {
	Name        string         `koanf:"name"`
	Type        string         `koanf:"type"` // mock, ollama, mcp
	DisplayName string         `koanf:"display_name"`
	Description string         `koanf:"description"`
	Model       string         `koanf:"model"`
	BaseURL     string         `koanf:"base_url"`
	Command     string         `koanf:"command"`
	Args        []string       `koanf:"args"`
	URL         string         `koanf:"url"`
	Tool        string         `koanf:"tool"`
	PromptArg   string         `koanf:"prompt_arg"`
	SkillsFile  string         `koanf:"skills_file"`
	Weight      int            `koanf:"weight"`
	Timeout     time.Duration  `koanf:"timeout"`
	MaxRetries  int            `koanf:"max_retries"`
	Extra       map[string]any `koanf:"extra"`
}

type GRPCConfig struct {
	HealthAddr string `koanf:"health_addr"` // empty disables the gRPC health server
}

// Global k instance
var (
	k      = koanf.New(".")
	loadMu sync.Mutex
)

func setDefaults() {
	k.Set("server.host", "0.0.0.0")
	k.Set("server.port", 8000)
	k.Set("server.name", "agora")
	k.Set("server.description", "Multi-agent orchestration over A2A JSON-RPC")
	k.Set("server.version", "0.1.0")
	k.Set("server.organization", "Agora")

	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("telemetry.exporter", "none")
	k.Set("telemetry.otlp_endpoint", "localhost:4317")
	k.Set("telemetry.otlp_insecure", true)

	k.Set("task.timeout", "10m")
	k.Set("task.max_age", "1h")
	k.Set("task.cleanup_interval", "5m")
	k.Set("task.audit", "memory")
	k.Set("task.audit_dsn", "file:agora_audit.db")

	k.Set("routing.strategy", "skill_match")
	k.Set("routing.healthy_only", true)

	k.Set("grpc.health_addr", "")
}

// DefaultAgents is used when the configuration declares no agent.
func DefaultAgents() []AgentConfig {
	return []AgentConfig{{
		Name:       "ollama",
		Type:       "ollama",
		Model:      "llama3.2",
		BaseURL:    "http://localhost:11434",
		Weight:     1,
		Timeout:    120 * time.Second,
		MaxRetries: 3,
	}}
}

// Load reads defaults, then the file at path (if any), then AGORA_* env.
func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile loads path and merges the sibling profile file
// (config.yaml + "dev" -> config.dev.yaml) when it exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

// LoadWithCLI parses --config, --profile (alias --env) and repeated
// --set key=value flags. --set values win over env and files.
func LoadWithCLI(args []string) (*Config, error) {
	opts, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(opts.path, opts.profile, overrides)
}

func load(path, profile string, overrides map[string]any) (*Config, error) {
	loadMu.Lock()
	defer loadMu.Unlock()

	k = koanf.New(".")
	setDefaults()

	// 1. Load from file, then the profile overlay
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
		if overlay := profileConfigPath(path, profile); overlay != "" {
			if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	// 2. Load from ENV (AGORA_TASK_MAX_AGE -> task.max_age)
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	// 3. CLI overrides
	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = DefaultAgents()
	}
	cfg.Path, cfg.Profile = path, profile
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps AGORA_SECTION_SOME_KEY to section.some_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, found := strings.Cut(s, "_")
	if !found {
		return section
	}
	return section + "." + rest
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Task.Timeout < 0 {
		return fmt.Errorf("task.timeout must not be negative")
	}
	switch c.Task.Audit {
	case "", "none", "memory", "sqlite":
	default:
		return fmt.Errorf("task.audit: unknown store %q", c.Task.Audit)
	}
	seen := make(map[string]struct{}, len(c.Agents))
	for i, agent := range c.Agents {
		if agent.Name == "" {
			return fmt.Errorf("agents[%d]: name is required", i)
		}
		if agent.Type == "" {
			return fmt.Errorf("agent %q: type is required", agent.Name)
		}
		if _, dup := seen[agent.Name]; dup {
			return fmt.Errorf("agent %q: duplicate name", agent.Name)
		}
		seen[agent.Name] = struct{}{}
	}
	return nil
}

// profileConfigPath returns the profile overlay for base, or "" when the
// profile is empty or its file does not exist.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	candidate := strings.TrimSuffix(base, ext) + "." + profile + ext
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

type cliOptions struct {
	path    string
	profile string
}

func parseCLIOverrides(args []string) (cliOptions, map[string]any, error) {
	var opts cliOptions
	overrides := make(map[string]any)
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(args[i], "=")
		switch name {
		case "--config", "-c", "--profile", "--env", "--set":
		default:
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("missing value for %s", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config", "-c":
			opts.path = value
		case "--profile", "--env":
			opts.profile = value
		case "--set":
			key, raw, ok := strings.Cut(value, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return opts, nil, fmt.Errorf("invalid --set %q, expected key=value", value)
			}
			overrides[key] = parseValue(raw)
		}
	}
	return opts, overrides, nil
}

// parseValue decodes a --set value as YAML so numbers, booleans, lists and
// JSON objects keep their type. Anything else stays a string.
func parseValue(raw string) any {
	var v any
	if err := yamlv3.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return v
}
