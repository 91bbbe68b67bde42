package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultReportsDir      = "reports"
	DefaultAuditFile       = "mcp.log.jsonl"
	DefaultAuditMaxBytes   = 5 * 1024 * 1024
	DefaultLLMBaseURL      = "http://localhost:11434/v1"
	DefaultLLMAPIKey       = "ollama"
	DefaultLLMModel        = "llama3.2:3b"
	DefaultLLMTemperature  = 0.1
	DefaultLLMMaxTokens    = 120
	DefaultSandboxMaxBytes = 25 * 1024 * 1024
	DefaultCallTimeout     = 20 * time.Second
	DefaultBridgeAddr      = ":8787"
)

// Duration is a time.Duration decoded from strings such as "1.5s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}

	*d = Duration(v)

	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level host configuration.
type Config struct {
	LogLevel    string        `yaml:"log_level" toml:"log_level"`
	ReportsDir  string        `yaml:"reports_dir" toml:"reports_dir"`
	CallTimeout Duration      `yaml:"call_timeout" toml:"call_timeout"`
	Audit       AuditConfig   `yaml:"audit" toml:"audit"`
	LLM         LLMConfig     `yaml:"llm" toml:"llm"`
	Sandbox     SandboxConfig `yaml:"sandbox" toml:"sandbox"`
	Bridge      BridgeConfig  `yaml:"bridge" toml:"bridge"`
	Peers       []PeerConfig  `yaml:"peers" toml:"peers"`
}

// AuditConfig controls the invocation journal.
type AuditConfig struct {
	Path     string `yaml:"path" toml:"path"`
	MaxBytes int64  `yaml:"max_bytes" toml:"max_bytes"`
}

// LLMConfig describes the OpenAI-compatible chat endpoint.
type LLMConfig struct {
	BaseURL          string   `yaml:"base_url" toml:"base_url"`
	APIKey           string   `yaml:"api_key" toml:"api_key"` //nolint:gosec // configuration field, not a hardcoded secret
	Model            string   `yaml:"model" toml:"model"`
	Temperature      float64  `yaml:"temperature" toml:"temperature"`
	MaxTokens        int      `yaml:"max_tokens" toml:"max_tokens"`
	SystemPrompt     string   `yaml:"system_prompt" toml:"system_prompt"`
	SystemPromptPath string   `yaml:"system_prompt_path" toml:"system_prompt_path"`
	Timeout          Duration `yaml:"timeout" toml:"timeout"`
}

// SandboxConfig limits file access by tools.
type SandboxConfig struct {
	AllowedDirs []string `yaml:"allowed_dirs" toml:"allowed_dirs"`
	MaxBytes    int64    `yaml:"max_bytes" toml:"max_bytes"`
}

// BridgeConfig configures the HTTP bridge.
type BridgeConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
	Peer string `yaml:"peer" toml:"peer"`
}

// PeerConfig describes an external tool provider process.
type PeerConfig struct {
	Alias   string            `yaml:"alias" toml:"alias"`
	Kind    string            `yaml:"kind" toml:"kind"`
	Command string            `yaml:"command" toml:"command"`
	Args    []string          `yaml:"args" toml:"args"`
	Cwd     string            `yaml:"cwd" toml:"cwd"`
	Env     map[string]string `yaml:"env" toml:"env"`
	Timeout Duration          `yaml:"timeout" toml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()

	return cfg
}

// Load reads the configuration file at path, applies environment overrides
// and validates the result. An empty path yields the defaults plus
// environment overrides.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration
		if err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}

		if err := decode(path, []byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config: unsupported file extension %q", ext)
	}

	return nil
}

// LoadDotEnv loads variables from a .env file into the process environment.
// Existing variables win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}

	err := godotenv.Load(path)
	if err == nil || stderrors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("config: load %s: %w", path, err)
}

// applyEnv overrides fields from the host's environment variables.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("TOOLHOST_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	if v := getenv("REPORTS_DIR"); v != "" {
		c.ReportsDir = v
	}

	if v := getenv("MCP_LOG_PATH"); v != "" {
		c.Audit.Path = v
	}

	if n, err := strconv.ParseInt(getenv("MCP_LOG_MAX_BYTES"), 10, 64); err == nil {
		c.Audit.MaxBytes = n
	}

	if v := getenv("OPENAI_API_BASE"); v != "" {
		c.LLM.BaseURL = v
	}

	if v := getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}

	if v := getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}

	if f, err := strconv.ParseFloat(getenv("LLM_TEMPERATURE"), 64); err == nil {
		c.LLM.Temperature = f
	}

	if n, err := strconv.Atoi(getenv("LLM_MAX_TOKENS")); err == nil {
		c.LLM.MaxTokens = n
	}

	if v := getenv("LLM_SYSTEM_PROMPT"); v != "" {
		c.LLM.SystemPrompt = v
	}

	if v := getenv("LLM_SYSTEM_PROMPT_PATH"); v != "" {
		c.LLM.SystemPromptPath = v
	}

	c.overridePeer("fs", getenv("FS_MCP_CMD"), "")
	c.overridePeer("git", getenv("GIT_MCP_CMD"), "")
	c.overridePeer("peer1", getenv("PEER1_MCP_CMD"), getenv("PEER1_MCP_CWD"))
}

// overridePeer replaces or adds a native peer from a command line string.
func (c *Config) overridePeer(alias, commandLine, cwd string) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return
	}

	peer := PeerConfig{
		Alias:   alias,
		Kind:    KindNative,
		Command: fields[0],
		Args:    fields[1:],
		Cwd:     cwd,
	}

	for i := range c.Peers {
		if c.Peers[i].Alias == alias {
			if peer.Cwd == "" {
				peer.Cwd = c.Peers[i].Cwd
			}

			peer.Env = c.Peers[i].Env
			peer.Timeout = c.Peers[i].Timeout
			c.Peers[i] = peer

			return
		}
	}

	c.Peers = append(c.Peers, peer)
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.ReportsDir == "" {
		c.ReportsDir = DefaultReportsDir
	}

	if c.CallTimeout <= 0 {
		c.CallTimeout = Duration(DefaultCallTimeout)
	}

	if c.Audit.Path == "" {
		c.Audit.Path = filepath.Join(c.ReportsDir, DefaultAuditFile)
	}

	if c.Audit.MaxBytes == 0 {
		c.Audit.MaxBytes = DefaultAuditMaxBytes
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = DefaultLLMBaseURL
	}

	if c.LLM.APIKey == "" {
		c.LLM.APIKey = DefaultLLMAPIKey
	}

	if c.LLM.Model == "" {
		c.LLM.Model = DefaultLLMModel
	}

	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = DefaultLLMTemperature
	}

	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = DefaultLLMMaxTokens
	}

	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = Duration(60 * time.Second)
	}

	if len(c.Sandbox.AllowedDirs) == 0 {
		c.Sandbox.AllowedDirs = []string{"samples", "~/datasets", "~/docs", c.ReportsDir}
	}

	if c.Sandbox.MaxBytes == 0 {
		c.Sandbox.MaxBytes = DefaultSandboxMaxBytes
	}

	if c.Bridge.Addr == "" {
		c.Bridge.Addr = DefaultBridgeAddr
	}

	for i := range c.Peers {
		c.Peers[i].Kind = NormalizePeerKind(c.Peers[i].Kind)

		if c.Peers[i].Timeout <= 0 {
			c.Peers[i].Timeout = c.CallTimeout
		}
	}
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	aliases := make(map[string]struct{}, len(c.Peers))

	for _, p := range c.Peers {
		if p.Alias == "" {
			return fmt.Errorf("config: peer alias is required")
		}

		if strings.ContainsAny(p.Alias, ". /") {
			return fmt.Errorf("config: peer %q: alias must not contain '.', '/' or spaces", p.Alias)
		}

		if p.Command == "" {
			return fmt.Errorf("config: peer %q: command is required", p.Alias)
		}

		switch p.Kind {
		case KindNative, KindMCP:
		default:
			return fmt.Errorf("config: peer %q: unknown kind %q", p.Alias, p.Kind)
		}

		if _, dup := aliases[p.Alias]; dup {
			return fmt.Errorf("config: duplicate peer alias %q", p.Alias)
		}

		aliases[p.Alias] = struct{}{}
	}

	if c.Bridge.Peer != "" {
		if _, ok := aliases[c.Bridge.Peer]; !ok {
			return fmt.Errorf("config: bridge: unknown peer %q", c.Bridge.Peer)
		}
	}

	return nil
}

// Peer returns the peer with the given alias.
func (c Config) Peer(alias string) (PeerConfig, bool) {
	for _, p := range c.Peers {
		if p.Alias == alias {
			return p, true
		}
	}

	return PeerConfig{}, false
}

// ResolveSystemPrompt returns the configured system prompt. A prompt file takes
// precedence over the inline prompt.
func (c LLMConfig) ResolveSystemPrompt() string {
	if c.SystemPromptPath != "" {
		data, err := os.ReadFile(c.SystemPromptPath) //nolint:gosec // configured path
		if err == nil {
			if text := strings.TrimSpace(string(data)); text != "" {
				return text
			}
		}
	}

	return strings.TrimSpace(c.SystemPrompt)
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", name, err)
	}

	return level, nil
}
