// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface exposes read access to the application configuration plus the few
// mutators commands need. Components depend on this interface rather than the
// concrete Config so tests can substitute partial mocks.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	LLM() LLMConfig
	Agent() AgentConfig
	Inbox() InboxConfig
	Fixer() FixerConfig
	Repokeeper() RepokeeperConfig
	Bugfix() BugfixConfig

	SetAgentDomain(domain string)
	SetAgentTickInterval(d time.Duration)
	SetFixerDryRun(dryRun bool)
}

// Config is the root configuration object, populated once at startup from the
// config file and environment. It is never re-read mid cycle.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	LLMCfg        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	AgentCfg      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	InboxCfg      InboxConfig      `mapstructure:"inbox" yaml:"inbox"`
	FixerCfg      FixerConfig      `mapstructure:"fixer" yaml:"fixer"`
	RepokeeperCfg RepokeeperConfig `mapstructure:"repokeeper" yaml:"repokeeper"`
	BugfixCfg     BugfixConfig     `mapstructure:"bugfix" yaml:"bugfix"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) LLM() LLMConfig               { return c.LLMCfg }
func (c *Config) Agent() AgentConfig           { return c.AgentCfg }
func (c *Config) Inbox() InboxConfig           { return c.InboxCfg }
func (c *Config) Fixer() FixerConfig           { return c.FixerCfg }
func (c *Config) Repokeeper() RepokeeperConfig { return c.RepokeeperCfg }
func (c *Config) Bugfix() BugfixConfig         { return c.BugfixCfg }

func (c *Config) SetAgentDomain(domain string)         { c.AgentCfg.Domain = domain }
func (c *Config) SetAgentTickInterval(d time.Duration) { c.AgentCfg.TickInterval = d }
func (c *Config) SetFixerDryRun(dryRun bool)           { c.FixerCfg.DryRun = dryRun }

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the backing store connection. An empty URL selects the
// in-memory stores.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"-"`
}

// LLMConfig routes model tiers to named model configurations.
type LLMConfig struct {
	DefaultFastModel     string                 `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                 `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]ModelConfig `mapstructure:"models" yaml:"models"`
}

// ModelConfig describes one reachable model endpoint.
type ModelConfig struct {
	Provider      string        `mapstructure:"provider" yaml:"provider"`
	Model         string        `mapstructure:"model" yaml:"model"`
	APIKey        string        `mapstructure:"api_key" yaml:"-"`
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float64       `mapstructure:"temperature" yaml:"temperature"`
	TopP          float64       `mapstructure:"top_p" yaml:"top_p"`
	TopK          int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// AgentConfig shapes the control loop of a single agent.
type AgentConfig struct {
	ID                string        `mapstructure:"id" yaml:"id"`
	Domain            string        `mapstructure:"domain" yaml:"domain"`
	TickInterval      time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	MaxActionsPerTick int           `mapstructure:"max_actions_per_tick" yaml:"max_actions_per_tick"`
	HistorySize       int           `mapstructure:"history_size" yaml:"history_size"`
	LearningTopK      int           `mapstructure:"learning_top_k" yaml:"learning_top_k"`
	LLMTimeout        time.Duration `mapstructure:"llm_timeout" yaml:"llm_timeout"`
}

// InboxConfig controls the inter-agent message queue and its HTTP ingress.
// An empty ListenAddr disables the listener.
type InboxConfig struct {
	Capacity   int    `mapstructure:"capacity" yaml:"capacity"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	AuthSecret string `mapstructure:"auth_secret" yaml:"-"`
}

// GitConfig identifies the commit author used by the fix pipeline.
type GitConfig struct {
	AuthorName  string `mapstructure:"author_name" yaml:"author_name"`
	AuthorEmail string `mapstructure:"author_email" yaml:"author_email"`
}

// FixerConfig controls the automated fix pipeline.
type FixerConfig struct {
	DryRun          bool          `mapstructure:"dry_run" yaml:"dry_run"`
	ProtectedBranch string        `mapstructure:"protected_branch" yaml:"protected_branch"`
	MaxFixAttempts  int           `mapstructure:"max_fix_attempts" yaml:"max_fix_attempts"`
	SourceRoot      string        `mapstructure:"source_root" yaml:"source_root"`
	WorkspaceRoot   string        `mapstructure:"workspace_root" yaml:"workspace_root"`
	Remote          string        `mapstructure:"remote" yaml:"remote"`
	ToolCommand     string        `mapstructure:"tool_command" yaml:"tool_command"`
	ToolTimeout     time.Duration `mapstructure:"tool_timeout" yaml:"tool_timeout"`
	TestCommand     string        `mapstructure:"test_command" yaml:"test_command"`
	TestTimeout     time.Duration `mapstructure:"test_timeout" yaml:"test_timeout"`
	Git             GitConfig     `mapstructure:"git" yaml:"git"`
	MinConfidence   float64       `mapstructure:"min_confidence" yaml:"min_confidence"`
}

// RepokeeperConfig targets one GitHub repository to caretake.
type RepokeeperConfig struct {
	Owner             string        `mapstructure:"owner" yaml:"owner"`
	Repo              string        `mapstructure:"repo" yaml:"repo"`
	BaseBranch        string        `mapstructure:"base_branch" yaml:"base_branch"`
	Token             string        `mapstructure:"token" yaml:"-"`
	StaleAfter        time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	NotifyAddr        string        `mapstructure:"notify_addr" yaml:"notify_addr"`
}

// BugfixConfig targets an application's log surface.
type BugfixConfig struct {
	WatchLogs  []string `mapstructure:"watch_logs" yaml:"watch_logs"`
	LiveWatch  bool     `mapstructure:"live_watch" yaml:"live_watch"`
	AppLog     string   `mapstructure:"app_log" yaml:"app_log"`
	NotifyAddr string   `mapstructure:"notify_addr" yaml:"notify_addr"`
}

// SetDefaults registers every default value on the given viper instance.
// Called before reading the config file so absent keys resolve sanely.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "custodian-cli")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", true)

	v.SetDefault("llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-2.5-pro")

	v.SetDefault("agent.domain", "repokeeper")
	v.SetDefault("agent.tick_interval", 5*time.Minute)
	v.SetDefault("agent.max_actions_per_tick", 3)
	v.SetDefault("agent.history_size", 50)
	v.SetDefault("agent.learning_top_k", 5)
	v.SetDefault("agent.llm_timeout", 2*time.Minute)

	v.SetDefault("inbox.capacity", 100)
	v.SetDefault("inbox.listen_addr", "127.0.0.1:7717")

	v.SetDefault("fixer.dry_run", true)
	v.SetDefault("fixer.protected_branch", "main")
	v.SetDefault("fixer.max_fix_attempts", 3)
	v.SetDefault("fixer.remote", "origin")
	v.SetDefault("fixer.tool_timeout", 10*time.Minute)
	v.SetDefault("fixer.test_command", "go test ./...")
	v.SetDefault("fixer.test_timeout", 5*time.Minute)
	v.SetDefault("fixer.git.author_name", "custodian")
	v.SetDefault("fixer.git.author_email", "custodian@localhost")
	v.SetDefault("fixer.min_confidence", 0.6)

	v.SetDefault("repokeeper.base_branch", "main")
	v.SetDefault("repokeeper.stale_after", 14*24*time.Hour)
	v.SetDefault("repokeeper.api_timeout", 30*time.Second)
	v.SetDefault("repokeeper.requests_per_second", 1.0)

	v.SetDefault("bugfix.live_watch", false)
}

// NewConfigFromViper builds and validates a Config from a prepared viper
// instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("repokeeper.token", "CUSTODIAN_GITHUB_TOKEN")
	v.BindEnv("inbox.auth_secret", "CUSTODIAN_INBOX_SECRET")
	v.BindEnv("database.url", "CUSTODIAN_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Fall back to the process environment when Unmarshal did not pick the
	// bound keys up (viper only surfaces them once the key is otherwise set).
	if cfg.RepokeeperCfg.Token == "" {
		cfg.RepokeeperCfg.Token = os.Getenv("CUSTODIAN_GITHUB_TOKEN")
	}
	if cfg.InboxCfg.AuthSecret == "" {
		cfg.InboxCfg.AuthSecret = os.Getenv("CUSTODIAN_INBOX_SECRET")
	}
	if cfg.DatabaseCfg.URL == "" {
		cfg.DatabaseCfg.URL = os.Getenv("CUSTODIAN_DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.AgentCfg.ID == "" {
		return fmt.Errorf("agent.id is a required configuration field")
	}
	if c.AgentCfg.TickInterval <= 0 {
		return fmt.Errorf("agent.tick_interval must be positive")
	}
	if c.AgentCfg.MaxActionsPerTick <= 0 {
		return fmt.Errorf("agent.max_actions_per_tick must be a positive integer")
	}
	if c.AgentCfg.HistorySize <= 0 {
		return fmt.Errorf("agent.history_size must be a positive integer")
	}
	switch c.AgentCfg.Domain {
	case "repokeeper", "bugfix":
	default:
		return fmt.Errorf("agent.domain must be one of repokeeper, bugfix (got %q)", c.AgentCfg.Domain)
	}
	if c.InboxCfg.Capacity <= 0 {
		return fmt.Errorf("inbox.capacity must be a positive integer")
	}
	if c.FixerCfg.MaxFixAttempts <= 0 {
		return fmt.Errorf("fixer.max_fix_attempts must be a positive integer")
	}
	if c.FixerCfg.ProtectedBranch == "" {
		return fmt.Errorf("fixer.protected_branch must not be empty")
	}
	if c.FixerCfg.MinConfidence < 0 || c.FixerCfg.MinConfidence > 1 {
		return fmt.Errorf("fixer.min_confidence must be within [0, 1]")
	}
	if c.AgentCfg.Domain == "repokeeper" {
		if c.RepokeeperCfg.Owner == "" || c.RepokeeperCfg.Repo == "" {
			return fmt.Errorf("repokeeper.owner and repokeeper.repo are required for the repokeeper domain")
		}
		if c.RepokeeperCfg.RequestsPerSecond <= 0 {
			return fmt.Errorf("repokeeper.requests_per_second must be positive")
		}
	}
	return nil
}
