// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserDriver selects the automation backend used for actuator sessions.
type BrowserDriver string

const (
	DriverChromedp BrowserDriver = "chromedp"
	DriverRod      BrowserDriver = "rod"
)

// BrowserConfig holds settings for the headless browser instances.
// Every session launches its own browser process from these settings.
type BrowserConfig struct {
	Driver            BrowserDriver  `mapstructure:"driver" yaml:"driver"`
	BinaryPath        string         `mapstructure:"binary_path" yaml:"binary_path"`
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	DisableGPU        bool           `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	ScreenshotFormat  string         `mapstructure:"screenshot_format" yaml:"screenshot_format"`
	ScreenshotQuality int            `mapstructure:"screenshot_quality" yaml:"screenshot_quality"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ClickSettle       time.Duration  `mapstructure:"click_settle" yaml:"click_settle"`
	ScrollSettle      time.Duration  `mapstructure:"scroll_settle" yaml:"scroll_settle"`
	// PointerSteps is how many intermediate moves precede a click. 0 jumps straight there.
	PointerSteps      int            `mapstructure:"pointer_steps" yaml:"pointer_steps"`
}

// ViewportConfig is the emulated viewport size. Screenshots are captured at this size.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// AgentConfig holds settings related to the reasoning model and the control loop.
type AgentConfig struct {
	LLM  LLMModelConfig `mapstructure:"llm" yaml:"llm"`
	Loop LoopConfig     `mapstructure:"loop" yaml:"loop"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMModelConfig defines the configuration for the vision reasoning model.
type LLMModelConfig struct {
	Provider          LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model             string            `mapstructure:"model" yaml:"model"`
	FallbackModel     string            `mapstructure:"fallback_model" yaml:"fallback_model"`
	APIKey            string            `mapstructure:"api_key" yaml:"-"`
	Endpoint          string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP              float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK              int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens         int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerMinute int               `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	SafetyFilters     map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// LoopConfig is the immutable per-session control loop configuration.
type LoopConfig struct {
	MaxSteps           int           `mapstructure:"max_steps" yaml:"max_steps"`
	StepTimeout        time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	Retry              RetryConfig   `mapstructure:"retry" yaml:"retry"`
	HistoryWindow      int           `mapstructure:"history_window" yaml:"history_window"`
	HistoryEntryMaxLen int           `mapstructure:"history_entry_max_len" yaml:"history_entry_max_len"`
	TeardownTimeout    time.Duration `mapstructure:"teardown_timeout" yaml:"teardown_timeout"`
}

// RetryConfig bounds the retries for transient capture, reasoning and execution failures.
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	ListenAddr        string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	MaxSessions       int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	MaxConnections    int           `mapstructure:"max_connections" yaml:"max_connections"`
	StreamScreenshots bool          `mapstructure:"stream_screenshots" yaml:"stream_screenshots"`
	DefaultStartURL   string        `mapstructure:"default_start_url" yaml:"default_start_url"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	Auth              AuthConfig    `mapstructure:"auth" yaml:"auth"`
}

// AuthConfig enables bearer token authentication when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"-"`
	Issuer    string `mapstructure:"issuer" yaml:"issuer"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "navigator")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.driver", string(DriverChromedp))
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 720)
	v.SetDefault("browser.screenshot_format", "jpeg")
	v.SetDefault("browser.screenshot_quality", 80)
	v.SetDefault("browser.navigation_timeout", "15s")
	v.SetDefault("browser.click_settle", "500ms")
	v.SetDefault("browser.scroll_settle", "300ms")
	v.SetDefault("browser.pointer_steps", 8)

	// -- Agent --
	v.SetDefault("agent.llm.provider", string(ProviderGemini))
	v.SetDefault("agent.llm.model", "gemini-2.0-flash")
	v.SetDefault("agent.llm.api_timeout", "60s")
	v.SetDefault("agent.llm.temperature", 0.1)
	v.SetDefault("agent.llm.max_tokens", 256)
	v.SetDefault("agent.llm.requests_per_minute", 60)

	v.SetDefault("agent.loop.max_steps", 20)
	v.SetDefault("agent.loop.step_timeout", "90s")
	v.SetDefault("agent.loop.retry.max_retries", 2)
	v.SetDefault("agent.loop.retry.initial_interval", "500ms")
	v.SetDefault("agent.loop.retry.max_interval", "5s")
	v.SetDefault("agent.loop.retry.multiplier", 2.0)
	v.SetDefault("agent.loop.history_window", 5)
	v.SetDefault("agent.loop.history_entry_max_len", 200)
	v.SetDefault("agent.loop.teardown_timeout", "10s")

	// -- Server --
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.max_sessions", 4)
	v.SetDefault("server.max_connections", 256)
	v.SetDefault("server.stream_screenshots", false)
	v.SetDefault("server.default_start_url", "https://www.google.com")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.auth.issuer", "navigator")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("agent.llm.api_key", "NAVIGATOR_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("server.auth.jwt_secret", "NAVIGATOR_JWT_SECRET")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.Agent.Loop.Validate(); err != nil {
		return fmt.Errorf("agent.loop configuration invalid: %w", err)
	}
	if c.Server.MaxSessions <= 0 {
		return fmt.Errorf("server.max_sessions must be a positive integer")
	}
	if c.Server.DefaultStartURL != "" {
		u, err := url.Parse(c.Server.DefaultStartURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("server.default_start_url must be an absolute http(s) URL")
		}
	}
	return nil
}

// Validate checks the browser settings.
func (b *BrowserConfig) Validate() error {
	switch b.Driver {
	case DriverChromedp, DriverRod:
	default:
		return fmt.Errorf("unknown driver %q (supported: %s, %s)", b.Driver, DriverChromedp, DriverRod)
	}
	if b.Viewport.Width <= 0 || b.Viewport.Height <= 0 {
		return fmt.Errorf("viewport dimensions must be positive")
	}
	switch strings.ToLower(b.ScreenshotFormat) {
	case "jpeg", "png":
	default:
		return fmt.Errorf("screenshot_format must be jpeg or png")
	}
	if b.ScreenshotQuality < 0 || b.ScreenshotQuality > 100 {
		return fmt.Errorf("screenshot_quality must be between 0 and 100")
	}
	if b.PointerSteps < 0 {
		return fmt.Errorf("pointer_steps must not be negative")
	}
	return nil
}

// Validate checks the loop settings. A session is rejected before it starts if these are off.
func (l *LoopConfig) Validate() error {
	if l.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be greater than 0")
	}
	if l.StepTimeout <= 0 {
		return fmt.Errorf("step_timeout must be a positive duration")
	}
	if l.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if l.HistoryWindow <= 0 {
		return fmt.Errorf("history_window must be greater than 0")
	}
	if l.HistoryEntryMaxLen <= 0 {
		return fmt.Errorf("history_entry_max_len must be greater than 0")
	}
	if l.TeardownTimeout <= 0 {
		return fmt.Errorf("teardown_timeout must be a positive duration")
	}
	return nil
}
