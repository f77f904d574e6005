package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultClassifyModel       = "gpt-4o-mini"
	DefaultGenerateModel       = "gpt-4o-mini"
	DefaultMaxTokens           = 512
	DefaultHost                = "127.0.0.1"
	DefaultPort                = 18791
	DefaultSandboxPort         = 18792
	DefaultSandboxRoom         = "room"
	DefaultBufSize             = 100
	DefaultDailyCap            = 2
	DefaultContextWindowSize   = 10
	DefaultContextStaleness    = "12h"
	DefaultConfidenceThreshold = 0.8
	DefaultDelayMinMs          = 30000
	DefaultDelayMaxMs          = 180000
	DefaultDayBoundaryHour     = 2
	DefaultTimeZone            = "Asia/Jerusalem"
	DefaultPendingMaxMessages  = 3
	DefaultMaxAttempts         = 5
	DefaultFallbackName        = "נשמה"
	DefaultAuditRetentionDays  = 30
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "console"
	DefaultDisclaimer          = "גילוי נאות: אני בוט לזיהוי הודעות יום הולדת 🤖 אני עדיין בשלבי הרצה אז תהיו סלחנים אליי"
)

type Config struct {
	Provider ProviderConfig `json:"provider"`
	Models   ModelsConfig   `json:"models"`
	Channels ChannelsConfig `json:"channels"`
	Birthday BirthdayConfig `json:"birthday"`
	Store    StoreConfig    `json:"store"`
	Gateway  GatewayConfig  `json:"gateway"`
	Log      LogConfig      `json:"log"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty" validate:"omitempty,oneof=openai anthropic"` // "openai" (default) or "anthropic"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty" validate:"omitempty,url"`
}

type ModelsConfig struct {
	Classify  string `json:"classify"`
	Generate  string `json:"generate"`
	MaxTokens int    `json:"maxTokens" validate:"gte=0"`
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
	Sandbox  SandboxConfig  `json:"sandbox"`
}

type WhatsAppConfig struct {
	Enabled   bool     `json:"enabled"`
	StorePath string   `json:"storePath,omitempty"`
	GroupJID  string   `json:"groupJid,omitempty"`
	AllowFrom []string `json:"allowFrom,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	ChatID    string   `json:"chatId,omitempty"`
	AllowFrom []string `json:"allowFrom,omitempty"`
	Proxy     string   `json:"proxy,omitempty" validate:"omitempty,url"`
}

// SandboxConfig is a local websocket group chat for trying the bot.
type SandboxConfig struct {
	Enabled   bool     `json:"enabled"`
	Host      string   `json:"host,omitempty"`
	Port      int      `json:"port" validate:"gte=0,lte=65535"`
	Room      string   `json:"room,omitempty"`
	AllowFrom []string `json:"allowFrom,omitempty"`
}

type BirthdayConfig struct {
	DryRun                  bool    `json:"dryRun"`
	DailyCap                int     `json:"dailyCap" validate:"gte=1,lte=20"`
	ContextWindowSize       int     `json:"contextWindowSize" validate:"gte=1,lte=100"`
	ContextStaleness        string  `json:"contextStaleness"`
	ConfidenceThreshold     float64 `json:"confidenceThreshold" validate:"gte=0,lte=1"`
	DelayMinMs              int     `json:"delayMinMs" validate:"gte=0"`
	DelayMaxMs              int     `json:"delayMaxMs" validate:"gte=0"`
	DayBoundaryHour         int     `json:"dayBoundaryHour" validate:"gte=0,lte=23"`
	TimeZone                string  `json:"timeZone"`
	PendingMaxMessages      int     `json:"pendingMaxMessages" validate:"gte=1,lte=50"`
	MaxAttempts             int     `json:"maxAttempts" validate:"gte=1,lte=20"`
	FallbackName            string  `json:"fallbackName" validate:"required"`
	Disclaimer              string  `json:"disclaimer" validate:"required"`
	RequireAdditionalMarker bool    `json:"requireAdditionalMarker"`
	SkipRepeatedNames       bool    `json:"skipRepeatedNames"`
	ConfirmNames            bool    `json:"confirmNames"`
}

type StoreConfig struct {
	DBPath             string `json:"dbPath,omitempty"`
	AuditRetentionDays int    `json:"auditRetentionDays" validate:"gte=1"`
}

type GatewayConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port" validate:"gte=0,lte=65535"`
	// AllowedOrigins enables CORS for the status API when non-empty.
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format" validate:"omitempty,oneof=console json"`
}

func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{Type: "openai"},
		Models: ModelsConfig{
			Classify:  DefaultClassifyModel,
			Generate:  DefaultGenerateModel,
			MaxTokens: DefaultMaxTokens,
		},
		Birthday: BirthdayConfig{
			DryRun:                  true,
			DailyCap:                DefaultDailyCap,
			ContextWindowSize:       DefaultContextWindowSize,
			ContextStaleness:        DefaultContextStaleness,
			ConfidenceThreshold:     DefaultConfidenceThreshold,
			DelayMinMs:              DefaultDelayMinMs,
			DelayMaxMs:              DefaultDelayMaxMs,
			DayBoundaryHour:         DefaultDayBoundaryHour,
			TimeZone:                DefaultTimeZone,
			PendingMaxMessages:      DefaultPendingMaxMessages,
			MaxAttempts:             DefaultMaxAttempts,
			FallbackName:            DefaultFallbackName,
			Disclaimer:              DefaultDisclaimer,
			RequireAdditionalMarker: true,
			SkipRepeatedNames:       true,
			ConfirmNames:            true,
		},
		Channels: ChannelsConfig{
			Sandbox: SandboxConfig{
				Host: DefaultHost,
				Port: DefaultSandboxPort,
				Room: DefaultSandboxRoom,
			},
		},
		Store: StoreConfig{
			AuditRetentionDays: DefaultAuditRetentionDays,
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

func ConfigDir() string {
	if dir := os.Getenv("BIRTHDAYBOT_HOME"); dir != "" {
		return dir
	}
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".birthdaybot")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// DBPath returns the ledger database path, defaulting under ConfigDir.
func (c *Config) DBPath() string {
	if p := strings.TrimSpace(c.Store.DBPath); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "data", "birthdaybot.db")
}

// Staleness parses Birthday.ContextStaleness, falling back to the default.
func (c *Config) Staleness() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.Birthday.ContextStaleness))
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultContextStaleness)
	}
	return d
}

// Location loads Birthday.TimeZone; unknown zones fall back to local time.
func (c *Config) Location() *time.Location {
	name := strings.TrimSpace(c.Birthday.TimeZone)
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) DelayBounds() (time.Duration, time.Duration) {
	return time.Duration(c.Birthday.DelayMinMs) * time.Millisecond,
		time.Duration(c.Birthday.DelayMaxMs) * time.Millisecond
}

// Conversations lists the monitored conversation keys ("channel:chat").
func (c *Config) Conversations() []string {
	var out []string
	if c.Channels.WhatsApp.Enabled && strings.TrimSpace(c.Channels.WhatsApp.GroupJID) != "" {
		out = append(out, "whatsapp:"+strings.TrimSpace(c.Channels.WhatsApp.GroupJID))
	}
	if c.Channels.Telegram.Enabled && strings.TrimSpace(c.Channels.Telegram.ChatID) != "" {
		out = append(out, "telegram:"+strings.TrimSpace(c.Channels.Telegram.ChatID))
	}
	if c.Channels.Sandbox.Enabled {
		out = append(out, "sandbox:"+c.SandboxRoom())
	}
	return out
}

// SandboxRoom returns the sandbox chat id, defaulting to DefaultSandboxRoom.
func (c *Config) SandboxRoom() string {
	if r := strings.TrimSpace(c.Channels.Sandbox.Room); r != "" {
		return r
	}
	return DefaultSandboxRoom
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Birthday.DelayMaxMs < c.Birthday.DelayMinMs {
		return fmt.Errorf("invalid config: birthday.delayMaxMs (%d) < birthday.delayMinMs (%d)",
			c.Birthday.DelayMaxMs, c.Birthday.DelayMinMs)
	}
	if c.Channels.Telegram.Enabled && strings.TrimSpace(c.Channels.Telegram.Token) == "" {
		return fmt.Errorf("invalid config: telegram enabled without token")
	}
	return nil
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.Models.Classify == "" {
		cfg.Models.Classify = DefaultClassifyModel
	}
	if cfg.Models.Generate == "" {
		cfg.Models.Generate = DefaultGenerateModel
	}
	if cfg.Birthday.FallbackName == "" {
		cfg.Birthday.FallbackName = DefaultFallbackName
	}
	if cfg.Birthday.Disclaimer == "" {
		cfg.Birthday.Disclaimer = DefaultDisclaimer
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("BIRTHDAYBOT_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		cfg.Provider.Type = "openai"
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		cfg.Provider.Type = "anthropic"
	}
	if t := os.Getenv("BIRTHDAYBOT_PROVIDER"); t != "" {
		cfg.Provider.Type = strings.ToLower(strings.TrimSpace(t))
	}
	if url := os.Getenv("BIRTHDAYBOT_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if jid := os.Getenv("TARGET_GROUP_ID"); jid != "" {
		cfg.Channels.WhatsApp.GroupJID = jid
		cfg.Channels.WhatsApp.Enabled = true
	}
	if token := os.Getenv("BIRTHDAYBOT_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Birthday.DryRun = parsed
		}
	}
	if v := os.Getenv("RESPONSE_DELAY_MIN"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Birthday.DelayMinMs = parsed
		}
	}
	if v := os.Getenv("RESPONSE_DELAY_MAX"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Birthday.DelayMaxMs = parsed
		}
	}
	if v := os.Getenv("DAY_BOUNDARY_HOUR"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Birthday.DayBoundaryHour = parsed
		}
	}
	if v := os.Getenv("DAILY_CAP"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Birthday.DailyCap = parsed
		}
	}
	if v := os.Getenv("CONFIDENCE_THRESHOLD"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Birthday.ConfidenceThreshold = parsed
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("BIRTHDAYBOT_DB_PATH"); v != "" {
		cfg.Store.DBPath = v
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0600)
}
