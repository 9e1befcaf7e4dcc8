// Package config holds the typed configuration tree the engine consumes:
// global server/auth/vault/redis settings plus the per-tenant strategy
// defaults and credentials spec.md §6 names. Loading mechanics (reading a
// file path handed to us by an external control plane) are out of scope;
// this package only defines the types and the env-style parsing the teacher
// uses (config.Load / getEnvOrDefault), trimmed to this engine's domain.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the process-wide configuration: ambient concerns shared by
// every tenant loop and the dashboard process. Per-tenant credentials and
// overrides live in TenantConfig, loaded separately per spec.md §6's
// "per tenant, an env-style file" model.
type Config struct {
	ServerConfig  ServerConfig  `json:"server"`
	AuthConfig    AuthConfig    `json:"auth"`
	VaultConfig   VaultConfig   `json:"vault"`
	RedisConfig   RedisConfig   `json:"redis"`
	LoggingConfig LoggingConfig `json:"logging"`
	GlobalConfig  GlobalConfig  `json:"global"`
	Strategy      StrategyDefaults `json:"strategy"`
}

// GlobalConfig holds the process-wide settings spec.md §6 names outside any
// one tenant: an optional invite code gating /api/register and the AI
// chatbot key (the chatbot itself is an out-of-scope collaborator; the core
// only threads the key through to it).
type GlobalConfig struct {
	InviteCode    string `json:"invite_code"`
	AIChatbotKey  string `json:"ai_chatbot_key"`
	TenantsDir    string `json:"tenants_dir"`
	BasePort      int    `json:"base_dashboard_port"`
}

// LoggingConfig controls the zerolog writer and level, per 1.1 AMBIENT
// STACK of SPEC_FULL.md.
type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // structured JSON vs console writer
}

// ServerConfig holds the dashboard's HTTP server settings, grounded on the
// teacher's config.ServerConfig.
type ServerConfig struct {
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`
	ReadTimeout     int    `json:"read_timeout"`
	WriteTimeout    int    `json:"write_timeout"`
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// AuthConfig guards the dashboard's mutating endpoints
// (/api/register, /api/blacklist) with a JWT, grounded on the teacher's
// config.AuthConfig, trimmed to what the dashboard façade actually needs.
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
}

// VaultConfig configures the HashiCorp Vault-backed tenant credential
// store (internal/vault). When Enabled is false the store falls back to a
// local nacl/secretbox-encrypted file.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	LocalKeyHex string `json:"local_key_hex"` // 32-byte hex key for the local fallback
}

// RedisConfig configures the optional shared L2 ticker cache
// (internal/exchange.TickerCache's redis param). Disabled falls back to a
// purely in-process cache.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// StrategyDefaults are the tunable thresholds spec.md names across C3/C4,
// before any per-tenant learned-params override is merged in by
// internal/learning. Field names match the learnable keys spec.md §4.8
// step 4 lists where applicable.
type StrategyDefaults struct {
	RSIOversold     float64 `json:"rsi_oversold"`
	RSIOverbought   float64 `json:"rsi_overbought"`
	VolumeThreshold float64 `json:"volume_threshold"`
	BuyThreshold    float64 `json:"buy_threshold"`
	SellThreshold   float64 `json:"sell_threshold"`

	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`

	BreakevenTriggerPct float64 `json:"breakeven_trigger_pct"`
	TrailingActivatePct float64 `json:"trailing_activate_pct"`
	TrailingDistance    float64 `json:"trailing_distance"`

	PartialP1 float64 `json:"partial_p1"`
	PartialF1 float64 `json:"partial_f1"`
	PartialP2 float64 `json:"partial_p2"`
	PartialF2 float64 `json:"partial_f2"`

	HardDropPct      float64       `json:"hard_drop_pct"`
	ConfirmInterval  time.Duration `json:"confirm_interval"`
	ConfirmCount     int           `json:"confirm_count"`
	ConfirmDuration  time.Duration `json:"confirm_duration"`
	RSIOversoldProtection float64  `json:"rsi_oversold_protection"`

	HardMaxHoldHours float64       `json:"hard_max_hold_hours"`
	MaxHoldMinutes   int           `json:"max_hold_minutes"`

	DCATriggerPct  float64       `json:"dca_trigger_pct"`
	DCAMaxCount    int           `json:"dca_max_count"`
	DCAMinHoldMin  int           `json:"dca_min_hold_min"`
	DCARSIMax      float64       `json:"dca_rsi_max"`
	DCAMinInterval time.Duration `json:"dca_min_interval"`

	BasePositionPct   float64 `json:"base_position_pct"`
	MaxPositionPct    float64 `json:"max_position_pct"`
	DailyLossLimitKRW float64 `json:"daily_loss_limit_krw"`
	MaxDailyLossPct   float64 `json:"max_daily_loss_pct"`
	RecoveryCooldown  time.Duration `json:"recovery_cooldown"`
	HourlyMaxTrades   int     `json:"hourly_max_trades"`
	BaseMaxPositions  int     `json:"base_max_positions"`
	ScalpExtraSlot    int     `json:"scalp_extra_slot"`
	CooldownAfterSell time.Duration `json:"cooldown_after_sell"`

	MaxSLPct float64 `json:"max_sl_pct"` // position.Valid's structural bound

	ScanInterval    time.Duration `json:"scan_interval"`
	MaxWatchedSymbols int         `json:"max_watched_symbols"`
	QuoteCurrency   string        `json:"quote_currency"`
}

// DefaultStrategy returns the spec.md-named defaults (§4.3, §4.4).
func DefaultStrategy() StrategyDefaults {
	return StrategyDefaults{
		RSIOversold:     30,
		RSIOverbought:   70,
		VolumeThreshold: 1.5,
		BuyThreshold:    2.0,
		SellThreshold:   3.0,

		StopLossPct:   2.5,
		TakeProfitPct: 5.0,

		BreakevenTriggerPct: 1.0,
		TrailingActivatePct: 2.0,
		TrailingDistance:    0.012,

		PartialP1: 2.0, PartialF1: 0.3,
		PartialP2: 4.0, PartialF2: 0.3,

		HardDropPct:     -7.0,
		ConfirmInterval: 60 * time.Second,
		ConfirmCount:    3,
		ConfirmDuration: 300 * time.Second,
		RSIOversoldProtection: 25,

		HardMaxHoldHours: 48,
		MaxHoldMinutes:   360,

		DCATriggerPct:  -3.0,
		DCAMaxCount:    2,
		DCAMinHoldMin:  30,
		DCARSIMax:      35,
		DCAMinInterval: 20 * time.Minute,

		BasePositionPct:   10,
		MaxPositionPct:    20,
		DailyLossLimitKRW: 100000,
		MaxDailyLossPct:   5,
		RecoveryCooldown:  30 * time.Minute,
		HourlyMaxTrades:   10,
		BaseMaxPositions:  5,
		ScalpExtraSlot:    1,
		CooldownAfterSell: 10 * time.Minute,

		MaxSLPct: 10,

		ScanInterval:      60 * time.Second,
		MaxWatchedSymbols: 10,
		QuoteCurrency:     "KRW",
	}
}

// NotifyConfig is the optional notification transport config stored per
// tenant; the transports themselves (chat/webhook) are out-of-scope
// collaborators — only the token/channel plumbing lives here.
type NotifyConfig struct {
	TelegramBotToken string `json:"telegram_bot_token,omitempty"`
	TelegramChatID   string `json:"telegram_chat_id,omitempty"`
	DiscordWebhook   string `json:"discord_webhook,omitempty"`
}

// TenantConfig is one tenant's full configuration: credentials, state
// directory, dashboard port, and paper-mode settings, per spec.md §3/§6.
type TenantConfig struct {
	ID             string       `json:"id"`
	AccessKey      string       `json:"access_key"`
	SecretKey      string       `json:"secret_key"`
	LogDir         string       `json:"log_dir"`
	DashboardPort  int          `json:"dashboard_port"`
	PaperMode      bool         `json:"paper_mode"`
	PaperBalance   float64      `json:"paper_balance"`
	Notify         NotifyConfig `json:"notify"`
}

// Load reads the process-wide Config from config.json if present, then
// applies environment overrides (env wins), mirroring the teacher's
// config.Load two-phase pattern.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func loadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", orDefault(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", orDefault(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", orDefaultInt(cfg.ServerConfig.ReadTimeout, 30))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", orDefaultInt(cfg.ServerConfig.WriteTimeout, 30))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", orDefaultInt(cfg.ServerConfig.ShutdownTimeout, 10))

	cfg.AuthConfig.Enabled = getEnvOrDefault("AUTH_ENABLED", strconv.FormatBool(cfg.AuthConfig.Enabled)) == "true"
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	tokenDuration := cfg.AuthConfig.AccessTokenDuration
	if tokenDuration == 0 {
		tokenDuration = 24 * time.Hour
	}
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", tokenDuration)

	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", strconv.FormatBool(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", orDefault(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", orDefault(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", orDefault(cfg.VaultConfig.SecretPath, "trading-engine/tenants"))
	cfg.VaultConfig.LocalKeyHex = getEnvOrDefault("VAULT_LOCAL_KEY_HEX", cfg.VaultConfig.LocalKeyHex)

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", strconv.FormatBool(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", orDefault(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", orDefault(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"

	cfg.GlobalConfig.InviteCode = getEnvOrDefault("INVITE_CODE", cfg.GlobalConfig.InviteCode)
	cfg.GlobalConfig.AIChatbotKey = getEnvOrDefault("AI_CHATBOT_KEY", cfg.GlobalConfig.AIChatbotKey)
	cfg.GlobalConfig.TenantsDir = getEnvOrDefault("TENANTS_DIR", orDefault(cfg.GlobalConfig.TenantsDir, "tenants"))
	cfg.GlobalConfig.BasePort = getEnvIntOrDefault("BASE_DASHBOARD_PORT", orDefaultInt(cfg.GlobalConfig.BasePort, 3737))

	if (cfg.Strategy == StrategyDefaults{}) {
		cfg.Strategy = DefaultStrategy()
	}
}

func orDefault(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

func orDefaultInt(v, d int) int {
	if v == 0 {
		return d
	}
	return v
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
