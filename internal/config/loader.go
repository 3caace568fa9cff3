package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path on top of the built-in defaults, then
// applies SIGNALMESH_* environment overrides. The result has NOT been
// validated; callers invoke Validate after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites config fields from well-known SIGNALMESH_*
// variables, so operators inject secrets at deploy time without touching the
// TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "SIGNALMESH_MODE")
	setStr(&cfg.LogLevel, "SIGNALMESH_LOG_LEVEL")

	setStr(&cfg.RiskGate.URL, "SIGNALMESH_RISK_GATE_URL")
	setDuration(&cfg.RiskGate.Timeout, "SIGNALMESH_RISK_GATE_TIMEOUT")
	setStr(&cfg.Dispatch.GatePolicy, "SIGNALMESH_DISPATCH_GATE_POLICY")
	setFloat64(&cfg.Dispatch.AmountPerMission, "SIGNALMESH_DISPATCH_AMOUNT_PER_MISSION")

	setBool(&cfg.Postgres.Enabled, "SIGNALMESH_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SIGNALMESH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SIGNALMESH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SIGNALMESH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SIGNALMESH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SIGNALMESH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SIGNALMESH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SIGNALMESH_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "SIGNALMESH_POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "SIGNALMESH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SIGNALMESH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SIGNALMESH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SIGNALMESH_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "SIGNALMESH_REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "SIGNALMESH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SIGNALMESH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SIGNALMESH_S3_REGION")
	setStr(&cfg.S3.Bucket, "SIGNALMESH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SIGNALMESH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SIGNALMESH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SIGNALMESH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SIGNALMESH_S3_FORCE_PATH_STYLE")

	setStr(&cfg.Notify.TelegramToken, "SIGNALMESH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SIGNALMESH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SIGNALMESH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SIGNALMESH_NOTIFY_EVENTS")

	setBool(&cfg.Server.Enabled, "SIGNALMESH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SIGNALMESH_SERVER_PORT")
}

// Typed env helpers. Each mutates its target only when the variable is set
// and parses cleanly.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
