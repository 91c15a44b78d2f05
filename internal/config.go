package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken    string   `yaml:"discord_token"`
	CommandPrefix   string   `yaml:"command_prefix"`
	TrackedChannels []string `yaml:"tracked_channels"`

	HashStore string `yaml:"hash_store"` // "file" or "s3"
	HashDir   string `yaml:"hash_dir"`
	ReportDir string `yaml:"report_dir"`
	TempDir   string `yaml:"temp_dir"`

	BatchSize          int      `yaml:"batch_size"`
	HashConcurrency    int      `yaml:"hash_concurrency"`
	ChannelConcurrency int      `yaml:"channel_concurrency"`
	MaxImageBytes      int64    `yaml:"max_image_bytes"`
	AllowedFormats     []string `yaml:"allowed_formats"`
	FetchRate          float64  `yaml:"fetch_rate"` // page fetches per second, 0 = unlimited

	ProgressEvery    int           `yaml:"progress_every"` // messages between build progress updates
	ProgressInterval time.Duration `yaml:"progress_interval"`
	ProgressTimeout  time.Duration `yaml:"progress_timeout"`

	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Region       string `yaml:"s3_region"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3HashPrefix   string `yaml:"s3_hash_prefix"`
	S3ReportPrefix string `yaml:"s3_report_prefix"`
	UploadReports  bool   `yaml:"upload_reports"`

	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`

	NatsURL   string `yaml:"nats_url"`
	NatsToken string `yaml:"nats_token"`

	HTTPPort int `yaml:"http_port"` // 0 disables the status API

	TempCleanupSchedule string        `yaml:"temp_cleanup_schedule"` // cron with seconds
	TempMaxAge          time.Duration `yaml:"temp_max_age"`
	RehashSchedule      string        `yaml:"rehash_schedule"` // empty disables

	LogLevel string `yaml:"log_level"`
}

func defaultConfig() Config {
	return Config{
		CommandPrefix: "!",
		HashStore:     "file",
		HashDir:       filepath.Join("data", "hashes"),
		ReportDir:     "reports",
		TempDir:       filepath.Join(os.TempDir(), "repost-radar"),

		BatchSize:          100,
		HashConcurrency:    6,
		ChannelConcurrency: 4,
		MaxImageBytes:      8 * 1024 * 1024,
		AllowedFormats:     []string{"image/jpeg", "image/jpg", "image/png", "image/webp"},
		FetchRate:          5,

		ProgressEvery:    100,
		ProgressInterval: 2 * time.Second,
		ProgressTimeout:  5 * time.Second,

		S3HashPrefix:   "hashes/",
		S3ReportPrefix: "reports/",

		TempCleanupSchedule: "0 */30 * * * *",
		TempMaxAge:          time.Hour,

		LogLevel: "info",
	}
}

// LoadConfig builds the config from defaults, then the YAML file named by
// REPOST_RADAR_CONFIG (if any), then environment variables.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("REPOST_RADAR_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	envString(&cfg.DiscordToken, "DISCORD_BOT_TOKEN")
	envString(&cfg.CommandPrefix, "COMMAND_PREFIX")
	if v := os.Getenv("TRACKED_CHANNELS"); v != "" {
		cfg.TrackedChannels = splitList(v)
	}

	envString(&cfg.HashStore, "HASH_STORE")
	envString(&cfg.HashDir, "HASH_DIR")
	envString(&cfg.ReportDir, "REPORT_DIR")
	envString(&cfg.TempDir, "TEMP_DIR")

	envInt(&cfg.BatchSize, "BATCH_SIZE")
	envInt(&cfg.HashConcurrency, "HASH_CONCURRENCY")
	envInt(&cfg.ChannelConcurrency, "CHANNEL_CONCURRENCY")
	if v := os.Getenv("MAX_IMAGE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxImageBytes = n
		}
	}
	if v := os.Getenv("ALLOWED_FORMATS"); v != "" {
		cfg.AllowedFormats = splitList(v)
	}
	if v := os.Getenv("FETCH_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.FetchRate = f
		}
	}

	envInt(&cfg.ProgressEvery, "PROGRESS_EVERY")
	envDuration(&cfg.ProgressInterval, "PROGRESS_INTERVAL")
	envDuration(&cfg.ProgressTimeout, "PROGRESS_TIMEOUT")

	envString(&cfg.S3Endpoint, "S3_ENDPOINT")
	envString(&cfg.S3Region, "S3_REGION")
	envString(&cfg.S3Bucket, "S3_BUCKET")
	envString(&cfg.S3AccessKey, "S3_ACCESS_KEY", "S3_ACCESS_KEY_ID")
	envString(&cfg.S3SecretKey, "S3_SECRET_KEY", "S3_SECRET_ACCESS_KEY")
	envString(&cfg.S3HashPrefix, "S3_HASH_PREFIX")
	envString(&cfg.S3ReportPrefix, "S3_REPORT_PREFIX")
	if v := os.Getenv("UPLOAD_REPORTS"); v != "" {
		cfg.UploadReports = v != "false" && v != "0"
	}

	envString(&cfg.TelegramToken, "TELEGRAM_BOT_TOKEN")
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramChatID = n
		}
	}

	envString(&cfg.NatsURL, "NATS_URL")
	envString(&cfg.NatsToken, "NATS_TOKEN")
	envInt(&cfg.HTTPPort, "HTTP_PORT")

	envString(&cfg.TempCleanupSchedule, "TEMP_CLEANUP_SCHEDULE")
	envDuration(&cfg.TempMaxAge, "TEMP_MAX_AGE")
	envString(&cfg.RehashSchedule, "REHASH_SCHEDULE")
	envString(&cfg.LogLevel, "LOG_LEVEL")

	if cfg.HashStore != "file" && cfg.HashStore != "s3" {
		return cfg, fmt.Errorf("HASH_STORE must be file or s3, got %q", cfg.HashStore)
	}
	if cfg.NeedsS3() && !cfg.HasS3() {
		return cfg, errors.New("S3_* env vars are required for the s3 hash store or report upload")
	}
	return cfg, nil
}

// ValidateBot checks the settings only the Discord bot needs.
func (c Config) ValidateBot() error {
	if c.DiscordToken == "" {
		return errors.New("DISCORD_BOT_TOKEN is required")
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		return errors.New("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}

func (c Config) NeedsS3() bool {
	return c.HashStore == "s3" || c.UploadReports
}

func (c Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3Region != "" && c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

// IsTracked reports whether live messages in channelID should be hashed.
func (c Config) IsTracked(channelID string) bool {
	for _, id := range c.TrackedChannels {
		if id == channelID {
			return true
		}
	}
	return false
}

func envString(dst *string, keys ...string) {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			*dst = v
			return
		}
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			*dst = n
		}
	}
}

func envDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
