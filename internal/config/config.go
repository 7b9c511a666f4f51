package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")
var ErrInvalidValue = errors.New("invalid configuration value")

const (
	TransportNSQ  = "nsq"
	TransportNATS = "nats"

	ToolImaging     = "imaging"
	ToolImageMagick = "imagemagick"
	ToolFFmpeg      = "ffmpeg"

	ReactionStop  = "stop"
	ReactionPause = "pause"
	ReactionNone  = "none"
)

type Config struct {
	// Node identity
	ComponentID string `envconfig:"NODE_COMPONENT_ID" default:"worknode"`
	InstanceID  string `envconfig:"NODE_INSTANCE_ID"`

	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"worknode"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"worknode"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Transport
	Transport  string `envconfig:"TRANSPORT" default:"nsq"`
	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NATSURL    string `envconfig:"NATS_URL" default:"nats://nats:4222"`

	// Server
	ServerPort int `envconfig:"SERVER_PORT" default:"8081"`

	// Heartbeat
	HeartbeatIntervalSeconds int  `envconfig:"HEARTBEAT_INTERVAL_SECONDS" default:"30"`
	EnableHeart              bool `envconfig:"ENABLE_HEART" default:"true"`
	EnableMonitor            bool `envconfig:"ENABLE_MONITOR" default:"false"`

	// Work
	ListenersFile      string `envconfig:"LISTENERS_FILE"`
	TransformTool      string `envconfig:"TRANSFORM_TOOL" default:"imaging"`
	ConvertPath        string `envconfig:"CONVERT_PATH" default:"convert"`
	FFmpegPath         string `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	WorkDir            string `envconfig:"WORK_DIR"`
	WorkTimeoutSeconds int    `envconfig:"WORK_TIMEOUT_SECONDS" default:"0"`
	// ContentRoot confines file:// content references. Empty refuses them.
	ContentRoot string `envconfig:"CONTENT_ROOT"`

	// Resilience
	Reaction                   string `envconfig:"REACTION" default:"stop"`
	ReactionGraceSeconds       int    `envconfig:"REACTION_GRACE_SECONDS" default:"30"`
	ReactionDelayMS            int    `envconfig:"REACTION_DELAY_MS" default:"0"`
	ReactionDetached           bool   `envconfig:"REACTION_DETACHED" default:"true"`
	BootstrapRetryAttempts     int    `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int    `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`

	// Logging
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"json"`
	LogFile       string `envconfig:"LOG_FILE"`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"5"`
	LogMaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"14"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.ComponentID == "" {
		return fmt.Errorf("%w: NODE_COMPONENT_ID", ErrMissingRequired)
	}
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if err := oneOf("TRANSPORT", c.Transport, TransportNSQ, TransportNATS); err != nil {
		return err
	}
	if c.Transport == TransportNSQ && c.NSQLookupd == "" && c.NSQDHost == "" {
		return fmt.Errorf("%w: NSQ_LOOKUPD or NSQD_HOST", ErrMissingRequired)
	}
	if c.Transport == TransportNATS && c.NATSURL == "" {
		return fmt.Errorf("%w: NATS_URL", ErrMissingRequired)
	}
	if err := oneOf("TRANSFORM_TOOL", c.TransformTool, ToolImaging, ToolImageMagick, ToolFFmpeg); err != nil {
		return err
	}
	if err := oneOf("REACTION", c.Reaction, ReactionStop, ReactionPause, ReactionNone); err != nil {
		return err
	}
	if c.ContentRoot != "" && !filepath.IsAbs(c.ContentRoot) {
		return fmt.Errorf("%w: CONTENT_ROOT must be an absolute path", ErrInvalidValue)
	}
	if c.EnableHeart && c.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("%w: HEARTBEAT_INTERVAL_SECONDS must be positive", ErrInvalidValue)
	}
	return nil
}

// DSN is the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}

func oneOf(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s=%q, want one of %s", ErrInvalidValue, name, value, strings.Join(allowed, "|"))
}
