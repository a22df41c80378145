package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the recorder daemon
type Config struct {
	// Ops HTTP service
	Port int `envconfig:"PORT" default:"10001"`

	// Storage
	RecordingsDir string `envconfig:"RECORDINGS_DIR" default:"./recordings"`
	DBPath        string `envconfig:"DB_PATH" default:"./recordings.db"`

	// Backup mirror of RECORDINGS_DIR and the ACL files in SECURITY_DIR
	BackupEnabled       bool          `envconfig:"BACKUP_ENABLED" default:"false"`
	BackupDir           string        `envconfig:"BACKUP_DIR"`
	SecurityDir         string        `envconfig:"SECURITY_DIR"`
	BackupRetryInterval time.Duration `envconfig:"BACKUP_RETRY_INTERVAL" default:"5m"`

	// Optional YAML list of extra RTP payload types.
	RTPTypesFile string `envconfig:"RTP_TYPES_FILE"`

	// Optional YAML map of venue URL to venue streams.
	VenuesFile string `envconfig:"VENUES_FILE"`

	// Network interface used for multicast joins. Empty lets the kernel choose.
	MulticastInterface string `envconfig:"MULTICAST_INTERFACE"`

	// Outgoing mail. Messages are only logged when SMTP_ADDR is empty.
	SMTPAddr     string `envconfig:"SMTP_ADDR"`
	SMTPFrom     string `envconfig:"SMTP_FROM" default:"recorder@localhost"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`

	// zstd level for recording exports: fastest, default, better or best.
	ExportCompression string `envconfig:"EXPORT_COMPRESSION" default:"default"`
}

// LogValue renders the configuration for logs with the SMTP password redacted.
func (c *Config) LogValue() slog.Value {
	password := ""
	if c.SMTPPassword != "" {
		password = "REDACTED"
	}
	return slog.GroupValue(
		slog.Int("port", c.Port),
		slog.String("recordingsDir", c.RecordingsDir),
		slog.String("dbPath", c.DBPath),
		slog.Bool("backupEnabled", c.BackupEnabled),
		slog.String("backupDir", c.BackupDir),
		slog.String("securityDir", c.SecurityDir),
		slog.Duration("backupRetryInterval", c.BackupRetryInterval),
		slog.String("rtpTypesFile", c.RTPTypesFile),
		slog.String("venuesFile", c.VenuesFile),
		slog.String("multicastInterface", c.MulticastInterface),
		slog.String("smtpAddr", c.SMTPAddr),
		slog.String("smtpFrom", c.SMTPFrom),
		slog.String("smtpUsername", c.SMTPUsername),
		slog.String("smtpPassword", password),
		slog.String("exportCompression", c.ExportCompression),
	)
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, err
	}
	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(config *Config) error {
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if config.RecordingsDir == "" {
		return fmt.Errorf("RECORDINGS_DIR is required")
	}
	if config.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if config.BackupEnabled {
		if config.BackupDir == "" {
			return fmt.Errorf("BACKUP_DIR is required when BACKUP_ENABLED is set")
		}
		if config.BackupDir == config.RecordingsDir {
			return fmt.Errorf("BACKUP_DIR must differ from RECORDINGS_DIR")
		}
		if config.BackupRetryInterval <= 0 {
			return fmt.Errorf("BACKUP_RETRY_INTERVAL must be greater than 0")
		}
	}
	switch config.ExportCompression {
	case "fastest", "default", "better", "best":
	default:
		return fmt.Errorf("EXPORT_COMPRESSION must be one of fastest, default, better, best")
	}

	return nil
}
