package config

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	testCases := []struct {
		name    string
		env     map[string]string
		wantErr bool
		wantCfg *Config
	}{
		{
			name: "defaults (no env set)",
			env:  map[string]string{},
			wantCfg: &Config{
				Port:                10001,
				RecordingsDir:       "./recordings",
				DBPath:              "./recordings.db",
				BackupRetryInterval: 5 * time.Minute,
				SMTPFrom:            "recorder@localhost",
				ExportCompression:   "default",
			},
		},
		{
			name: "custom valid env",
			env: map[string]string{
				"PORT":                  "12345",
				"RECORDINGS_DIR":        "/srv/recordings",
				"DB_PATH":               "/srv/recorder.db",
				"BACKUP_ENABLED":        "true",
				"BACKUP_DIR":            "/mnt/backup",
				"SECURITY_DIR":          "/srv/security",
				"BACKUP_RETRY_INTERVAL": "30s",
				"VENUES_FILE":           "/etc/recorder/venues.yaml",
				"MULTICAST_INTERFACE":   "eth1",
				"SMTP_ADDR":             "mail:25",
				"EXPORT_COMPRESSION":    "best",
			},
			wantCfg: &Config{
				Port:                12345,
				RecordingsDir:       "/srv/recordings",
				DBPath:              "/srv/recorder.db",
				BackupEnabled:       true,
				BackupDir:           "/mnt/backup",
				SecurityDir:         "/srv/security",
				BackupRetryInterval: 30 * time.Second,
				VenuesFile:          "/etc/recorder/venues.yaml",
				MulticastInterface:  "eth1",
				SMTPAddr:            "mail:25",
				SMTPFrom:            "recorder@localhost",
				ExportCompression:   "best",
			},
		},
		{
			name: "port out of range",
			env: map[string]string{
				"PORT": "70000",
			},
			wantErr: true,
		},
		{
			name: "backup without dir",
			env: map[string]string{
				"BACKUP_ENABLED": "true",
			},
			wantErr: true,
		},
		{
			name: "backup into recordings dir",
			env: map[string]string{
				"BACKUP_ENABLED": "true",
				"BACKUP_DIR":     "./recordings",
			},
			wantErr: true,
		},
		{
			name: "invalid retry interval",
			env: map[string]string{
				"BACKUP_RETRY_INTERVAL": "soon",
			},
			wantErr: true,
		},
		{
			name: "unknown compression",
			env: map[string]string{
				"EXPORT_COMPRESSION": "maximum",
			},
			wantErr: true,
		},
		{
			name: "missing recordings dir (set to empty)",
			env: map[string]string{
				"RECORDINGS_DIR": "",
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()

			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				require.Equal(t, tc.wantCfg, cfg)
			}
		})
	}
}

func TestConfig_LogValueRedactsPassword(t *testing.T) {
	t.Setenv("SMTP_ADDR", "mail:25")
	t.Setenv("SMTP_USERNAME", "recorder")
	t.Setenv("SMTP_PASSWORD", "hunter2")

	cfg, err := Load()
	require.NoError(t, err)

	var buf bytes.Buffer
	slog.New(slog.NewTextHandler(&buf, nil)).Info("server configuration", "config", cfg)

	out := buf.String()
	require.NotContains(t, out, "hunter2")
	require.Contains(t, out, "config.smtpPassword=REDACTED")
	require.Contains(t, out, "config.smtpUsername=recorder")
	require.Contains(t, out, "config.smtpAddr=mail:25")
}
