package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  postgres:
    host: localhost
    database: applications
    user: tracker
workers:
  switch-channel:
    enabled: true
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, cfg.Applications.WebSessionTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Applications.ChatSessionTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Applications.ReferenceCodeTTL)
	assert.Equal(t, DefaultReferenceCodeAlphabet, cfg.Applications.ReferenceCodeAlphabet)
	assert.Equal(t, 15, cfg.Applications.MaxNotifications)
	assert.Equal(t, "ZW", cfg.Applications.PhoneRegion)
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)

	w := cfg.Workers["switch-channel"]
	assert.Equal(t, 5, w.MaxJobsActive)
	assert.Equal(t, 30000, w.Timeout)
}

func TestLoadFromFile_ParsesDurationsAndExpandsEnv(t *testing.T) {
	t.Setenv("TRACKER_DB_PASSWORD", "s3cret")
	path := writeConfig(t, `
database:
  postgres:
    host: db
    database: applications
    user: tracker
    password: ${TRACKER_DB_PASSWORD}
applications:
  web_session_ttl: 2h
  reference_code_alphabet: abcdefghjk
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Database.Postgres.Password)
	assert.Equal(t, 2*time.Hour, cfg.Applications.WebSessionTTL)
	assert.Equal(t, "ABCDEFGHJK", cfg.Applications.ReferenceCodeAlphabet)
	assert.Equal(t, "postgres://tracker:s3cret@db:5432/applications?sslmode=disable", cfg.Database.Postgres.GetURL())
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing postgres host",
			body:    "database:\n  postgres:\n    database: a\n    user: b\n",
			wantErr: "database.postgres.host is required",
		},
		{
			name: "camunda enabled without broker",
			body: "camunda:\n  enabled: true\ndatabase:\n  postgres:\n    host: h\n    database: a\n    user: b\n",
			wantErr: "camunda.broker_address is required",
		},
		{
			name: "alphabet with duplicates",
			body: "database:\n  postgres:\n    host: h\n    database: a\n    user: b\n" +
				"applications:\n  reference_code_alphabet: AABCDEFGHJK\n",
			wantErr: "repeats",
		},
		{
			name: "unknown phone region",
			body: "database:\n  postgres:\n    host: h\n    database: a\n    user: b\n" +
				"applications:\n  phone_region: xx\n",
			wantErr: "applications.phone_region",
		},
		{
			name: "search enabled without elasticsearch",
			body: "search:\n  enabled: true\ndatabase:\n  postgres:\n    host: h\n    database: a\n    user: b\n",
			wantErr: "elasticsearch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWorkerConfigFallback(t *testing.T) {
	cfg := &Config{Workers: map[string]WorkerConfig{"record-milestone": {Enabled: false}}}

	assert.False(t, IsWorkerEnabled(cfg, "record-milestone"))
	assert.True(t, IsWorkerEnabled(cfg, "switch-channel"))
	assert.Equal(t, 30000, GetWorkerConfig(cfg, "switch-channel").Timeout)
	assert.Equal(t, 1500*time.Millisecond, GetDuration(1500))
}
