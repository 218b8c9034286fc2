package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.True(t, cfg.TLS.SkipVerify)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
log_level: debug
database: /srv/mail.sqlite
tls:
  skip_verify: false
timeouts:
  io: 12
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/srv/mail.sqlite", cfg.Database)
	assert.Equal(t, "INBOX", cfg.Mailbox)
	assert.False(t, cfg.TLS.SkipVerify)
	assert.Equal(t, 12*time.Second, cfg.Timeouts.IODuration())
	assert.Equal(t, 30*time.Second, cfg.Timeouts.OverallDuration())

	tt := cfg.Timeouts.Transport()
	assert.Equal(t, 10*time.Second, tt.ProxyProbe)
	assert.Equal(t, 25*time.Second, tt.TunnelResponse)
	assert.Equal(t, 30*time.Second, tt.TLSHandshake)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", "database: from-file.db\n")
	cfg, err := Load(path, map[string]string{EnvDatabase: "from-env.db", EnvLogLevel: "warn"})
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.Database)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string]string{
		"bad yaml":       "log_level: [",
		"bad level":      "log_level: loud\n",
		"empty mailbox":  "mailbox: \"\"\n",
		"zero timeout":   "timeouts:\n  overall: 0\n",
		"negative probe": "timeouts:\n  proxy_probe: -1\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.yaml", content), nil)
			assert.Error(t, err)
		})
	}
}

func TestEnvReadsDotenvAndProcessWins(t *testing.T) {
	path := writeFile(t, ".env", "GOMAILFETCH_DB=dotenv.db\nGOMAILFETCH_LOG_LEVEL=debug\n")
	t.Setenv(EnvLogLevel, "error")

	env, err := Env(path)
	require.NoError(t, err)
	assert.Equal(t, "dotenv.db", env[EnvDatabase])
	assert.Equal(t, "error", env[EnvLogLevel])
}

func TestEnvMissingDotenv(t *testing.T) {
	t.Setenv(EnvDatabase, "proc.db")
	env, err := Env(filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
	assert.Equal(t, "proc.db", env[EnvDatabase])
}
