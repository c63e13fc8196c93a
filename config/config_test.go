package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luhaoyun888/go-imap-xfer"
	"github.com/luhaoyun888/go-imap-xfer/config"
	"github.com/luhaoyun888/go-imap-xfer/xferimap"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeEnvFile(t, `
MAIL_IMAP_HOST=imap.example.org
MAIL_IMAP_SECURITY=starttls
MAIL_IMAP_PORT=143
MAIL_USER=taki
MAIL_PASSWORD="s3cret"
MAIL_POLL_FOLDER=INBOX
MAIL_COPY_DEST_FOLDER=Archive
MAIL_COPY_MODE=move
MAIL_SUPPORT_UID=Move
MAIL_EXPUNGE_ON_CLOSE=true
MAIL_RATE_LIMIT=2.5
MAIL_LOG_LEVEL=debug
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "imap.example.org:143", cfg.Address())
	assert.Equal(t, xferimap.SecurityStartTLS, cfg.IMAP.Security)
	assert.Equal(t, "taki", cfg.IMAP.User)
	assert.Equal(t, "s3cret", cfg.IMAP.Password)
	assert.Equal(t, xferimap.MechanismLogin, cfg.IMAP.Mechanism)
	assert.True(t, cfg.IMAP.ExpungeOnClose)
	assert.Equal(t, 2.5, cfg.Rate.Limit)
	assert.Equal(t, 1, cfg.Rate.Burst)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)

	assert.Equal(t, xfer.CapabilityUIDMove, cfg.Capability())
	assert.Equal(t, xfer.Defaults{Mode: "move", PollFolder: "INBOX", DestinationFolder: "Archive"}, cfg.Defaults())

	// The poll folder is the fallback source
	req := xfer.NewRequestBuilder(cfg.Defaults()).MessageNumbers(1).Build()
	assert.Equal(t, "INBOX", req.Source())
	assert.Equal(t, xfer.ModeMove, req.Mode())
}

func TestLoadEnvironmentPrecedence(t *testing.T) {
	path := writeEnvFile(t, "MAIL_IMAP_HOST=imap.example.org\nMAIL_COPY_SRC_FOLDER=Junk\n")
	t.Setenv("MAIL_COPY_SRC_FOLDER", "INBOX")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "INBOX", cfg.Copy.Source)

	_, ok := os.LookupEnv("MAIL_IMAP_HOST")
	assert.False(t, ok, "Load must not modify the environment")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(writeEnvFile(t, "MAIL_IMAP_HOST=imap.example.org\n"))
	require.NoError(t, err)

	assert.Equal(t, "imap.example.org:993", cfg.Address())
	assert.Equal(t, xferimap.SecurityTLS, cfg.IMAP.Security)
	assert.Equal(t, xfer.CapabilityGeneric, cfg.Capability())
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Empty(t, cfg.Audit.Driver)
	assert.Zero(t, cfg.Rate.Limit)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)

	// The default file is optional
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	_, err = config.Load()
	assert.NoError(t, err)
}

func TestLoadInvalid(t *testing.T) {
	path := writeEnvFile(t, "MAIL_IMAP_PORT=imaps\nMAIL_IMAP_SECURITY=carrier-pigeon\nMAIL_LOG_LEVEL=loud\n")

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAIL_IMAP_PORT")
	assert.Contains(t, err.Error(), "MAIL_IMAP_SECURITY")
	assert.Contains(t, err.Error(), "MAIL_LOG_LEVEL")
}

func TestFromLookup(t *testing.T) {
	env := map[string]string{
		"MAIL_IMAP_HOST":                 "localhost",
		"MAIL_IMAP_INSECURE_SKIP_VERIFY": "1",
		"MAIL_AUTH_MECHANISM":            "OAUTHBEARER",
		"MAIL_OAUTH_TOKEN":               "token",
	}
	cfg, err := config.FromLookup(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	require.NoError(t, err)

	options := cfg.SessionOptions(nil)
	assert.Equal(t, "localhost:993", options.Address)
	assert.Equal(t, xferimap.MechanismOAuthBearer, options.Mechanism)
	assert.Equal(t, "token", options.Token)
	require.NotNil(t, options.TLSConfig)
	assert.True(t, options.TLSConfig.InsecureSkipVerify)
}
