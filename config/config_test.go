package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/warriorguo/launchpad/types"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "launchpad.toml")
	assert.Nil(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := New()
	assert.Equal(t, types.LocalMultiThreading, cfg.LaunchType)
	assert.Equal(t, 10, cfg.TerminationNoticeSecs)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.False(t, cfg.PostgresEnabled)
	assert.Nil(t, cfg.PostgresConfig())
	assert.Equal(t, "launchpad", cfg.Postgres.Database)
	assert.Nil(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
launch_type = "local_mp"
termination_notice_secs = 3
log_level = "debug"

[postgres]
host = "db"
database = "records"
`)
	cfg, err := Load(path)
	assert.Nil(t, err)
	assert.Equal(t, types.LocalMultiProcessing, cfg.LaunchType)
	assert.Equal(t, 3, cfg.TerminationNoticeSecs)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)

	pg := cfg.PostgresConfig()
	assert.NotNil(t, pg)
	assert.Equal(t, "db", pg.Host)
	assert.Equal(t, "records", pg.Database)
	assert.Equal(t, 5432, pg.Port)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := Load(writeConfig(t, `launch_type = "carrier_pigeon"`))
	assert.True(t, types.IsUnknownLaunchType(err))

	_, err = Load(writeConfig(t, `log_format = "xml"`))
	assert.True(t, errors.IsBadRequest(err))

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.NotNil(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLaunchType, "test_mt")
	t.Setenv(EnvTerminationNoticeSecs, "0")
	t.Setenv(EnvLogFormat, "json")
	t.Setenv(EnvPostgresDSN, "host=pg user=lp dbname=lp")

	cfg, err := Load(writeConfig(t, `launch_type = "local_mp"`))
	assert.Nil(t, err)
	assert.Equal(t, types.TestMultiThreading, cfg.LaunchType)
	assert.Equal(t, 0, cfg.TerminationNoticeSecs)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "pg", cfg.PostgresConfig().Host)

	t.Setenv(EnvTerminationNoticeSecs, "soon")
	_, err = Load("")
	assert.True(t, errors.IsBadRequest(err))
}

func TestDefaultIsCachedAndReplaceable(t *testing.T) {
	defer SetDefault(nil)

	t.Setenv(EnvLaunchType, "test_mp")
	SetDefault(nil)
	assert.Equal(t, types.TestMultiProcessing, Default().LaunchType)

	t.Setenv(EnvLaunchType, "local_mt")
	assert.Equal(t, types.TestMultiProcessing, Default().LaunchType)

	cfg := New()
	cfg.LaunchType = types.SSHMultiMachines
	SetDefault(cfg)
	assert.Equal(t, types.SSHMultiMachines, Default().LaunchType)

	t.Setenv(EnvLaunchType, "local_mp")
	t.Setenv(EnvLogFormat, "xml")
	SetDefault(nil)
	assert.Equal(t, types.LocalMultiProcessing, Default().LaunchType)
	assert.Equal(t, "text", Default().LogFormat)
}

func TestDefaultKeepsUnknownLaunchType(t *testing.T) {
	defer SetDefault(nil)

	t.Setenv(EnvLaunchType, "nonsense")
	SetDefault(nil)
	cfg := Default()
	assert.Equal(t, types.LaunchType("nonsense"), cfg.LaunchType)
	assert.Equal(t, 10, cfg.TerminationNoticeSecs)
	_, err := types.ParseLaunchType(cfg.LaunchType.String())
	assert.True(t, types.IsUnknownLaunchType(err))

	t.Setenv(EnvLaunchType, "")
	t.Setenv(EnvConfig, writeConfig(t, `launch_type = "bogus_mode"`))
	SetDefault(nil)
	assert.Equal(t, types.LaunchType("bogus_mode"), Default().LaunchType)
}

func TestConfigureLogging(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)
	defer log.SetFormatter(&log.TextFormatter{})

	cfg := New()
	cfg.LogLevel = "debug"
	cfg.LogFormat = "json"
	assert.Nil(t, ConfigureLogging(cfg))
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	cfg.LogLevel = "loud"
	assert.True(t, errors.IsBadRequest(ConfigureLogging(cfg)))
}
