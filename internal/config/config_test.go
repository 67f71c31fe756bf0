package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithNoFilesReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, Default().Pool.Size, cfg.Pool.Size)
	require.Equal(t, 600*time.Second, cfg.Timeouts.MergeAndTest)
}

func TestLoadProjectConfigOverridesDefaults(t *testing.T) {
	projectDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(projectDir, OrcdDir), 0o755))
	yaml := `
pool:
  size: 9
  image: custom/agent:v2
server:
  manager_url: http://orcd.internal:9000
`
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, OrcdDir, ConfigFileName), []byte(yaml), 0o644))

	cfg, err := Load(projectDir)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Pool.Size)
	require.Equal(t, "custom/agent:v2", cfg.Pool.Image)
	require.Equal(t, "http://orcd.internal:9000", cfg.Server.ManagerURL)
	require.Equal(t, Default().Server.ListenAddr, cfg.Server.ListenAddr, "fields absent from the override file must keep their default")
}

func TestLoadProjectConfigParseErrorIsFatal(t *testing.T) {
	projectDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(projectDir, OrcdDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, OrcdDir, ConfigFileName), []byte("pool: [not a map"), 0o644))

	_, err := Load(projectDir)
	require.Error(t, err)
}

func TestApplyEnvOverridesPoolSize(t *testing.T) {
	t.Setenv("ORCD_POOL_SIZE", "12")
	t.Setenv("ORCD_MERGE_TEST_SCRIPT", "/opt/orcd/merge-test.sh")

	cfg := Default()
	applyEnv(cfg)

	require.Equal(t, 12, cfg.Pool.Size)
	require.Equal(t, "/opt/orcd/merge-test.sh", cfg.Git.MergeTestScript)
}

func TestApplyEnvParsesDurations(t *testing.T) {
	t.Setenv("ORCD_TIMEOUT_CONTAINER_WAIT", "45m")

	cfg := Default()
	applyEnv(cfg)

	require.Equal(t, 45*time.Minute, cfg.Timeouts.ContainerWait)
}

func TestApplyEnvIgnoresUnparsableDuration(t *testing.T) {
	t.Setenv("ORCD_TIMEOUT_FETCH", "not-a-duration")

	cfg := Default()
	applyEnv(cfg)

	require.Equal(t, Default().Timeouts.Fetch, cfg.Timeouts.Fetch)
}

func TestApplyEnvSplitsForwardEnvList(t *testing.T) {
	t.Setenv("ORCD_FORWARD_ENV", "FOO, BAR ,,BAZ")

	cfg := Default()
	applyEnv(cfg)

	require.Equal(t, []string{"FOO", "BAR", "BAZ"}, cfg.ForwardEnv)
}
