package bridgeconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duo-workflow-bridge/bridge/pkg/bridgeconfig"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "service:\n  instance_url: https://gitlab.example.com\n")
	cfg, err := bridgeconfig.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "software_development", cfg.Service.WorkflowDefinition)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadExpandsEnvVarWithDefault(t *testing.T) {
	t.Setenv("GITLAB_URL", "")
	path := writeConfig(t, "service:\n  instance_url: ${GITLAB_URL:-https://gitlab.example.com}\n")
	cfg, err := bridgeconfig.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://gitlab.example.com", cfg.Service.InstanceURL)
}

func TestLoadExpandsEnvVarOverridesDefault(t *testing.T) {
	t.Setenv("GITLAB_URL", "https://gitlab.other.example.com")
	path := writeConfig(t, "service:\n  instance_url: ${GITLAB_URL:-https://gitlab.example.com}\n")
	cfg, err := bridgeconfig.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://gitlab.other.example.com", cfg.Service.InstanceURL)
}

func TestLoadRejectsMissingInstanceURL(t *testing.T) {
	path := writeConfig(t, "service:\n  workflow_definition: software_development\n")
	_, err := bridgeconfig.Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsNonHTTPInstanceURL(t *testing.T) {
	path := writeConfig(t, "service:\n  instance_url: gitlab.example.com\n")
	_, err := bridgeconfig.Load(path)
	assert.Error(t, err)
}

func TestSocketURLOrDefaultDerivesFromInstanceURL(t *testing.T) {
	s := bridgeconfig.ServiceConfig{InstanceURL: "https://gitlab.example.com"}
	assert.Equal(t, "wss://gitlab.example.com/api/v4/ai/duo_workflows/ws", s.SocketURLOrDefault())
}

func TestResolveLogLevelPrefersCLIFlag(t *testing.T) {
	t.Setenv("DUO_WORKFLOW_BRIDGE_LOG_LEVEL", "warn")
	cfg := &bridgeconfig.Config{Logging: bridgeconfig.LoggingConfig{Level: "error"}}
	assert.Equal(t, "debug", bridgeconfig.ResolveLogLevel("debug", cfg))
}

func TestResolveLogLevelFallsBackToConfig(t *testing.T) {
	cfg := &bridgeconfig.Config{Logging: bridgeconfig.LoggingConfig{Level: "error"}}
	assert.Equal(t, "error", bridgeconfig.ResolveLogLevel("", cfg))
}
