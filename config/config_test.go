package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "duoflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
instance_url: https://gitlab.example.com
private_token: glpat-abc
workflow_definition: agent_flow
client_version: 2.0.0
project_id: "42"
heartbeat_interval: 5s
keepalive_interval: 45
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://gitlab.example.com", cfg.InstanceURL)
	require.Equal(t, "glpat-abc", cfg.PrivateToken)
	require.Equal(t, "agent_flow", cfg.WorkflowDefinition)
	require.Equal(t, "2.0.0", cfg.ClientVersion)
	require.Equal(t, "42", cfg.ProjectID)
	require.Equal(t, 5*time.Second, cfg.HeartbeatInterval.Std())
	// Bare integers read as seconds.
	require.Equal(t, 45*time.Second, cfg.KeepaliveInterval.Std())
	// Untouched tunables keep their defaults.
	require.Equal(t, DefaultConnectTimeout, cfg.ConnectTimeout.Std())
	require.Equal(t, DefaultProviderID, cfg.ProviderID)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
instance_url: https://gitlab.example.com
private_token: from-file
workflow_definition: agent_flow
`)
	t.Setenv("DUOFLOW_TOKEN", "from-env")
	t.Setenv("DUOFLOW_CONNECT_TIMEOUT", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.PrivateToken)
	require.Equal(t, 2*time.Second, cfg.ConnectTimeout.Std())
}

func TestEnvOnly(t *testing.T) {
	t.Setenv("DUOFLOW_INSTANCE_URL", "https://gitlab.example.com")
	t.Setenv("DUOFLOW_TOKEN", "glpat-abc")
	t.Setenv("DUOFLOW_WORKFLOW_DEFINITION", "agent_flow")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "https://gitlab.example.com", cfg.InstanceURL)
}

func TestUnknownFieldRejected(t *testing.T) {
	path := writeConfig(t, `
instance_url: https://gitlab.example.com
private_token: glpat-abc
workflow_definition: agent_flow
instance_uri: typo
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "instance_uri")
}

func TestInvalidEnvDuration(t *testing.T) {
	t.Setenv("DUOFLOW_INSTANCE_URL", "https://gitlab.example.com")
	t.Setenv("DUOFLOW_TOKEN", "glpat-abc")
	t.Setenv("DUOFLOW_WORKFLOW_DEFINITION", "agent_flow")
	t.Setenv("DUOFLOW_HEARTBEAT_INTERVAL", "soon")

	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "DUOFLOW_HEARTBEAT_INTERVAL")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"missing instance", func(c *Config) { c.InstanceURL = "" }, "instance_url"},
		{"relative instance", func(c *Config) { c.InstanceURL = "gitlab.example.com" }, "http(s)"},
		{"missing token", func(c *Config) { c.PrivateToken = "" }, "private_token"},
		{"missing definition", func(c *Config) { c.WorkflowDefinition = "" }, "workflow_definition"},
		{"zero timeout", func(c *Config) { c.ConnectTimeout = 0 }, "connect_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.InstanceURL = "https://gitlab.example.com"
			cfg.PrivateToken = "glpat-abc"
			cfg.WorkflowDefinition = "agent_flow"
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.message)
		})
	}
}
