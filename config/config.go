// Package config loads bridge configuration from a YAML file merged with
// DUOFLOW_* environment overrides. The file is optional; every field can be
// supplied through the environment alone.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces the environment overrides.
const EnvPrefix = "DUOFLOW_"

// Defaults applied before the file and environment are read.
const (
	DefaultClientVersion      = "dev"
	DefaultProviderID         = "duoflow"
	DefaultConnectTimeout     = 30 * time.Second
	DefaultHeartbeatInterval  = 15 * time.Second
	DefaultKeepaliveInterval  = 30 * time.Second
	DefaultPassthroughTimeout = 30 * time.Second
)

type (
	// Config carries everything the bridge needs to reach one instance.
	Config struct {
		// InstanceURL is the instance base URL, e.g.
		// https://gitlab.example.com.
		InstanceURL string `yaml:"instance_url"`
		// PrivateToken authenticates REST calls and the socket handshake
		// fallback.
		PrivateToken string `yaml:"private_token"`
		// WorkflowDefinition is the workflow the bridge exposes as its
		// model.
		WorkflowDefinition string `yaml:"workflow_definition"`
		// ClientVersion is reported to the service on start requests.
		ClientVersion string `yaml:"client_version"`
		// ProviderID namespaces the host provider options block.
		ProviderID string `yaml:"provider_id"`
		// ProjectID scopes created workflows to a project. Optional.
		ProjectID string `yaml:"project_id"`
		// RootNamespaceID scopes direct-access token issuance. Optional.
		RootNamespaceID string `yaml:"root_namespace_id"`

		// ConnectTimeout bounds the socket handshake.
		ConnectTimeout Duration `yaml:"connect_timeout"`
		// HeartbeatInterval spaces protocol heartbeats.
		HeartbeatInterval Duration `yaml:"heartbeat_interval"`
		// KeepaliveInterval spaces transport pings.
		KeepaliveInterval Duration `yaml:"keepalive_interval"`
		// PassthroughTimeout bounds api/v4 fetches done for the service.
		PassthroughTimeout Duration `yaml:"passthrough_timeout"`

		// StorePath overrides the workflow-ID store location. Empty uses
		// the XDG state directory.
		StorePath string `yaml:"store_path"`
		// DebugLogPath enables best-effort protocol logging to a file.
		DebugLogPath string `yaml:"debug_log_path"`
	}

	// Duration decodes YAML durations given either as Go duration strings
	// ("15s") or as integer seconds.
	Duration time.Duration
)

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string or integer seconds: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns a configuration with every tunable at its default and all
// required fields empty.
func Default() *Config {
	return &Config{
		ClientVersion:      DefaultClientVersion,
		ProviderID:         DefaultProviderID,
		ConnectTimeout:     Duration(DefaultConnectTimeout),
		HeartbeatInterval:  Duration(DefaultHeartbeatInterval),
		KeepaliveInterval:  Duration(DefaultKeepaliveInterval),
		PassthroughTimeout: Duration(DefaultPassthroughTimeout),
	}
}

// Load reads the YAML file at path when path is non-empty, applies the
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays DUOFLOW_* variables onto the configuration.
func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	var err error
	setDuration := func(key string, dst *Duration) {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok || err != nil {
			return
		}
		parsed, perr := time.ParseDuration(v)
		if perr != nil {
			err = fmt.Errorf("%s%s: invalid duration %q: %w", EnvPrefix, key, v, perr)
			return
		}
		*dst = Duration(parsed)
	}

	setString("INSTANCE_URL", &c.InstanceURL)
	setString("TOKEN", &c.PrivateToken)
	setString("WORKFLOW_DEFINITION", &c.WorkflowDefinition)
	setString("CLIENT_VERSION", &c.ClientVersion)
	setString("PROVIDER_ID", &c.ProviderID)
	setString("PROJECT_ID", &c.ProjectID)
	setString("ROOT_NAMESPACE_ID", &c.RootNamespaceID)
	setString("STORE_PATH", &c.StorePath)
	setString("DEBUG_LOG", &c.DebugLogPath)
	setDuration("CONNECT_TIMEOUT", &c.ConnectTimeout)
	setDuration("HEARTBEAT_INTERVAL", &c.HeartbeatInterval)
	setDuration("KEEPALIVE_INTERVAL", &c.KeepaliveInterval)
	setDuration("PASSTHROUGH_TIMEOUT", &c.PassthroughTimeout)
	return err
}

// Validate reports the first problem that would keep the bridge from
// operating.
func (c *Config) Validate() error {
	if c.InstanceURL == "" {
		return errors.New("config: instance_url is required (DUOFLOW_INSTANCE_URL)")
	}
	u, err := url.Parse(c.InstanceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: instance_url %q must be an absolute http(s) URL", c.InstanceURL)
	}
	if c.PrivateToken == "" {
		return errors.New("config: private_token is required (DUOFLOW_TOKEN)")
	}
	if c.WorkflowDefinition == "" {
		return errors.New("config: workflow_definition is required (DUOFLOW_WORKFLOW_DEFINITION)")
	}
	for _, d := range []struct {
		name  string
		value Duration
	}{
		{"connect_timeout", c.ConnectTimeout},
		{"heartbeat_interval", c.HeartbeatInterval},
		{"keepalive_interval", c.KeepaliveInterval},
		{"passthrough_timeout", c.PassthroughTimeout},
	} {
		if d.value <= 0 {
			return fmt.Errorf("config: %s must be positive", d.name)
		}
	}
	return nil
}
