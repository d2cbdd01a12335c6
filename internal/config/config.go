// Package config loads tunnelrotor's configuration from an HCL file,
// from the environment, or a merge of both, following the same
// file-then-env override precedence the teacher daemon used.
package config

import (
	"fmt"
	"io/ioutil"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable named in spec.md §4.7 and §6.
type Config struct {
	// Catalog discovery (spec.md §4.2, §6).
	CatalogDir string `hcl:"catalog_dir" envconfig:"OPENVPN_ROTOR_CATALOG_DIR"`

	// Tunnel client invocation (spec.md §6).
	TunnelClientPath string `hcl:"tunnel_client_path" envconfig:"OPENVPN_ROTOR_CLIENT_PATH"`
	TunnelLauncher   string `hcl:"tunnel_launcher_path" envconfig:"OPENVPN_ROTOR_LAUNCHER_PATH"`
	TunnelWorkDir    string `hcl:"tunnel_work_dir" envconfig:"OPENVPN_ROTOR_WORK_DIR"`
	PIDFileTemplate  string `hcl:"pid_file_template" envconfig:"OPENVPN_ROTOR_PID_TEMPLATE"`
	LogFileTemplate  string `hcl:"tunnel_log_file_template" envconfig:"OPENVPN_ROTOR_TUNNEL_LOG_TEMPLATE"`

	// Rotation manager timings (spec.md §4.7).
	RotationInterval    time.Duration `hcl:"rotation_interval" envconfig:"OPENVPN_ROTOR_ROTATION_INTERVAL"`
	HealthCheckInterval time.Duration `hcl:"health_check_interval" envconfig:"OPENVPN_ROTOR_HEALTH_INTERVAL"`
	BlacklistTTL        time.Duration `hcl:"blacklist_ttl" envconfig:"OPENVPN_ROTOR_BLACKLIST_TTL"`
	ConnectTimeout      time.Duration `hcl:"connect_timeout" envconfig:"OPENVPN_ROTOR_CONNECT_TIMEOUT"`
	WorkerBackoff       time.Duration `hcl:"worker_backoff" envconfig:"OPENVPN_ROTOR_WORKER_BACKOFF"`

	// Routing (spec.md §4.6, §6). The tables are identified purely by
	// numeric ID; see internal/routing.Config for why no table-name
	// field is carried.
	PrimaryTableID   int `hcl:"primary_table_id" envconfig:"OPENVPN_ROTOR_PRIMARY_TABLE_ID"`
	SecondaryTableID int `hcl:"secondary_table_id" envconfig:"OPENVPN_ROTOR_SECONDARY_TABLE_ID"`
	FirewallMark     int `hcl:"firewall_mark" envconfig:"OPENVPN_ROTOR_FWMARK"`

	// Protected identity (spec.md §6).
	ProtectedUser string `hcl:"protected_user" envconfig:"OPENVPN_ROTOR_PROTECTED_USER"`

	// Reachability probing (spec.md §4.5, §6).
	ProbeEndpoints    []string      `hcl:"probe_endpoints"`
	ProbeTimeout      time.Duration `hcl:"probe_timeout" envconfig:"OPENVPN_ROTOR_PROBE_TIMEOUT"`

	// Logging.
	LogFile  string `hcl:"log_file" envconfig:"OPENVPN_ROTOR_LOG_FILE"`
	LogLevel string `hcl:"log_level" envconfig:"OPENVPN_ROTOR_LOG_LEVEL"`
}

// Defaults returns the spec-mandated default configuration (spec.md §4.7, §6).
func Defaults() *Config {
	return &Config{
		CatalogDir:       "/etc/openvpn",
		TunnelClientPath: "/usr/sbin/openvpn",
		TunnelLauncher:   "/usr/bin/sudo",
		TunnelWorkDir:    "/var/run/tunnelrotor",
		PIDFileTemplate:  "/var/run/tunnel_%s.pid",
		LogFileTemplate:  "/var/log/tunnel_%s.log",

		RotationInterval:    30 * time.Minute,
		HealthCheckInterval: 5 * time.Minute,
		BlacklistTTL:        24 * time.Hour,
		ConnectTimeout:      30 * time.Second,
		WorkerBackoff:       5 * time.Minute,

		PrimaryTableID:   100,
		SecondaryTableID: 101,
		FirewallMark:     100,

		ProtectedUser: "botuser",

		ProbeEndpoints: []string{
			"https://httpbin.org/ip",
			"https://api.ipify.org?format=json",
			"https://ipecho.net/plain",
		},
		ProbeTimeout: 10 * time.Second,

		LogFile:  "/var/log/tunnelrotor.log",
		LogLevel: "info",
	}
}

// ConfigFromFile parses an HCL configuration file, the way the teacher
// daemon parsed its own HCL node configuration.
func ConfigFromFile(filename string) (*Config, error) {
	sourceBytes, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", filename, err)
	}

	ret := &Config{}
	if err := hcl.Unmarshal(sourceBytes, ret); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", filename, err)
	}

	return ret, nil
}

// ConfigFromEnv reads configuration purely from the process environment.
func ConfigFromEnv() (*Config, error) {
	ret := &Config{}
	err := envconfig.Process("openvpn_rotor", ret)
	return ret, err
}

// LoadConfig merges environment configuration over a file's
// configuration, file values filling any field the environment left
// zero-valued, then defaults filling anything still zero-valued.
func LoadConfig(filename string) (*Config, error) {
	envCfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}

	var fileCfg *Config
	if filename != "" {
		fileCfg, err = ConfigFromFile(filename)
		if err != nil {
			return nil, err
		}
	} else {
		fileCfg = &Config{}
	}

	merged := Defaults()
	merged.Override(fileCfg)
	merged.Override(envCfg)
	return merged, nil
}

// Override copies every non-zero-valued field of other onto c.
func (c *Config) Override(other *Config) {
	if other.CatalogDir != "" {
		c.CatalogDir = other.CatalogDir
	}
	if other.TunnelClientPath != "" {
		c.TunnelClientPath = other.TunnelClientPath
	}
	if other.TunnelLauncher != "" {
		c.TunnelLauncher = other.TunnelLauncher
	}
	if other.TunnelWorkDir != "" {
		c.TunnelWorkDir = other.TunnelWorkDir
	}
	if other.PIDFileTemplate != "" {
		c.PIDFileTemplate = other.PIDFileTemplate
	}
	if other.LogFileTemplate != "" {
		c.LogFileTemplate = other.LogFileTemplate
	}
	if other.RotationInterval != 0 {
		c.RotationInterval = other.RotationInterval
	}
	if other.HealthCheckInterval != 0 {
		c.HealthCheckInterval = other.HealthCheckInterval
	}
	if other.BlacklistTTL != 0 {
		c.BlacklistTTL = other.BlacklistTTL
	}
	if other.ConnectTimeout != 0 {
		c.ConnectTimeout = other.ConnectTimeout
	}
	if other.WorkerBackoff != 0 {
		c.WorkerBackoff = other.WorkerBackoff
	}
	if other.PrimaryTableID != 0 {
		c.PrimaryTableID = other.PrimaryTableID
	}
	if other.SecondaryTableID != 0 {
		c.SecondaryTableID = other.SecondaryTableID
	}
	if other.FirewallMark != 0 {
		c.FirewallMark = other.FirewallMark
	}
	if other.ProtectedUser != "" {
		c.ProtectedUser = other.ProtectedUser
	}
	if len(other.ProbeEndpoints) > 0 {
		c.ProbeEndpoints = other.ProbeEndpoints
	}
	if other.ProbeTimeout != 0 {
		c.ProbeTimeout = other.ProbeTimeout
	}
	if other.LogFile != "" {
		c.LogFile = other.LogFile
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// Validate rejects configurations that can never produce a working rotation.
func (c *Config) Validate() error {
	if c.CatalogDir == "" {
		return fmt.Errorf("catalog_dir must not be empty")
	}
	if c.RotationInterval <= 0 {
		return fmt.Errorf("rotation_interval must be positive")
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("health_check_interval must be positive")
	}
	if c.BlacklistTTL <= 0 {
		return fmt.Errorf("blacklist_ttl must be positive")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive")
	}
	if c.WorkerBackoff <= 0 {
		return fmt.Errorf("worker_backoff must be positive")
	}
	if len(c.ProbeEndpoints) == 0 {
		return fmt.Errorf("probe_endpoints must not be empty")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive")
	}
	if c.ProtectedUser == "" {
		return fmt.Errorf("protected_user must not be empty")
	}
	return nil
}
