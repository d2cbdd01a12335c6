package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestOverrideOnlyNonZero(t *testing.T) {
	base := Defaults()
	base.RotationInterval = 10 * time.Minute

	other := &Config{}
	base.Override(other)

	require.Equal(t, 10*time.Minute, base.RotationInterval, "zero-valued fields must not overwrite")
}

func TestOverrideReplacesSetFields(t *testing.T) {
	base := Defaults()
	other := &Config{ProtectedUser: "otheruser", FirewallMark: 200}
	base.Override(other)

	require.Equal(t, "otheruser", base.ProtectedUser)
	require.Equal(t, 200, base.FirewallMark)
	require.Equal(t, Defaults().RotationInterval, base.RotationInterval)
}

func TestConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tunnelrotor.hcl")
	contents := `
protected_user = "vpnbot"
catalog_dir = "/opt/endpoints"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := ConfigFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "vpnbot", cfg.ProtectedUser)
	require.Equal(t, "/opt/endpoints", cfg.CatalogDir)
}

func TestConfigFromFileMissing(t *testing.T) {
	_, err := ConfigFromFile("/no/such/file.hcl")
	require.Error(t, err)
}

func TestValidateRejectsEmptyProbes(t *testing.T) {
	cfg := Defaults()
	cfg.ProbeEndpoints = nil
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveDurations(t *testing.T) {
	cfg := Defaults()
	cfg.BlacklistTTL = 0
	require.Error(t, cfg.Validate())
}
