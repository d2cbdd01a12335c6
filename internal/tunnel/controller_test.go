package tunnel

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/defgrid/tunnelrotor/internal/catalog"
	"github.com/defgrid/tunnelrotor/internal/command"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T) (*Controller, string) {
	t.Helper()
	dir := t.TempDir()

	cfg := Config{
		ClientPath:      "/bin/true",
		LauncherPath:    "",
		WorkDir:         dir,
		PIDFileTemplate: filepath.Join(dir, "tunnel_%s.pid"),
		LogFileTemplate: filepath.Join(dir, "tunnel_%s.log"),
		PollInterval:    10 * time.Millisecond,
		PollTimeout:     200 * time.Millisecond,
	}

	c := New(cfg, command.NewRunner(), zerolog.Nop())
	return c, dir
}

func TestConnectSucceedsWhenInterfaceComesUp(t *testing.T) {
	c, dir := newTestController(t)

	var up atomic.Bool
	c.isLiveFunc = func(iface string) bool { return up.Load() }

	go func() {
		time.Sleep(20 * time.Millisecond)
		up.Store(true)
	}()

	// A stale pid file left on tun0; Connect's own pre-connect
	// Disconnect signals that pid and removes the file before launching.
	pidPath := filepath.Join(dir, "tunnel_tun0.pid")
	require.NoError(t, os.WriteFile(pidPath, []byte("12345\n"), 0o644))

	err := c.Connect(context.Background(), catalog.Endpoint{Name: "A"}, "tun0")
	require.NoError(t, err)
}

func TestConnectFailsWhenInterfaceNeverComesUp(t *testing.T) {
	c, _ := newTestController(t)
	c.isLiveFunc = func(iface string) bool { return false }

	err := c.Connect(context.Background(), catalog.Endpoint{Name: "A"}, "tun0")
	require.Error(t, err)
}

func TestDisconnectIdempotent(t *testing.T) {
	c, _ := newTestController(t)

	require.NoError(t, c.Disconnect("tun1"))
	require.NoError(t, c.Disconnect("tun1"))
}

func TestDisconnectRemovesPIDFile(t *testing.T) {
	c, dir := newTestController(t)

	pidPath := filepath.Join(dir, "tunnel_tun2.pid")
	require.NoError(t, os.WriteFile(pidPath, []byte("999999\n"), 0o644))

	require.NoError(t, c.Disconnect("tun2"))
	_, err := os.Stat(pidPath)
	require.True(t, os.IsNotExist(err))
}

func TestIsLiveDelegatesToInjectedCheck(t *testing.T) {
	c, _ := newTestController(t)
	c.isLiveFunc = func(iface string) bool { return iface == "tun0" }

	require.True(t, c.IsLive("tun0"))
	require.False(t, c.IsLive("tun1"))
}
