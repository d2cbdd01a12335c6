// Package tunnel implements TunnelController (spec.md §4.4): starting
// and stopping a single tunnel process on a named interface, and
// querying its liveness.
//
// Adapted from the teacher's tunnels.go (TunnelMgr's per-endpoint map
// + lock; there is no state-channel goroutine here) and openvpn.go's exec.Cmd
// launch discipline, but replacing the teacher's management-socket
// transport with the PID-file + liveness-polling contract spec.md
// §4.4 actually specifies (the management-socket client is an
// out-of-scope external collaborator per spec.md §1).
package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/defgrid/tunnelrotor/internal/catalog"
	"github.com/defgrid/tunnelrotor/internal/command"
	"github.com/defgrid/tunnelrotor/internal/errtax"
	"github.com/rs/zerolog"
	"github.com/vishvananda/netlink"
)

// Config names the stable per-interface paths and launch parameters
// (spec.md §6 "Tunnel client invocation").
type Config struct {
	ClientPath      string
	LauncherPath    string
	WorkDir         string
	PIDFileTemplate string // e.g. "/var/run/tunnel_%s.pid"
	LogFileTemplate string // e.g. "/var/log/tunnel_%s.log"
	PollInterval    time.Duration
	PollTimeout     time.Duration
}

// Controller manages tunnel client processes across the three fixed
// interfaces. Only Controller mutates the PID files it owns (spec.md §5).
type Controller struct {
	cfg    Config
	runner *command.Runner
	logger zerolog.Logger

	mu   sync.Mutex
	pids map[string]int // iface -> pid of the process we launched

	// isLiveFunc defaults to a netlink-backed check; overridable in
	// tests since bringing up a real tunnel interface is not possible
	// in a test environment.
	isLiveFunc func(iface string) bool
}

func New(cfg Config, runner *command.Runner, logger zerolog.Logger) *Controller {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	c := &Controller{
		cfg:    cfg,
		runner: runner,
		logger: logger,
		pids:   make(map[string]int),
	}
	c.isLiveFunc = c.netlinkIsLive
	return c
}

func (c *Controller) pidFile(iface string) string {
	return fmt.Sprintf(c.cfg.PIDFileTemplate, iface)
}

func (c *Controller) logFile(iface string) string {
	return fmt.Sprintf(c.cfg.LogFileTemplate, iface)
}

// Connect launches the tunnel client bound to iface for endpoint, and
// polls liveness at 1Hz for up to PollTimeout (spec.md §4.4).
//
// Precondition: iface must be free. Connect enforces this itself by
// calling Disconnect first.
func (c *Controller) Connect(ctx context.Context, endpoint catalog.Endpoint, iface string) error {
	if err := c.Disconnect(iface); err != nil {
		return errtax.New(errtax.KindConnectFailed, endpoint.Name, iface, err)
	}

	argv := []string{
		c.cfg.LauncherPath,
		c.cfg.ClientPath,
		"--config", endpoint.ConfigReference,
		"--dev", iface,
		"--daemon",
		"--writepid", c.pidFile(iface),
		"--log-append", c.logFile(iface),
		"--cd", c.cfg.WorkDir,
	}
	if c.cfg.LauncherPath == "" {
		argv = argv[1:]
	}

	c.logger.Info().Str("endpoint", endpoint.Name).Str("iface", iface).Msg("launching tunnel client")

	res, err := c.runner.Run(ctx, argv, c.cfg.PollTimeout)
	if err != nil {
		return errtax.New(errtax.KindConnectFailed, endpoint.Name, iface, err)
	}
	if !res.Success {
		return errtax.New(errtax.KindConnectFailed, endpoint.Name, iface,
			fmt.Errorf("tunnel client exited non-zero: %s", res.Stderr))
	}

	if err := c.waitLive(ctx, iface); err != nil {
		_ = c.killIfAlive(iface)
		return errtax.New(errtax.KindConnectFailed, endpoint.Name, iface, err)
	}

	if pid, ok := c.readPID(iface); ok {
		c.mu.Lock()
		c.pids[iface] = pid
		c.mu.Unlock()
	}

	return nil
}

func (c *Controller) waitLive(ctx context.Context, iface string) error {
	deadline := time.Now().Add(c.cfg.PollTimeout)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if c.IsLive(iface) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("interface %s did not come up within %s", iface, c.cfg.PollTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// IsLive reports whether iface exists and carries an assigned address
// (spec.md §4.4).
func (c *Controller) IsLive(iface string) bool {
	return c.isLiveFunc(iface)
}

func (c *Controller) netlinkIsLive(iface string) bool {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return false
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return false
	}

	return len(addrs) > 0
}

// Disconnect reads the PID file if present, signals the process to
// terminate, and removes the PID file. It is idempotent: no error if
// there is no PID file (spec.md §4.4, §8 invariant 6).
func (c *Controller) Disconnect(iface string) error {
	pid, ok := c.readPID(iface)
	if ok {
		if proc, err := os.FindProcess(pid); err == nil {
			_ = proc.Signal(syscall.SIGTERM)
		}
	}

	c.mu.Lock()
	delete(c.pids, iface)
	c.mu.Unlock()

	if err := os.Remove(c.pidFile(iface)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing pid file for %s: %w", iface, err)
	}

	return nil
}

func (c *Controller) killIfAlive(iface string) error {
	pid, ok := c.readPID(iface)
	if !ok {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Signal(syscall.SIGKILL)
}

func (c *Controller) readPID(iface string) (int, bool) {
	f, err := os.Open(c.pidFile(iface))
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return 0, false
	}

	return pid, true
}
