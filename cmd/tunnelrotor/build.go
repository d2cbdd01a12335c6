package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/defgrid/tunnelrotor/internal/blacklist"
	"github.com/defgrid/tunnelrotor/internal/catalog"
	"github.com/defgrid/tunnelrotor/internal/command"
	"github.com/defgrid/tunnelrotor/internal/config"
	"github.com/defgrid/tunnelrotor/internal/identity"
	"github.com/defgrid/tunnelrotor/internal/reachability"
	"github.com/defgrid/tunnelrotor/internal/rotation"
	"github.com/defgrid/tunnelrotor/internal/routing"
	"github.com/defgrid/tunnelrotor/internal/tunnel"
	"github.com/rs/zerolog"
)

// deployment bundles every collaborator RotationManager needs, built
// from a single loaded Config (spec.md §4.7).
type deployment struct {
	cfg      *config.Config
	cat      *catalog.Catalog
	bl       *blacklist.Registry
	tunnels  *tunnel.Controller
	prober   *reachability.Prober
	switcher *routing.Switcher
	manager  *rotation.Manager
}

func buildDeployment(cfg *config.Config, logger zerolog.Logger) (*deployment, error) {
	cat, err := catalog.Load(cfg.CatalogDir)
	if err != nil {
		return nil, fmt.Errorf("loading endpoint catalog: %w", err)
	}

	bl := blacklist.New(cfg.BlacklistTTL)
	runner := command.NewRunner()

	tunnels := tunnel.New(tunnel.Config{
		ClientPath:      cfg.TunnelClientPath,
		LauncherPath:    cfg.TunnelLauncher,
		WorkDir:         cfg.TunnelWorkDir,
		PIDFileTemplate: cfg.PIDFileTemplate,
		LogFileTemplate: cfg.LogFileTemplate,
		PollTimeout:     cfg.ConnectTimeout,
	}, runner, logger)

	prober := reachability.New(cfg.ProbeEndpoints, cfg.ProbeTimeout, logger)

	uid, err := identity.Resolve(cfg.ProtectedUser)
	if err != nil {
		return nil, fmt.Errorf("resolving protected identity: %w", err)
	}

	sw, err := routing.New(routing.Config{
		PrimaryTableID:   cfg.PrimaryTableID,
		SecondaryTableID: cfg.SecondaryTableID,
		FirewallMark:     cfg.FirewallMark,
		ProtectedUID:     uid,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing routing switcher: %w", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	manager := rotation.NewManager(
		rotation.Config{
			RotationInterval:    cfg.RotationInterval,
			HealthCheckInterval: cfg.HealthCheckInterval,
			WorkerBackoff:       cfg.WorkerBackoff,
		},
		cat, bl, tunnels, prober, sw, rng, logger,
	)

	return &deployment{
		cfg:      cfg,
		cat:      cat,
		bl:       bl,
		tunnels:  tunnels,
		prober:   prober,
		switcher: sw,
		manager:  manager,
	}, nil
}
