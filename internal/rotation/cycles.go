package rotation

import (
	"context"
	"errors"
	"fmt"

	"github.com/defgrid/tunnelrotor/internal/catalog"
	"github.com/defgrid/tunnelrotor/internal/errtax"
	"github.com/defgrid/tunnelrotor/internal/logging"
	"github.com/rs/zerolog"
)

// candidatesExcluding returns the endpoints that are neither currently
// blacklisted nor already bound to a role.
func (m *Manager) candidatesExcluding(exclude EndpointSet) []catalog.Endpoint {
	all := m.cat.List()
	available := m.bl.Filter(all, m.now())

	out := make([]catalog.Endpoint, 0, len(available))
	for _, ep := range available {
		if !exclude.Has(ep.Name) {
			out = append(out, ep)
		}
	}
	return out
}

// shuffled returns a copy of eps in an order chosen uniformly at
// random by the injected RNG (spec.md §4.7.2, §9).
func (m *Manager) shuffled(eps []catalog.Endpoint) []catalog.Endpoint {
	out := make([]catalog.Endpoint, len(eps))
	copy(out, eps)
	for i := len(out) - 1; i > 0; i-- {
		j := m.rng.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// selectAndConnect implements the endpoint selection policy (spec.md
// §4.7.2): try eligible candidates in random order, connecting each
// onto iface and probing it, until one comes up live and reachable. A
// candidate that connects but fails its reachability probe is
// blacklisted and disconnected before moving on, so it is not retried
// within the TTL.
func (m *Manager) selectAndConnect(ctx context.Context, logger zerolog.Logger, iface string, exclude EndpointSet) (*catalog.Endpoint, error) {
	candidates := m.shuffled(m.candidatesExcluding(exclude))
	if len(candidates) == 0 {
		return nil, errtax.New(errtax.KindNoCandidate, "", iface, fmt.Errorf("no eligible endpoint for interface %s", iface))
	}

	for _, ep := range candidates {
		if err := m.tun.Connect(ctx, ep, iface); err != nil {
			logger.Warn().Err(err).Str("endpoint", ep.Name).Str("iface", iface).Msg("candidate failed to connect")
			continue
		}

		if !m.probe.Probe(ctx, iface) {
			logger.Warn().Str("endpoint", ep.Name).Str("iface", iface).Msg("candidate connected but failed reachability probe")
			_ = m.tun.Disconnect(iface)
			m.bl.Add(ep.Name, m.now())
			continue
		}

		epCopy := ep
		return &epCopy, nil
	}

	return nil, errtax.New(errtax.KindNoCandidate, "", iface, fmt.Errorf("no candidate for interface %s reached a live, reachable state", iface))
}

// Startup performs the sequence of spec.md §4.7.1: establish a live,
// reachable primary on tun0 and route marked egress through it, then
// attempt to establish a secondary on tun1 as a hot standby. A missing
// secondary after startup is not fatal; the next health check will
// retry it.
func (m *Manager) Startup(ctx context.Context) error {
	logger := m.logger.With().Str("phase", "startup").Logger()

	usable := m.bl.Filter(m.cat.List(), m.now())
	if len(usable) < 2 {
		return errtax.New(errtax.KindInsufficientEndpoints, "", "",
			fmt.Errorf("need at least 2 usable endpoints, have %d", len(usable)))
	}

	primary, err := m.selectAndConnect(ctx, logger, ifacePrimary, NewEndpointSet())
	if err != nil {
		return fmt.Errorf("rotation: startup: selecting primary: %w", err)
	}

	if err := m.sw.Setup(); err != nil {
		return fmt.Errorf("rotation: startup: routing setup: %w", err)
	}
	if err := m.sw.Switch(ifacePrimary); err != nil {
		return fmt.Errorf("rotation: startup: initial switch: %w", err)
	}

	m.setPrimary(primary, ifacePrimary, SlotUp)
	logger.Info().Str("endpoint", primary.Name).Str("iface", ifacePrimary).Msg("primary established")

	secondary, err := m.selectAndConnect(ctx, logger, ifaceSecondary, m.occupied())
	if err != nil {
		logger.Warn().Err(err).Msg("no secondary available at startup, will retry on next health check")
		return nil
	}

	m.setSecondary(secondary, SlotUp)
	logger.Info().Str("endpoint", secondary.Name).Str("iface", ifaceSecondary).Msg("secondary established")
	return nil
}

// prepareSecondary fills an empty secondary role (spec.md §4.7.3). A
// no-op if secondary is already occupied, and deferred if tun1 is
// currently occupied by a primary an emergency switch promoted there
// (§4.7.6): the next successful rotation cycle frees tun1 by moving
// primary back to tun0, at which point secondary can be reselected.
func (m *Manager) prepareSecondary(ctx context.Context, logger zerolog.Logger) {
	if ep, _, _ := m.State().Secondary(); ep != nil {
		return
	}

	if _, primaryIface, _ := m.State().Primary(); primaryIface == ifaceSecondary {
		logger.Debug().Msg("prepareSecondary: deferred, primary temporarily occupies tun1 pending next rotation cycle")
		return
	}

	ep, err := m.selectAndConnect(ctx, logger, ifaceSecondary, m.occupied())
	if err != nil {
		logger.Warn().Err(err).Msg("prepareSecondary: no candidate available")
		return
	}

	m.setSecondary(ep, SlotUp)
	logger.Info().Str("endpoint", ep.Name).Str("iface", ifaceSecondary).Msg("secondary prepared")
}

// rotationCycle implements the planned rotation protocol (spec.md
// §4.7.4, grounded in original_source/vpn_rotation_manager.py's
// _rotation_worker): select a fresh endpoint disjoint from both the
// current primary and secondary, stage it on tun2 and verify it there,
// cut routing over to tun2, retire the old primary, then rebind the
// same endpoint onto the fixed primary interface tun0 and cut routing
// back. Secondary is never touched by this cycle. A cycle that finds
// its primary no longer healthy defers to the health-check/emergency
// path instead of acting on stale state, and a cycle that can't find a
// usable candidate is a no-op: the current primary keeps serving.
func (m *Manager) rotationCycle(ctx context.Context, logger zerolog.Logger) error {
	logger = logger.With().Str("cycle", "rotation").Logger()

	primaryEp, primaryIface, _ := m.State().Primary()
	if primaryEp == nil {
		logger.Warn().Msg("rotation cycle skipped: no primary established")
		return nil
	}

	if !m.probe.Probe(ctx, primaryIface) {
		logger.Warn().Msg("rotation cycle deferred: primary failed re-verification")
		return nil
	}

	candidate, err := m.selectAndConnect(ctx, logger, ifaceStaging, m.occupied())
	if err != nil {
		logger.Warn().Err(err).Msg("rotation cycle skipped: no candidate reached staging")
		return nil
	}
	m.setStaging(candidate, SlotUp)

	if err := m.sw.Switch(ifaceStaging); err != nil {
		_ = m.tun.Disconnect(ifaceStaging)
		m.clearStaging()
		return fmt.Errorf("rotation: cycle: switching to staging: %w", err)
	}

	// The retired primary is freed, not blacklisted: it is being
	// rotated out for freshness, not because it failed.
	if err := m.tun.Disconnect(primaryIface); err != nil {
		logger.Warn().Err(err).Msg("rotation cycle: disconnecting retired primary")
	}

	// tun2 only ever hosts the staged candidate transiently: once
	// routing has cut over to it, disconnect it there so it can be
	// reconnected bound to the fixed primary interface, tun0.
	if err := m.tun.Disconnect(ifaceStaging); err != nil {
		logger.Warn().Err(err).Msg("rotation cycle: disconnecting staging after cutover")
	}

	if err := m.tun.Connect(ctx, *candidate, ifacePrimary); err != nil {
		logging.Critical(logger).Err(err).Str("endpoint", candidate.Name).
			Msg("rotation cycle: failed to rebind new primary onto tun0; routing left pointed at a disconnected interface")
		m.clearStaging()
		return fmt.Errorf("rotation: cycle: rebinding primary: %w", err)
	}

	if err := m.sw.Switch(ifacePrimary); err != nil {
		logging.Critical(logger).Err(err).Msg("rotation cycle: failed to switch routing back onto tun0")
		return fmt.Errorf("rotation: cycle: final switch: %w", err)
	}

	m.setPrimary(candidate, ifacePrimary, SlotUp)
	m.clearStaging()

	logger.Info().Str("endpoint", candidate.Name).Str("retired", primaryEp.Name).Msg("rotation cycle complete")
	return nil
}

// healthCheckCycle implements spec.md §4.7.5: verify the primary and
// secondary are both still live and reachable. A failed primary
// triggers an emergency switch; a failed secondary is retired and a
// replacement is selected in the same pass.
func (m *Manager) healthCheckCycle(ctx context.Context, logger zerolog.Logger) error {
	logger = logger.With().Str("cycle", "health_check").Logger()

	primaryEp, primaryIface, _ := m.State().Primary()
	if primaryEp != nil && !(m.tun.IsLive(primaryIface) && m.probe.Probe(ctx, primaryIface)) {
		logger.Error().Str("endpoint", primaryEp.Name).Str("iface", primaryIface).Msg("primary failed health check")
		m.bl.Add(primaryEp.Name, m.now())
		if err := m.emergencySwitch(ctx, logger); err != nil {
			if errors.Is(err, errtax.ErrSecondaryUnavailable) {
				logging.Critical(logger).Err(err).Msg("emergency switch has no secondary to promote; routing left on failed primary")
				return nil
			}
			return fmt.Errorf("rotation: health check: emergency switch: %w", err)
		}
		return nil
	}

	secEp, secIface, secHealth := m.State().Secondary()
	if secEp != nil && secHealth == SlotUp && !(m.tun.IsLive(secIface) && m.probe.Probe(ctx, secIface)) {
		logger.Warn().Str("endpoint", secEp.Name).Str("iface", secIface).Msg("secondary failed health check, retiring")
		m.bl.Add(secEp.Name, m.now())
		_ = m.tun.Disconnect(secIface)
		m.clearSecondary()
	}

	m.prepareSecondary(ctx, logger)
	return nil
}

// emergencySwitch implements spec.md §4.7.6: promote the live
// secondary to primary immediately, bypassing the staged rotation
// protocol, because the primary is already known bad. The promoted
// endpoint keeps running on tun1 rather than being reconnected; the
// fixed tun0=primary convention is restored by the next successful
// rotation cycle. Fails with errtax.KindSecondaryUnavailable if there
// is no live secondary to promote, leaving the caller to decide how to
// degrade.
func (m *Manager) emergencySwitch(ctx context.Context, logger zerolog.Logger) error {
	secEp, secIface, secHealth := m.State().Secondary()
	if secEp == nil || secHealth != SlotUp || !m.tun.IsLive(secIface) {
		return errtax.New(errtax.KindSecondaryUnavailable, "", "", fmt.Errorf("no live secondary to promote"))
	}

	if err := m.sw.Switch(secIface); err != nil {
		return fmt.Errorf("emergency switch: %w", err)
	}

	_, oldPrimaryIface, _ := m.State().Primary()
	if oldPrimaryIface != "" {
		if err := m.tun.Disconnect(oldPrimaryIface); err != nil {
			logger.Warn().Err(err).Msg("emergency switch: disconnecting failed primary")
		}
	}

	m.setPrimary(secEp, secIface, SlotUp)
	m.clearSecondary()

	logger.Info().Str("endpoint", secEp.Name).Str("iface", secIface).Msg("emergency switch complete")

	m.prepareSecondary(ctx, logger)
	return nil
}
