// Package rotation implements RotationManager (spec.md §4.7): the
// central state machine owning slot assignments, scheduling rotation
// and health checks, and coordinating switches.
//
// Grounded on the teacher's manager.go (central select{}-loop
// reconciling cluster state against tunnel state) with Serf cluster
// state replaced by RotationState and tunnel reconciliation replaced
// by the rotation/health-check/emergency protocols of spec.md §4.7,
// and on endpoint.go's EndpointSet (adapted from EndpointId keys to
// endpoint-name keys) for invariant-1 bookkeeping.
package rotation

import (
	"fmt"

	"github.com/defgrid/tunnelrotor/internal/catalog"
)

// The three fixed tunnel interfaces of spec.md §3. Secondary always
// lives on tun1 and staging always lives on tun2 for as long as either
// is occupied. Primary is ordinarily tun0, but can sit on tun1 for a
// short window after an emergency switch (§4.7.6 promotes whatever
// interface the secondary was already running on, without a
// reconnect) until the next successful rotation cycle (§4.7.4)
// reconnects a fresh endpoint onto tun0 and restores the convention.
// This mirrors original_source/vpn_rotation_manager.py, whose
// _rotation_worker always targets "tun0"/"tun2" literally regardless
// of where current_primary happens to be running.
const (
	ifacePrimary   = "tun0"
	ifaceSecondary = "tun1"
	ifaceStaging   = "tun2"
)

// SlotHealth is the liveness state of a single role (spec.md §3).
type SlotHealth int

const (
	SlotEmpty SlotHealth = iota
	SlotConnecting
	SlotUp
	SlotFailed
)

// EndpointSet is a set of endpoint names, adapted from the teacher's
// EndpointId-keyed set (endpoint.go) to track role occupancy and
// enforce invariant 1: an endpoint name appears in at most one role at
// any time.
type EndpointSet map[string]struct{}

func NewEndpointSet() EndpointSet { return make(EndpointSet) }

func (s EndpointSet) Add(name string) {
	if name == "" {
		return
	}
	s[name] = struct{}{}
}

func (s EndpointSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// binding pairs an endpoint with the physical interface currently
// carrying its tunnel and its liveness.
type binding struct {
	endpoint *catalog.Endpoint
	iface    string
	health   SlotHealth
}

// RotationState is the triple (primary, secondary, staging) of
// spec.md §3. Staging is transient: populated only during a rotation
// cycle, empty between cycles.
type RotationState struct {
	primary   binding
	secondary binding
	staging   binding
}

func (s RotationState) Primary() (*catalog.Endpoint, string, SlotHealth) {
	return s.primary.endpoint, s.primary.iface, s.primary.health
}

func (s RotationState) Secondary() (*catalog.Endpoint, string, SlotHealth) {
	return s.secondary.endpoint, s.secondary.iface, s.secondary.health
}

func (s RotationState) Staging() (*catalog.Endpoint, string, SlotHealth) {
	return s.staging.endpoint, s.staging.iface, s.staging.health
}

func (s *RotationState) setPrimary(ep *catalog.Endpoint, iface string, health SlotHealth) {
	s.primary = binding{endpoint: ep, iface: iface, health: health}
}

func (s *RotationState) setSecondary(ep *catalog.Endpoint, health SlotHealth) {
	s.secondary = binding{endpoint: ep, iface: ifaceSecondary, health: health}
}

func (s *RotationState) clearSecondary() {
	s.secondary = binding{}
}

func (s *RotationState) setStaging(ep *catalog.Endpoint, health SlotHealth) {
	s.staging = binding{endpoint: ep, iface: ifaceStaging, health: health}
}

func (s *RotationState) clearStaging() {
	s.staging = binding{}
}

// Occupied returns the set of endpoint names currently bound to any
// role, used by the selection policy (spec.md §4.7.2) to exclude
// endpoints already in use.
func (s RotationState) Occupied() EndpointSet {
	set := NewEndpointSet()
	for _, b := range []binding{s.primary, s.secondary, s.staging} {
		if b.endpoint != nil {
			set.Add(b.endpoint.Name)
		}
	}
	return set
}

// ValidateNoDuplicates enforces spec.md §8 invariant 1: the multiset
// of endpoints across the three roles has no repetitions.
func (s RotationState) ValidateNoDuplicates() error {
	seen := NewEndpointSet()
	for _, b := range []binding{s.primary, s.secondary, s.staging} {
		if b.endpoint == nil {
			continue
		}
		if seen.Has(b.endpoint.Name) {
			return fmt.Errorf("duplicate endpoint %q across roles", b.endpoint.Name)
		}
		seen.Add(b.endpoint.Name)
	}
	return nil
}
