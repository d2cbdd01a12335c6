// Package routing implements RoutingSwitcher (spec.md §4.6): the
// critical, observationally-atomic egress switch that routes marked
// traffic via a chosen interface.
//
// Grounded on maksimkurb-keen-pbr (iptables + netlink combination),
// grimm-is-glacic's policy_routing.go (fwmark/table modeling), and
// bavix-outway's dynamic_route.go (idempotent create-if-absent setup,
// route-cache-flush step), scaled down to the spec's fixed two-table
// case: there is never more than one active binding, so tables/marks
// are static rather than dynamically allocated per tunnel.
package routing

import (
	"fmt"
	"sync"

	"github.com/coreos/go-iptables/iptables"
	"github.com/defgrid/tunnelrotor/internal/errtax"
	"github.com/defgrid/tunnelrotor/internal/identity"
	"github.com/rs/zerolog"
	"github.com/vishvananda/netlink"
)

const (
	markChain = "TUNNELROTOR_MARK"
	mangleTable = "mangle"
)

// Config names the routing facts fixed at startup (spec.md §4.6, §6).
// The two tables are identified purely by their numeric IDs: every
// netlink call here (RuleAdd, RouteReplace, RouteListFiltered) takes a
// table ID, not a name, and this tree never shells out to `ip` in a
// way that would need `vpn_primary`/`vpn_secondary` registered in
// /etc/iproute2/rt_tables. The spec's table names exist only as
// human-readable labels for the fixed IDs below.
type Config struct {
	PrimaryTableID   int
	SecondaryTableID int
	FirewallMark     int
	ProtectedUID     identity.UID
}

// linkResolver finds the interface index backing an interface name;
// overridable in tests since a real tunnel interface cannot be brought
// up in a sandboxed test environment.
type linkResolver func(iface string) (int, error)

// iptablesClient is the subset of *iptables.IPTables the switcher
// needs; overridable in tests since manipulating real netfilter rules
// requires root and a real network namespace.
type iptablesClient interface {
	ClearChain(table, chain string) error
	AppendUnique(table, chain string, rulespec ...string) error
	DeleteChain(table, chain string) error
}

// Switcher owns the single active RoutingBinding (spec.md §3).
type Switcher struct {
	cfg    Config
	logger zerolog.Logger

	ipt iptablesClient

	resolveLink linkResolver

	// netlink operations are abstracted behind small function fields so
	// Setup/Switch/Teardown can be unit tested without real root
	// privileges or a real network namespace.
	ruleEnsure  func(table int, mark int) error
	routeReplace func(table int, linkIndex int) error
	routeFlush  func(table int) error

	mu     sync.Mutex
	active string // interface name currently carrying marked egress, "" if none
}

func New(cfg Config, logger zerolog.Logger) (*Switcher, error) {
	ipt, err := iptables.New()
	if err != nil {
		return nil, fmt.Errorf("routing: initializing iptables: %w", err)
	}

	s := &Switcher{cfg: cfg, logger: logger, ipt: ipt}
	s.resolveLink = defaultLinkResolver
	s.ruleEnsure = s.netlinkRuleEnsure
	s.routeReplace = s.netlinkRouteReplace
	s.routeFlush = s.netlinkRouteFlush
	return s, nil
}

func defaultLinkResolver(iface string) (int, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return 0, err
	}
	return link.Attrs().Index, nil
}

// Setup ensures the two routing tables' rules and the OUTPUT-hook mark
// chain exist, tolerating pre-existing state (spec.md §4.6, §9
// "Routing setup idempotence").
func (s *Switcher) Setup() error {
	if err := s.ipt.ClearChain(mangleTable, markChain); err != nil {
		return errtax.New(errtax.KindSwitchFailed, "", "", fmt.Errorf("creating mark chain: %w", err))
	}

	if err := s.ipt.AppendUnique(mangleTable, "OUTPUT", "-j", markChain); err != nil {
		return errtax.New(errtax.KindSwitchFailed, "", "", fmt.Errorf("attaching mark chain to OUTPUT: %w", err))
	}

	for _, tableID := range []int{s.cfg.PrimaryTableID, s.cfg.SecondaryTableID} {
		if err := s.ruleEnsure(tableID, s.cfg.FirewallMark); err != nil {
			return errtax.New(errtax.KindSwitchFailed, "", "", fmt.Errorf("ensuring fwmark rule for table %d: %w", tableID, err))
		}
	}

	return nil
}

// Switch installs the match-and-mark rule for the protected identity
// and replaces the default route in vpn_primary to egress via iface,
// following the five-step protocol of spec.md §4.6. The whole
// operation is serialized under the caller's coordination lock (spec.md
// §5); from the perspective of marked egress traffic it is
// observationally atomic: either the old or the new interface carries
// the flow, never a hole.
func (s *Switcher) Switch(iface string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	linkIndex, err := s.resolveLink(iface)
	if err != nil {
		return errtax.New(errtax.KindSwitchFailed, "", iface, fmt.Errorf("resolving interface: %w", err))
	}

	// Step 1: clear match rules in the mark chain.
	if err := s.ipt.ClearChain(mangleTable, markChain); err != nil {
		return errtax.New(errtax.KindSwitchFailed, "", iface, fmt.Errorf("clearing mark chain: %w", err))
	}

	// Step 2: install a match-and-mark rule for the protected identity.
	rule := []string{
		"-m", "owner", "--uid-owner", s.cfg.ProtectedUID.String(),
		"-j", "MARK", "--set-mark", fmt.Sprintf("%d", s.cfg.FirewallMark),
	}
	if err := s.ipt.AppendUnique(mangleTable, markChain, rule...); err != nil {
		return errtax.New(errtax.KindSwitchFailed, "", iface, fmt.Errorf("installing mark rule: %w", err))
	}

	// Step 3: ensure the fwmark -> table rule exists for vpn_primary.
	if err := s.ruleEnsure(s.cfg.PrimaryTableID, s.cfg.FirewallMark); err != nil {
		return errtax.New(errtax.KindSwitchFailed, "", iface, fmt.Errorf("ensuring fwmark rule: %w", err))
	}

	// Step 4: replace the default route in vpn_primary to egress via iface.
	if err := s.routeReplace(s.cfg.PrimaryTableID, linkIndex); err != nil {
		return errtax.New(errtax.KindSwitchFailed, "", iface, fmt.Errorf("replacing default route: %w", err))
	}

	// Step 5: flush the route cache to force immediate re-evaluation.
	if err := s.routeFlush(s.cfg.PrimaryTableID); err != nil {
		return errtax.New(errtax.KindSwitchFailed, "", iface, fmt.Errorf("flushing route cache: %w", err))
	}

	s.active = iface
	s.logger.Info().Str("iface", iface).Msg("routing binding switched")
	return nil
}

// Active returns the interface currently carrying marked egress, or ""
// if Switch has never succeeded.
func (s *Switcher) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Teardown flushes and deletes the mark chain (spec.md §4.6, called at shutdown).
func (s *Switcher) Teardown() error {
	if err := s.ipt.ClearChain(mangleTable, markChain); err != nil {
		return fmt.Errorf("routing: clearing mark chain at teardown: %w", err)
	}
	if err := s.ipt.DeleteChain(mangleTable, markChain); err != nil {
		return fmt.Errorf("routing: deleting mark chain at teardown: %w", err)
	}
	return nil
}

func (s *Switcher) netlinkRuleEnsure(tableID int, mark int) error {
	existing, err := netlink.RuleList(netlink.FAMILY_V4)
	if err != nil {
		return fmt.Errorf("listing rules: %w", err)
	}

	for _, r := range existing {
		if r.Table == tableID && r.Mark == mark {
			return nil // already present: idempotent
		}
	}

	rule := netlink.NewRule()
	rule.Table = tableID
	rule.Mark = mark

	if err := netlink.RuleAdd(rule); err != nil {
		return fmt.Errorf("adding fwmark rule: %w", err)
	}
	return nil
}

func (s *Switcher) netlinkRouteReplace(tableID int, linkIndex int) error {
	route := &netlink.Route{
		LinkIndex: linkIndex,
		Table:     tableID,
		Dst:       nil, // default route
	}
	if err := netlink.RouteReplace(route); err != nil {
		return fmt.Errorf("replacing route: %w", err)
	}
	return nil
}

// netlinkRouteFlush models "flush the route cache" (spec.md §4.6 step
// 5). Modern Linux has no separate route cache to flush via netlink;
// the route change itself is made by RouteReplace in step 4. This step
// only re-lists the table's routes, failing the switch if the table
// cannot be read; it changes no kernel state.
func (s *Switcher) netlinkRouteFlush(tableID int) error {
	filter := &netlink.Route{Table: tableID}
	if _, err := netlink.RouteListFiltered(netlink.FAMILY_ALL, filter, netlink.RT_FILTER_TABLE); err != nil {
		return fmt.Errorf("re-synchronizing table %d: %w", tableID, err)
	}
	return nil
}
