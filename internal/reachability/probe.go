// Package reachability implements ReachabilityProbe (spec.md §4.5):
// verifying that an interface egresses to the public Internet by
// fetching from a small list of IP-echo endpoints, bound to the
// interface's own source address.
//
// Grounded on malbeclabs-doublezero's probing-worker.go (periodic
// bounded-timeout probing shape) and batonogov-xray-health-exporter's
// bounded-polling style.
package reachability

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/vishvananda/netlink"
)

// Prober checks whether a named interface reaches the public Internet.
type Prober struct {
	endpoints []string
	timeout   time.Duration
	logger    zerolog.Logger

	// localAddr resolves an interface name to the address a dialer
	// should bind to. Defaults to a netlink-backed lookup; overridable
	// in tests.
	localAddr func(iface string) (net.Addr, error)
}

func New(endpoints []string, timeout time.Duration, logger zerolog.Logger) *Prober {
	p := &Prober{endpoints: endpoints, timeout: timeout, logger: logger}
	p.localAddr = p.netlinkLocalAddr
	return p
}

func (p *Prober) netlinkLocalAddr(iface string) (net.Addr, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return nil, fmt.Errorf("interface %s not found: %w", iface, err)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("listing addresses for %s: %w", iface, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("interface %s has no assigned address", iface)
	}

	return &net.TCPAddr{IP: addrs[0].IP}, nil
}

// Probe returns true on the first IP-echo endpoint that returns a
// non-empty successful response via iface; false if every candidate
// fails. Rationale (spec.md §4.5): tolerate single upstream outages —
// the result must reflect tunnel health, not upstream health.
func (p *Prober) Probe(ctx context.Context, iface string) bool {
	localAddr, err := p.localAddr(iface)
	if err != nil {
		p.logger.Warn().Err(err).Str("iface", iface).Msg("probe: could not resolve source address")
		return false
	}

	dialer := &net.Dialer{
		Timeout:   p.timeout,
		LocalAddr: localAddr,
	}

	client := &http.Client{
		Timeout: p.timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			},
		},
	}

	for _, url := range p.endpoints {
		if p.tryOne(ctx, client, iface, url) {
			return true
		}
	}

	return false
}

func (p *Prober) tryOne(ctx context.Context, client *http.Client, iface, url string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		p.logger.Debug().Err(err).Str("iface", iface).Str("url", url).Msg("probe candidate failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	buf := make([]byte, 1)
	n, _ := resp.Body.Read(buf)
	return n > 0
}
