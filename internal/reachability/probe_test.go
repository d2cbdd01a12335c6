package reachability

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestProber(t *testing.T, endpoints []string) *Prober {
	t.Helper()
	p := New(endpoints, time.Second, zerolog.Nop())
	// Binding to a specific interface address is not exercisable in a
	// test sandbox; these tests validate the first-success-wins /
	// all-fail semantics, not the netlink-backed interface resolution,
	// which no test here exercises.
	p.localAddr = func(iface string) (net.Addr, error) {
		return nil, nil
	}
	return p
}

func TestProbePassesOnFirstWorkingEndpoint(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("1.2.3.4"))
	}))
	defer ok.Close()

	p := newTestProber(t, []string{ok.URL})
	require.True(t, p.Probe(context.Background(), "tun0"))
}

func TestProbeTriesNextEndpointOnFailure(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("5.6.7.8"))
	}))
	defer ok.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	p := newTestProber(t, []string{bad.URL, ok.URL})
	require.True(t, p.Probe(context.Background(), "tun0"))
}

func TestProbeFailsWhenAllCandidatesFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	p := newTestProber(t, []string{bad.URL})
	require.False(t, p.Probe(context.Background(), "tun0"))
}

func TestProbeFailsOnEmptyBody(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer empty.Close()

	p := newTestProber(t, []string{empty.URL})
	require.False(t, p.Probe(context.Background(), "tun0"))
}

func TestProbeFailsWhenInterfaceUnresolvable(t *testing.T) {
	p := New([]string{"http://example.invalid"}, time.Second, zerolog.Nop())
	p.localAddr = func(iface string) (net.Addr, error) {
		return nil, errUnresolvable
	}

	require.False(t, p.Probe(context.Background(), "tun0"))
}

var errUnresolvable = &net.AddrError{Err: "no such interface", Addr: "tun0"}
