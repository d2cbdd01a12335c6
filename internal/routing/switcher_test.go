package routing

import (
	"testing"

	"github.com/defgrid/tunnelrotor/internal/errtax"
	"github.com/defgrid/tunnelrotor/internal/identity"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeIPTables struct {
	cleared  []string
	appended [][]string
	deleted  []string
	failOn   string // operation name to fail, for error-path tests
}

func (f *fakeIPTables) ClearChain(table, chain string) error {
	f.cleared = append(f.cleared, table+"/"+chain)
	if f.failOn == "clear" {
		return errFake
	}
	return nil
}

func (f *fakeIPTables) AppendUnique(table, chain string, rulespec ...string) error {
	f.appended = append(f.appended, append([]string{table, chain}, rulespec...))
	if f.failOn == "append" {
		return errFake
	}
	return nil
}

func (f *fakeIPTables) DeleteChain(table, chain string) error {
	f.deleted = append(f.deleted, table+"/"+chain)
	if f.failOn == "delete" {
		return errFake
	}
	return nil
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

var errFake = fakeErr("fake failure")

func newTestSwitcher(t *testing.T) (*Switcher, *fakeIPTables) {
	t.Helper()
	fake := &fakeIPTables{}

	s := &Switcher{
		cfg: Config{
			PrimaryTableID:   100,
			SecondaryTableID: 101,
			FirewallMark:     100,
			ProtectedUID:     identity.UID(1000),
		},
		logger: zerolog.Nop(),
		ipt:    fake,
	}

	s.resolveLink = func(iface string) (int, error) {
		return map[string]int{"tun0": 10, "tun1": 11, "tun2": 12}[iface], nil
	}

	ensured := map[int]bool{}
	s.ruleEnsure = func(table, mark int) error {
		ensured[table] = true
		return nil
	}

	replaced := map[int]int{}
	s.routeReplace = func(table, linkIndex int) error {
		replaced[table] = linkIndex
		return nil
	}

	s.routeFlush = func(table int) error { return nil }

	return s, fake
}

func TestSetupIsIdempotent(t *testing.T) {
	s, fake := newTestSwitcher(t)

	require.NoError(t, s.Setup())
	require.NoError(t, s.Setup())

	require.Len(t, fake.cleared, 2, "Setup clears the mark chain each call, tolerating pre-existing state")
}

func TestSwitchInstallsRuleAndReplacesRoute(t *testing.T) {
	s, fake := newTestSwitcher(t)

	require.NoError(t, s.Switch("tun0"))
	require.Equal(t, "tun0", s.Active())
	require.NotEmpty(t, fake.appended)
}

func TestSwitchFailurePropagatesAsSwitchFailed(t *testing.T) {
	s, fake := newTestSwitcher(t)
	fake.failOn = "append"

	err := s.Switch("tun0")
	require.Error(t, err)
	require.ErrorIs(t, err, errtax.ErrSwitchFailed)
	require.Empty(t, s.Active(), "a failed switch must not update the active binding")
}

func TestSwitchUnknownInterfaceFails(t *testing.T) {
	s, _ := newTestSwitcher(t)
	s.resolveLink = func(iface string) (int, error) { return 0, errFake }

	err := s.Switch("tun9")
	require.Error(t, err)
}

func TestTeardownClearsAndDeletesChain(t *testing.T) {
	s, fake := newTestSwitcher(t)

	require.NoError(t, s.Teardown())
	require.Len(t, fake.cleared, 1)
	require.Len(t, fake.deleted, 1)
}

func TestSwitchSequenceSwapsActiveInterface(t *testing.T) {
	s, _ := newTestSwitcher(t)

	require.NoError(t, s.Switch("tun0"))
	require.Equal(t, "tun0", s.Active())

	require.NoError(t, s.Switch("tun2"))
	require.Equal(t, "tun2", s.Active())
}
