package blacklist

import (
	"testing"
	"time"

	"github.com/defgrid/tunnelrotor/internal/catalog"
	"github.com/stretchr/testify/require"
)

func TestIsBlockedWithinTTL(t *testing.T) {
	r := New(24 * time.Hour)
	t0 := time.Unix(0, 0)
	r.Add("A", t0)

	require.True(t, r.IsBlocked("A", t0))
	require.True(t, r.IsBlocked("A", t0.Add(24*time.Hour-time.Nanosecond)))
}

func TestIsBlockedExpiresAtTTL(t *testing.T) {
	r := New(24 * time.Hour)
	t0 := time.Unix(0, 0)
	r.Add("A", t0)

	require.False(t, r.IsBlocked("A", t0.Add(24*time.Hour)))
	// Eviction is a side effect; checking again must still be false
	// and must not panic on a missing entry.
	require.False(t, r.IsBlocked("A", t0.Add(24*time.Hour)))
}

func TestIsBlockedUnknownEndpoint(t *testing.T) {
	r := New(24 * time.Hour)
	require.False(t, r.IsBlocked("never-seen", time.Now()))
}

func TestAddOverwritesPriorEntry(t *testing.T) {
	r := New(time.Hour)
	t0 := time.Unix(0, 0)
	r.Add("A", t0)
	r.Add("A", t0.Add(30*time.Minute))

	require.True(t, r.IsBlocked("A", t0.Add(90*time.Minute-time.Nanosecond)))
	require.False(t, r.IsBlocked("A", t0.Add(91*time.Minute)))
}

func TestFilter(t *testing.T) {
	r := New(time.Hour)
	now := time.Now()
	r.Add("B", now)

	endpoints := []catalog.Endpoint{{Name: "A"}, {Name: "B"}, {Name: "C"}}
	filtered := r.Filter(endpoints, now)

	names := make([]string, 0, len(filtered))
	for _, e := range filtered {
		names = append(names, e.Name)
	}
	require.ElementsMatch(t, []string{"A", "C"}, names)
}
