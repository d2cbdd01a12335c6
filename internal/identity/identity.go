// Package identity resolves the protected identity (spec.md §6) once,
// at startup, so that routing rule installation never re-derives the
// UID via shell expansion (spec.md §9 Open Question).
package identity

import (
	"fmt"
	"os/user"
	"strconv"
)

// UID is an immutable, resolved numeric user id.
type UID int

// Resolve looks up username and returns its numeric UID. It must be
// called exactly once, at RotationManager construction time, and the
// result threaded immutably into every RoutingSwitcher.Switch call.
func Resolve(username string) (UID, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve protected identity %q: %w", username, err)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, fmt.Errorf("unexpected non-numeric uid %q for %q: %w", u.Uid, username, err)
	}

	return UID(uid), nil
}

func (u UID) String() string {
	return strconv.Itoa(int(u))
}
