// Package errtax implements the error taxonomy used to decide
// remediation policy across the tunnel rotation pipeline.
package errtax

import (
	"errors"
	"fmt"
)

// Kind identifies one row of the error taxonomy.
type Kind int

const (
	// KindTimeout means a CommandRunner invocation exceeded its wall-clock bound.
	KindTimeout Kind = iota
	// KindSpawnError means a CommandRunner invocation could not be launched.
	KindSpawnError
	// KindConnectFailed means TunnelController.Connect did not reach the up state in time.
	KindConnectFailed
	// KindProbeFailed means ReachabilityProbe found no working candidate.
	KindProbeFailed
	// KindSwitchFailed means RoutingSwitcher.Switch aborted partway through its protocol.
	KindSwitchFailed
	// KindNoCandidate means the endpoint selection policy found no eligible endpoint.
	KindNoCandidate
	// KindInsufficientEndpoints means startup found fewer than two usable endpoints.
	KindInsufficientEndpoints
	// KindSecondaryUnavailable means an emergency switch was attempted with no live secondary.
	KindSecondaryUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "Timeout"
	case KindSpawnError:
		return "SpawnError"
	case KindConnectFailed:
		return "ConnectFailed"
	case KindProbeFailed:
		return "ProbeFailed"
	case KindSwitchFailed:
		return "SwitchFailed"
	case KindNoCandidate:
		return "NoCandidate"
	case KindInsufficientEndpoints:
		return "InsufficientEndpoints"
	case KindSecondaryUnavailable:
		return "SecondaryUnavailable"
	default:
		return "Unknown"
	}
}

// sentinels allow errors.Is against a bare Kind comparison without
// allocating a StageError when no extra context is needed.
var (
	ErrTimeout               = errors.New("Timeout")
	ErrSpawnError            = errors.New("SpawnError")
	ErrConnectFailed         = errors.New("ConnectFailed")
	ErrProbeFailed           = errors.New("ProbeFailed")
	ErrSwitchFailed          = errors.New("SwitchFailed")
	ErrNoCandidate           = errors.New("NoCandidate")
	ErrInsufficientEndpoints = errors.New("InsufficientEndpoints")
	ErrSecondaryUnavailable  = errors.New("SecondaryUnavailable")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindTimeout:
		return ErrTimeout
	case KindSpawnError:
		return ErrSpawnError
	case KindConnectFailed:
		return ErrConnectFailed
	case KindProbeFailed:
		return ErrProbeFailed
	case KindSwitchFailed:
		return ErrSwitchFailed
	case KindNoCandidate:
		return ErrNoCandidate
	case KindInsufficientEndpoints:
		return ErrInsufficientEndpoints
	case KindSecondaryUnavailable:
		return ErrSecondaryUnavailable
	default:
		return errors.New(k.String())
	}
}

// StageError attaches the failing stage's context (an endpoint name,
// an interface, or both) to a taxonomy Kind.
type StageError struct {
	Kind     Kind
	Endpoint string
	Iface    string
	Cause    error
}

func New(kind Kind, endpoint, iface string, cause error) *StageError {
	return &StageError{Kind: kind, Endpoint: endpoint, Iface: iface, Cause: cause}
}

func (e *StageError) Error() string {
	switch {
	case e.Endpoint != "" && e.Iface != "":
		return fmt.Sprintf("%s: endpoint=%s iface=%s: %v", e.Kind, e.Endpoint, e.Iface, e.Cause)
	case e.Endpoint != "":
		return fmt.Sprintf("%s: endpoint=%s: %v", e.Kind, e.Endpoint, e.Cause)
	case e.Iface != "":
		return fmt.Sprintf("%s: iface=%s: %v", e.Kind, e.Iface, e.Cause)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
}

func (e *StageError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return sentinelFor(e.Kind)
}

// Is allows errors.Is(err, errtax.ErrConnectFailed) to match a StageError
// of the corresponding Kind even when Cause is a different, wrapped error.
func (e *StageError) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}
