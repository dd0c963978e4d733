package instance

import "fmt"

// TerminationPolicy controls whether the lifecycle manager may terminate
// OS-level browser processes. Unscoped termination by executable name is
// deliberately not an option: it previously took down browser windows that
// did not belong to this system.
type TerminationPolicy int

const (
	// PolicyNone never terminates processes; leftovers are only reported.
	PolicyNone TerminationPolicy = iota

	// PolicyScoped terminates only processes whose command line carries
	// the instance's own remote-debugging port.
	PolicyScoped
)

// ParsePolicy parses a policy name from config.
func ParsePolicy(name string) (TerminationPolicy, error) {
	switch name {
	case "", "none":
		return PolicyNone, nil
	case "scoped":
		return PolicyScoped, nil
	default:
		return PolicyNone, fmt.Errorf("unknown termination policy %q", name)
	}
}

func (p TerminationPolicy) String() string {
	if p == PolicyScoped {
		return "scoped"
	}
	return "none"
}

// ProcessProbe is the narrow OS collaborator for liveness checks and
// policy-gated termination.
type ProcessProbe interface {
	// IsRunning reports whether any process matches the executable name.
	IsRunning(namePattern string) bool

	// TerminateByPort kills processes whose command line carries the given
	// remote-debugging port. Only called under PolicyScoped.
	TerminateByPort(port int) error
}
