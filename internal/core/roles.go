package core

import "fmt"

// Role is the closed set of operator roles known to the router.
type Role string

const (
	RoleAgent      Role = "agent"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

// Capability is a single permission checked by the routing core.
type Capability uint8

const (
	CapReceiveRouted Capability = iota + 1
	CapTake
	CapCloseOwn
	CapCloseAny
	CapReopen
	CapRunSweep
)

func (c Capability) String() string {
	switch c {
	case CapReceiveRouted:
		return "receive_routed"
	case CapTake:
		return "take"
	case CapCloseOwn:
		return "close_own"
	case CapCloseAny:
		return "close_any"
	case CapReopen:
		return "reopen"
	case CapRunSweep:
		return "run_sweep"
	default:
		return fmt.Sprintf("capability(%d)", uint8(c))
	}
}

var roleCapabilities = map[Role][]Capability{
	RoleAgent:      {CapReceiveRouted, CapTake, CapCloseOwn},
	RoleSupervisor: {CapCloseOwn, CapCloseAny, CapRunSweep},
	RoleAdmin:      {CapCloseOwn, CapCloseAny, CapReopen, CapRunSweep},
}

// Can reports whether the role carries the capability. Unknown roles carry none.
func (r Role) Can(c Capability) bool {
	for _, have := range roleCapabilities[r] {
		if have == c {
			return true
		}
	}
	return false
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

// ParseRole converts a role string, rejecting anything outside the enum.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}
