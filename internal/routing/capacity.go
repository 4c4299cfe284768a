package routing

import (
	"fmt"

	"github.com/nusagates/laragates-sub001/internal/core"
)

// DefaultMaxOpenSessions applies when neither the agent nor the
// configuration sets a ceiling.
const DefaultMaxOpenSessions = 5

// Policy decides how many open sessions an agent may hold.
type Policy struct {
	// Default is used for agents whose MaxOpenSessions is zero.
	Default int
}

// NewPolicy returns a Policy with the given default ceiling. Non-positive
// values fall back to DefaultMaxOpenSessions.
func NewPolicy(defaultMax int) Policy {
	if defaultMax <= 0 {
		defaultMax = DefaultMaxOpenSessions
	}
	return Policy{Default: defaultMax}
}

func (p Policy) MaxOpenSessions(a core.Agent) int {
	if a.MaxOpenSessions > 0 {
		return a.MaxOpenSessions
	}
	if p.Default > 0 {
		return p.Default
	}
	return DefaultMaxOpenSessions
}

// CanAccept reports whether an agent holding currentOpen sessions may take one more.
func (p Policy) CanAccept(a core.Agent, currentOpen int) (bool, error) {
	if currentOpen < 0 {
		return false, fmt.Errorf("%w: negative open count %d", core.ErrInvalidInput, currentOpen)
	}
	return currentOpen < p.MaxOpenSessions(a), nil
}

// Available returns how many more sessions the agent may receive, never below zero.
func (p Policy) Available(a core.Agent, currentOpen int) (int, error) {
	if currentOpen < 0 {
		return 0, fmt.Errorf("%w: negative open count %d", core.ErrInvalidInput, currentOpen)
	}
	return max(0, p.MaxOpenSessions(a)-currentOpen), nil
}
