package routing

import (
	"errors"
	"testing"

	"github.com/nusagates/laragates-sub001/internal/core"
)

func TestPolicyCeiling(t *testing.T) {
	p := NewPolicy(0)
	if p.Default != DefaultMaxOpenSessions {
		t.Fatalf("expected default %d, got %d", DefaultMaxOpenSessions, p.Default)
	}

	tests := []struct {
		name    string
		policy  Policy
		agent   core.Agent
		open    int
		want    bool
		avail   int
		wantErr bool
	}{
		{name: "policy default", policy: NewPolicy(5), agent: core.Agent{}, open: 4, want: true, avail: 1},
		{name: "at ceiling", policy: NewPolicy(5), agent: core.Agent{}, open: 5, want: false, avail: 0},
		{name: "over ceiling", policy: NewPolicy(5), agent: core.Agent{}, open: 7, want: false, avail: 0},
		{name: "agent override", policy: NewPolicy(5), agent: core.Agent{MaxOpenSessions: 2}, open: 1, want: true, avail: 1},
		{name: "zero policy", policy: Policy{}, agent: core.Agent{}, open: 0, want: true, avail: DefaultMaxOpenSessions},
		{name: "negative count", policy: NewPolicy(5), agent: core.Agent{}, open: -1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := tt.policy.CanAccept(tt.agent, tt.open)
			avail, aerr := tt.policy.Available(tt.agent, tt.open)
			if tt.wantErr {
				if !errors.Is(err, core.ErrInvalidInput) || !errors.Is(aerr, core.ErrInvalidInput) {
					t.Fatalf("expected invalid input, got %v / %v", err, aerr)
				}
				return
			}
			if err != nil || aerr != nil {
				t.Fatalf("unexpected error %v / %v", err, aerr)
			}
			if ok != tt.want {
				t.Fatalf("CanAccept = %v, want %v", ok, tt.want)
			}
			if avail != tt.avail {
				t.Fatalf("Available = %d, want %d", avail, tt.avail)
			}
		})
	}
}
