package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const DefaultClass = "default"

var ErrInvalidPolicy = errors.New("invalid rate limit policy")

// Policy bounds one route class to Limit requests per Window.
type Policy struct {
	Class    string
	Prefixes []string
	Limit    int
	Window   time.Duration
}

func (p Policy) validate() error {
	if strings.TrimSpace(p.Class) == "" || p.Limit <= 0 || p.Window < time.Second {
		return fmt.Errorf("%w: class=%q limit=%d window=%s", ErrInvalidPolicy, p.Class, p.Limit, p.Window)
	}
	return nil
}

func (p Policy) matches(path string) bool {
	for _, prefix := range p.Prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// PolicyTable resolves a path to the first policy whose prefix matches,
// falling back to the default policy.
type PolicyTable struct {
	ordered  []Policy
	fallback Policy
}

func NewPolicyTable(fallback Policy, ordered ...Policy) (PolicyTable, error) {
	if fallback.Class == "" {
		fallback.Class = DefaultClass
	}
	if err := fallback.validate(); err != nil {
		return PolicyTable{}, err
	}
	seen := map[string]bool{fallback.Class: true}
	for _, policy := range ordered {
		if err := policy.validate(); err != nil {
			return PolicyTable{}, err
		}
		if seen[policy.Class] {
			return PolicyTable{}, fmt.Errorf("%w: duplicate class %q", ErrInvalidPolicy, policy.Class)
		}
		seen[policy.Class] = true
	}
	return PolicyTable{
		ordered:  append([]Policy(nil), ordered...),
		fallback: fallback,
	}, nil
}

func (t PolicyTable) Resolve(path string) Policy {
	for _, policy := range t.ordered {
		if policy.matches(path) {
			return policy
		}
	}
	return t.fallback
}

func (t PolicyTable) Policies() []Policy {
	return append(append([]Policy(nil), t.ordered...), t.fallback)
}

// Key identifies one admission counter.
type Key struct {
	Class       string
	ClientIP    string
	Fingerprint string
}

func (k Key) String() string {
	return k.Class + ":" + k.ClientIP + ":" + k.Fingerprint
}

// WindowStart aligns now to the start of its fixed window.
func WindowStart(now time.Time, window time.Duration) time.Time {
	return now.UTC().Truncate(window)
}

// Counter increments the counter for key in the window containing now and
// returns the new count and the window end.
type Counter interface {
	Increment(ctx context.Context, key Key, window time.Duration, now time.Time) (count int64, resetAt time.Time, err error)
}

type Decision struct {
	Allowed    bool
	Policy     Policy
	Count      int64
	Remaining  int
	RetryAfter time.Duration
	// Degraded is set when the local fallback counted the request.
	Degraded bool
}

// Decide admits iff count <= limit.
func Decide(policy Policy, count int64, resetAt time.Time, now time.Time) Decision {
	remaining := int64(policy.Limit) - count
	if remaining < 0 {
		remaining = 0
	}
	decision := Decision{
		Allowed:   count <= int64(policy.Limit),
		Policy:    policy,
		Count:     count,
		Remaining: int(remaining),
	}
	if !decision.Allowed {
		retry := resetAt.Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		decision.RetryAfter = retry
	}
	return decision
}
