package fetch

import (
	"fmt"
	"strings"
)

// Policy governs cache-versus-network behavior for a request.
type Policy string

const (
	CacheFirst      Policy = "cache-first"
	CacheAndNetwork Policy = "cache-and-network"
	NetworkOnly     Policy = "network-only"
	CacheOnly       Policy = "cache-only"
)

// Policies lists every policy in documentation order.
var Policies = []Policy{CacheFirst, CacheAndNetwork, NetworkOnly, CacheOnly}

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	p := Policy(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case CacheFirst, CacheAndNetwork, NetworkOnly, CacheOnly:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// AllowCache reports whether data may be read from the cache before this
// query's own network response arrives.
func (p Policy) AllowCache() bool { return p != NetworkOnly }

// AllowNetwork reports whether the policy may ever trigger the network
// on its own.
func (p Policy) AllowNetwork() bool { return p != CacheOnly }

// ForceNetwork reports whether the network is triggered even for a
// tracked request.
func (p Policy) ForceNetwork() bool { return p == CacheAndNetwork || p == NetworkOnly }

// String implements fmt.Stringer.
func (p Policy) String() string { return string(p) }
