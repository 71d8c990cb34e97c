// Package domain contains core concepts of the chat relay.
// No runtime, network, or UI logic should be added here.
package domain

import "strings"

// Identity is a display name asserted by the caller.
// The core performs no authentication; a name is not globally unique.
type Identity string

// PrivilegedSet is the configured set of identities allowed to delete any
// message and to review flagged content.
type PrivilegedSet map[Identity]struct{}

func NewPrivilegedSet(names []string) PrivilegedSet {
	set := make(PrivilegedSet, len(names))
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		set[Identity(trimmed)] = struct{}{}
	}
	return set
}

func (s PrivilegedSet) Contains(id Identity) bool {
	_, ok := s[id]
	return ok
}
