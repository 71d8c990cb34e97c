// Package runtime owns the live state of the relay: presences, tracked
// messages, reaction sets, and the hub that orchestrates the pipelines.
// It contains no transport or storage logic.
package runtime

import (
	"sort"
	"sync"

	"chat-relay/contract"
	"chat-relay/domain"
)

type Set map[string]struct{}

// Registry is the presence registry: which identity occupies which room,
// per live connection. The connection ID is the owning key; there is
// exactly one presence per live connection and one room per presence.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*session // connectionID -> live session
	roomMembers map[string]Set      // room -> connection IDs
}

type session struct {
	presence domain.Presence
	sink     contract.EventSink
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:    make(map[string]*session),
		roomMembers: make(map[string]Set),
	}
}

// Subscribe registers a presence and its delivery sink. Rooms are created
// implicitly on first join.
func (r *Registry) Subscribe(presence domain.Presence, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[presence.ConnectionID] = &session{presence: presence, sink: sink}

	if _, ok := r.roomMembers[presence.Room]; !ok {
		r.roomMembers[presence.Room] = make(Set)
	}
	r.roomMembers[presence.Room][presence.ConnectionID] = struct{}{}
}

// Unsubscribe removes a presence and garbage-collects the room entry when
// it empties. It reports whether a presence existed, making disconnect
// handling idempotent.
func (r *Registry) Unsubscribe(connectionID string) (domain.Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	live, ok := r.sessions[connectionID]
	if !ok {
		return domain.Presence{}, false
	}
	delete(r.sessions, connectionID)

	if members, exists := r.roomMembers[live.presence.Room]; exists {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(r.roomMembers, live.presence.Room)
		}
	}
	return live.presence, true
}

// Lookup resolves the presence for a connection.
func (r *Registry) Lookup(connectionID string) (domain.Presence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	live, ok := r.sessions[connectionID]
	if !ok {
		return domain.Presence{}, false
	}
	return live.presence, true
}

// SinkFor resolves the delivery sink for a connection.
func (r *Registry) SinkFor(connectionID string) (contract.EventSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	live, ok := r.sessions[connectionID]
	if !ok {
		return nil, false
	}
	return live.sink, true
}

// SinksForRoom retrieves all active delivery sinks of a room. Connections
// in excluded are skipped, which serves "everyone but the sender" notices.
func (r *Registry) SinksForRoom(room string, excluded ...string) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.roomMembers[room]
	if !ok {
		return nil
	}
	var sinks []contract.EventSink
	for connectionID := range members {
		if contains(excluded, connectionID) {
			continue
		}
		if live, exists := r.sessions[connectionID]; exists {
			sinks = append(sinks, live.sink)
		}
	}
	return sinks
}

// Roster enumerates the identities currently in a room, sorted for a
// stable order. It always reflects the live presence set.
func (r *Registry) Roster(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.roomMembers[room]
	identities := make([]string, 0, len(members))
	for connectionID := range members {
		if live, ok := r.sessions[connectionID]; ok {
			identities = append(identities, string(live.presence.Identity))
		}
	}
	sort.Strings(identities)
	return identities
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
