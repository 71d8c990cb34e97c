package runtime

import (
	"sync"

	"chat-relay/domain/event"
)

// ReactionTable holds per-message, per-emoji reactor sets. An identity
// appears at most once per (message, emoji): toggling flips membership.
// Reactions live only in process memory and are lost on restart.
type ReactionTable struct {
	mu        sync.Mutex
	byMessage map[string]map[string][]string // messageID -> emoji -> reactors, insertion order
}

func NewReactionTable() *ReactionTable {
	return &ReactionTable{byMessage: make(map[string]map[string][]string)}
}

// Toggle flips identity's reaction on (messageID, emoji) and returns the
// complete resulting reactor list plus the applied action. An emoji entry
// whose reactor set empties is removed, never retained empty.
func (t *ReactionTable) Toggle(messageID, emoji, identity string) ([]string, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	emojis, ok := t.byMessage[messageID]
	if !ok {
		emojis = make(map[string][]string)
		t.byMessage[messageID] = emojis
	}

	reactors := emojis[emoji]
	for i, reactor := range reactors {
		if reactor != identity {
			continue
		}
		reactors = append(reactors[:i], reactors[i+1:]...)
		if len(reactors) == 0 {
			delete(emojis, emoji)
			if len(emojis) == 0 {
				delete(t.byMessage, messageID)
			}
		} else {
			emojis[emoji] = reactors
		}
		return copyOf(reactors), event.ActionRemove
	}

	reactors = append(reactors, identity)
	emojis[emoji] = reactors
	return copyOf(reactors), event.ActionAdd
}

// Snapshot returns a copy of every emoji entry for a message, empty map
// if none.
func (t *ReactionTable) Snapshot(messageID string) map[string][]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string][]string)
	for emoji, reactors := range t.byMessage[messageID] {
		out[emoji] = copyOf(reactors)
	}
	return out
}

// Drop discards all reaction state of a deleted message.
func (t *ReactionTable) Drop(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byMessage, messageID)
}

func copyOf(reactors []string) []string {
	out := make([]string, len(reactors))
	copy(out, reactors)
	return out
}
