package event

import (
	"chat-relay/domain"
)

// DomainEvent is anything the relay pushes to connected clients.
// Room is the broadcast scope; targeted events (rejection notices,
// history replay) are delivered to a single sink and may carry an
// empty room.
type DomainEvent interface {
	Room() string
}

const (
	ActionAdd    = "add"
	ActionRemove = "remove"
)

// MessagePosted carries a chat, image, or system message together with
// the full reactor sets known at emission time.
type MessagePosted struct {
	Message   domain.Message
	Reactions map[string][]string
}

func (e MessagePosted) Room() string { return e.Message.Room }

// History replays persisted messages to a joining connection,
// ordered oldest to newest.
type History struct {
	RoomName string
	Messages []MessagePosted
}

func (e History) Room() string { return e.RoomName }

// Roster is the live identity list of a room, rebroadcast on every
// join and leave.
type Roster struct {
	RoomName   string
	Identities []string
}

func (e Roster) Room() string { return e.RoomName }

// ReactionUpdate carries the complete resulting reactor list for one
// (message, emoji) pair, never a delta, so clients can reconcile
// without drifting on missed events.
type ReactionUpdate struct {
	RoomName  string
	MessageID string
	Emoji     string
	Reactors  []string
	Action    string
}

func (e ReactionUpdate) Room() string { return e.RoomName }

// MessageDeleted instructs clients to remove the message from view.
type MessageDeleted struct {
	RoomName  string
	MessageID string
}

func (e MessageDeleted) Room() string { return e.RoomName }

// MessageBlocked is sent to the submitting connection only; the blocked
// message is otherwise fully discarded.
type MessageBlocked struct {
	RoomName   string
	Reason     string
	Confidence float64
}

func (e MessageBlocked) Room() string { return e.RoomName }

// DeleteFailed is sent to the requesting connection only.
type DeleteFailed struct {
	RoomName string
	Reason   string
}

func (e DeleteFailed) Room() string { return e.RoomName }

// PrivilegeStatus tells a joining connection whether its identity is in
// the configured privileged set.
type PrivilegeStatus struct {
	RoomName   string
	Privileged bool
}

func (e PrivilegeStatus) Room() string { return e.RoomName }

// ErrorNotice reports a rejected client event (malformed payload, no
// session) to the offending connection only.
type ErrorNotice struct {
	Reason string
}

func (e ErrorNotice) Room() string { return "" }
