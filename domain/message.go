package domain

import "time"

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindSystem MessageKind = "system"
)

// Message is immutable once broadcast, except for the Flagged annotation
// and its existence (a message can be retracted). Reactions live outside
// the message and are ephemeral: they are not persisted and do not survive
// a restart or a history replay.
type Message struct {
	ID         string
	Room       string
	Author     Identity
	Text       *string
	ImageRef   *string
	Kind       MessageKind
	SentAt     time.Time
	Privileged bool
	Flagged    bool
}
