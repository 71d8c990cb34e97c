// Package transport realizes the room session protocol over one
// websocket endpoint plus a small HTTP surface (health, admin review).
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"

	"chat-relay/domain/event"
)

// Envelope is the tagged frame exchanged in both directions:
// {"type": "...", "payload": {...}}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> server payloads. Required fields are validated at this
// boundary before anything reaches the pipelines.
type joinPayload struct {
	Identity string `json:"identity" validate:"required"`
	Room     string `json:"room" validate:"required"`
}

type sendTextPayload struct {
	Text string `json:"text" validate:"required"`
}

type sendImagePayload struct {
	ImageRef string `json:"imageRef" validate:"required"`
	Caption  string `json:"caption"`
}

type toggleReactionPayload struct {
	MessageID string `json:"messageID" validate:"required"`
	Emoji     string `json:"emoji" validate:"required"`
}

type deleteMessagePayload struct {
	MessageID string `json:"messageID" validate:"required"`
}

// Server -> client payloads.
type messagePayload struct {
	ID         string              `json:"id"`
	Room       string              `json:"room"`
	Author     string              `json:"author"`
	Text       *string             `json:"text,omitempty"`
	ImageRef   *string             `json:"imageRef,omitempty"`
	Kind       string              `json:"kind"`
	Time       time.Time           `json:"time"`
	Privileged bool                `json:"privileged"`
	Flagged    bool                `json:"flagged"`
	Reactions  map[string][]string `json:"reactions"`
}

type rosterPayload struct {
	Room       string   `json:"room"`
	Identities []string `json:"identities"`
}

type reactionUpdatePayload struct {
	MessageID string   `json:"messageID"`
	Emoji     string   `json:"emoji"`
	Reactors  []string `json:"reactors"`
	Action    string   `json:"action"`
}

type messageDeletedPayload struct {
	MessageID string `json:"messageID"`
}

type messageBlockedPayload struct {
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

type deleteFailedPayload struct {
	Reason string `json:"reason"`
}

type privilegeStatusPayload struct {
	Privileged bool `json:"privileged"`
}

type errorPayload struct {
	Reason string `json:"reason"`
}

func toMessagePayload(e event.MessagePosted) messagePayload {
	reactions := e.Reactions
	if reactions == nil {
		reactions = map[string][]string{}
	}
	return messagePayload{
		ID:         e.Message.ID,
		Room:       e.Message.Room,
		Author:     string(e.Message.Author),
		Text:       e.Message.Text,
		ImageRef:   e.Message.ImageRef,
		Kind:       string(e.Message.Kind),
		Time:       e.Message.SentAt,
		Privileged: e.Message.Privileged,
		Flagged:    e.Message.Flagged,
		Reactions:  reactions,
	}
}

// encode maps a domain event onto its wire envelope.
func encode(e event.DomainEvent) (Envelope, error) {
	switch evt := e.(type) {
	case event.MessagePosted:
		return seal("message", toMessagePayload(evt))
	case event.History:
		return seal("history", lo.Map(evt.Messages, func(item event.MessagePosted, _ int) messagePayload {
			return toMessagePayload(item)
		}))
	case event.Roster:
		return seal("roster", rosterPayload{Room: evt.RoomName, Identities: evt.Identities})
	case event.ReactionUpdate:
		reactors := evt.Reactors
		if reactors == nil {
			reactors = []string{}
		}
		return seal("reactionUpdate", reactionUpdatePayload{
			MessageID: evt.MessageID,
			Emoji:     evt.Emoji,
			Reactors:  reactors,
			Action:    evt.Action,
		})
	case event.MessageDeleted:
		return seal("messageDeleted", messageDeletedPayload{MessageID: evt.MessageID})
	case event.MessageBlocked:
		return seal("messageBlocked", messageBlockedPayload{Reason: evt.Reason, Confidence: evt.Confidence})
	case event.DeleteFailed:
		return seal("deleteFailed", deleteFailedPayload{Reason: evt.Reason})
	case event.PrivilegeStatus:
		return seal("privilegeStatus", privilegeStatusPayload{Privileged: evt.Privileged})
	case event.ErrorNotice:
		return seal("error", errorPayload{Reason: evt.Reason})
	default:
		return Envelope{}, fmt.Errorf("unmapped event type %T", e)
	}
}

func errorEvent(cause error) event.ErrorNotice {
	return event.ErrorNotice{Reason: cause.Error()}
}

func seal(eventType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: eventType, Payload: raw}, nil
}
