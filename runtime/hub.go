package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"
)

// Hub orchestrates the room pipelines over the shared live state.
//
// Ordering contract: one mutex per room is held across the synchronous
// prefix of every handler (moderation verdict, ID assignment, tracking,
// broadcast) and across the issuing of the persistence write. For a single
// room, broadcast order therefore equals handler dispatch order, and
// durable writes are serialized in that same order. Broadcast always
// precedes the persistence call; a persistence failure is logged and
// counted but never retracts what the room has already seen.
type Hub struct {
	log          *slog.Logger
	registry     *Registry
	reactions    *ReactionTable
	messages     repositories.IMessageRepository
	flagged      repositories.IFlaggedRepository
	moderation   *moderation.Pipeline
	privileged   domain.PrivilegedSet
	monitor      *observability.Monitor
	systemName   domain.Identity
	historyLimit int

	mu      sync.Mutex
	rooms   map[string]*sync.Mutex
	tracked map[string]trackedMessage
}

// trackedMessage is the in-memory metadata the reaction and deletion
// pipelines key on. A message stays tracked until deleted, independently
// of its author's presence.
type trackedMessage struct {
	room   string
	author domain.Identity
}

func NewHub(log *slog.Logger, registry *Registry,
	messages repositories.IMessageRepository, flagged repositories.IFlaggedRepository,
	moderationPipeline *moderation.Pipeline, privileged domain.PrivilegedSet,
	monitor *observability.Monitor, systemName string, historyLimit int) *Hub {
	return &Hub{
		log:          log,
		registry:     registry,
		reactions:    NewReactionTable(),
		messages:     messages,
		flagged:      flagged,
		moderation:   moderationPipeline,
		privileged:   privileged,
		monitor:      monitor,
		systemName:   domain.Identity(systemName),
		historyLimit: historyLimit,
		rooms:        make(map[string]*sync.Mutex),
		tracked:      make(map[string]trackedMessage),
	}
}

func (h *Hub) IsPrivileged(identity string) bool {
	return h.privileged.Contains(domain.Identity(identity))
}

// Join registers a presence, replays persisted history to the joiner,
// announces the arrival to the rest of the room, and rebroadcasts the
// roster. A connection joins at most once; re-joining requires a new
// connection.
func (h *Hub) Join(ctx context.Context, connectionID, identity, room string, snk contract.EventSink) error {
	name := strings.TrimSpace(identity)
	roomName := strings.TrimSpace(room)
	if name == "" || roomName == "" {
		return errors.ErrEmptyJoin
	}
	if _, ok := h.registry.Lookup(connectionID); ok {
		return errors.ErrSessionExists
	}

	lock := h.roomLock(roomName)
	lock.Lock()
	defer lock.Unlock()

	presence := domain.Presence{ConnectionID: connectionID, Identity: domain.Identity(name), Room: roomName}
	h.registry.Subscribe(presence, snk)

	h.deliver(ctx, snk, event.PrivilegeStatus{
		RoomName:   roomName,
		Privileged: h.privileged.Contains(presence.Identity),
	})

	h.replayHistory(ctx, roomName, snk)

	welcome := h.systemMessage("welcome", connectionID, roomName, fmt.Sprintf("Welcome to %s!", roomName))
	h.deliver(ctx, snk, event.MessagePosted{Message: welcome, Reactions: map[string][]string{}})

	joined := h.systemMessage("join", connectionID, roomName, fmt.Sprintf("%s has joined the chat", name))
	h.broadcast(ctx, roomName, event.MessagePosted{Message: joined, Reactions: map[string][]string{}}, connectionID)
	h.persist(joined)

	h.broadcast(ctx, roomName, event.Roster{RoomName: roomName, Identities: h.registry.Roster(roomName)})
	return nil
}

// Leave removes the presence, announces the departure, and rebroadcasts
// the roster. It is idempotent and runs to completion on abrupt
// disconnect; no client acknowledgment is awaited.
func (h *Hub) Leave(ctx context.Context, connectionID string) {
	presence, ok := h.registry.Lookup(connectionID)
	if !ok {
		return
	}

	lock := h.roomLock(presence.Room)
	lock.Lock()
	defer lock.Unlock()

	if _, ok := h.registry.Unsubscribe(connectionID); !ok {
		return
	}

	left := h.systemMessage("leave", connectionID, presence.Room,
		fmt.Sprintf("%s has left the chat", presence.Identity))
	h.broadcast(ctx, presence.Room, event.MessagePosted{Message: left, Reactions: map[string][]string{}})
	h.persist(left)

	h.broadcast(ctx, presence.Room, event.Roster{
		RoomName:   presence.Room,
		Identities: h.registry.Roster(presence.Room),
	})
}

// SubmitText runs the moderate -> persist -> broadcast pipeline for a
// text message.
func (h *Hub) SubmitText(ctx context.Context, connectionID, text string) error {
	presence, ok := h.registry.Lookup(connectionID)
	if !ok {
		return errors.ErrNoSession
	}
	return h.submit(ctx, presence, connectionID, &text, nil, domain.KindText, text)
}

// SubmitImage relays an image reference with an optional caption. Image
// bytes are never inspected; only the caption runs through moderation,
// with the same verdict semantics as text.
func (h *Hub) SubmitImage(ctx context.Context, connectionID, imageRef, caption string) error {
	presence, ok := h.registry.Lookup(connectionID)
	if !ok {
		return errors.ErrNoSession
	}
	// A blank caption is no caption: the post degrades to a pure image
	// instead of carrying whitespace text past moderation.
	caption = strings.TrimSpace(caption)
	var text *string
	if caption != "" {
		text = &caption
	}
	return h.submit(ctx, presence, connectionID, text, &imageRef, domain.KindImage, caption)
}

func (h *Hub) submit(ctx context.Context, presence domain.Presence, connectionID string,
	text, imageRef *string, kind domain.MessageKind, moderated string) error {
	lock := h.roomLock(presence.Room)
	lock.Lock()
	defer lock.Unlock()

	// Pure image posts carry no text to classify.
	verdict := moderation.Result{Verdict: moderation.VerdictAllow}
	if strings.TrimSpace(moderated) != "" || kind == domain.KindText {
		verdict = h.moderation.Moderate(ctx, moderated, presence.Room)
	}

	if verdict.Blocked() {
		h.monitor.BlockedMessage()
		h.log.Info("Message blocked",
			"room", presence.Room, "author", presence.Identity, "reason", verdict.Reason)
		if snk, ok := h.registry.SinkFor(connectionID); ok {
			h.deliver(ctx, snk, event.MessageBlocked{
				RoomName:   presence.Room,
				Reason:     verdict.Reason,
				Confidence: verdict.Confidence,
			})
		}
		return nil
	}

	messageID := NewMessageID(presence.Room)

	if verdict.Flagged() {
		h.monitor.FlaggedMessage()
		h.log.Info("Message flagged for review",
			"room", presence.Room, "author", presence.Identity,
			"reason", verdict.Reason, "lang", verdict.Language)
		if err := h.flagged.Save(repositories.FlaggedRecord{
			MessageID:  messageID,
			Room:       presence.Room,
			Author:     string(presence.Identity),
			Text:       moderated,
			Reason:     verdict.Reason,
			Confidence: verdict.Confidence,
			Method:     verdict.Method,
			Language:   verdict.Language,
		}); err != nil {
			h.monitor.PersistenceFailure()
			h.log.Error("Flagged record not saved", "message_id", messageID, "error", err)
		}
	}

	msg := domain.Message{
		ID:         messageID,
		Room:       presence.Room,
		Author:     presence.Identity,
		Text:       text,
		ImageRef:   imageRef,
		Kind:       kind,
		SentAt:     time.Now().UTC(),
		Privileged: h.privileged.Contains(presence.Identity),
		Flagged:    verdict.Flagged(),
	}

	h.mu.Lock()
	h.tracked[messageID] = trackedMessage{room: presence.Room, author: presence.Identity}
	h.mu.Unlock()

	h.broadcast(ctx, presence.Room, event.MessagePosted{Message: msg, Reactions: map[string][]string{}})
	h.persist(msg)
	return nil
}

// ToggleReaction flips a reaction and broadcasts the complete resulting
// reactor list for the (message, emoji) pair.
func (h *Hub) ToggleReaction(ctx context.Context, connectionID, messageID, emoji string) error {
	presence, ok := h.registry.Lookup(connectionID)
	if !ok {
		return errors.ErrNoSession
	}

	tracked, ok := h.lookupTracked(messageID)
	if !ok {
		return errors.ErrUnknownMessage
	}

	lock := h.roomLock(tracked.room)
	lock.Lock()
	defer lock.Unlock()

	// The message may have been deleted while waiting on the room lock.
	if _, ok := h.lookupTracked(messageID); !ok {
		return errors.ErrUnknownMessage
	}

	reactors, action := h.reactions.Toggle(messageID, emoji, string(presence.Identity))
	h.broadcast(ctx, tracked.room, event.ReactionUpdate{
		RoomName:  tracked.room,
		MessageID: messageID,
		Emoji:     emoji,
		Reactors:  reactors,
		Action:    action,
	})
	return nil
}

// Delete retracts a message when the requester is its author or a
// privileged identity. Deleting an untracked message is a harmless no-op
// without broadcast; an unauthorized attempt is reported to the requester
// only.
func (h *Hub) Delete(ctx context.Context, connectionID, messageID string) error {
	presence, ok := h.registry.Lookup(connectionID)
	if !ok {
		return errors.ErrNoSession
	}

	tracked, ok := h.lookupTracked(messageID)
	if !ok {
		return nil
	}

	lock := h.roomLock(tracked.room)
	lock.Lock()
	defer lock.Unlock()

	if _, ok := h.lookupTracked(messageID); !ok {
		return nil
	}

	if presence.Identity != tracked.author && !h.privileged.Contains(presence.Identity) {
		h.log.Info("Unauthorized delete attempt",
			"requester", presence.Identity, "message_id", messageID)
		if snk, ok := h.registry.SinkFor(connectionID); ok {
			h.deliver(ctx, snk, event.DeleteFailed{RoomName: tracked.room, Reason: "Not authorized"})
		}
		return nil
	}

	h.retract(ctx, tracked.room, messageID)
	return nil
}

// FlaggedPending lists review records awaiting a decision.
func (h *Hub) FlaggedPending(limit int) ([]repositories.FlaggedRecord, error) {
	return h.flagged.List(repositories.StatusPending, limit)
}

// ReviewFlagged applies an administrative decision to a flagged record.
// Rejecting retracts the live message with the same event shape as a
// user-initiated deletion.
func (h *Hub) ReviewFlagged(ctx context.Context, messageID string, status repositories.FlaggedStatus, reviewer string) error {
	if status != repositories.StatusApproved && status != repositories.StatusRejected {
		return fmt.Errorf("invalid review action %q", status)
	}

	record, err := h.flagged.Review(messageID, status, reviewer)
	if err != nil {
		return err
	}

	if status == repositories.StatusRejected {
		lock := h.roomLock(record.Room)
		lock.Lock()
		defer lock.Unlock()
		h.retract(ctx, record.Room, messageID)
	}
	return nil
}

// retract removes in-memory tracking, issues the durable delete, and
// broadcasts the retraction. Callers hold the room lock.
func (h *Hub) retract(ctx context.Context, room, messageID string) {
	h.mu.Lock()
	delete(h.tracked, messageID)
	h.mu.Unlock()
	h.reactions.Drop(messageID)

	if err := h.messages.Delete(messageID); err != nil {
		h.monitor.PersistenceFailure()
		h.log.Error("Durable delete failed", "message_id", messageID, "error", err)
	}

	h.broadcast(ctx, room, event.MessageDeleted{RoomName: room, MessageID: messageID})
}

// replayHistory sends persisted messages to a joining connection, oldest
// to newest. Replayed entries get a synthesized ID when none was stored,
// the author's privileged flag recomputed, and an empty reaction set:
// reactions do not survive a restart or rejoin.
func (h *Hub) replayHistory(ctx context.Context, room string, snk contract.EventSink) {
	stored, err := h.messages.Recent(room, h.historyLimit)
	if err != nil {
		h.monitor.PersistenceFailure()
		h.log.Error("History unavailable, joining with empty replay", "room", room, "error", err)
		return
	}
	if len(stored) == 0 {
		return
	}

	entries := lo.Map(lo.Reverse(stored), func(item repositories.StoredMessage, _ int) event.MessagePosted {
		return h.replayEntry(item)
	})
	h.deliver(ctx, snk, event.History{RoomName: room, Messages: entries})
}

func (h *Hub) replayEntry(stored repositories.StoredMessage) event.MessagePosted {
	id := stored.ID
	if id == "" {
		id = fmt.Sprintf("history-%d-%s", time.Now().UnixMilli(), idSuffix())
	}
	return event.MessagePosted{
		Message: domain.Message{
			ID:         id,
			Room:       stored.Room,
			Author:     domain.Identity(stored.Author),
			Text:       stored.Text,
			ImageRef:   stored.ImageRef,
			Kind:       domain.MessageKind(stored.Kind),
			SentAt:     stored.SentAt,
			Privileged: h.privileged.Contains(domain.Identity(stored.Author)),
		},
		Reactions: map[string][]string{},
	}
}

func (h *Hub) systemMessage(idPrefix, connectionID, room, text string) domain.Message {
	return domain.Message{
		ID:     fmt.Sprintf("%s-%s-%d", idPrefix, connectionID, time.Now().UnixMilli()),
		Room:   room,
		Author: h.systemName,
		Text:   &text,
		Kind:   domain.KindSystem,
		SentAt: time.Now().UTC(),
	}
}

func (h *Hub) persist(msg domain.Message) {
	stored := repositories.StoredMessage{
		ID:       msg.ID,
		Room:     msg.Room,
		Author:   string(msg.Author),
		Text:     msg.Text,
		ImageRef: msg.ImageRef,
		Kind:     string(msg.Kind),
		SentAt:   msg.SentAt,
	}
	if err := h.messages.Append(stored); err != nil {
		h.monitor.PersistenceFailure()
		h.log.Error("Message persistence failed, room continues from live state",
			"message_id", msg.ID, "room", msg.Room, "error", err)
	}
}

func (h *Hub) broadcast(ctx context.Context, room string, e event.DomainEvent, excluded ...string) {
	for _, snk := range h.registry.SinksForRoom(room, excluded...) {
		h.deliver(ctx, snk, e)
	}
	h.monitor.Broadcast()
}

func (h *Hub) deliver(ctx context.Context, snk contract.EventSink, e event.DomainEvent) {
	if err := snk.Consume(ctx, e); err != nil {
		h.monitor.DroppedEvent()
		h.log.Debug("Event not delivered", "error", err)
	}
}

func (h *Hub) lookupTracked(messageID string) (trackedMessage, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tracked, ok := h.tracked[messageID]
	return tracked, ok
}

func (h *Hub) roomLock(room string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	lock, ok := h.rooms[room]
	if !ok {
		lock = &sync.Mutex{}
		h.rooms[room] = lock
	}
	return lock
}

// NewMessageID builds a process-unique, room-scoped ID: room name,
// millisecond timestamp, and a random suffix against same-instant
// collisions.
func NewMessageID(room string) string {
	return fmt.Sprintf("%s-%d-%s", room, time.Now().UnixMilli(), idSuffix())
}

func idSuffix() string {
	return uuid.NewString()[:8]
}
