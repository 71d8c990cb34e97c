package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"chat-relay/domain"
	"chat-relay/domain/event"
	apperrors "chat-relay/errors"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/sink"
)

type fakeMessageRepository struct {
	mu         sync.Mutex
	appended   []repositories.StoredMessage
	deleted    []string
	seed       map[string][]repositories.StoredMessage // room -> newest first
	failAppend bool
}

func (f *fakeMessageRepository) Append(message repositories.StoredMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAppend {
		return fmt.Errorf("disk full")
	}
	f.appended = append(f.appended, message)
	return nil
}

func (f *fakeMessageRepository) Recent(room string, limit int) ([]repositories.StoredMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.seed[room]
	if limit > 0 && len(stored) > limit {
		stored = stored[:limit]
	}
	return stored, nil
}

func (f *fakeMessageRepository) Delete(messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeMessageRepository) Rooms() ([]string, error) {
	return nil, nil
}

func (f *fakeMessageRepository) Trim(_ string, _ int) (int, error) {
	return 0, nil
}

func (f *fakeMessageRepository) appendedMessages() []repositories.StoredMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]repositories.StoredMessage, len(f.appended))
	copy(out, f.appended)
	return out
}

type fakeFlaggedRepository struct {
	mu      sync.Mutex
	records map[string]repositories.FlaggedRecord
}

func newFakeFlaggedRepository() *fakeFlaggedRepository {
	return &fakeFlaggedRepository{records: make(map[string]repositories.FlaggedRecord)}
}

func (f *fakeFlaggedRepository) Save(record repositories.FlaggedRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[record.MessageID]; ok {
		return nil
	}
	if record.Status == "" {
		record.Status = repositories.StatusPending
	}
	f.records[record.MessageID] = record
	return nil
}

func (f *fakeFlaggedRepository) List(status repositories.FlaggedStatus, _ int) ([]repositories.FlaggedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repositories.FlaggedRecord
	for _, record := range f.records {
		if record.Status == status {
			out = append(out, record)
		}
	}
	return out, nil
}

func (f *fakeFlaggedRepository) Review(messageID string, status repositories.FlaggedStatus, reviewer string) (repositories.FlaggedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[messageID]
	if !ok {
		return repositories.FlaggedRecord{}, apperrors.ErrUnknownMessage
	}
	record.Status = status
	record.ReviewedBy = reviewer
	f.records[messageID] = record
	return record, nil
}

func newTestHub(t *testing.T, messages repositories.IMessageRepository, flagged repositories.IFlaggedRepository) *Hub {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	policy, err := moderation.NewPolicy(moderation.DefaultOffTopicKeywords, moderation.DefaultStudyKeywords)
	require.NoError(t, err)
	pipeline := moderation.NewPipeline(policy, nil, time.Second, log)
	privileged := domain.NewPrivilegedSet([]string{"admin"})
	return NewHub(log, NewRegistry(), messages, flagged, pipeline, privileged,
		observability.NewMonitor(), "RelayBot", 100)
}

func eventsOf[T event.DomainEvent](events []event.DomainEvent) []T {
	var out []T
	for _, e := range events {
		if typed, ok := e.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

func lastMessageID(t *testing.T, timeline *sink.Timeline) string {
	t.Helper()
	posted := eventsOf[event.MessagePosted](timeline.Events())
	require.NotEmpty(t, posted)
	return posted[len(posted)-1].Message.ID
}

func TestHub_Join_Delivers_Welcome_And_Roster(t *testing.T) {
	req := require.New(t)
	messages := &fakeMessageRepository{}
	hub := newTestHub(t, messages, newFakeFlaggedRepository())
	timeline := sink.NewTimeline()

	// When alice joins an empty room
	err := hub.Join(context.Background(), "conn-1", "alice", "go", timeline)
	req.NoError(err)

	events := timeline.Events()

	// Then she learns her privilege level first
	status := eventsOf[event.PrivilegeStatus](events)
	req.Len(status, 1)
	req.False(status[0].Privileged)

	// And sees a welcome only she receives
	posted := eventsOf[event.MessagePosted](events)
	req.Len(posted, 1)
	req.Equal(domain.KindSystem, posted[0].Message.Kind)
	req.Contains(*posted[0].Message.Text, "Welcome to go")

	// And the roster lists her
	rosters := eventsOf[event.Roster](events)
	req.Len(rosters, 1)
	req.Equal([]string{"alice"}, rosters[0].Identities)

	// The welcome is never persisted; the join notice is
	appended := messages.appendedMessages()
	req.Len(appended, 1)
	req.Contains(*appended[0].Text, "has joined")
}

func TestHub_Join_Rejects_Blank_Identity_Or_Room(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, &fakeMessageRepository{}, newFakeFlaggedRepository())

	req.ErrorIs(hub.Join(context.Background(), "conn-1", "  ", "go", sink.NewTimeline()), apperrors.ErrEmptyJoin)
	req.ErrorIs(hub.Join(context.Background(), "conn-1", "alice", "", sink.NewTimeline()), apperrors.ErrEmptyJoin)
}

func TestHub_Join_Rejects_Second_Join_On_Same_Connection(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, &fakeMessageRepository{}, newFakeFlaggedRepository())

	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", sink.NewTimeline()))

	err := hub.Join(context.Background(), "conn-1", "alice", "rust", sink.NewTimeline())
	req.ErrorIs(err, apperrors.ErrSessionExists)
}

func TestHub_Join_Announces_Arrival_To_Existing_Members(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, &fakeMessageRepository{}, newFakeFlaggedRepository())
	alice := sink.NewTimeline()
	bob := sink.NewTimeline()

	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", alice))
	req.NoError(hub.Join(context.Background(), "conn-2", "bob", "go", bob))

	// Alice sees bob's arrival, bob does not see his own join notice
	alicePosted := eventsOf[event.MessagePosted](alice.Events())
	req.Len(alicePosted, 2) // her welcome + bob's join notice
	req.Contains(*alicePosted[1].Message.Text, "bob has joined")

	bobPosted := eventsOf[event.MessagePosted](bob.Events())
	req.Len(bobPosted, 1) // only his welcome
	req.Contains(*bobPosted[0].Message.Text, "Welcome")

	// Both got the updated roster
	aliceRosters := eventsOf[event.Roster](alice.Events())
	req.Equal([]string{"alice", "bob"}, aliceRosters[len(aliceRosters)-1].Identities)
}

func TestHub_Join_Replays_History_Oldest_First(t *testing.T) {
	req := require.New(t)
	newer := "second"
	older := "first"
	messages := &fakeMessageRepository{seed: map[string][]repositories.StoredMessage{
		"go": {
			{ID: "m2", Room: "go", Author: "bob", Text: &newer, Kind: string(domain.KindText), SentAt: time.Now()},
			{ID: "m1", Room: "go", Author: "admin", Text: &older, Kind: string(domain.KindText), SentAt: time.Now().Add(-time.Minute)},
		},
	}}
	hub := newTestHub(t, messages, newFakeFlaggedRepository())
	timeline := sink.NewTimeline()

	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", timeline))

	histories := eventsOf[event.History](timeline.Events())
	req.Len(histories, 1)
	replayed := histories[0].Messages
	req.Len(replayed, 2)

	// Oldest first, reactions reset, privileged flag recomputed
	req.Equal("m1", replayed[0].Message.ID)
	req.Equal("m2", replayed[1].Message.ID)
	req.True(replayed[0].Message.Privileged)
	req.False(replayed[1].Message.Privileged)
	req.Empty(replayed[0].Reactions)
}

func TestHub_SubmitText_Broadcasts_And_Persists(t *testing.T) {
	req := require.New(t)
	messages := &fakeMessageRepository{}
	hub := newTestHub(t, messages, newFakeFlaggedRepository())
	alice := sink.NewTimeline()
	bob := sink.NewTimeline()
	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", alice))
	req.NoError(hub.Join(context.Background(), "conn-2", "bob", "go", bob))

	err := hub.SubmitText(context.Background(), "conn-1", "I need help with this function")
	req.NoError(err)

	// Both members receive the message, sender included
	for _, timeline := range []*sink.Timeline{alice, bob} {
		posted := eventsOf[event.MessagePosted](timeline.Events())
		last := posted[len(posted)-1]
		req.Equal(domain.Identity("alice"), last.Message.Author)
		req.Equal("I need help with this function", *last.Message.Text)
		req.Equal(domain.KindText, last.Message.Kind)
		req.False(last.Message.Flagged)
	}

	appended := messages.appendedMessages()
	last := appended[len(appended)-1]
	req.Equal("alice", last.Author)
	req.Equal("I need help with this function", *last.Text)
}

func TestHub_SubmitText_Blocked_Notifies_Submitter_Only(t *testing.T) {
	req := require.New(t)
	messages := &fakeMessageRepository{}
	hub := newTestHub(t, messages, newFakeFlaggedRepository())
	alice := sink.NewTimeline()
	bob := sink.NewTimeline()
	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", alice))
	req.NoError(hub.Join(context.Background(), "conn-2", "bob", "go", bob))
	persistedBefore := len(messages.appendedMessages())

	// Two distinct off-topic keywords block the message
	err := hub.SubmitText(context.Background(), "conn-1", "politics and religion talk")
	req.NoError(err)

	blocked := eventsOf[event.MessageBlocked](alice.Events())
	req.Len(blocked, 1)
	req.Contains(blocked[0].Reason, "off-topic")

	req.Empty(eventsOf[event.MessageBlocked](bob.Events()))
	// Bob saw only his own welcome, never the blocked message
	req.Len(eventsOf[event.MessagePosted](bob.Events()), 1)

	// Blocked messages are never persisted
	req.Len(messages.appendedMessages(), persistedBefore)
}

func TestHub_SubmitText_Flagged_Still_Relays_And_Records(t *testing.T) {
	req := require.New(t)
	flagged := newFakeFlaggedRepository()
	hub := newTestHub(t, &fakeMessageRepository{}, flagged)
	alice := sink.NewTimeline()
	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", alice))

	err := hub.SubmitText(context.Background(), "conn-1", "anyone into politics here")
	req.NoError(err)

	// The message is delivered, marked flagged
	posted := eventsOf[event.MessagePosted](alice.Events())
	last := posted[len(posted)-1]
	req.True(last.Message.Flagged)

	// And a pending review record exists for it
	pending, err := hub.FlaggedPending(10)
	req.NoError(err)
	req.Len(pending, 1)
	req.Equal(last.Message.ID, pending[0].MessageID)
	req.Equal("anyone into politics here", pending[0].Text)
	req.Equal(repositories.StatusPending, pending[0].Status)
}

func TestHub_SubmitText_Without_Session_Fails(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, &fakeMessageRepository{}, newFakeFlaggedRepository())

	err := hub.SubmitText(context.Background(), "ghost", "hello")

	req.ErrorIs(err, apperrors.ErrNoSession)
}

func TestHub_SubmitImage_Without_Caption_Skips_Moderation(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, &fakeMessageRepository{}, newFakeFlaggedRepository())
	alice := sink.NewTimeline()
	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", alice))

	// An empty caption would otherwise trip the too-short check
	err := hub.SubmitImage(context.Background(), "conn-1", "uploads/diagram.png", "")
	req.NoError(err)

	posted := eventsOf[event.MessagePosted](alice.Events())
	last := posted[len(posted)-1]
	req.Equal(domain.KindImage, last.Message.Kind)
	req.Equal("uploads/diagram.png", *last.Message.ImageRef)
	req.Nil(last.Message.Text)
	req.False(last.Message.Flagged)
}

func TestHub_SubmitImage_Whitespace_Caption_Is_Treated_As_Pure_Image(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, &fakeMessageRepository{}, newFakeFlaggedRepository())
	alice := sink.NewTimeline()
	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", alice))

	err := hub.SubmitImage(context.Background(), "conn-1", "uploads/screen.png", "   ")
	req.NoError(err)

	// Blank captions are dropped, never relayed as whitespace text
	posted := eventsOf[event.MessagePosted](alice.Events())
	last := posted[len(posted)-1]
	req.Equal(domain.KindImage, last.Message.Kind)
	req.Nil(last.Message.Text)
	req.False(last.Message.Flagged)
}

func TestHub_SubmitImage_Caption_Is_Moderated(t *testing.T) {
	req := require.New(t)
	flagged := newFakeFlaggedRepository()
	hub := newTestHub(t, &fakeMessageRepository{}, flagged)
	alice := sink.NewTimeline()
	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", alice))

	err := hub.SubmitImage(context.Background(), "conn-1", "uploads/meme.png", "anyone into politics here")
	req.NoError(err)

	posted := eventsOf[event.MessagePosted](alice.Events())
	last := posted[len(posted)-1]
	req.Equal(domain.KindImage, last.Message.Kind)
	req.Equal("anyone into politics here", *last.Message.Text)
	req.True(last.Message.Flagged)

	pending, err := hub.FlaggedPending(10)
	req.NoError(err)
	req.Len(pending, 1)
}

func TestHub_Persistence_Failure_Does_Not_Retract_Broadcast(t *testing.T) {
	req := require.New(t)
	messages := &fakeMessageRepository{failAppend: true}
	hub := newTestHub(t, messages, newFakeFlaggedRepository())
	alice := sink.NewTimeline()
	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", alice))

	err := hub.SubmitText(context.Background(), "conn-1", "still delivered live")
	req.NoError(err)

	posted := eventsOf[event.MessagePosted](alice.Events())
	last := posted[len(posted)-1]
	req.Equal("still delivered live", *last.Message.Text)
	req.Empty(eventsOf[event.MessageBlocked](alice.Events()))
}

func TestHub_ToggleReaction_Broadcasts_Full_Reactor_List(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, &fakeMessageRepository{}, newFakeFlaggedRepository())
	alice := sink.NewTimeline()
	bob := sink.NewTimeline()
	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", alice))
	req.NoError(hub.Join(context.Background(), "conn-2", "bob", "go", bob))
	req.NoError(hub.SubmitText(context.Background(), "conn-1", "react to this"))
	messageID := lastMessageID(t, alice)

	// Both react, then alice withdraws
	req.NoError(hub.ToggleReaction(context.Background(), "conn-1", messageID, "👍"))
	req.NoError(hub.ToggleReaction(context.Background(), "conn-2", messageID, "👍"))
	req.NoError(hub.ToggleReaction(context.Background(), "conn-1", messageID, "👍"))

	updates := eventsOf[event.ReactionUpdate](bob.Events())
	req.Len(updates, 3)
	req.Equal(event.ActionAdd, updates[0].Action)
	req.Equal([]string{"alice"}, updates[0].Reactors)
	req.Equal([]string{"alice", "bob"}, updates[1].Reactors)
	req.Equal(event.ActionRemove, updates[2].Action)
	req.Equal([]string{"bob"}, updates[2].Reactors)
}

func TestHub_ToggleReaction_Unknown_Message_Fails(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, &fakeMessageRepository{}, newFakeFlaggedRepository())
	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", sink.NewTimeline()))

	err := hub.ToggleReaction(context.Background(), "conn-1", "no-such-message", "👍")

	req.ErrorIs(err, apperrors.ErrUnknownMessage)
}

func TestHub_Delete_By_Author_Retracts_Everywhere(t *testing.T) {
	req := require.New(t)
	messages := &fakeMessageRepository{}
	hub := newTestHub(t, messages, newFakeFlaggedRepository())
	alice := sink.NewTimeline()
	bob := sink.NewTimeline()
	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", alice))
	req.NoError(hub.Join(context.Background(), "conn-2", "bob", "go", bob))
	req.NoError(hub.SubmitText(context.Background(), "conn-1", "delete me later"))
	messageID := lastMessageID(t, alice)

	req.NoError(hub.Delete(context.Background(), "conn-1", messageID))

	for _, timeline := range []*sink.Timeline{alice, bob} {
		deletions := eventsOf[event.MessageDeleted](timeline.Events())
		req.Len(deletions, 1)
		req.Equal(messageID, deletions[0].MessageID)
	}
	req.Contains(messages.deleted, messageID)

	// The retracted message no longer accepts reactions
	err := hub.ToggleReaction(context.Background(), "conn-2", messageID, "👍")
	req.ErrorIs(err, apperrors.ErrUnknownMessage)
}

func TestHub_Delete_By_Privileged_Identity(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, &fakeMessageRepository{}, newFakeFlaggedRepository())
	alice := sink.NewTimeline()
	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", alice))
	req.NoError(hub.Join(context.Background(), "conn-2", "admin", "go", sink.NewTimeline()))
	req.NoError(hub.SubmitText(context.Background(), "conn-1", "moderators may remove this"))
	messageID := lastMessageID(t, alice)

	req.NoError(hub.Delete(context.Background(), "conn-2", messageID))

	deletions := eventsOf[event.MessageDeleted](alice.Events())
	req.Len(deletions, 1)
}

func TestHub_Delete_Unauthorized_Notifies_Requester_Only(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, &fakeMessageRepository{}, newFakeFlaggedRepository())
	alice := sink.NewTimeline()
	bob := sink.NewTimeline()
	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", alice))
	req.NoError(hub.Join(context.Background(), "conn-2", "bob", "go", bob))
	req.NoError(hub.SubmitText(context.Background(), "conn-1", "bob cannot remove this"))
	messageID := lastMessageID(t, alice)

	// The attempt is swallowed, not surfaced as a protocol error
	req.NoError(hub.Delete(context.Background(), "conn-2", messageID))

	failures := eventsOf[event.DeleteFailed](bob.Events())
	req.Len(failures, 1)
	req.Equal("Not authorized", failures[0].Reason)

	req.Empty(eventsOf[event.DeleteFailed](alice.Events()))
	req.Empty(eventsOf[event.MessageDeleted](alice.Events()))
}

func TestHub_Delete_Untracked_Message_Is_A_NoOp(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, &fakeMessageRepository{}, newFakeFlaggedRepository())
	alice := sink.NewTimeline()
	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", alice))
	req.NoError(hub.SubmitText(context.Background(), "conn-1", "now you see me"))
	messageID := lastMessageID(t, alice)

	req.NoError(hub.Delete(context.Background(), "conn-1", messageID))
	// Second delete of the same message: no error, no second broadcast
	req.NoError(hub.Delete(context.Background(), "conn-1", messageID))

	req.Len(eventsOf[event.MessageDeleted](alice.Events()), 1)
}

func TestHub_Leave_Announces_Departure_And_Updates_Roster(t *testing.T) {
	req := require.New(t)
	messages := &fakeMessageRepository{}
	hub := newTestHub(t, messages, newFakeFlaggedRepository())
	alice := sink.NewTimeline()
	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", alice))
	req.NoError(hub.Join(context.Background(), "conn-2", "bob", "go", sink.NewTimeline()))

	hub.Leave(context.Background(), "conn-2")

	posted := eventsOf[event.MessagePosted](alice.Events())
	last := posted[len(posted)-1]
	req.Contains(*last.Message.Text, "bob has left")

	rosters := eventsOf[event.Roster](alice.Events())
	req.Equal([]string{"alice"}, rosters[len(rosters)-1].Identities)

	// Departure notices are part of history
	appended := messages.appendedMessages()
	req.Contains(*appended[len(appended)-1].Text, "has left")

	// Leaving twice is harmless
	hub.Leave(context.Background(), "conn-2")
}

func TestHub_ReviewFlagged_Rejection_Retracts_The_Message(t *testing.T) {
	req := require.New(t)
	flagged := newFakeFlaggedRepository()
	hub := newTestHub(t, &fakeMessageRepository{}, flagged)
	alice := sink.NewTimeline()
	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", alice))
	req.NoError(hub.SubmitText(context.Background(), "conn-1", "anyone into politics here"))
	messageID := lastMessageID(t, alice)

	err := hub.ReviewFlagged(context.Background(), messageID, repositories.StatusRejected, "admin")
	req.NoError(err)

	deletions := eventsOf[event.MessageDeleted](alice.Events())
	req.Len(deletions, 1)
	req.Equal(messageID, deletions[0].MessageID)

	// The record left the pending queue
	pending, err := hub.FlaggedPending(10)
	req.NoError(err)
	req.Empty(pending)
}

func TestHub_ReviewFlagged_Approval_Keeps_The_Message(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, &fakeMessageRepository{}, newFakeFlaggedRepository())
	alice := sink.NewTimeline()
	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", alice))
	req.NoError(hub.SubmitText(context.Background(), "conn-1", "anyone into politics here"))
	messageID := lastMessageID(t, alice)

	err := hub.ReviewFlagged(context.Background(), messageID, repositories.StatusApproved, "admin")
	req.NoError(err)

	req.Empty(eventsOf[event.MessageDeleted](alice.Events()))

	// The message stays live and reactable
	req.NoError(hub.ToggleReaction(context.Background(), "conn-1", messageID, "👍"))
}

func TestHub_ReviewFlagged_Rejects_Invalid_Action(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, &fakeMessageRepository{}, newFakeFlaggedRepository())

	err := hub.ReviewFlagged(context.Background(), "m1", repositories.StatusPending, "admin")

	req.Error(err)
}

func TestHub_ReviewFlagged_Unknown_Message_Fails(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, &fakeMessageRepository{}, newFakeFlaggedRepository())

	err := hub.ReviewFlagged(context.Background(), "no-such-message", repositories.StatusApproved, "admin")

	req.ErrorIs(err, apperrors.ErrUnknownMessage)
}

func TestHub_Concurrent_Submissions_Broadcast_In_One_Order_Per_Room(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, &fakeMessageRepository{}, newFakeFlaggedRepository())
	alice := sink.NewTimeline()
	bob := sink.NewTimeline()
	carol := sink.NewTimeline()
	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", alice))
	req.NoError(hub.Join(context.Background(), "conn-2", "bob", "go", bob))
	req.NoError(hub.Join(context.Background(), "conn-3", "carol", "rust", carol))

	// When three connections submit in parallel, two of them into one room
	const perSender = 50
	var wg sync.WaitGroup
	for _, connectionID := range []string{"conn-1", "conn-2", "conn-3"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_ = hub.SubmitText(context.Background(), connectionID,
					fmt.Sprintf("note %d from %s", i, connectionID))
			}
		}()
	}
	wg.Wait()

	textOrder := func(timeline *sink.Timeline) []string {
		var ids []string
		for _, posted := range eventsOf[event.MessagePosted](timeline.Events()) {
			if posted.Message.Kind == domain.KindText {
				ids = append(ids, posted.Message.ID)
			}
		}
		return ids
	}

	// Then every member of the room saw the same broadcast order
	aliceOrder := textOrder(alice)
	req.Len(aliceOrder, 2*perSender)
	req.Equal(aliceOrder, textOrder(bob))

	// And each sender's own submissions stayed in submission order
	perAuthor := make(map[string][]string)
	for _, posted := range eventsOf[event.MessagePosted](alice.Events()) {
		if posted.Message.Kind == domain.KindText {
			author := string(posted.Message.Author)
			perAuthor[author] = append(perAuthor[author], *posted.Message.Text)
		}
	}
	for author, texts := range perAuthor {
		req.Len(texts, perSender)
		for i, text := range texts {
			req.Contains(text, fmt.Sprintf("note %d ", i), "author %s out of order", author)
		}
	}

	// And the unrelated room was untouched by the contention
	req.Len(textOrder(carol), perSender)
	for _, posted := range eventsOf[event.MessagePosted](carol.Events()) {
		req.Equal("rust", posted.Message.Room)
	}
}

func TestHub_Rooms_Do_Not_Leak_Messages(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, &fakeMessageRepository{}, newFakeFlaggedRepository())
	alice := sink.NewTimeline()
	carol := sink.NewTimeline()
	req.NoError(hub.Join(context.Background(), "conn-1", "alice", "go", alice))
	req.NoError(hub.Join(context.Background(), "conn-3", "carol", "rust", carol))

	req.NoError(hub.SubmitText(context.Background(), "conn-1", "go only"))

	for _, posted := range eventsOf[event.MessagePosted](carol.Events()) {
		req.Equal("rust", posted.Message.Room)
	}
}
