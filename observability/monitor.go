// Package observability aggregates health signals of the relay.
// Persistence failures are surfaced here and never to end users.
package observability

import (
	"sync/atomic"
	"time"
)

type Monitor struct {
	startedAt           time.Time
	broadcasts          atomic.Uint64
	droppedEvents       atomic.Uint64
	persistenceFailures atomic.Uint64
	blockedMessages     atomic.Uint64
	flaggedMessages     atomic.Uint64
}

// Snapshot is the aggregate served by the health endpoint.
type Snapshot struct {
	Status              string `json:"status"`
	UptimeSeconds       int64  `json:"uptime_seconds"`
	Broadcasts          uint64 `json:"broadcasts"`
	DroppedEvents       uint64 `json:"dropped_events"`
	PersistenceFailures uint64 `json:"persistence_failures"`
	BlockedMessages     uint64 `json:"blocked_messages"`
	FlaggedMessages     uint64 `json:"flagged_messages"`
}

func NewMonitor() *Monitor {
	return &Monitor{startedAt: time.Now()}
}

func (m *Monitor) Broadcast()          { m.broadcasts.Add(1) }
func (m *Monitor) DroppedEvent()       { m.droppedEvents.Add(1) }
func (m *Monitor) PersistenceFailure() { m.persistenceFailures.Add(1) }
func (m *Monitor) BlockedMessage()     { m.blockedMessages.Add(1) }
func (m *Monitor) FlaggedMessage()     { m.flaggedMessages.Add(1) }

func (m *Monitor) PersistenceFailures() uint64 { return m.persistenceFailures.Load() }

// Stats reports "degraded" once any persistence call has failed; the room
// keeps functioning from live broadcast state alone.
func (m *Monitor) Stats() Snapshot {
	status := "ok"
	if m.persistenceFailures.Load() > 0 {
		status = "degraded"
	}
	return Snapshot{
		Status:              status,
		UptimeSeconds:       int64(time.Since(m.startedAt).Seconds()),
		Broadcasts:          m.broadcasts.Load(),
		DroppedEvents:       m.droppedEvents.Load(),
		PersistenceFailures: m.persistenceFailures.Load(),
		BlockedMessages:     m.blockedMessages.Load(),
		FlaggedMessages:     m.flaggedMessages.Load(),
	}
}
