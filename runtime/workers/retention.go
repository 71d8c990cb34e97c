package workers

import (
	"context"
	"log/slog"
	"time"

	"chat-relay/repositories"
)

// RetentionWorker periodically trims every room's persisted history down
// to the configured number of rows. Live broadcast state is untouched;
// only durable storage shrinks.
type RetentionWorker struct {
	log      *slog.Logger
	messages repositories.IMessageRepository
	interval time.Duration
	keep     int
}

func NewRetentionWorker(log *slog.Logger, messages repositories.IMessageRepository,
	interval time.Duration, keep int) *RetentionWorker {
	return &RetentionWorker{log: log, messages: messages, interval: interval, keep: keep}
}

func (w *RetentionWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping worker")
			return nil
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *RetentionWorker) sweep() {
	rooms, err := w.messages.Rooms()
	if err != nil {
		w.log.Error("Retention sweep aborted", "error", err)
		return
	}
	for _, room := range rooms {
		removed, err := w.messages.Trim(room, w.keep)
		if err != nil {
			w.log.Error("Room trim failed", "room", room, "error", err)
			continue
		}
		if removed > 0 {
			w.log.Info("Trimmed room history", "room", room, "removed", removed, "keep", w.keep)
		}
	}
}
