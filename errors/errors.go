package errors

import "fmt"

var (
	ErrNoSession              = fmt.Errorf("no joined room for this connection")
	ErrSessionExists          = fmt.Errorf("connection already joined a room")
	ErrEmptyJoin              = fmt.Errorf("identity and room must not be empty")
	ErrUnknownMessage         = fmt.Errorf("message is not tracked")
	ErrUnauthorized           = fmt.Errorf("not authorized")
	ErrPersistenceUnavailable = fmt.Errorf("persistence unavailable")
	ErrNoKeywords             = fmt.Errorf("no keywords have been provided")
	ErrSlowConsumer           = fmt.Errorf("consumer buffer full, event dropped")
	ErrWorkerPanic            = fmt.Errorf("worker panic")
)
