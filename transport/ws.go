package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat-relay/runtime"
	"chat-relay/sink"
)

// Server owns the websocket sessions and the HTTP surface around them.
type Server struct {
	log        *slog.Logger
	hub        *runtime.Hub
	upgrader   websocket.Upgrader
	validate   *validator.Validate
	bufferSize int
}

func NewServer(log *slog.Logger, hub *runtime.Hub, bufferSize int) *Server {
	return &Server{
		log: log,
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		validate:   validator.New(),
		bufferSize: bufferSize,
	}
}

// HandleWS runs one connection: upgrade, writer goroutine, read loop.
// The connection ID is the presence key for the whole session. Leave runs
// unconditionally when the read loop ends, so an abrupt disconnect still
// completes its side effects.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", "error", err)
		return
	}

	connectionID := uuid.NewString()
	snk := sink.NewChannelSink(s.bufferSize)

	ctx, cancel := context.WithCancel(r.Context())
	go s.writeLoop(ctx, conn, snk)

	s.readLoop(ctx, conn, connectionID, snk)

	cancel()
	s.hub.Leave(context.Background(), connectionID)
	_ = conn.Close()
	s.log.Debug("Connection closed", "connection_id", connectionID)
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, connectionID string, snk *sink.ChannelSink) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		s.dispatch(ctx, connectionID, snk, env)
	}
}

// dispatch validates one client envelope and hands it to the hub. Failures
// are reported to the offending connection only.
func (s *Server) dispatch(ctx context.Context, connectionID string, snk *sink.ChannelSink, env Envelope) {
	var err error
	switch env.Type {
	case "join":
		var p joinPayload
		if err = s.decode(env.Payload, &p); err == nil {
			err = s.hub.Join(ctx, connectionID, p.Identity, p.Room, snk)
		}
	case "sendText":
		var p sendTextPayload
		if err = s.decode(env.Payload, &p); err == nil {
			err = s.hub.SubmitText(ctx, connectionID, p.Text)
		}
	case "sendImage":
		var p sendImagePayload
		if err = s.decode(env.Payload, &p); err == nil {
			err = s.hub.SubmitImage(ctx, connectionID, p.ImageRef, p.Caption)
		}
	case "toggleReaction":
		var p toggleReactionPayload
		if err = s.decode(env.Payload, &p); err == nil {
			err = s.hub.ToggleReaction(ctx, connectionID, p.MessageID, p.Emoji)
		}
	case "deleteMessage":
		var p deleteMessagePayload
		if err = s.decode(env.Payload, &p); err == nil {
			err = s.hub.Delete(ctx, connectionID, p.MessageID)
		}
	default:
		err = fmt.Errorf("unknown event type %q", env.Type)
	}

	if err != nil {
		s.notifyError(ctx, snk, err)
	}
}

func (s *Server) decode(raw json.RawMessage, payload any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if err := s.validate.Struct(payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func (s *Server) notifyError(ctx context.Context, snk *sink.ChannelSink, cause error) {
	if err := snk.Consume(ctx, errorEvent(cause)); err != nil {
		s.log.Debug("Error notice not delivered", "error", err)
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, snk *sink.ChannelSink) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-snk.Events:
			env, err := encode(e)
			if err != nil {
				s.log.Error("Event not encodable", "error", err)
				continue
			}
			if err := conn.WriteJSON(env); err != nil {
				// Unblocks the read loop, which owns session teardown.
				_ = conn.Close()
				return
			}
		}
	}
}
