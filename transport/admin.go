package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/repositories"
)

const flaggedListLimit = 100

// AdminAPI is the administrative review surface. It sits outside the room
// protocol: callers assert an identity, which must be in the privileged
// set.
type AdminAPI struct {
	log     *slog.Logger
	server  *Server
	monitor *observability.Monitor
}

func NewAdminAPI(log *slog.Logger, server *Server, monitor *observability.Monitor) *AdminAPI {
	return &AdminAPI{log: log, server: server, monitor: monitor}
}

// Router assembles the full HTTP surface: the websocket endpoint, the
// health aggregate, and the flagged-message review API.
func (a *AdminAPI) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", a.server.HandleWS)
	r.Get("/health", a.handleHealth)
	r.Route("/api/admin", func(r chi.Router) {
		r.Get("/flagged", a.handleFlaggedList)
		r.Post("/review", a.handleReview)
	})
	return r
}

func (a *AdminAPI) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.monitor.Stats())
}

func (a *AdminAPI) handleFlaggedList(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if !a.server.hub.IsPrivileged(identity) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": apperrors.ErrUnauthorized.Error()})
		return
	}

	records, err := a.server.hub.FlaggedPending(flaggedListLimit)
	if err != nil {
		a.log.Error("Flagged listing failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": apperrors.ErrPersistenceUnavailable.Error()})
		return
	}
	if records == nil {
		records = []repositories.FlaggedRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": records})
}

type reviewRequest struct {
	MessageID string `json:"messageID" validate:"required"`
	Action    string `json:"action" validate:"required,oneof=approved rejected"`
	Reviewer  string `json:"reviewer" validate:"required"`
}

func (a *AdminAPI) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}
	if err := a.server.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid review request"})
		return
	}
	if !a.server.hub.IsPrivileged(req.Reviewer) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": apperrors.ErrUnauthorized.Error()})
		return
	}

	status := repositories.FlaggedStatus(req.Action)
	if err := a.server.hub.ReviewFlagged(r.Context(), req.MessageID, status, req.Reviewer); err != nil {
		a.log.Error("Review failed", "message_id", req.MessageID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
