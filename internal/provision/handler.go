package provision

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/HerbHall/nasguard/internal/routeros"
	"github.com/HerbHall/nasguard/internal/server"
	"github.com/HerbHall/nasguard/pkg/models"
	"go.uber.org/zap"
)

var _ server.RouteRegistrar = (*Handler)(nil)

// Handler exposes the dispatcher over HTTP.
type Handler struct {
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(d *Dispatcher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{dispatcher: d, logger: logger}
}

// RegisterRoutes implements server.RouteRegistrar.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/subscribers/{subscriber_id}/operations/{type}", h.handleApply)
}

// handleApply applies one mutation. The optional body is the service
// record. A queued mutation answers 202, an applied one 200.
func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	req := Request{
		SubscriberID: r.PathValue("subscriber_id"),
		Type:         models.OperationType(r.PathValue("type")),
	}
	if !req.Type.Valid() {
		server.BadRequest(w, "type must be create, update, suspend, activate or delete", r.URL.Path)
		return
	}
	if r.Body != nil {
		err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req.Service)
		if err != nil && !errors.Is(err, io.EOF) {
			server.BadRequest(w, "invalid service record: "+err.Error(), r.URL.Path)
			return
		}
	}

	res, err := h.dispatcher.Apply(r.Context(), req)
	switch {
	case errors.Is(err, routeros.ErrInvalidServiceRecord):
		server.BadRequest(w, err.Error(), r.URL.Path)
		return
	case errors.Is(err, ErrSubscriberNotFound):
		server.NotFound(w, "subscriber not found", r.URL.Path)
		return
	case err != nil:
		h.logger.Error("mutation failed", zap.String("subscriber_id", req.SubscriberID), zap.Error(err))
		server.InternalError(w, "failed to apply mutation", r.URL.Path)
		return
	}

	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	server.WriteJSON(w, status, res)
}
