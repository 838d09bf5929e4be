package endpoints

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/adapters"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/config"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/internal/mediation"
	"github.com/googleads/googleads-mobile-android-mediation-sub001/pkg/logger"
)

// EventsHandler handles POST /v1/events, the network SDK callbacks relayed by the app
type EventsHandler struct {
	mediator *mediation.Mediator
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(m *mediation.Mediator) *EventsHandler {
	return &EventsHandler{mediator: m}
}

type eventsResponse struct {
	Events []adapters.Event `json:"events"`
}

// ServeHTTP translates one callback and returns the host events it produced.
// A callback the network does not forward yields an empty list.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, config.DefaultMaxBodySize))
	if err != nil {
		writeError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var ev adapters.NetworkEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		logger.Events().Warn().Err(err).Msg("Invalid JSON in event")
		writeError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}
	if ev.Network == "" {
		writeError(w, (&ValidationError{Field: "network", Message: "required"}).Error(), http.StatusBadRequest)
		return
	}
	if ev.Name == "" {
		writeError(w, (&ValidationError{Field: "name", Message: "required"}).Error(), http.StatusBadRequest)
		return
	}
	if ev.Format != "" && !ev.Format.Valid() {
		writeError(w, (&ValidationError{Field: "format", Message: "invalid"}).Error(), http.StatusBadRequest)
		return
	}

	events, err := h.mediator.ForwardEvent(r.Context(), ev)
	if errors.Is(err, mediation.ErrNetworkNotFound) {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Events().Error().Err(err).Str("network", ev.Network).Str("callback", ev.Name).Msg("Event forwarding failed")
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if events == nil {
		events = []adapters.Event{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events})
}
