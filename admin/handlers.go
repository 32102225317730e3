package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/tqwops/vigia/notify"
	"github.com/tqwops/vigia/publisher"
	"github.com/tqwops/vigia/watcher"
)

// maxBodyBytes bounds admin request bodies
const maxBodyBytes = 64 << 10

// SinkReporter reports bus sink counters
type SinkReporter interface {
	Statuses() []publisher.SinkStatus
}

// AdminHandlers serves the operator API
type AdminHandlers struct {
	hub      *notify.Hub
	watchers *watcher.Registry
	sinks    SinkReporter
}

// NewAdminHandlers creates a new AdminHandlers instance; sinks may be nil
func NewAdminHandlers(hub *notify.Hub, watchers *watcher.Registry, sinks SinkReporter) *AdminHandlers {
	return &AdminHandlers{
		hub:      hub,
		watchers: watchers,
		sinks:    sinks,
	}
}

type healthResponse struct {
	Status   string          `json:"status"`
	Clients  int             `json:"clients"`
	Watchers map[string]bool `json:"watchers"`
}

// handleHealth reports liveness plus which watchers are armed
func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, healthResponse{
		Status:   "ok",
		Clients:  h.hub.Len(),
		Watchers: h.watchers.ArmedStates(),
	}, false, "")
}

func (h *AdminHandlers) handleListWatchers(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.watchers.Statuses(), false, "")
}

func (h *AdminHandlers) handleGetWatcher(w http.ResponseWriter, r *http.Request) {
	wt, err := h.watchers.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSONResponse(w, wt.Status(), false, "")
}

type pollResponse struct {
	Changed bool           `json:"changed"`
	Status  watcher.Status `json:"status"`
}

// handlePollWatcher runs one poll immediately
func (h *AdminHandlers) handlePollWatcher(w http.ResponseWriter, r *http.Request) {
	wt, err := h.watchers.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, err.Error())
		return
	}

	changed, err := wt.PollNow(r.Context())
	switch {
	case errors.Is(err, watcher.ErrTickInFlight), errors.Is(err, watcher.ErrNotRunning):
		writeErrorResponse(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, notify.ErrInvalidEvent):
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	case err != nil:
		writeErrorResponse(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSONResponse(w, pollResponse{Changed: changed, Status: wt.Status()}, false, "")
}

type broadcastResponse struct {
	Delivered int          `json:"delivered"`
	Event     notify.Event `json:"event"`
}

// handleBroadcast fans out an event supplied by the operator.
// A body without a type is treated as a refresh of its target.
func (h *AdminHandlers) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var e notify.Event
	if err := decodeBody(w, r, &e); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if e.Type == "" {
		e.Type = notify.EventRefresh
	}

	h.broadcast(w, e)
}

type notifyRequest struct {
	Profiles []string `json:"profiles"`
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Priority string   `json:"priority"`
}

// handleNotify pushes a notification to the given user profiles
func (h *AdminHandlers) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	h.broadcast(w, notify.NewNotification(req.Profiles, notify.Notification{
		ID:       req.ID,
		Title:    req.Title,
		Content:  req.Content,
		Priority: req.Priority,
	}))
}

func (h *AdminHandlers) broadcast(w http.ResponseWriter, e notify.Event) {
	if err := e.Validate(); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	delivered, err := h.hub.Broadcast(e)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().
		Str("type", string(e.Type)).
		Str("target", e.Target).
		Int("clients", delivered).
		Msg("Manual broadcast")

	writeJSONResponse(w, broadcastResponse{Delivered: delivered, Event: e}, false, "")
}

func (h *AdminHandlers) handleClients(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.hub.Clients(), false, "")
}

// handleEvents lists recent broadcasts, newest first
func (h *AdminHandlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	records := h.hub.History().Recent(limit)
	if records == nil {
		records = []notify.Record{}
	}
	writeJSONResponse(w, records, false, "")
}

func (h *AdminHandlers) handleSinks(w http.ResponseWriter, r *http.Request) {
	statuses := []publisher.SinkStatus{}
	if h.sinks != nil {
		statuses = h.sinks.Statuses()
	}
	writeJSONResponse(w, statuses, false, "")
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}, hasMore bool, lastKey string) {
	response := map[string]interface{}{
		"data": data,
	}

	if hasMore || lastKey != "" {
		response["has_more"] = hasMore
		if lastKey != "" {
			response["last_key"] = lastKey
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 50, nil // default
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}

	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}

	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}

	return limit, nil
}
