package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/sublite/sublite/change"
	"github.com/sublite/sublite/engine"
	"github.com/sublite/sublite/query"
)

// Handlers serves the v1 endpoints against one engine.
type Handlers struct {
	engine *engine.Engine
}

// NewHandlers creates a Handlers instance.
func NewHandlers(e *engine.Engine) *Handlers {
	return &Handlers{engine: e}
}

// writeJSON writes data as a JSON response body.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]any{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// errorStatus maps engine errors to HTTP status codes. Validation problems
// are the caller's fault, storage problems are ours.
func errorStatus(err error) int {
	var validationErr *query.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest
	}
	if errors.Is(err, engine.ErrEngineClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if len(body) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "request body is required")
		return nil, false
	}
	return body, true
}

// handleFetch runs a one-shot query and returns its result document.
func (h *Handlers) handleFetch(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	q, err := query.ParseQuery(body)
	if err != nil {
		writeErrorResponse(w, errorStatus(err), err.Error())
		return
	}

	result, err := h.engine.Fetch(r.Context(), q)
	if err != nil {
		writeErrorResponse(w, errorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleExecute applies one operation and returns the notification it
// produced, or null for no-op writes.
func (h *Handlers) handleExecute(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	op, err := change.ParseOperation(body)
	if err != nil {
		writeErrorResponse(w, errorStatus(err), err.Error())
		return
	}

	notification, err := h.engine.Execute(r.Context(), op)
	if err != nil {
		writeErrorResponse(w, errorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, notification)
}

type rawRequest struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

type rawResponse struct {
	Class        string      `json:"class"`
	Rows         []query.Row `json:"rows"`
	RowsAffected int64       `json:"rows_affected"`
	LastInsertID int64       `json:"last_insert_id"`
}

// handleRaw runs an escape-hatch SQL statement.
func (h *Handlers) handleRaw(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var req rawRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "malformed raw request: "+err.Error())
		return
	}

	result, err := h.engine.Raw(r.Context(), req.SQL, req.Params)
	if err != nil {
		writeErrorResponse(w, errorStatus(err), err.Error())
		return
	}

	rows := result.Rows
	if rows == nil {
		rows = []query.Row{}
	}
	writeJSON(w, http.StatusOK, rawResponse{
		Class:        result.Class.String(),
		Rows:         rows,
		RowsAffected: result.RowsAffected,
		LastInsertID: result.LastInsertID,
	})
}

// handleUnsubscribe tears down a subscription. Unknown ids are a no-op so
// clients can retry teardown safely.
func (h *Handlers) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	id := chi.URLParam(r, "id")

	removed := h.engine.Unsubscribe(table, id)
	log.Debug().Str("table", table).Str("subscriber_id", id).Bool("removed", removed).Msg("Unsubscribe request")

	w.WriteHeader(http.StatusNoContent)
}

// handleHealth reports process liveness.
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
