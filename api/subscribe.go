package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sublite/sublite/cfg"
	"github.com/sublite/sublite/query"
	"github.com/sublite/sublite/telemetry"
)

// handleSubscribe streams a subscription over server-sent events: one
// `init` event with the rows matching the condition at registration, then
// a `change` event per notification. Comment lines keep idle connections
// alive through proxies. Disconnecting tears the subscription down.
func (h *Handlers) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	queryParam := r.URL.Query().Get("query")
	if queryParam == "" {
		writeErrorResponse(w, http.StatusBadRequest, "query parameter is required")
		return
	}
	subscriberID := r.URL.Query().Get("subscriber_id")
	if subscriberID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "subscriber_id parameter is required")
		return
	}

	q, err := query.ParseQuery([]byte(queryParam))
	if err != nil {
		writeErrorResponse(w, errorStatus(err), err.Error())
		return
	}

	result, channel, err := h.engine.Subscribe(r.Context(), q.Table, subscriberID, q.Condition)
	if err != nil {
		writeErrorResponse(w, errorStatus(err), err.Error())
		return
	}
	defer h.engine.Unsubscribe(q.Table, subscriberID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	rc := http.NewResponseController(w)

	telemetry.SSEClients.Inc()
	defer telemetry.SSEClients.Dec()

	log.Debug().
		Str("table", q.Table).
		Str("subscriber_id", subscriberID).
		Msg("Subscription stream opened")

	if err := writeEvent(w, rc, "init", result); err != nil {
		return
	}

	heartbeat := time.NewTicker(time.Duration(cfg.Config.HTTP.HeartbeatSeconds) * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug().
				Str("table", q.Table).
				Str("subscriber_id", subscriberID).
				Msg("Subscription stream closed by client")
			return

		case <-channel.Done():
			// The subscription was evicted or the engine shut down. Flush
			// whatever is still buffered before closing the stream.
			for {
				select {
				case n := <-channel.Receive():
					if err := writeEvent(w, rc, "change", n); err != nil {
						return
					}
				default:
					return
				}
			}

		case n := <-channel.Receive():
			if err := writeEvent(w, rc, "change", n); err != nil {
				return
			}

		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// writeEvent writes one SSE frame and flushes it to the client.
func writeEvent(w io.Writer, rc *http.ResponseController, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return rc.Flush()
}
