package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/service"
)

const heartbeatInterval = 25 * time.Second

// handleEvents relays committed changes as server-sent events. Staff only
// see events of their own shop and events not tied to a shop.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("change stream is not configured"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	actor, _ := service.ActorFromContext(r.Context())

	ctx := r.Context()
	events, err := a.events.Subscribe(ctx)
	if err != nil {
		a.logger.Error("subscribe change stream", "error", err)
		writeError(w, http.StatusServiceUnavailable, errors.New("change stream unavailable"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			if !visibleEvent(actor, event) {
				continue
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Entity, data)
			flusher.Flush()
		}
	}
}

func visibleEvent(actor domain.Actor, event domain.ChangeEvent) bool {
	return actor.IsAdmin() || event.ShopID == "" || event.ShopID == actor.ShopID
}
