package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"handyhub/internal/conversation"
	"handyhub/internal/domain"
)

const defaultHeartbeat = 20 * time.Second

// stream serves one conversation as server-sent events:
//
//	event: history  full ordered timeline, sent once
//	event: message  a live MessageInsertedEvent
//	event: resync   messages recovered after the subscription was dropped
//
// The subscription lives exactly as long as the request.
func (h *Handlers) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, domain.StoreFailure("stream", fmt.Errorf("streaming is not supported")))
		return
	}
	ctx := r.Context()
	actor := IdentityFrom(ctx).SubjectID

	view, err := conversation.Open(ctx, h.Messages, chi.URLParam(r, "id"), actor, h.Log)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer view.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, "history", view.Messages()); err != nil {
		return
	}
	flusher.Flush()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates := make(chan conversation.Update)
	runErr := make(chan error, 1)
	go func() {
		runErr <- view.Run(ctx, func(u conversation.Update) error {
			select {
			case updates <- u:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	every := h.Heartbeat
	if every <= 0 {
		every = defaultHeartbeat
	}
	heartbeat := time.NewTicker(every)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-runErr:
			if err != nil && ctx.Err() == nil {
				h.Log.Warn().Err(err).Str("actor_id", actor).Msg("conversation stream ended")
			}
			return
		case u := <-updates:
			if err := writeUpdate(w, u); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeUpdate(w http.ResponseWriter, u conversation.Update) error {
	if u.Resync {
		return writeSSE(w, "resync", u.Added)
	}
	if u.Event != nil {
		return writeSSE(w, "message", u.Event)
	}
	return nil
}

func writeSSE(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
