package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ServeSSE streams new events to the client as Server-Sent Events until the
// request is cancelled.
func (b *Bus) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	source := r.URL.Query().Get("source")
	client := make(chan Event, 64)
	id := b.Subscribe(func(evt Event) {
		if source != "" && evt.Source != source {
			return
		}
		select {
		case client <- evt:
		default:
			// Client buffer full, drop event
		}
	}, 64)
	defer b.Unsubscribe(id)

	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-client:
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: log\ndata: %s\n\n", evt.ID, data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
