package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"credvault.org/internal/wallet"
)

// shareEvents handles Server-Sent Events for live view notifications on a
// single share. Only the share owner may subscribe.
func (a *API) shareEvents(w http.ResponseWriter, r *http.Request, shareID string) {
	if a.stream == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}

	userID, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	// ownership gate; a foreign share id looks identical to a missing one
	if _, err := a.wallet.ShareAnalytics(r.Context(), userID, shareID); err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "share not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.stream.Subscribe(ctx, shareID)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
