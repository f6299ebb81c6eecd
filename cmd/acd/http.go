package main

import (
	"encoding/json"
	"net/http"

	"github.com/rs/cors"
)

// maxMessageBody bounds a message posted over HTTP.
const maxMessageBody = 1 << 20

// httpHandler serves POST /v1/message, the HTTP form of post_message. The
// client origin is the browser-supplied Origin header. The origin in the
// body is ignored and requests without the header are refused.
func (d *daemon) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/message", func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "origin header required"})
			return
		}
		var p postMessageParams
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBody)).Decode(&p); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
			return
		}
		p.Origin = origin
		result, ipcErr := d.postMessage(r.Context(), p)
		if ipcErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": ipcErr})
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
	c := cors.New(cors.Options{
		AllowedOrigins: d.cfg.HTTP.AllowedOrigins,
		AllowedMethods: []string{http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
