// Package httpapi mounts the two externally-visible HTTP surfaces: the
// websocket upgrade endpoint the client channel runs over, and a static
// file route serving step screenshots out of the artifacts directory.
package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/arcway-labs/pilot/internal/channel"
)

// Router builds the chi mux. artifactsDir is the same directory the
// session orchestrator writes screenshots into (internal/session's
// ArtifactPath), so the two must agree on layout.
func Router(hub *channel.Hub, artifactsDir string, log zerolog.Logger) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	r := chi.NewRouter()

	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		sessionID := req.URL.Query().Get("sessionId")
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		channel.ServeWS(hub, conn, uuid.NewString(), sessionID, log)
	})

	r.Get("/artifacts/{sessionId}/{file}", serveArtifact(artifactsDir))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

// serveArtifact serves step-<NNNN>.png files, with path traversal
// rejected outright rather than merely cleaned away.
func serveArtifact(artifactsDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")
		file := chi.URLParam(r, "file")

		if strings.Contains(sessionID, "..") || strings.Contains(file, "..") ||
			strings.ContainsAny(sessionID, "/\\") || strings.ContainsAny(file, "/\\") {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}

		base, err := filepath.Abs(artifactsDir)
		if err != nil {
			http.Error(w, "artifacts directory unavailable", http.StatusInternalServerError)
			return
		}
		full := filepath.Join(base, sessionID, file)
		if !strings.HasPrefix(full, base) {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}

		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			http.Error(w, "artifact not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, full)
	}
}
