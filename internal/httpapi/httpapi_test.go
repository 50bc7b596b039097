package httpapi

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcway-labs/pilot/internal/channel"
)

func TestHealthzReturnsOK(t *testing.T) {
	hub := channel.NewHub(zerolog.Nop())
	srv := httptest.NewServer(Router(hub, t.TempDir(), zerolog.Nop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeArtifactServesExistingFile(t *testing.T) {
	dir := t.TempDir()
	sessDir := filepath.Join(dir, "sess-1")
	require.NoError(t, os.MkdirAll(sessDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sessDir, "step-0001.png"), []byte("fake-png"), 0o644))

	hub := channel.NewHub(zerolog.Nop())
	srv := httptest.NewServer(Router(hub, dir, zerolog.Nop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/artifacts/sess-1/step-0001.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestServeArtifactMissingFileIs404(t *testing.T) {
	hub := channel.NewHub(zerolog.Nop())
	srv := httptest.NewServer(Router(hub, t.TempDir(), zerolog.Nop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/artifacts/sess-1/nope.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeArtifactRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	hub := channel.NewHub(zerolog.Nop())
	srv := httptest.NewServer(Router(hub, dir, zerolog.Nop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/artifacts/..%2f..%2fetc/passwd")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp.StatusCode, "traversal attempt should never return 200")
}
