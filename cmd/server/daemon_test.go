package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shehryarbajwa/ai-in-one/internal/api"
	"github.com/shehryarbajwa/ai-in-one/internal/config"
	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

func TestDaemonServesOpen(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Dir = t.TempDir()

	d, err := newDaemon(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer d.Close()

	srv := httptest.NewServer(api.SetupRoutes(d.routes()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/services/gemini/open", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view models.View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "google-unified", view.ContextID)
	assert.Equal(t, "https://gemini.google.com", view.URL)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func runCLI(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		_ = injectCmd.Flags().Set("context", "")
	})

	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestCLIInjectThenContexts(t *testing.T) {
	t.Setenv("STORAGE_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "error")

	var resolved map[string]any
	require.NoError(t, json.Unmarshal([]byte(runCLI(t, "resolve", "Claude")), &resolved))
	assert.Equal(t, "claude", resolved["contextId"])
	assert.Equal(t, false, resolved["sso"])

	var injected models.InjectResult
	require.NoError(t, json.Unmarshal([]byte(runCLI(t, "inject", "gemini", "SID=abc; HSID=def; broken")), &injected))
	assert.Equal(t, models.InjectResult{Injected: 2, Skipped: 1}, injected)

	var rows []struct {
		ID      string `json:"id"`
		Cookies int    `json:"cookies"`
	}
	require.NoError(t, json.Unmarshal([]byte(runCLI(t, "contexts")), &rows))

	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.ID] = r.Cookies
	}
	assert.Equal(t, 2, counts["google-unified"])
	assert.Equal(t, 0, counts["claude"])
	assert.Equal(t, 0, counts["default"])

	// seed the login fallback's source context
	require.NoError(t, json.Unmarshal([]byte(runCLI(t, "inject", "--context", "default", "gemini", "SID=xyz")), &injected))
	assert.Equal(t, 1, injected.Injected)

	require.NoError(t, json.Unmarshal([]byte(runCLI(t, "contexts")), &rows))
	for _, r := range rows {
		counts[r.ID] = r.Cookies
	}
	assert.Equal(t, 1, counts["default"])
}
