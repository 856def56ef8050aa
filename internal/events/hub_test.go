package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

func dial(t *testing.T, srv *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
}

func TestHubBroadcastsNavigate(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t), "*", nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := dial(t, srv, "")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	view := models.View{Service: models.ServiceGemini, ContextID: "google-unified", URL: "https://gemini.google.com", Status: models.ViewOpen}
	require.NoError(t, hub.Navigate(context.Background(), view))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt struct {
		ID      string      `json:"id"`
		Type    string      `json:"type"`
		Payload models.View `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, EventNavigate, evt.Type)
	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, view.URL, evt.Payload.URL)
	assert.Equal(t, "google-unified", evt.Payload.ContextID)
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t), "*", nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := dial(t, srv, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 10*time.Millisecond)

	// publishing with no clients is a no-op
	hub.Publish("login.state", nil)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t), "app://ai-in-one", nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	_, resp, err := dial(t, srv, "https://evil.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dial(t, srv, "app://ai-in-one")
	require.NoError(t, err)
	conn.Close()
}
