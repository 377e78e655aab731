package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/notifications/ws" + query
}

func TestNotificationsWSRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/notifications/ws", "", false)
	requireStatus(t, rec, http.StatusUnauthorized)
}

func TestNotificationsWSRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)

	srv := httptest.NewServer(env.server.Router())
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=bogus"), nil)
	require.Error(t, err)

	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}

	if conn != nil {
		conn.Close()
	}
}

func TestNotificationsWSRegistersSocket(t *testing.T) {
	env := newTestEnv(t)

	srv := httptest.NewServer(env.server.Router())
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token="+testToken+"&campaign_id=c-1"), nil)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	t.Cleanup(func() { conn.Close() })

	waitFor(t, func() bool { return env.hub.Sessions() == 1 })

	conn.Close()
	waitFor(t, func() bool { return env.hub.Sessions() == 0 })
}
