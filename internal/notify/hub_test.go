package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHub(t *testing.T) *Hub {
	t.Helper()

	logger := zerolog.Nop()
	hub := NewHub(&logger)
	t.Cleanup(hub.Close)

	return hub
}

// dialSession connects one client socket and registers it with the hub
// under the given identity, waiting until the hub has adopted it.
func dialSession(t *testing.T, hub *Hub, personID int64, campaignID string) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		hub.Register(conn, personID, campaignID)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	before := hub.Sessions()

	client, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	t.Cleanup(func() { client.Close() })

	waitFor(t, func() bool { return hub.Sessions() > before })

	return client
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.After(2 * time.Second)

	for {
		if cond() {
			return
		}

		select {
		case <-deadline:
			t.Fatal("condition not reached in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) *Notification {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var frame Notification
	require.NoError(t, conn.ReadJSON(&frame))

	return &frame
}

func assertNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))

	var frame Notification

	err := conn.ReadJSON(&frame)
	require.Error(t, err, "expected no frame, got %+v", frame)
}

func TestBroadcastReachesOwnerOnly(t *testing.T) {
	hub := testHub(t)

	owner := dialSession(t, hub, 9, "")
	stranger := dialSession(t, hub, 12, "")

	waitFor(t, func() bool { return hub.Sessions() == 2 })

	hub.Broadcast(9, &Notification{ID: "n-1", Type: "match.created", CampaignID: "c-1", Priority: PriorityHigh})

	frame := readFrame(t, owner)
	assert.Equal(t, "n-1", frame.ID)
	assert.Equal(t, "match.created", frame.Type)

	assertNoFrame(t, stranger)
}

func TestBroadcastHonorsCampaignFilter(t *testing.T) {
	hub := testHub(t)

	scoped := dialSession(t, hub, 9, "c-1")

	hub.Broadcast(9, &Notification{ID: "other", Type: "match.created", CampaignID: "c-2"})
	hub.Broadcast(9, &Notification{ID: "mine", Type: "match.created", CampaignID: "c-1"})

	frame := readFrame(t, scoped)
	assert.Equal(t, "mine", frame.ID, "frames for other campaigns must be filtered out")
}

func TestSubscribeCampaignSwitchesFilter(t *testing.T) {
	hub := testHub(t)

	client := dialSession(t, hub, 9, "c-1")

	require.NoError(t, client.WriteJSON(inboundMessage{Type: inboundSubscribe, CampaignID: "c-2"}))

	// The switch is applied by the server's read loop; poll until the
	// re-subscribed frame lands.
	waitFor(t, func() bool {
		hub.Broadcast(9, &Notification{ID: "switched", Type: "match.created", CampaignID: "c-2"})

		_ = client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		var frame Notification
		if err := client.ReadJSON(&frame); err != nil {
			return false
		}

		return frame.ID == "switched"
	})
}

func TestPingAnswersPong(t *testing.T) {
	hub := testHub(t)

	client := dialSession(t, hub, 9, "")

	require.NoError(t, client.WriteJSON(inboundMessage{Type: inboundPing}))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))

	var reply pongMessage
	require.NoError(t, client.ReadJSON(&reply))
	assert.Equal(t, "pong", reply.Type)
}

func TestClosedSocketLeavesHub(t *testing.T) {
	hub := testHub(t)

	client := dialSession(t, hub, 9, "")
	require.Equal(t, 1, hub.Sessions())

	client.Close()

	waitFor(t, func() bool { return hub.Sessions() == 0 })
}

func TestBroadcastOrderPreservedPerSession(t *testing.T) {
	hub := testHub(t)

	client := dialSession(t, hub, 9, "")

	for i := 0; i < 5; i++ {
		hub.Broadcast(9, &Notification{ID: string(rune('a' + i)), Type: "match.created", CampaignID: "c-1"})
	}

	for i := 0; i < 5; i++ {
		frame := readFrame(t, client)
		assert.Equal(t, string(rune('a'+i)), frame.ID)
	}
}
