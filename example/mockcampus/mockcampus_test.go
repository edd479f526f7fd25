package mockcampus

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServer_Devices(t *testing.T) {
	srv := httptest.NewServer(New(testLogger()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/devices")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Devices []map[string]any `json:"devices"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Devices, 4)
	assert.Equal(t, "esp32-11", body.Devices[0]["device_id"])
}

func TestServer_RecordsLimit(t *testing.T) {
	s := New(testLogger())
	for i := 0; i < 6; i++ {
		s.step(5) // entry or exit
	}

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/attendance/records?limit=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Records []map[string]any `json:"records"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.LessOrEqual(t, len(body.Records), 1)

	bad, err := http.Get(srv.URL + "/api/v1/attendance/records?limit=zero")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestServer_PushesUpdates(t *testing.T) {
	s := New(testLogger())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.clients) == 1
	}, time.Second, 10*time.Millisecond)

	s.step(0) // heartbeat

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "update", msg["type"])
	assert.Equal(t, "device", msg["resourceType"])
	assert.NotEmpty(t, msg["serverTime"])
	assert.IsType(t, map[string]any{}, msg["payload"])
}
