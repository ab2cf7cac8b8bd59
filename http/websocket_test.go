package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rainguard/ml"
)

func dialPredict(t *testing.T, env *testEnv, header http.Header) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/predict"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, req any) WSResponse {
	t.Helper()
	require.NoError(t, conn.SetWriteDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.WriteJSON(req))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var resp WSResponse
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func TestWebsocketPredict(t *testing.T) {
	env := newTestEnv(t)
	conn := dialPredict(t, env, nil)

	annual := 450.0
	resp := roundTrip(t, conn, WSRequest{ID: "q1", Mode: ModeQuick, AnnualRainfall: &annual})
	require.Empty(t, resp.Error)
	assert.Equal(t, "q1", resp.ID)
	require.NotNil(t, resp.Result)
	assert.Equal(t, ml.SevereScarcity, resp.Result.Prediction)

	resp = roundTrip(t, conn, WSRequest{ID: "d1", Mode: ModeDetailed, Months: monthly(160)})
	require.Empty(t, resp.Error)
	assert.Equal(t, "d1", resp.ID)
	assert.Equal(t, ml.NoScarcity, resp.Result.Prediction)

	resp = roundTrip(t, conn, WSRequest{ID: "f1", Mode: ModeFeatures, Features: map[string]float64{"JAN": 10}})
	require.Empty(t, resp.Error)
	assert.Contains(t, resp.Result.Missing, "FEB")

	assert.Len(t, env.publisher.Events(), 3)
}

func TestWebsocketErrorsKeepConnectionOpen(t *testing.T) {
	env := newTestEnv(t)
	conn := dialPredict(t, env, nil)

	resp := roundTrip(t, conn, WSRequest{ID: "x", Mode: "weekly"})
	assert.Equal(t, "x", resp.ID)
	assert.Contains(t, resp.Error, "mode must be one of")

	resp = roundTrip(t, conn, WSRequest{ID: "y", Mode: ModeQuick})
	assert.Equal(t, "validation failed", resp.Error)
	assert.Nil(t, resp.Result)

	resp = roundTrip(t, conn, WSRequest{ID: "z", Mode: ModeFeatures, Features: map[string]float64{"JAN": 1}, Strict: true})
	assert.Contains(t, resp.Error, "missing required feature")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var raw WSResponse
	require.NoError(t, conn.ReadJSON(&raw))
	assert.Contains(t, raw.Error, "invalid JSON")

	annual := 1900.0
	resp = roundTrip(t, conn, WSRequest{ID: "ok", Mode: ModeQuick, AnnualRainfall: &annual})
	require.Empty(t, resp.Error)
	assert.Equal(t, ml.NoScarcity, resp.Result.Prediction)
}

func TestWebsocketRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, withServerConfig(func(c *ServerConfig) {
		c.AllowedOrigins = []string{"https://rain.example"}
	}))
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/predict"
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
