package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tradegateway/internal/streaming"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupGateway(t *testing.T) (*Handler, *streaming.Registry, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := streaming.NewRegistry(nil)
	h := NewHandler(registry, nil, 16, nil)
	router := gin.New()
	h.RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		h.Shutdown()
		srv.Close()
	})
	return h, registry, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	return string(data)
}

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

// Broker frame in, one JSON text frame out to the matching subscribers only.
func TestGateway_EndToEnd(t *testing.T) {
	_, registry, gatewayURL := setupGateway(t)

	ref21 := dial(t, gatewayURL+"/ws/TF_UIC21")
	all := dial(t, gatewayURL+"/ws/all")
	ref99 := dial(t, gatewayURL+"/ws/TF_UIC99")

	require.Eventually(t, func() bool {
		return registry.AllCount() == 1 &&
			registry.RefCount("TF_UIC21") == 1 &&
			registry.RefCount("TF_UIC99") == 1
	}, 2*time.Second, 10*time.Millisecond)

	frame, err := streaming.Encode(streaming.Message{
		ID:          42,
		ReferenceID: "TF_UIC21",
		Format:      streaming.FormatJSON,
		Payload:     []byte(`{"Bid":1.1360}`),
	})
	require.NoError(t, err)

	upgrader := websocket.Upgrader{}
	broker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.BinaryMessage, frame)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer broker.Close()

	connector, err := streaming.NewConnector(streaming.ConnectorConfig{
		URL:       "ws" + strings.TrimPrefix(broker.URL, "http"),
		ContextID: "ctx",
	}, staticToken("tok"), registry)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		connector.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	want := `{"message_id":42,"reference_id":"TF_UIC21","payload":{"Bid":1.1360}}`
	assert.JSONEq(t, want, readText(t, ref21))
	assert.JSONEq(t, want, readText(t, all))

	require.NoError(t, ref99.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = ref99.ReadMessage()
	assert.Error(t, err, "TF_UIC99 subscriber must not receive TF_UIC21")
}

func TestGateway_DisconnectDeregisters(t *testing.T) {
	h, registry, gatewayURL := setupGateway(t)

	all := dial(t, gatewayURL+"/ws/all")
	ref := dial(t, gatewayURL+"/ws/X")
	require.Eventually(t, func() bool {
		return registry.AllCount() == 1 && registry.RefCount("X") == 1
	}, 2*time.Second, 10*time.Millisecond)

	all.Close()
	ref.Close()

	assert.Eventually(t, func() bool {
		return registry.AllCount() == 0 && len(registry.References()) == 0 && h.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_ShutdownClosesSubscribers(t *testing.T) {
	h, registry, gatewayURL := setupGateway(t)

	conns := []*websocket.Conn{dial(t, gatewayURL+"/ws/all"), dial(t, gatewayURL+"/ws/Y")}
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	h.Shutdown()

	for _, conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err)
	}
	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, 0, registry.AllCount())
}

func TestGateway_RefusesSubscribersAfterShutdown(t *testing.T) {
	h, registry, gatewayURL := setupGateway(t)
	h.Shutdown()

	for _, path := range []string{"/ws/all", "/ws/TF_UIC21"} {
		conn := dial(t, gatewayURL+path)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := conn.ReadMessage()
		assert.Error(t, err, path)
	}

	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, 0, registry.AllCount())
	assert.Equal(t, 0, registry.RefCount("TF_UIC21"))
	assert.Empty(t, registry.References())
}

func TestGateway_FloodingClientIsDropped(t *testing.T) {
	_, registry, gatewayURL := setupGateway(t)

	conn := dial(t, gatewayURL+"/ws/all")
	require.Eventually(t, func() bool { return registry.AllCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < inboundBurst+10; i++ {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("hi")); err != nil {
			break
		}
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	assert.Eventually(t, func() bool { return registry.AllCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
