package tunnel

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

func newTestServer(t *testing.T, dial Dialer) (*httptest.Server, *websocket.Conn) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		NewSession(conn).Run(dial)
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + server.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	return server, clientConn
}

func TestSessionAnnouncesFlowCreditOnOpen(t *testing.T) {
	_, client := newTestServer(t, nil)

	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	frame, err := DecodeFrame(msg)
	require.NoError(t, err)
	require.Equal(t, FrameContinue, frame.Type)
	require.Equal(t, uint32(0), frame.StreamID)
}

func TestSessionRejectsDisallowedHost(t *testing.T) {
	_, client := newTestServer(t, nil)
	_, _, _ = client.ReadMessage() // initial CONTINUE

	connect := NewConnectFrame(1, &ConnectPayload{StreamType: StreamTypeTCP, Port: 443, Hostname: "evil.com"})
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, connect.Encode()))

	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	frame, err := DecodeFrame(msg)
	require.NoError(t, err)
	require.Equal(t, FrameClose, frame.Type)
	require.Equal(t, ReasonInvalidInfo, frame.Payload[0])
}

func TestSessionRejectsLiteralIP(t *testing.T) {
	_, client := newTestServer(t, nil)
	_, _, _ = client.ReadMessage()

	connect := NewConnectFrame(1, &ConnectPayload{StreamType: StreamTypeTCP, Port: 443, Hostname: "17.253.3.203"})
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, connect.Encode()))

	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	frame, err := DecodeFrame(msg)
	require.NoError(t, err)
	require.Equal(t, FrameClose, frame.Type)
}

func TestSessionConnectAndForwardData(t *testing.T) {
	serverTCP, clientTCP := net.Pipe()
	t.Cleanup(func() { serverTCP.Close() })

	dial := func(network, addr string) (net.Conn, error) {
		return clientTCP, nil
	}

	_, wsClient := newTestServer(t, dial)
	_, _, _ = wsClient.ReadMessage() // initial CONTINUE

	connect := NewConnectFrame(5, &ConnectPayload{StreamType: StreamTypeTCP, Port: 443, Hostname: "buy.itunes.apple.com"})
	require.NoError(t, wsClient.WriteMessage(websocket.BinaryMessage, connect.Encode()))

	_, msg, err := wsClient.ReadMessage()
	require.NoError(t, err)
	frame, err := DecodeFrame(msg)
	require.NoError(t, err)
	require.Equal(t, FrameContinue, frame.Type)
	require.Equal(t, uint32(5), frame.StreamID)

	go func() {
		buf := make([]byte, 1024)
		n, _ := serverTCP.Read(buf)
		if n > 0 {
			serverTCP.Write(buf[:n])
		}
	}()

	data := NewDataFrame(5, []byte("ping"))
	require.NoError(t, wsClient.WriteMessage(websocket.BinaryMessage, data.Encode()))

	wsClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err = wsClient.ReadMessage()
	require.NoError(t, err)
	reply, err := DecodeFrame(msg)
	require.NoError(t, err)
	require.Equal(t, FrameData, reply.Type)
	require.Equal(t, "ping", string(reply.Payload))
}
