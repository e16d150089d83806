package wsservice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cockpit-ws/internal/frame"
)

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func dialTestSocket(t *testing.T, svc *Service) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(svc.ServeSocket))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, server
}

// TestOpenAndDataRoundTrip drives a real websocket client through an open
// command and a data frame, asserting the primary session's transport
// receives both, rewritten into transport-global channel form.
func TestOpenAndDataRoundTrip(t *testing.T) {
	primary := newFakeTransport()
	svc := newTestService(t, primary)
	conn, _ := dialTestSocket(t, svc)

	openFrame := frame.BuildControlFrame(map[string]any{
		"command": "open",
		"channel": "main",
		"payload": "fsread1",
		"path":    "/etc/hostname",
	})
	if err := conn.WriteMessage(websocket.TextMessage, openFrame); err != nil {
		t.Fatalf("write open frame: %v", err)
	}

	waitFor(t, "open control forwarded to agent transport", func() bool {
		for _, c := range primary.recordedControls() {
			if c["command"] == "open" && c["channel"] == "1:main" {
				return true
			}
		}
		return false
	})

	dataFrame := append(frame.BuildDataHeader("main"), []byte("hello")...)
	if err := conn.WriteMessage(websocket.TextMessage, dataFrame); err != nil {
		t.Fatalf("write data frame: %v", err)
	}

	waitFor(t, "data forwarded to agent transport", func() bool {
		for _, d := range primary.recordedData() {
			if d.channel == "1:main" && string(d.payload) == "hello" {
				return true
			}
		}
		return false
	})
}

// TestSocketCloseSynthesizesChannelClose verifies that when the browser
// disconnects, every channel its socket still owns gets a synthetic
// "close" control delivered to the owning session's transport, and the
// socket is removed from the socket table.
func TestSocketCloseSynthesizesChannelClose(t *testing.T) {
	primary := newFakeTransport()
	svc := newTestService(t, primary)
	conn, _ := dialTestSocket(t, svc)

	openFrame := frame.BuildControlFrame(map[string]any{
		"command": "open",
		"channel": "main",
		"payload": "fsread1",
	})
	if err := conn.WriteMessage(websocket.TextMessage, openFrame); err != nil {
		t.Fatalf("write open frame: %v", err)
	}
	waitFor(t, "channel registered", func() bool {
		_, ok := svc.sessions.ByChannel("1:main")
		return ok
	})

	conn.Close()

	waitFor(t, "synthetic close delivered", func() bool {
		for _, c := range primary.recordedControls() {
			if c["command"] == "close" && c["channel"] == "main" && c["reason"] == "disconnected" {
				return true
			}
		}
		return false
	})

	waitFor(t, "socket removed from table", func() bool {
		_, ok := svc.sockets.ByScope("1:")
		return !ok
	})
}

// TestPingBroadcastReachesOpenSockets drives the ping ticker manually via a
// short interval service and confirms a connected socket receives a ping
// control frame.
func TestPingBroadcastReachesOpenSockets(t *testing.T) {
	primary := newFakeTransport()
	svc := newTestService(t, primary)
	svc.cfg.PingInterval = 20 * time.Millisecond

	server := httptest.NewServer(http.HandlerFunc(svc.ServeSocket))
	t.Cleanup(server.Close)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go svc.pingLoop(ctx)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected a ping frame, got error: %v", err)
	}
	_, body, ok := frame.ParseFrame(payload)
	if !ok {
		t.Fatalf("unparseable frame: %s", payload)
	}
	cmd, ok := frame.ParseCommand(body)
	if !ok || cmd.Command != "ping" {
		t.Fatalf("expected a ping command, got %#v (ok=%v)", cmd, ok)
	}
}
