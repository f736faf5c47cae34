package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"yakkl-background/internal/domain"
	"yakkl-background/internal/testutil"

	"github.com/gorilla/websocket"
)

// mockWebSocketConn provides a mock implementation of Conn for testing
type mockWebSocketConn struct {
	readMessages  chan []byte
	writeMessages chan []byte
	readErr       error
	writeErr      error
	closed        bool
	mu            sync.Mutex
}

func newMockWebSocketConn() *mockWebSocketConn {
	return &mockWebSocketConn{
		readMessages:  make(chan []byte, 10),
		writeMessages: make(chan []byte, 10),
	}
}

func (m *mockWebSocketConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockWebSocketConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockWebSocketConn) SetReadDeadline(t time.Time) error {
	return nil
}

func (m *mockWebSocketConn) SetWriteDeadline(t time.Time) error {
	return nil
}

func (m *mockWebSocketConn) SetReadLimit(limit int64) {
}

func (m *mockWebSocketConn) SetPongHandler(h func(string) error) {
}

func (m *mockWebSocketConn) ReadMessage() (int, []byte, error) {
	if m.readErr != nil {
		return 0, nil, m.readErr
	}
	msg, ok := <-m.readMessages
	if !ok {
		return 0, nil, &websocket.CloseError{Code: websocket.CloseGoingAway}
	}
	return websocket.TextMessage, msg, nil
}

func (m *mockWebSocketConn) WriteMessage(messageType int, data []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	select {
	case m.writeMessages <- data:
		return nil
	default:
		return errors.New("write buffer full")
	}
}

func newTestClient(conn Conn) *Client {
	return NewClient(context.Background(), conn, domain.PortDapp, "tab-1", domain.PortInfo{
		TabID: "tab-1",
		URL:   "https://app.uniswap.org",
	})
}

func TestNewClient(t *testing.T) {
	client := newTestClient(newMockWebSocketConn())

	testutil.AssertEqual(t, client.Kind(), domain.PortDapp)
	testutil.AssertEqual(t, client.Key(), "tab-1")
	testutil.AssertEqual(t, client.Info().URL, "https://app.uniswap.org")
	testutil.AssertEqual(t, cap(client.send), sendBufferSize)

	var _ domain.Port = client
}

func TestClient_Send_EncodesJSON(t *testing.T) {
	client := newTestClient(newMockWebSocketConn())

	testutil.AssertNoError(t, client.Send(domain.Response{ID: "1", Result: "0x1"}))

	data := <-client.send
	var resp domain.Response
	testutil.AssertNoError(t, json.Unmarshal(data, &resp))
	testutil.AssertEqual(t, resp.ID, "1")
}

func TestClient_Send_BufferFull(t *testing.T) {
	client := newTestClient(newMockWebSocketConn())

	for i := 0; i < sendBufferSize; i++ {
		testutil.AssertNoError(t, client.Send(domain.Event{Event: "tick"}))
	}

	testutil.AssertErrorIs(t, client.Send(domain.Event{Event: "tick"}), domain.ErrSendBufferFull)
}

func TestClient_Send_AfterClose(t *testing.T) {
	client := newTestClient(newMockWebSocketConn())

	testutil.AssertNoError(t, client.Close())
	testutil.AssertNoError(t, client.Close())

	testutil.AssertErrorIs(t, client.Send(domain.Event{Event: "tick"}), domain.ErrPortClosed)
}

func TestClient_Send_Unencodable(t *testing.T) {
	client := newTestClient(newMockWebSocketConn())

	err := client.Send(domain.Event{Event: "bad", Data: make(chan int)})
	testutil.AssertError(t, err)
	testutil.AssertErrorContains(t, err, "encode")
}

func TestClient_CloseCancelsContext(t *testing.T) {
	client := newTestClient(newMockWebSocketConn())

	client.Close()

	select {
	case <-client.ctx.Done():
	case <-time.After(100 * time.Millisecond):
		t.Error("client context should be cancelled after Close")
	}
}

func TestClient_ParentContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(ctx, newMockWebSocketConn(), domain.PortInternal, "popup", domain.PortInfo{})

	cancel()

	select {
	case <-client.ctx.Done():
	case <-time.After(100 * time.Millisecond):
		t.Error("client context should be cancelled after parent cancel")
	}
}

func TestClient_ReadPump_DispatchesAndCloses(t *testing.T) {
	conn := newMockWebSocketConn()
	client := newTestClient(conn)

	var handled atomic.Int32
	closed := make(chan struct{})

	conn.readMessages <- []byte(`{"id":"1","method":"eth_chainId"}`)
	conn.readMessages <- []byte(`{"id":"2","method":"eth_accounts"}`)
	close(conn.readMessages)

	go client.ReadPump(func(ctx context.Context, data []byte) {
		handled.Add(1)
	}, func() {
		close(closed)
	})

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("onClose was not called")
	}

	testutil.AssertEqual(t, handled.Load(), int32(2))
	testutil.AssertTrue(t, conn.isClosed(), "connection should be closed")
	testutil.AssertErrorIs(t, client.Send(domain.Event{Event: "late"}), domain.ErrPortClosed)
}

func TestClient_ReadPump_ReadError(t *testing.T) {
	conn := newMockWebSocketConn()
	conn.readErr = errors.New("connection reset")
	client := newTestClient(conn)

	called := false
	client.ReadPump(func(ctx context.Context, data []byte) {
		t.Error("handler should not run")
	}, func() {
		called = true
	})

	testutil.AssertTrue(t, called, "onClose should run after read error")
}

func TestClient_WritePump_StopsOnWriteError(t *testing.T) {
	conn := newMockWebSocketConn()
	conn.writeErr = errors.New("broken pipe")
	client := newTestClient(conn)

	done := make(chan struct{})
	go func() {
		client.WritePump()
		close(done)
	}()

	testutil.AssertNoError(t, client.Send(domain.Event{Event: "tick"}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write pump did not stop")
	}
	testutil.AssertTrue(t, conn.isClosed(), "connection should be closed")
	testutil.AssertErrorIs(t, client.Send(domain.Event{Event: "tick"}), domain.ErrPortClosed)
}

func TestClient_CloseConnection_Idempotent(t *testing.T) {
	conn := newMockWebSocketConn()
	client := newTestClient(conn)

	client.closeConnection()
	client.closeConnection()

	testutil.AssertTrue(t, client.connClosed.Load(), "connection should be marked as closed")
	testutil.AssertErrorIs(t, client.writeMessage(websocket.TextMessage, []byte("x")), websocket.ErrCloseSent)
}

// Integration test with real WebSocket connection
func TestClient_WritePump_Integration(t *testing.T) {
	receivedMessages := make(chan []byte, 10)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			receivedMessages <- msg
		}
	}))
	defer server.Close()

	wsURL := "ws" + server.URL[4:]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	testutil.AssertNoError(t, err)
	defer conn.Close()

	client := NewClient(context.Background(), conn, domain.PortInternal, "popup", domain.PortInfo{})
	go client.WritePump()

	testutil.AssertNoError(t, client.Send(domain.Event{Event: domain.EventLocked}))

	select {
	case msg := <-receivedMessages:
		testutil.AssertContains(t, string(msg), `"event":"locked"`)
	case <-time.After(time.Second):
		t.Error("timeout waiting for message")
	}

	client.Close()
}
