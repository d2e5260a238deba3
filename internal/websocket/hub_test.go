package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// flush returns once the hub loop has finished handling every earlier send.
func flush(h *Hub) {
	h.unregister <- &Client{}
}

func TestHub(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	// Mock client
	client := &Client{
		hub:  hub,
		send: make(chan []byte, 1),
	}

	// Test registration
	hub.register <- client
	flush(hub)
	if hub.ClientCount() != 1 {
		t.Fatalf("Expected 1 client after registration, got %d", hub.ClientCount())
	}

	// Test broadcast
	message := []byte("hello")
	hub.broadcast <- message

	select {
	case received := <-client.send:
		if string(received) != "hello" {
			t.Errorf("Client received wrong message: got %s, want %s", received, message)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Client did not receive broadcast message in time")
	}

	// Test unregistration
	hub.unregister <- client
	flush(hub)
	if hub.ClientCount() != 0 {
		t.Fatalf("Expected 0 clients after unregistration, got %d", hub.ClientCount())
	}
}

func TestHub_FullClientIsSkipped(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	slow := &Client{hub: hub, send: make(chan []byte, 1)}
	fast := &Client{hub: hub, send: make(chan []byte, 4)}
	hub.register <- slow
	hub.register <- fast

	hub.Broadcast([]byte("one"))
	hub.Broadcast([]byte("two"))
	hub.register <- &Client{hub: hub, send: make(chan []byte, 1)}
	flush(hub)

	if got := len(slow.send); got != 1 {
		t.Fatalf("Expected slow client to hold 1 message, got %d", got)
	}
	if got := len(fast.send); got != 2 {
		t.Fatalf("Expected fast client to hold 2 messages, got %d", got)
	}
	if hub.ClientCount() != 3 {
		t.Errorf("Skipping a message must not drop the subscriber, got %d clients", hub.ClientCount())
	}
}

func TestHub_ServeWs(t *testing.T) {
	hub := NewHub()
	received := make(chan string, 1)
	hub.OnMessage(func(c *Client, data []byte) { received <- string(data) })
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("Expected 1 registered client, got %d", hub.ClientCount())
	}

	hub.Broadcast([]byte(`{"hello":"world"}`))
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(msg) != `{"hello":"world"}` {
		t.Errorf("Unexpected frame %s", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping from client")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	select {
	case got := <-received:
		if got != "ping from client" {
			t.Errorf("OnMessage got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("OnMessage was not called")
	}

	conn.Close()
	deadline = time.Now().Add(time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("Expected client to be removed after disconnect, got %d", hub.ClientCount())
	}
}

func TestClient_SendJSONReachesOnlyThatClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	target := &Client{hub: hub, send: make(chan []byte, 1)}
	other := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.register <- target
	hub.register <- other

	if err := target.SendJSON(map[string]string{"action": "checkRejected"}); err != nil {
		t.Fatalf("SendJSON failed: %v", err)
	}
	flush(hub)

	select {
	case msg := <-target.send:
		if string(msg) != `{"action":"checkRejected"}` {
			t.Errorf("Unexpected frame %s", msg)
		}
	default:
		t.Fatal("Target client did not receive the message")
	}
	select {
	case msg := <-other.send:
		t.Errorf("Other client received %s", msg)
	default:
	}

	// Unregistered clients are skipped without panicking.
	hub.unregister <- target
	if err := target.SendJSON("late"); err != nil {
		t.Errorf("SendJSON to a removed client returned %v", err)
	}

	hub.Stop()
	if err := other.SendJSON("after stop"); err != ErrHubStopped {
		t.Errorf("Expected ErrHubStopped, got %v", err)
	}
}
