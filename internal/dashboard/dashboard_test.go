package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/yonngwoo/weave/internal/coordinator"
	"github.com/yonngwoo/weave/internal/engine"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()

	// Port 0 picks a random available port.
	server := NewServer("127.0.0.1:0", log.New(os.Stderr, "[test] ", log.LstdFlags))
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	time.Sleep(100 * time.Millisecond)
	return server
}

func dialTestServer(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestServerStartStop(t *testing.T) {
	server := NewServer("127.0.0.1:0", log.New(os.Stderr, "[test] ", log.LstdFlags))

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if addr := server.GetAddr(); addr == "" {
		t.Fatal("Server address is empty")
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	server := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialTestServer(t, ctx, server)

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	raw, _ := json.Marshal(SyncStartedData{Collections: []string{"tabs"}})
	server.Broadcast(Message{Type: MessageTypeSyncStarted, Data: raw})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeSyncStarted {
		t.Errorf("Expected message type %s, got %s", MessageTypeSyncStarted, msg.Type)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Expected timestamp to be stamped on broadcast")
	}
}

func TestReporterMessages(t *testing.T) {
	server := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialTestServer(t, ctx, server)

	reporter := NewReporter(server)
	reporter.SyncStarted([]string{"clients", "tabs"})
	reporter.CollectionStatus("clients", engine.Failed(errors.New("boom")))
	reporter.SyncCompleted([]coordinator.Result{
		{Label: "clients", Status: engine.Failed(errors.New("boom"))},
		{Label: "tabs", Status: engine.Completed()},
	})
	reporter.AccountChanged(false)

	wantTypes := []MessageType{
		MessageTypeSyncStarted,
		MessageTypeCollectionStatus,
		MessageTypeSyncComplete,
		MessageTypeAccountChanged,
	}
	for _, want := range wantTypes {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Failed to read %s message: %v", want, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Failed to unmarshal message: %v", err)
		}
		if msg.Type != want {
			t.Fatalf("Expected message type %s, got %s", want, msg.Type)
		}

		if msg.Type == MessageTypeSyncComplete {
			var complete SyncCompleteData
			if err := json.Unmarshal(msg.Data, &complete); err != nil {
				t.Fatalf("Failed to unmarshal sync_complete data: %v", err)
			}
			if complete.Succeeded != 1 || complete.Failed != 1 {
				t.Errorf("Expected 1 succeeded and 1 failed, got %+v", complete)
			}
		}
	}
}

func TestMultipleClients(t *testing.T) {
	server := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	numClients := 3
	conns := make([]*websocket.Conn, numClients)
	for i := 0; i < numClients; i++ {
		conns[i] = dialTestServer(t, ctx, server)
	}

	if count := server.ClientCount(); count != numClients {
		t.Errorf("Expected %d clients, got %d", numClients, count)
	}

	raw, _ := json.Marshal(AccountChangedData{HasAccount: true})
	server.Broadcast(Message{Type: MessageTypeAccountChanged, Data: raw})

	for i, conn := range conns {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Client %d failed to read broadcast: %v", i, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Client %d failed to unmarshal: %v", i, err)
		}
		if msg.Type != MessageTypeAccountChanged {
			t.Errorf("Client %d: expected %s, got %s", i, MessageTypeAccountChanged, msg.Type)
		}
	}
}
