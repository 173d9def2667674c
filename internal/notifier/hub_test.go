package notifier

import (
	"testing"

	"github.com/corwinhq/taskforge/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestBroadcastDeliversOnlyToSubscribedChannel(t *testing.T) {
	hub := NewHub(testLogger(t))
	a := hub.NewClient("principal-a")
	b := hub.NewClient("principal-b")

	hub.Broadcast(Message{Channel: "principal-a", Event: EventJobEnqueued})

	select {
	case msg := <-a.Outbound:
		if msg.Event != EventJobEnqueued {
			t.Fatalf("unexpected event: %s", msg.Event)
		}
	default:
		t.Fatal("expected principal-a's client to receive the message")
	}

	select {
	case msg := <-b.Outbound:
		t.Fatalf("principal-b should not receive principal-a's message, got %v", msg)
	default:
	}
}

func TestBroadcastIgnoresEmptyChannel(t *testing.T) {
	hub := NewHub(testLogger(t))
	client := hub.NewClient("principal-a")

	hub.Broadcast(Message{Channel: "", Event: EventJobEnqueued})

	select {
	case msg := <-client.Outbound:
		t.Fatalf("expected no delivery for an unchanneled message, got %v", msg)
	default:
	}
}

func TestBroadcastDropsWhenOutboundBufferIsFull(t *testing.T) {
	hub := NewHub(testLogger(t))
	client := hub.NewClient("principal-a")

	for i := 0; i < cap(client.Outbound)+5; i++ {
		hub.Broadcast(Message{Channel: "principal-a", Event: EventJobStarted})
	}

	if len(client.Outbound) != cap(client.Outbound) {
		t.Fatalf("expected buffer to be full at capacity=%d, got len=%d", cap(client.Outbound), len(client.Outbound))
	}
}

func TestRemoveClientDropsEmptyChannelEntry(t *testing.T) {
	hub := NewHub(testLogger(t))
	client := hub.NewClient("principal-a")

	hub.RemoveClient(client)

	hub.mu.RLock()
	_, ok := hub.subscriptions["principal-a"]
	hub.mu.RUnlock()
	if ok {
		t.Fatal("expected the channel's subscription entry to be removed once empty")
	}
}

func TestCloseClientClosesDoneAndRemoves(t *testing.T) {
	hub := NewHub(testLogger(t))
	client := hub.NewClient("principal-a")

	hub.CloseClient(client)

	select {
	case <-client.done:
	default:
		t.Fatal("expected done channel to be closed")
	}

	hub.mu.RLock()
	_, ok := hub.subscriptions["principal-a"]
	hub.mu.RUnlock()
	if ok {
		t.Fatal("expected client to be removed from subscriptions on close")
	}
}
