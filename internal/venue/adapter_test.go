package venue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// testVenueServer accepts one WebSocket connection and decodes every JSON
// frame it receives onto msgs.
type testVenueServer struct {
	srv  *httptest.Server
	msgs chan Message
}

func newTestVenueServer(t *testing.T) *testVenueServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	tv := &testVenueServer{msgs: make(chan Message, 16)}
	tv.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var m Message
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			tv.msgs <- m
		}
	}))
	return tv
}

func (tv *testVenueServer) wsURL() string {
	return "ws" + strings.TrimPrefix(tv.srv.URL, "http")
}

func (tv *testVenueServer) close() { tv.srv.Close() }

func TestClientSetUserBalance(t *testing.T) {
	tv := newTestVenueServer(t)
	defer tv.close()

	c := New("alpha", tv.wsURL(), zerolog.Nop())
	user := uuid.New()

	if err := c.SetUserBalance(context.Background(), user, 12345, 7); err != nil {
		t.Fatalf("SetUserBalance: %v", err)
	}

	select {
	case msg := <-tv.msgs:
		if msg.Type != "set_balance" {
			t.Fatalf("expected type set_balance, got %s", msg.Type)
		}
		if msg.UserID != user.String() {
			t.Fatalf("expected user %s, got %s", user, msg.UserID)
		}
		if msg.Equity != 12345 || msg.Sequence != 7 {
			t.Fatalf("unexpected equity/sequence: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestClientFreezeNewOrders(t *testing.T) {
	tv := newTestVenueServer(t)
	defer tv.close()

	c := New("alpha", tv.wsURL(), zerolog.Nop())
	user := uuid.New()

	if err := c.FreezeNewOrders(context.Background(), user); err != nil {
		t.Fatalf("FreezeNewOrders: %v", err)
	}

	select {
	case msg := <-tv.msgs:
		if msg.Type != "freeze" || msg.UserID != user.String() {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestClientForwardCoveredFunds(t *testing.T) {
	tv := newTestVenueServer(t)
	defer tv.close()

	c := New("alpha", tv.wsURL(), zerolog.Nop())
	user := uuid.New()

	if err := c.ForwardCoveredFunds(context.Background(), "alpha", user, 500); err != nil {
		t.Fatalf("ForwardCoveredFunds: %v", err)
	}

	select {
	case msg := <-tv.msgs:
		if msg.Type != "covered_funds" || msg.Amount != 500 {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	tv := newTestVenueServer(t)
	defer tv.close()

	c := New("alpha", tv.wsURL(), zerolog.Nop())
	user := uuid.New()

	if err := c.SetUserBalance(context.Background(), user, 1, 1); err != nil {
		t.Fatalf("first send: %v", err)
	}
	<-tv.msgs

	c.mu.Lock()
	c.conn.Close()
	c.conn = nil
	c.mu.Unlock()

	if err := c.SetUserBalance(context.Background(), user, 2, 2); err != nil {
		t.Fatalf("send after drop: %v", err)
	}

	select {
	case msg := <-tv.msgs:
		if msg.Equity != 2 {
			t.Fatalf("expected equity 2 after reconnect, got %d", msg.Equity)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnect message")
	}
}

func TestRegistryForwardCoveredFunds(t *testing.T) {
	tv := newTestVenueServer(t)
	defer tv.close()

	reg := NewRegistry()
	reg.Register("alpha", New("alpha", tv.wsURL(), zerolog.Nop()))
	user := uuid.New()

	if err := reg.ForwardCoveredFunds(context.Background(), "alpha", user, 250); err != nil {
		t.Fatalf("ForwardCoveredFunds: %v", err)
	}

	select {
	case msg := <-tv.msgs:
		if msg.Amount != 250 {
			t.Fatalf("expected amount 250, got %d", msg.Amount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestRegistryForwardCoveredFundsUnknownVenue(t *testing.T) {
	reg := NewRegistry()
	err := reg.ForwardCoveredFunds(context.Background(), "unknown", uuid.New(), 1)
	if err == nil {
		t.Fatal("expected error for unregistered venue")
	}
}

func TestRegistryAdapterFor(t *testing.T) {
	tv := newTestVenueServer(t)
	defer tv.close()

	reg := NewRegistry()
	reg.Register("alpha", New("alpha", tv.wsURL(), zerolog.Nop()))
	adapter := reg.AdapterFor("alpha")
	user := uuid.New()

	if err := adapter.SetUserBalance(context.Background(), user, 99, 1); err != nil {
		t.Fatalf("SetUserBalance via adapter: %v", err)
	}

	select {
	case msg := <-tv.msgs:
		if msg.Equity != 99 {
			t.Fatalf("expected equity 99, got %d", msg.Equity)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestRegistryAdapterForUnknownVenue(t *testing.T) {
	reg := NewRegistry()
	adapter := reg.AdapterFor("ghost")

	if err := adapter.SetUserBalance(context.Background(), uuid.New(), 1, 1); err == nil {
		t.Fatal("expected error for unregistered venue")
	}
	if err := adapter.FreezeNewOrders(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected error for unregistered venue")
	}
}
