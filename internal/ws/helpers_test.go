package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"resource_wars/internal/events"
	"resource_wars/internal/game"
	"resource_wars/internal/repository"
	"resource_wars/internal/service"

	"github.com/google/uuid"
)

func testConfig() RoomConfig {
	return RoomConfig{
		RoundDuration:     time.Hour,
		MaxRounds:         5,
		TickInterval:      time.Hour,
		MarketInterval:    time.Hour,
		InactivityTimeout: time.Hour,
		RoundPause:        30 * time.Millisecond,
	}
}

type testEnv struct {
	hub       *Hub
	store     *repository.MemoryGameRepository
	persister *service.Persister
	tickets   *service.TicketIssuer
}

func newTestEnv(t *testing.T, cfg RoomConfig) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := repository.NewMemoryGameRepository()
	persister := service.NewPersister(store)
	tickets := service.NewTicketIssuer("test-secret", time.Hour)
	return &testEnv{
		hub:       NewHub(ctx, cfg, persister, tickets, events.Nop{}),
		store:     store,
		persister: persister,
		tickets:   tickets,
	}
}

func (e *testEnv) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.persister.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

// клиент без сети: сообщения копятся в Send
func newTestClient() *Client {
	return &Client{
		ID:   uuid.NewString(),
		Send: make(chan []byte, 256),
		done: make(chan struct{}),
	}
}

type received struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// waitFor читает сообщения клиента, пока не встретит нужный тип
func waitFor(t *testing.T, c *Client, typ string, timeout time.Duration) received {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case data := <-c.Send:
			var m received
			if err := json.Unmarshal(data, &m); err != nil {
				t.Fatalf("bad message %s: %v", data, err)
			}
			if m.Type == typ {
				return m
			}
		case <-deadline:
			t.Fatalf("не дождались %q", typ)
			return received{}
		}
	}
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// createWithPlayers создает комнату с хостом alice и дополнительными игроками
func createWithPlayers(t *testing.T, e *testEnv, maxRounds int, others ...string) (*Room, map[string]*Client, map[string]Caller) {
	t.Helper()
	clients := map[string]*Client{}
	callers := map[string]Caller{}

	room, host, err := e.hub.CreateRoom(CreateParams{GameName: "test", PlayerName: "Alice", Wallet: "wallet-alice", MaxRounds: maxRounds})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	clients["Alice"] = newTestClient()
	if err := room.Attach(ctxT(t), clients["Alice"], host.ID); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	callers["Alice"] = Caller{PlayerID: host.ID, Wallet: host.WalletAddress}

	for _, name := range others {
		c := newTestClient()
		res, err := room.Join(ctxT(t), c, name, "")
		if err != nil {
			t.Fatalf("Join %s: %v", name, err)
		}
		clients[name] = c
		callers[name] = Caller{PlayerID: res.PlayerID}
	}
	return room, clients, callers
}

func mustState(t *testing.T, r *Room) *game.Session {
	t.Helper()
	s, err := r.State(ctxT(t))
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	return s
}

// eventually повторяет проверку до таймаута
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("условие не выполнилось: %s", msg)
}
