package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"resource_wars/internal/events"
	"resource_wars/internal/repository"
	"resource_wars/internal/service"
)

type recordingPublisher struct {
	mu    sync.Mutex
	kinds []string
}

func (p *recordingPublisher) Publish(_ string, kind string, _ any) {
	p.mu.Lock()
	p.kinds = append(p.kinds, kind)
	p.mu.Unlock()
}

func (p *recordingPublisher) has(kind string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range p.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func TestRoomPublishesLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	pub := &recordingPublisher{}
	store := repository.NewMemoryGameRepository()
	persister := service.NewPersister(store)
	e := &testEnv{
		hub:       NewHub(ctx, testConfig(), persister, service.NewTicketIssuer("s", time.Hour), pub),
		store:     store,
		persister: persister,
	}

	room, _, callers := createWithPlayers(t, e, 1, "Bob")
	if err := room.Start(ctxT(t), callers["Alice"]); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := room.NextRound(ctxT(t), callers["Alice"], nil); err != nil {
		t.Fatalf("NextRound: %v", err)
	}

	for _, kind := range []string{events.GameCreated, events.PlayerJoined, events.GameStarted, events.GameFinished} {
		kind := kind
		eventually(t, time.Second, func() bool { return pub.has(kind) }, "событие "+kind)
	}
}
