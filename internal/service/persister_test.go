package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"resource_wars/internal/domain"
	"resource_wars/internal/repository"
)

// медленное хранилище с журналом вызовов
type recordingStore struct {
	*repository.MemoryGameRepository
	mu    sync.Mutex
	calls []string
	delay time.Duration
	fail  bool
}

func (s *recordingStore) log(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *recordingStore) Create(ctx context.Context, g *domain.GameRecord) error {
	time.Sleep(s.delay)
	s.log("create:" + g.ID)
	if s.fail {
		return errors.New("boom")
	}
	return s.MemoryGameRepository.Create(ctx, g)
}

func (s *recordingStore) AddPlayer(ctx context.Context, id string, p domain.PlayerRecord) error {
	s.log("add:" + id + ":" + p.ID)
	return s.MemoryGameRepository.AddPlayer(ctx, id, p)
}

func (s *recordingStore) SetStatus(ctx context.Context, id string, st domain.GameStatus) error {
	s.log("status:" + id + ":" + string(st))
	return s.MemoryGameRepository.SetStatus(ctx, id, st)
}

func TestPersisterKeepsOrderPerGame(t *testing.T) {
	store := &recordingStore{MemoryGameRepository: repository.NewMemoryGameRepository(), delay: 20 * time.Millisecond}
	p := NewPersister(store)

	start := time.Now()
	p.Create(&domain.GameRecord{ID: "g1", Status: domain.GameStatusWaiting})
	p.AddPlayer("g1", domain.PlayerRecord{ID: "bob"})
	p.SetStatus("g1", domain.GameStatusPlaying)
	if time.Since(start) > 10*time.Millisecond {
		t.Fatalf("постановка в очередь не должна блокировать")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	want := []string{"create:g1", "add:g1:bob", "status:g1:playing"}
	if fmt.Sprint(store.calls) != fmt.Sprint(want) {
		t.Fatalf("порядок %v, ожидался %v", store.calls, want)
	}
	g, _ := store.Get(ctx, "g1")
	if g == nil || g.Status != domain.GameStatusPlaying || g.PlayerCount() != 1 {
		t.Fatalf("запись: %+v", g)
	}
}

func TestPersisterGamesDrainConcurrently(t *testing.T) {
	store := &recordingStore{MemoryGameRepository: repository.NewMemoryGameRepository(), delay: 100 * time.Millisecond}
	p := NewPersister(store)

	start := time.Now()
	for i := 0; i < 5; i++ {
		p.Create(&domain.GameRecord{ID: fmt.Sprintf("g%d", i)})
	}
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("игры писались последовательно: %v", elapsed)
	}
}

func TestPersisterSwallowsErrors(t *testing.T) {
	store := &recordingStore{MemoryGameRepository: repository.NewMemoryGameRepository(), fail: true}
	p := NewPersister(store)

	p.Create(&domain.GameRecord{ID: "g1"})
	p.SetStatus("g1", domain.GameStatusClosed)
	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(store.calls) != 2 {
		t.Fatalf("после ошибки очередь должна продолжиться: %v", store.calls)
	}
}

func TestFlushRespectsContext(t *testing.T) {
	store := &recordingStore{MemoryGameRepository: repository.NewMemoryGameRepository(), delay: 300 * time.Millisecond}
	p := NewPersister(store)
	p.Create(&domain.GameRecord{ID: "slow"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ожидался DeadlineExceeded, получено %v", err)
	}
	_ = p.Flush(context.Background())
}
