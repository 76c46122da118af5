package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"resource_wars/internal/domain"
	"resource_wars/internal/events"
	"resource_wars/internal/http/middleware"
	"resource_wars/internal/repository"
	"resource_wars/internal/service"
	"resource_wars/internal/ws"

	"github.com/gin-gonic/gin"
)

type fixture struct {
	store   *repository.MemoryGameRepository
	hub     *ws.Hub
	handler http.Handler
}

func newFixture(t *testing.T, apiLimit int, origins []string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := repository.NewMemoryGameRepository()
	tickets := service.NewTicketIssuer("test", time.Hour)
	hub := ws.NewHub(ctx, ws.DefaultRoomConfig(), service.NewPersister(store), tickets, events.Nop{})
	gw := ws.NewGateway(hub, store, tickets, nil)

	return &fixture{
		store: store,
		hub:   hub,
		handler: NewRouter(RouterDeps{
			Hub:            hub,
			Gateway:        gw,
			Store:          store,
			APILimiter:     middleware.NewRateLimiter(nil, apiLimit, time.Minute),
			AllowedOrigins: origins,
		}),
	}
}

func (f *fixture) get(path string, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	f.handler.ServeHTTP(w, req)
	return w
}

func seed(t *testing.T, store *repository.MemoryGameRepository, id string, private bool, players int) {
	t.Helper()
	rec := &domain.GameRecord{
		ID:        id,
		Name:      id,
		Status:    domain.GameStatusWaiting,
		HostID:    "p0",
		IsPrivate: private,
		MaxRounds: 5,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	for i := 0; i < players; i++ {
		rec.Players = append(rec.Players, domain.PlayerRecord{ID: "p" + string(rune('0'+i)), Name: "n"})
	}
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestListPublicGames(t *testing.T) {
	f := newFixture(t, 0, nil)
	seed(t, f.store, "open", false, 1)
	seed(t, f.store, "secret", true, 1)
	seed(t, f.store, "full", false, 4)

	w := f.get("/api/games", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("код %d", w.Code)
	}
	var body struct {
		Games []ws.PublicGameView `json:"games"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(body.Games) != 1 || body.Games[0].ID != "open" || body.Games[0].MaxPlayers != 4 {
		t.Fatalf("список: %+v", body.Games)
	}
}

func TestGetGame(t *testing.T) {
	f := newFixture(t, 0, nil)
	seed(t, f.store, "g1", true, 2)

	if w := f.get("/api/games/missing", nil); w.Code != http.StatusNotFound {
		t.Fatalf("ожидался 404, получено %d", w.Code)
	}

	w := f.get("/api/games/g1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("код %d", w.Code)
	}
	var body struct {
		Game domain.GameRecord `json:"game"`
		Live bool              `json:"live"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Game.ID != "g1" || len(body.Game.Players) != 2 || body.Live {
		t.Fatalf("запись: %+v live=%v", body.Game, body.Live)
	}
}

func TestAPIRateLimit(t *testing.T) {
	f := newFixture(t, 2, nil)
	for i := 0; i < 2; i++ {
		if w := f.get("/api/games", nil); w.Code != http.StatusOK {
			t.Fatalf("запрос %d: %d", i+1, w.Code)
		}
	}
	if w := f.get("/api/games", nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("ожидался 429, получено %d", w.Code)
	}
	// healthz вне /api и не ограничивается
	if w := f.get("/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t, 0, []string{"https://play.example.com"})

	w := f.get("/healthz", map[string]string{"Origin": "https://play.example.com"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://play.example.com" {
		t.Fatalf("разрешенный origin: %q", got)
	}
	w = f.get("/healthz", map[string]string{"Origin": "https://evil.example.com"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("чужой origin получил заголовок: %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, 0, nil)
	w := f.get("/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
}
