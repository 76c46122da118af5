package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"resource_wars/internal/game"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type wsConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func startServer(t *testing.T, e *testEnv, limiter ActionLimiter) (*Gateway, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gw := NewGateway(e.hub, e.store, e.tickets, limiter)

	r := gin.New()
	r.GET("/ws", NewWSHandler(gw, nil).HandleWS())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return gw, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *wsConn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &wsConn{t: t, conn: conn}
}

func (c *wsConn) send(typ string, payload any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// expect пропускает сообщения других типов
func (c *wsConn) expect(typ string) received {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var m received
		if err := c.conn.ReadJSON(&m); err != nil {
			c.t.Fatalf("ждали %q: %v", typ, err)
		}
		if m.Type == typ {
			return m
		}
	}
}

func TestGatewayCreateJoinStart(t *testing.T) {
	e := newTestEnv(t, testConfig())
	_, url := startServer(t, e, nil)

	alice := dial(t, url)
	alice.send(MsgCreateGame, map[string]any{"gameName": "Oil rush", "playerName": "Alice", "isPrivate": false})
	var created joinedPayload
	_ = json.Unmarshal(alice.expect(MsgGameCreated).Payload, &created)
	if created.GameID == "" || created.PlayerID == "" || created.Token == "" {
		t.Fatalf("game-created: %+v", created)
	}
	alice.expect(MsgGameState)

	e.flush(t)
	bob := dial(t, url)
	bob.send(MsgGetPublicGames, nil)
	var list []PublicGameView
	_ = json.Unmarshal(bob.expect(MsgPublicGamesList).Payload, &list)
	if len(list) != 1 || list[0].ID != created.GameID || list[0].PlayerCount != 1 {
		t.Fatalf("публичный список: %+v", list)
	}

	bob.send(MsgJoinGame, map[string]any{"gameId": created.GameID, "playerName": "Bob"})
	bob.expect(MsgGameJoined)
	var joined playerPayload
	_ = json.Unmarshal(alice.expect(MsgPlayerJoined).Payload, &joined)
	if joined.PlayerName != "Bob" {
		t.Fatalf("player-joined: %+v", joined)
	}

	bob.send(MsgStartGame, nil)
	var e1 errorPayload
	_ = json.Unmarshal(bob.expect(MsgError).Payload, &e1)
	if e1.Message != ErrNotHost.Error() {
		t.Fatalf("ожидалась ошибка хоста: %q", e1.Message)
	}

	alice.send(MsgStartGame, nil)
	bob.expect(MsgGameStarted)

	bob.send(MsgPlayerAction, map[string]any{"action": "buy", "resource": "gold", "amount": 5})
	var state struct {
		Players []struct {
			Name   string `json:"name"`
			Tokens int    `json:"tokens"`
		} `json:"players"`
	}
	for {
		_ = json.Unmarshal(bob.expect(MsgGameState).Payload, &state)
		if len(state.Players) == 2 && state.Players[1].Tokens == 950 {
			break
		}
	}

	bob.send(MsgPlayerAction, map[string]any{"action": "sell", "resource": "oil", "amount": 1})
	var e2 errorPayload
	_ = json.Unmarshal(bob.expect(MsgError).Payload, &e2)
	if !strings.Contains(e2.Message, "not enough resources") {
		t.Fatalf("отказ экономики: %q", e2.Message)
	}
}

func TestGatewayUnknownGame(t *testing.T) {
	e := newTestEnv(t, testConfig())
	_, url := startServer(t, e, nil)

	c := dial(t, url)
	c.send(MsgGetGameState, map[string]any{"gameId": "missing"})
	var p errorPayload
	_ = json.Unmarshal(c.expect(MsgError).Payload, &p)
	if p.Message != ErrGameNotFound.Error() {
		t.Fatalf("ожидалось not found: %q", p.Message)
	}

	c.send(MsgStartGame, nil)
	_ = json.Unmarshal(c.expect(MsgError).Payload, &p)
	if p.Message != ErrNotInGame.Error() {
		t.Fatalf("без привязки: %q", p.Message)
	}

	_ = c.conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	_ = json.Unmarshal(c.expect(MsgError).Payload, &p)
	if p.Message != ErrBadRequest.Error() {
		t.Fatalf("мусор: %q", p.Message)
	}
}

func TestGatewayResumeAfterDisconnect(t *testing.T) {
	e := newTestEnv(t, testConfig())
	gw, url := startServer(t, e, nil)

	alice := dial(t, url)
	alice.send(MsgCreateGame, map[string]any{"gameName": "g", "playerName": "Alice"})
	var created joinedPayload
	_ = json.Unmarshal(alice.expect(MsgGameCreated).Payload, &created)

	bob := dial(t, url)
	bob.send(MsgJoinGame, map[string]any{"gameId": created.GameID, "playerName": "Bob"})
	var bobJoined joinedPayload
	_ = json.Unmarshal(bob.expect(MsgGameJoined).Payload, &bobJoined)

	// обрыв связи у Alice: хост переходит к Bob
	_ = alice.conn.Close()
	bob.expect(MsgPlayerDisconnected)
	eventually(t, time.Second, func() bool { return gw.Bindings() == 1 }, "привязка Alice снята")

	room := e.hub.Room(created.GameID)
	if s := mustState(t, room); s.HostID != bobJoined.PlayerID {
		t.Fatalf("хост после обрыва: %s", s.HostID)
	}

	again := dial(t, url)
	again.send(MsgResumeGame, map[string]any{"token": created.Token})
	var resumed joinedPayload
	_ = json.Unmarshal(again.expect(MsgGameJoined).Payload, &resumed)
	if resumed.PlayerID != created.PlayerID {
		t.Fatalf("resume вернул другого игрока: %+v", resumed)
	}
	if s := mustState(t, room); !s.Player(created.PlayerID).Connected || len(s.Players) != 2 {
		t.Fatalf("после resume: %+v", s.Players)
	}

	again.send(MsgResumeGame, map[string]any{"token": "forged"})
	var p errorPayload
	_ = json.Unmarshal(again.expect(MsgError).Payload, &p)
	if p.Message == "" {
		t.Fatalf("поддельный тикет принят")
	}
}

func TestGatewayExitClosesEmptyGame(t *testing.T) {
	e := newTestEnv(t, testConfig())
	gw, url := startServer(t, e, nil)

	alice := dial(t, url)
	alice.send(MsgCreateGame, map[string]any{"gameName": "g", "playerName": "Alice"})
	var created joinedPayload
	_ = json.Unmarshal(alice.expect(MsgGameCreated).Payload, &created)

	alice.send(MsgExitGame, map[string]any{"gameId": created.GameID, "playerId": created.PlayerID})
	eventually(t, time.Second, func() bool { return e.hub.Room(created.GameID) == nil }, "игра закрыта")
	if gw.Bindings() != 0 {
		t.Fatalf("привязки остались: %d", gw.Bindings())
	}

	alice.send(MsgGetGameState, map[string]any{"gameId": created.GameID})
	var p errorPayload
	_ = json.Unmarshal(alice.expect(MsgError).Payload, &p)
	if p.Message != ErrGameNotFound.Error() {
		t.Fatalf("закрытая игра: %q", p.Message)
	}
}

func TestGatewayFailedExitKeepsBinding(t *testing.T) {
	e := newTestEnv(t, testConfig())
	gw, url := startServer(t, e, nil)

	alice := dial(t, url)
	alice.send(MsgCreateGame, map[string]any{"gameName": "g", "playerName": "Alice"})
	var created joinedPayload
	_ = json.Unmarshal(alice.expect(MsgGameCreated).Payload, &created)

	bob := dial(t, url)
	bob.send(MsgJoinGame, map[string]any{"gameId": created.GameID, "playerName": "Bob"})
	var bobJoined joinedPayload
	_ = json.Unmarshal(bob.expect(MsgGameJoined).Payload, &bobJoined)

	// Bob уже удален из комнаты в обход шлюза, его соединение еще привязано
	room := e.hub.Room(created.GameID)
	if err := room.Exit(ctxT(t), nil, bobJoined.PlayerID); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	eventually(t, time.Second, func() bool { return gw.Bindings() == 2 }, "обе привязки на месте")

	bob.send(MsgExitGame, map[string]any{"gameId": created.GameID, "playerId": bobJoined.PlayerID})
	var p errorPayload
	_ = json.Unmarshal(bob.expect(MsgError).Payload, &p)
	if p.Message != game.ErrPlayerNotFound.Error() {
		t.Fatalf("ожидалась ошибка выхода: %q", p.Message)
	}
	if gw.Bindings() != 2 {
		t.Fatalf("неудачный выход снял привязку: %d", gw.Bindings())
	}
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) bool { return false }

func TestGatewayRateLimitsActions(t *testing.T) {
	e := newTestEnv(t, testConfig())
	_, url := startServer(t, e, denyAll{})

	alice := dial(t, url)
	alice.send(MsgCreateGame, map[string]any{"gameName": "g", "playerName": "Alice"})
	alice.expect(MsgGameCreated)

	alice.send(MsgPlayerAction, map[string]any{"action": "buy", "resource": "gold", "amount": 1})
	var p errorPayload
	_ = json.Unmarshal(alice.expect(MsgError).Payload, &p)
	if p.Message != ErrRateLimited.Error() {
		t.Fatalf("ожидался rate limit: %q", p.Message)
	}
}
