package handlers

import (
	"net/http"

	"resource_wars/internal/logger"
	"resource_wars/internal/service"
	"resource_wars/internal/ws"

	"github.com/gin-gonic/gin"
)

// GamesHandler - REST зеркало публичного списка и поиска записи
type GamesHandler struct {
	store service.GameStore
	hub   *ws.Hub
}

func NewGamesHandler(store service.GameStore, hub *ws.Hub) *GamesHandler {
	return &GamesHandler{store: store, hub: hub}
}

// публичные ожидающие игры со свободными местами
func (h *GamesHandler) ListPublic(c *gin.Context) {
	records, err := h.store.ListPublicOpen(c.Request.Context())
	if err != nil {
		logger.WithContext(c.Request.Context()).Error("list public games failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": ws.PublicGames(records)})
}

// запись игры из хранилища. live показывает, обслуживается ли она этим процессом
func (h *GamesHandler) Get(c *gin.Context) {
	id := c.Param("id")
	rec, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		logger.WithContext(c.Request.Context()).Error("get game failed", "game_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"game": rec,
		"live": h.hub != nil && h.hub.Room(id) != nil,
	})
}

// Health - живость процесса и число комнат
func (h *GamesHandler) Health(c *gin.Context) {
	rooms := 0
	if h.hub != nil {
		rooms = h.hub.Count()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": rooms})
}
