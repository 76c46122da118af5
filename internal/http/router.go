package http

import (
	"net/http"

	"resource_wars/internal/http/handlers"
	"resource_wars/internal/http/middleware"
	"resource_wars/internal/service"
	"resource_wars/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

type RouterDeps struct {
	Hub            *ws.Hub
	Gateway        *ws.Gateway
	Store          service.GameStore
	APILimiter     *middleware.RateLimiter
	AllowedOrigins []string
}

// NewRouter собирает gin и оборачивает его в CORS
func NewRouter(d RouterDeps) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	games := handlers.NewGamesHandler(d.Store, d.Hub)

	r.GET("/healthz", games.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", ws.NewWSHandler(d.Gateway, d.AllowedOrigins).HandleWS())

	api := r.Group("/api")
	if d.APILimiter != nil {
		api.Use(d.APILimiter.Middleware("api"))
	}
	api.GET("/games", games.ListPublic)
	api.GET("/games/:id", games.Get)

	return corsWrap(r, d.AllowedOrigins)
}

// пустой список - любой источник без credentials
func corsWrap(h http.Handler, origins []string) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}
	if len(origins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = origins
		opts.AllowCredentials = true
	}
	return cors.New(opts).Handler(h)
}
