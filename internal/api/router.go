// Package api wires the gin router: middleware, the room endpoints, the
// websocket endpoint and the operational endpoints.
package api

import (
	"time"

	"github.com/billychen0894/spareTalk/internal/api/handler"
	"github.com/billychen0894/spareTalk/internal/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the engine around h. allowedOrigins configures CORS for
// the room endpoints; an empty list allows every origin.
func NewRouter(h *handler.Handler, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(logger.GinLogger(), logger.GinRecovery(true), Metrics())

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = allowedOrigins
	}

	chats := r.Group("/chats", cors.New(corsCfg))
	chats.POST("/create-room", h.CreateRoom)
	chats.GET("/:id", h.GetRoom)

	r.GET("/ws", h.ServeWebSocket)
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}
