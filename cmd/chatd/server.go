package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/remote-chat/backend/api/handlers"
	"github.com/remote-chat/backend/internal/repository"
	"github.com/remote-chat/backend/internal/session"
	"github.com/remote-chat/backend/internal/ws"
)

// routerDeps are the components the HTTP surface is built on.
type routerDeps struct {
	session    *session.Session
	credential string
	journal    *repository.ConnectionEventRepository
	bridge     *ws.Service
	gatherer   prometheus.Gatherer
}

func newRouter(deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// Enable CORS for local UI development
	r.Use(corsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"session": deps.session.Status(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.gatherer, promhttp.HandlerOpts{})))

	sessionHandler := handlers.NewSessionHandler(deps.session, deps.credential)
	historyHandler := handlers.NewHistoryHandler(deps.journal)
	wsHandler := handlers.NewWebSocketHandler(deps.session.SessionID(), deps.bridge.Handler())

	api := r.Group("/api")
	{
		sessionHandler.RegisterRoutes(api)
		historyHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	}

	return r
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
