// Package routes registers the engine's HTTP and WebSocket surface onto a
// gin.Engine.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/chatforge/engine/services/bot/eventbus"
	"github.com/chatforge/engine/services/bot/facade"
	"github.com/chatforge/engine/services/engine/handlers"
	"github.com/chatforge/engine/services/engine/middleware"
)

// SetupRoutes wires every route named in spec §6's external interfaces
// section onto router. Every route except /health requires a valid bearer
// token.
func SetupRoutes(router *gin.Engine, fc *facade.Facade, bus *eventbus.Bus, auth middleware.Authenticator) {
	router.GET("/health", handlers.Health)

	authed := router.Group("/", middleware.AuthMiddleware(auth))

	bots := authed.Group("/bots")
	bots.POST("", handlers.CreateBot(fc))
	bots.POST("/:id/start", handlers.Start(fc))
	bots.POST("/:id/stop", handlers.Stop(fc))
	bots.POST("/:id/restart", handlers.Restart(fc))
	bots.GET("/:id/logs", handlers.ReadLogs(fc))
	bots.PUT("/:id/files/:name", handlers.UpdateFile(fc))
	bots.DELETE("/:id", handlers.Delete(fc))

	ws := authed.Group("/ws")
	ws.GET("/status", handlers.StatusStream(bus))
	ws.GET("/bots/:id/logs", handlers.LogStream(fc, bus))
}
