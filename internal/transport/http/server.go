package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"ragchat/internal/bootstrap"
	"ragchat/internal/transport/http/handler"
	"ragchat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	if app.Config.Telemetry.Enabled {
		router.Use(otelgin.Middleware(app.Config.App.Name))
	}

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	socketHandler := handler.NewChatSocketHandler(app.Conversations, app.Log)
	threadHandler := handler.NewThreadHandler(app.Threads)
	documentHandler := handler.NewDocumentHandler(app.Index)
	collectionHandler := handler.NewCollectionHandler(app.Schema)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))

	threads := v1.Group("/threads")
	threads.GET("/:id/ws", socketHandler.Serve)
	threads.GET("/:id/messages", threadHandler.Messages)
	threads.DELETE("/:id", threadHandler.Delete)

	v1.POST("/documents", documentHandler.Register)
	v1.POST("/documents/:id/index", documentHandler.Index)
	v1.GET("/progress/:job_id", documentHandler.Progress)

	v1.POST("/collections/:id/reindex", collectionHandler.Reindex)

	return router
}
