package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Chandra1295/multi-modal-rag/internal/bootstrap"
	"github.com/Chandra1295/multi-modal-rag/internal/transport/http/handler"
	"github.com/Chandra1295/multi-modal-rag/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.StaticFile("/", "web/index.html")
	router.GET("/healthz", healthHandler.Check)

	sessionHandler := handler.NewSessionHandler(
		app.Assistant.UserID(),
		app.Config.Auth.SessionSecret,
		time.Duration(app.Config.Auth.SessionExpireMinute)*time.Minute,
	)
	assistantHandler := handler.NewAssistantHandler(app.Assistant)

	v1 := router.Group("/api/v1")
	v1.POST("/session", sessionHandler.Open)

	authed := v1.Group("")
	authed.Use(middleware.Session(app.Config.Auth.SessionSecret))
	authed.POST("/documents", assistantHandler.UploadDocument)
	authed.POST("/ask", assistantHandler.Ask)
	authed.GET("/history", assistantHandler.History)

	return router
}
