// Package httpapi wires the HTTP surface of spec.md §6 onto gin: request
// routing, auth, CORS, and the mapping from orchestrator errors to response
// codes. Grounded on the teacher's cmd/server/main.go setupRESTServer and
// internal/proxy handler layout.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/meshchat/meshchat-service/internal/auth"
	"github.com/meshchat/meshchat-service/internal/logger"
	"github.com/meshchat/meshchat-service/internal/orchestrator"
	"github.com/meshchat/meshchat-service/internal/repository"
)

// NewRouter builds the gin engine serving spec.md §6's chat/message/stream
// routes plus a static handler for persisted mesh blobs.
func NewRouter(
	authMiddleware *auth.Middleware,
	chats *repository.ChatRepository,
	messages *repository.MessageRepository,
	orch *orchestrator.Orchestrator,
	blobDir string,
	corsOrigins []string,
	log *logger.Logger,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept"},
		AllowCredentials: true,
	})
	router.Use(func(c *gin.Context) {
		passed := false
		corsHandler.ServeHTTP(c.Writer, c.Request, func(http.ResponseWriter, *http.Request) { passed = true })
		if !passed {
			c.Abort()
			return
		}
		c.Next()
	})

	router.StaticFS("/blobs", gin.Dir(blobDir, false))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handlers{chats: chats, messages: messages, orch: orch, log: log}

	api := router.Group("/chats/:chat_id")
	api.Use(authMiddleware.RequireAuth())
	api.Use(h.requireChatOwnership)
	{
		api.POST("/messages", h.createMessage)
		api.GET("/messages", h.listMessages)
		api.GET("/messages/:message_id/streams/:stream_id", h.subscribeStream)
		api.DELETE("/messages/:message_id/streams/:stream_id", h.cancelStream)
	}

	return router
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := logger.GenerateRequestID()
		ctx := logger.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		c.Next()

		log.WithContext(c.Request.Context()).Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
