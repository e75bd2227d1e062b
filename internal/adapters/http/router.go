package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/parleychat/relay/internal/adapters/signal"
	"github.com/parleychat/relay/internal/app"
	"github.com/parleychat/relay/internal/config"
	"github.com/parleychat/relay/internal/domain"
)

// notifyRequest is what the message-persistence service posts after a commit.
type notifyRequest struct {
	UserIDs        []domain.UserID       `json:"userIds" binding:"required"`
	ConversationID domain.ConversationID `json:"conversationId" binding:"required"`
	Message        json.RawMessage       `json:"message" binding:"required"`
}

func internalTokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" || subtle.ConstantTimeCompare([]byte(c.GetHeader("X-Internal-Token")), []byte(token)) != 1 {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.ChatWSController, router *app.Router) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.GET("/ws/chat", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws chat endpoint hit")
		ctl.HandleChat(ctx, c)
	})

	internal := r.Group("/internal", internalTokenMiddleware(cfg.InternalToken))
	internal.POST("/message-new", func(c *gin.Context) {
		var req notifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		router.NotifyMessage(req.UserIDs, req.ConversationID, req.Message)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
