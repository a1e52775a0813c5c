package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-orders/internal/domain"
)

// Заголовки, которые выставляет слой аутентификации перед сервисом.
const (
	HeaderUserID             = "X-User-ID"
	HeaderUserRole           = "X-User-Role"
	HeaderIdempotencyKey     = "Idempotency-Key"
	HeaderIdempotentReplayed = "Idempotent-Replayed"
	HeaderRequestID          = "X-Request-ID"

	actorContextKey = "actor"
)

// Identity переносит проверенную личность из заголовков в контекст запроса.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		role := domain.Role(strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderUserRole))))
		if userID == "" || !role.Valid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
				Code:    "unauthenticated",
				Message: "X-User-ID and X-User-Role headers are required",
			})
			return
		}
		c.Set(actorContextKey, domain.Actor{UserID: userID, Role: role})
		c.Next()
	}
}

// RequireRole пропускает только перечисленные роли.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := currentActor(c)
		for _, role := range roles {
			if actor.Role == role {
				c.Next()
				return
			}
		}
		writeError(c, domain.ErrForbidden)
		c.Abort()
	}
}

// RequestLogger пишет строку access-лога на каждый запрос.
func RequestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := log.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		}
		if requestID := c.GetHeader(HeaderRequestID); requestID != "" {
			fields["request_id"] = requestID
		}
		if actor, ok := c.Get(actorContextKey); ok {
			fields["user_id"] = actor.(domain.Actor).UserID
		}

		entry := logger.WithFields(fields)
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("http request")
		case status >= http.StatusBadRequest:
			entry.Warn("http request")
		default:
			entry.Info("http request")
		}
	}
}

func currentActor(c *gin.Context) domain.Actor {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return domain.Actor{}
	}
	actor, _ := value.(domain.Actor)
	return actor
}
