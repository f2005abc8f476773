package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
)

// ActorHeader carries the acting user's id. Requests are authenticated by the
// gateway upstream; this service only records who acted.
const ActorHeader = "X-Actor-ID"

// ContextActorKey is the gin context key storing the actor id.
const ContextActorKey = "currentActor"

// Actor attaches the acting user's id to the context when present.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor := strings.TrimSpace(c.GetHeader(ActorHeader)); actor != "" {
			c.Set(ContextActorKey, actor)
		}
		c.Next()
	}
}

// RequireActor blocks mutating requests that do not identify an actor.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(ActorHeader))
		if actor == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "X-Actor-ID header is required"))
			c.Abort()
			return
		}
		c.Set(ContextActorKey, actor)
		c.Next()
	}
}

// ActorID returns the actor id stored in the gin context.
func ActorID(c *gin.Context) string {
	if v, exists := c.Get(ContextActorKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
