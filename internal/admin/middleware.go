package admin

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/tradewire/signal-relay/internal/errors"
	"github.com/tradewire/signal-relay/internal/logger"
	"github.com/tradewire/signal-relay/internal/store"
)

// Principal roles attached to authenticated requests.
const (
	RoleAdmin  = "admin"
	RoleClient = "client"
)

const (
	principalRoleKey = "principal_role"
	principalIDKey   = "principal_id"
)

// ClientStore resolves client API keys for the auth middleware.
type ClientStore interface {
	LookupByKey(ctx context.Context, apiKey string) (*store.Client, error)
}

// Auth builds the two auth middlewares. The master key grants the admin role;
// client keys grant the client role.
type Auth struct {
	masterKey string
	clients   ClientStore
	logger    *logger.Logger
}

func NewAuth(masterKey string, clients ClientStore, log *logger.Logger) *Auth {
	return &Auth{masterKey: masterKey, clients: clients, logger: log.WithComponent("auth")}
}

// RequireAny accepts either the master key on X-Admin-Key or a valid client
// key on X-API-Key, and records the principal on the request context.
func (a *Auth) RequireAny() gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey := c.GetHeader("X-Admin-Key"); adminKey != "" {
			if adminKey != a.masterKey {
				errors.AbortWithUnauthorized(c, "Invalid admin key", nil)
				return
			}
			c.Set(principalRoleKey, RoleAdmin)
			c.Next()
			return
		}

		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			errors.AbortWithUnauthorized(c, "Missing API key", nil)
			return
		}

		client, err := a.clients.LookupByKey(c.Request.Context(), apiKey)
		if err != nil {
			a.logger.Error("client key lookup failed", slog.String("error", err.Error()))
			errors.AbortWithUnauthorized(c, "Invalid API key", nil)
			return
		}
		if client == nil {
			errors.AbortWithUnauthorized(c, "Invalid API key", nil)
			return
		}

		c.Set(principalRoleKey, RoleClient)
		c.Set(principalIDKey, client.ID)
		c.Next()
	}
}

// RequireAdmin accepts only the master key.
func (a *Auth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminKey := c.GetHeader("X-Admin-Key")
		if adminKey == "" {
			errors.AbortWithUnauthorized(c, "Missing admin key", nil)
			return
		}
		if adminKey != a.masterKey {
			errors.AbortWithUnauthorized(c, "Invalid admin key", nil)
			return
		}
		c.Set(principalRoleKey, RoleAdmin)
		c.Next()
	}
}
