package auth

import (
	"context"
	"net/http"
	"strings"

	"telecom-control-plane/internal/audit"
	"telecom-control-plane/internal/workspace"

	"github.com/gin-gonic/gin"
)

const (
	workspaceTokenHeader = "X-Workspace-Token"
	actorSourceHeader    = "X-Actor-Source"
)

// WorkspaceSource looks up the tenant behind a machine credential.
type WorkspaceSource interface {
	GetWorkspaceByToken(ctx context.Context, token string) (workspace.Workspace, error)
}

const (
	ginWorkspaceKey   = "auth.workspace"
	ginActorSourceKey = "auth.actor_source"
)

// RequireWorkspaceToken authenticates machine actors (API clients, CLIs,
// bots) by their workspace token. The declared actor source is recorded for
// audit attribution only; it grants nothing.
func RequireWorkspaceToken(src WorkspaceSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(workspaceTokenHeader))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing workspace token"})
			return
		}

		ws, err := src.GetWorkspaceByToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid workspace token"})
			return
		}

		c.Set(ginWorkspaceKey, ws)
		c.Set(ginActorSourceKey, audit.ParseActorSource(c.GetHeader(actorSourceHeader)))
		c.Next()
	}
}

// WorkspaceFrom returns the authenticated workspace set by
// RequireWorkspaceToken.
func WorkspaceFrom(c *gin.Context) (workspace.Workspace, bool) {
	v, ok := c.Get(ginWorkspaceKey)
	if !ok {
		return workspace.Workspace{}, false
	}
	ws, ok := v.(workspace.Workspace)
	return ws, ok
}

// ActorSourceFrom returns the declared actor source, defaulting to api.
func ActorSourceFrom(c *gin.Context) audit.ActorSource {
	v, ok := c.Get(ginActorSourceKey)
	if !ok {
		return audit.ActorAPI
	}
	src, ok := v.(audit.ActorSource)
	if !ok {
		return audit.ActorAPI
	}
	return src
}
