package middleware

import (
	"errors"
	"net/http"
	"strings"

	"rutatotal_backend/internal/models"
	"rutatotal_backend/internal/services"
	"rutatotal_backend/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const principalKey = "principal"

// SessionResolver looks up the session row a token references. Satisfied by
// services.AuthService.
type SessionResolver interface {
	GetSession(sessionID uuid.UUID) (*models.Session, error)
}

// AuthMiddleware creates a Gin middleware for session-token authentication.
// Beyond validating the token it confirms the session row still exists, so a
// logout revokes outstanding tokens immediately instead of after the token
// TTL. The resolved principal, including the identity context the token was
// issued for, is stored on the request context.
func AuthMiddleware(sessions SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format. Use Bearer <token>"})
			c.Abort()
			return
		}

		claims, err := utils.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token: " + err.Error()})
			c.Abort()
			return
		}

		sessionID, err := uuid.Parse(claims.SessionID)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Malformed session id in token"})
			c.Abort()
			return
		}
		identityCtx, err := models.ParseIdentityContext(claims.Context)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Malformed identity context in token"})
			c.Abort()
			return
		}

		if _, err := sessions.GetSession(sessionID); err != nil {
			if errors.Is(err, services.ErrSessionNotFound) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Session no longer exists"})
			} else {
				utils.LogError(err, "session liveness check failed")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify session"})
			}
			c.Abort()
			return
		}

		c.Set(principalKey, &models.Principal{
			SessionID: sessionID,
			Context:   identityCtx,
			Role:      claims.Role,
			Name:      claims.Name,
			Anonymous: claims.Anonymous,
		})

		c.Next()
	}
}

// RoleAuthMiddleware creates a Gin middleware for role-based authorization.
// It checks that the authenticated principal holds one of the allowed roles.
func RoleAuthMiddleware(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok {
			utils.RespondWithError(c, utils.NewAPIError(http.StatusForbidden, utils.ErrCodeForbidden,
				"Principal not found. Ensure AuthMiddleware runs first.", ""))
			return
		}

		for _, r := range allowedRoles {
			if strings.EqualFold(principal.Role, r) {
				c.Next()
				return
			}
		}

		utils.RespondWithError(c, utils.NewAPIError(http.StatusForbidden, utils.ErrCodeForbidden,
			"You do not have permission to access this resource.",
			"Required roles: "+strings.Join(allowedRoles, ", ")))
	}
}

// GetPrincipal returns the authenticated principal set by AuthMiddleware.
func GetPrincipal(c *gin.Context) (*models.Principal, bool) {
	v, exists := c.Get(principalKey)
	if !exists {
		return nil, false
	}
	principal, ok := v.(*models.Principal)
	return principal, ok && principal != nil
}
