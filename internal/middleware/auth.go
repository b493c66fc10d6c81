package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"library/internal/models"
)

// actorKey is the gin context key under which the resolved Actor is stored.
const actorKey = "actor"

// Auth validates the Bearer token and resolves the caller into an Actor
// (id + role) exactly once per request. Handlers pass that Actor down
// into the service layer explicitly.
func Auth(secret []byte) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := strings.TrimSpace(ctx.GetHeader("Authorization"))
		if authHeader == "" {
			ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			ctx.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			ctx.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			ctx.Abort()
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			ctx.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			ctx.Abort()
			return
		}

		sub, _ := claims["sub"].(string)
		userID, err := uuid.Parse(sub)
		if err != nil {
			ctx.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token subject"})
			ctx.Abort()
			return
		}
		role, _ := claims["role"].(string)

		ctx.Set(actorKey, models.Actor{ID: userID, Role: models.UserRole(role)})
		ctx.Next()
	}
}

// RequireAdmin aborts the request unless the resolved Actor carries the
// ADMIN role. It must run after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		actor, ok := ActorFrom(ctx)
		if !ok || !actor.IsAdmin() {
			ctx.JSON(http.StatusForbidden, gin.H{"error": "administrator privileges required"})
			ctx.Abort()
			return
		}
		ctx.Next()
	}
}

// ActorFrom returns the Actor resolved by Auth for this request.
func ActorFrom(ctx *gin.Context) (models.Actor, bool) {
	val, exists := ctx.Get(actorKey)
	if !exists {
		return models.Actor{}, false
	}
	actor, ok := val.(models.Actor)
	return actor, ok
}
