// Package middleware holds HTTP middleware shared across the API router,
// adapted from the teacher's internal/middleware and internal/http/middleware
// auth packages.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/clipforge/clipforge-backend/internal/platform/ctxutil"
	"github.com/clipforge/clipforge-backend/internal/platform/logger"
)

// TokenVerifier maps an opaque bearer token to a trusted user_id and role.
// Spec treats authentication as an external concern ("a middleware that
// maps a bearer token to a user_id"); this is that middleware's
// collaborator, kept as an interface so the HTTP layer never depends on a
// concrete token format.
type TokenVerifier interface {
	Verify(ctx context.Context, tokenString string) (userID uuid.UUID, role string, err error)
}

// jwtClaims is the claim shape a JWTVerifier expects: Subject carries the
// user_id (a UUID string), and a custom Role claim carries {user, admin}.
type jwtClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// JWTVerifier is the default TokenVerifier: an HS256-signed JWT whose
// subject is the user_id, the same jwt.ParseWithClaims shape as the
// teacher's authService.SetContextFromToken, minus the session-token
// lookup this core has no session store to back.
type JWTVerifier struct {
	secretKey string
}

func NewJWTVerifier(secretKey string) *JWTVerifier {
	return &JWTVerifier{secretKey: secretKey}
}

func (v *JWTVerifier) Verify(ctx context.Context, tokenString string) (uuid.UUID, string, error) {
	claims := &jwtClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(v.secretKey), nil
	})
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !parsed.Valid {
		return uuid.Nil, "", fmt.Errorf("invalid or expired token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid user id in token: %w", err)
	}
	role := claims.Role
	if role == "" {
		role = "user"
	}
	return userID, role, nil
}

// AuthMiddleware enforces the bearer-token-to-user_id contract spec §6.1
// requires of every route it protects.
type AuthMiddleware struct {
	log      *logger.Logger
	verifier TokenVerifier
}

func NewAuthMiddleware(log *logger.Logger, verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{log: log.With("middleware", "AuthMiddleware"), verifier: verifier}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}
		userID, role, err := am.verifier.Verify(c.Request.Context(), tokenString)
		if err != nil {
			am.log.Debug("token verification failed", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if userID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		rd := &ctxutil.RequestData{UserID: userID, Role: role}
		ctx := ctxutil.WithRequestData(c.Request.Context(), rd)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}
