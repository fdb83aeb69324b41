// Package auth verifies bearer tokens and limits request rates per caller.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/imrishuroy/hope-orderflow/internal/apperr"
)

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey = "user_id"

// UserID returns the authenticated user id, or "" if the request was not authenticated.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// Middleware validates an HS256 bearer token and stores its subject as the user id.
func Middleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abort(c, apperr.Unauthorized("Token is required"))
			return
		}
		if !strings.HasPrefix(header, "Bearer ") {
			abort(c, apperr.Unauthorized("Invalid token format"))
			return
		}

		sub, err := ParseToken(secret, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			abort(c, apperr.Unauthorized("Invalid or expired token"))
			return
		}

		c.Set(UserIDKey, sub)
		c.Next()
	}
}

// ParseToken verifies tokenString and returns its subject.
func ParseToken(secret []byte, tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}

// IssueToken signs a token for userID valid for ttl. Used by tooling and tests.
func IssueToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func abort(c *gin.Context, err *apperr.Error) {
	c.AbortWithStatusJSON(err.Code, err)
}
