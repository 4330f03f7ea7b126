package middleware

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/eyalp7/SyncSphere/pkg/response"
)

// ContextUserID 当前用户 ID 在 gin.Context 中的 key
const ContextUserID = "user_id"

// IssueToken 签发 HS256 token，subject 为用户 ID
func IssueToken(secret string, userID int64, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// JWTAuth 校验 Bearer token；未配置 secret 时拒绝所有请求
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			response.Unauthorized(c, "authentication is not configured")
			return
		}
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			response.Unauthorized(c, "missing bearer token")
			return
		}
		var claims jwt.RegisteredClaims
		_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}
		uid, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil || uid <= 0 {
			response.Unauthorized(c, "invalid token subject")
			return
		}
		c.Set(ContextUserID, uid)
		c.Next()
	}
}

// UserID 取出 JWTAuth 写入的用户 ID
func UserID(c *gin.Context) int64 {
	return c.GetInt64(ContextUserID)
}
