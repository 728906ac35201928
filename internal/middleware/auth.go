package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"

	"canvas-collab/internal/domain"
)

// Gin 上下文中身份主体的键
const PrincipalKey = "principal"

// ErrMissingAuthHeader 表示缺少 Authorization 头。
var ErrMissingAuthHeader = errors.New("missing Authorization header")

// Auth 返回一个 Gin 中间件，验证 JWT token 并把身份主体放进上下文。
// 上游认证服务签发的 token 至少携带 user_id / role / company_id claims。
// jwtSecret: 用于验证签名的密钥，必须提供。
func Auth(jwtSecret string) gin.HandlerFunc {
	if jwtSecret == "" {
		panic("JWT secret cannot be empty for Auth middleware")
	}

	return func(c *gin.Context) {
		tokenStr, err := extractToken(c)
		if err != nil {
			if errors.Is(err, ErrMissingAuthHeader) {
				logrus.Warn("Auth middleware: Missing Authorization header")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			} else {
				logrus.WithError(err).Warn("Auth middleware: Error extracting token")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format"})
			}
			c.Abort()
			return
		}

		claims, err := validateToken(tokenStr, jwtSecret)
		if err != nil {
			logCtx := logrus.WithError(err)
			logCtx.Warn("Auth middleware: Invalid token")
			var validationError *jwt.ValidationError
			if errors.As(err, &validationError) {
				if validationError.Errors&jwt.ValidationErrorExpired != 0 {
					logCtx.Warn("Reason: Token is expired")
				}
				if validationError.Errors&jwt.ValidationErrorSignatureInvalid != 0 {
					logCtx.Warn("Reason: Token signature is invalid")
				}
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		principal, err := principalFromClaims(claims)
		if err != nil {
			logrus.WithError(err).Error("Auth middleware: Failed to build principal from claims")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token processing error"})
			c.Abort()
			return
		}

		c.Set(PrincipalKey, principal)
		logrus.WithFields(logrus.Fields{"user_id": principal.UserID, "role": principal.Role}).
			Debug("Auth middleware: User authenticated via JWT")
		c.Next()
	}
}

// GetPrincipal 从 Gin 上下文中取出身份主体。
// 只应在 Auth 中间件之后调用。
func GetPrincipal(c *gin.Context) (domain.Principal, bool) {
	v, exists := c.Get(PrincipalKey)
	if !exists {
		return domain.Principal{}, false
	}
	p, ok := v.(domain.Principal)
	return p, ok
}

// extractToken 从 Authorization 头提取 Bearer Token。
func extractToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", jwt.ErrTokenMalformed
	}
	return parts[1], nil
}

// validateToken 解析并验证 JWT token 字符串。
func validateToken(tokenStr string, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token or claims type")
}

// principalFromClaims 从 token claims 中组装身份主体。
// user_id 必须存在且为正整数；其余字段缺省为空。
func principalFromClaims(claims jwt.MapClaims) (domain.Principal, error) {
	userID, err := uintClaim(claims, "user_id")
	if err != nil {
		return domain.Principal{}, err
	}
	// company_id 缺省为 0 (独立用户)
	companyID, _ := uintClaim(claims, "company_id")

	return domain.Principal{
		UserID:    userID,
		CompanyID: companyID,
		Role:      stringClaim(claims, "role"),
		Name:      stringClaim(claims, "name"),
		Email:     stringClaim(claims, "email"),
	}, nil
}

// uintClaim 安全地把一个 JWT 数字 claim (float64) 转成 uint。
func uintClaim(claims jwt.MapClaims, key string) (uint, error) {
	v, ok := claims[key]
	if !ok {
		return 0, fmt.Errorf("'%s' claim missing in token", key)
	}
	f, ok := v.(float64)
	if !ok || f <= 0 || f != float64(uint(f)) {
		return 0, fmt.Errorf("'%s' claim is not a valid positive integer number", key)
	}
	return uint(f), nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
