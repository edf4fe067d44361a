package v1

import (
	"net/http"
	"strings"

	"github.com/emergo/incident_dispatch_service/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const userIDKey = "user_id"

// APIKeyAuthMiddleware - middleware для аутентификации по API-ключу.
// Websocket-клиенты не могут выставлять заголовки, поэтому принимается
// и query-параметр api_key
func APIKeyAuthMiddleware(cfg *config.Config, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			apiKey = c.Query("api_key")
		}

		if apiKey == "" {
			log.Warn("API key missing from request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key required"})
			return
		}

		isValid := false
		for _, key := range cfg.APIKeys {
			if key == apiKey {
				isValid = true
				break
			}
		}

		if !isValid {
			log.Warn("Invalid API key provided")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}

		c.Next()
	}
}

// JWTAuthMiddleware - middleware для привилегированных вызовов (отправка,
// подтверждение, управление экипажами). Отсутствующий или невалидный bearer
// токен - 401 без повторов
func JWTAuthMiddleware(cfg *config.Config, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, err := bearerSubject(c, cfg)
		if err != nil {
			log.WithError(err).Warn("Rejected privileged request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing bearer token"})
			return
		}

		c.Set(userIDKey, subject)
		c.Next()
	}
}

// OptionalJWTAuthMiddleware извлекает идентичность из токена, если он есть
// и валиден. Анонимные запросы проходят дальше без идентичности
func OptionalJWTAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if subject, err := bearerSubject(c, cfg); err == nil {
			c.Set(userIDKey, subject)
		}
		c.Next()
	}
}

// bearerSubject разбирает заголовок Authorization и возвращает subject токена
func bearerSubject(c *gin.Context, cfg *config.Config) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", jwt.ErrTokenMalformed
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Принимаем только HMAC: токены подписываются общим секретом сервиса
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", jwt.ErrTokenUnverifiable
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", jwt.ErrTokenInvalidSubject
	}
	return subject, nil
}

// currentUserID возвращает идентичность запроса или маркер анонимности
func currentUserID(c *gin.Context) string {
	if v, ok := c.Get(userIDKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}
