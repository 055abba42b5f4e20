package router

import (
	"strconv"
	"strings"
	"time"

	"github.com/affiliflow/internal/authz"
	"github.com/affiliflow/internal/config"
	"github.com/affiliflow/internal/http/response"
	"github.com/affiliflow/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDKey = "request_id"
const requestIDHeader = "X-Request-ID"
const operatorIDContextKey = "operator_id"
const operatorRolesContextKey = "operator_roles"

// CORSMiddleware 跨域中间件
func CORSMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	allowedMethods := cfg.AllowedMethods
	if len(allowedMethods) == 0 {
		allowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	allowedHeaders := cfg.AllowedHeaders
	if len(allowedHeaders) == 0 {
		allowedHeaders = []string{
			"Content-Type",
			"Content-Length",
			"Accept-Encoding",
			"Authorization",
			"Cache-Control",
			"X-Requested-With",
			"X-CSRF-Token",
		}
	}
	methodsHeader := strings.Join(allowedMethods, ", ")
	headersHeader := strings.Join(allowedHeaders, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowedOrigin := resolveAllowedOrigin(origin, allowedOrigins, cfg.AllowCredentials)
		if allowedOrigin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			if allowedOrigin != "*" {
				c.Writer.Header().Add("Vary", "Origin")
			}
		}
		if cfg.AllowCredentials {
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", headersHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", methodsHeader)
		if cfg.MaxAge > 0 {
			c.Writer.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func resolveAllowedOrigin(origin string, allowedOrigins []string, allowCredentials bool) string {
	if len(allowedOrigins) == 0 {
		return ""
	}
	for _, allowed := range allowedOrigins {
		if allowed == "*" {
			if allowCredentials && origin != "" {
				return origin
			}
			return "*"
		}
	}
	if origin == "" {
		return ""
	}
	for _, allowed := range allowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

// RequestIDMiddleware 请求 ID 中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)
		c.Next()
	}
}

// LoggerMiddleware 结构化请求日志中间件
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.L()
	}
	sugar := logger.Sugar()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log := sugar.With(
			"request_id", getRequestID(c),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
		if len(c.Errors) > 0 {
			log.Errorw("request", "errors", c.Errors.String())
			return
		}
		log.Infow("request")
	}
}

func getRequestID(c *gin.Context) string {
	value, ok := c.Get(requestIDKey)
	if !ok {
		return ""
	}
	if requestID, ok := value.(string); ok {
		return requestID
	}
	return ""
}

// OperatorClaims 运营端 JWT 声明
type OperatorClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// OperatorAuthMiddleware 运营端 JWT 鉴权中间件
func OperatorAuthMiddleware(secretKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secretKey == "" {
			response.Unauthorized(c, "operator auth secret is not configured")
			c.Abort()
			return
		}
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "authorization header is missing")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if !(len(parts) == 2 && parts[0] == "Bearer") {
			response.Unauthorized(c, "authorization header must be a bearer token")
			c.Abort()
			return
		}

		options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
		if strings.TrimSpace(issuer) != "" {
			options = append(options, jwt.WithIssuer(strings.TrimSpace(issuer)))
		}
		parser := jwt.NewParser(options...)
		claims := &OperatorClaims{}
		token, err := parser.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(secretKey), nil
		})
		operatorID := strings.TrimSpace(claims.Subject)
		if err != nil || !token.Valid || operatorID == "" {
			response.Unauthorized(c, "token is invalid or expired")
			c.Abort()
			return
		}

		c.Set(operatorIDContextKey, operatorID)
		c.Set(operatorRolesContextKey, claims.Roles)
		c.Next()
	}
}

// OperatorRBACMiddleware 运营端 RBAC 鉴权中间件
func OperatorRBACMiddleware(authzService *authz.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authzService == nil {
			logger.Errorw("operator_rbac_service_unavailable")
			response.Unauthorized(c, "unauthorized")
			c.Abort()
			return
		}

		operatorID := c.GetString(operatorIDContextKey)
		if operatorID == "" {
			response.Unauthorized(c, "unauthorized")
			c.Abort()
			return
		}
		var roles []string
		if raw, ok := c.Get(operatorRolesContextKey); ok {
			if value, typeOK := raw.([]string); typeOK {
				roles = value
			}
		}

		resource := c.FullPath()
		if strings.TrimSpace(resource) == "" {
			resource = c.Request.URL.Path
		}

		allowed, err := authzService.EnforceOperator(operatorID, roles, resource, c.Request.Method)
		if err != nil {
			logger.Errorw("operator_rbac_enforce_failed",
				"operator_id", operatorID,
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"error", err,
			)
			response.Unauthorized(c, "unauthorized")
			c.Abort()
			return
		}
		if !allowed {
			logger.Warnw("operator_rbac_permission_denied",
				"operator_id", operatorID,
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"resource", authz.NormalizeObject(resource),
			)
			response.Forbidden(c, "forbidden")
			c.Abort()
			return
		}

		c.Next()
	}
}
