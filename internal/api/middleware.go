package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"comsy.local/booking-service/internal/auth"
	"comsy.local/booking-service/internal/booking"
)

const callerKey = "caller"

// TokenParser verifies a bearer token.
type TokenParser interface {
	ParseToken(token string) (*auth.Claims, error)
}

// RequestRecorder counts handled requests.
type RequestRecorder interface {
	RequestHandled(route, method string, code int)
}

// Authenticate rejects requests without a valid bearer token and stores the
// caller on the context.
func Authenticate(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "Missing token", Code: "unauthenticated"})
			return
		}
		claims, err := tokens.ParseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "Invalid token", Code: "unauthenticated"})
			return
		}
		c.Set(callerKey, claims.Caller())
		c.Next()
	}
}

// Require runs the authorization check for op before the handler, for
// operations that have no owned target.
func Require(op booking.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := booking.Authorize(callerFrom(c), op, ""); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: err.Error(), Code: "forbidden"})
			return
		}
		c.Next()
	}
}

func callerFrom(c *gin.Context) booking.Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(booking.Caller); ok {
			return caller
		}
	}
	return booking.Caller{}
}

// RequestTimeout bounds the request context.
func RequestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogger logs every request once it has been handled.
func RequestLogger(logger *zap.Logger, recorder RequestRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("remote_addr", c.ClientIP()),
		}
		if caller := callerFrom(c); caller.ID != "" {
			fields = append(fields, zap.String("caller_id", caller.ID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.Last().Error()))
		}
		logger.Info("HTTP request", fields...)

		if recorder != nil {
			recorder.RequestHandled(route, c.Request.Method, status)
		}
	}
}
