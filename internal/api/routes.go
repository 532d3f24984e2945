package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"comsy.local/booking-service/internal/booking"
)

type RouterConfig struct {
	Scheduler      Scheduler
	Tokens         TokenParser
	Live           http.Handler
	Metrics        http.Handler
	Recorder       RequestRecorder
	Logger         *zap.Logger
	RequestTimeout time.Duration
	// Ready reports whether backing services are reachable. Nil means
	// always ready.
	Ready func(ctx context.Context) error
}

func SetupRoutes(r *gin.Engine, cfg RouterConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := NewHandler(cfg.Scheduler, logger)

	r.Use(RequestLogger(logger, cfg.Recorder))

	r.GET("/healthz", func(c *gin.Context) {
		if cfg.Ready != nil {
			if err := cfg.Ready(c.Request.Context()); err != nil {
				logger.Warn("readiness check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	if cfg.Live != nil {
		r.GET("/ws", gin.WrapH(cfg.Live))
	}

	v1 := r.Group("/v1", RequestTimeout(cfg.RequestTimeout), Authenticate(cfg.Tokens))
	{
		bookings := v1.Group("/bookings")
		bookings.POST("", handler.CreateBooking)
		bookings.GET("", handler.ListBookings)
		bookings.GET("/attendance", handler.Attendance)
		bookings.DELETE("/:id", handler.CancelBooking)

		computers := v1.Group("/computers")
		computers.POST("", Require(booking.OpRegisterComputer), handler.RegisterComputer)
		computers.GET("", handler.ListComputers)
		computers.GET("/:id", handler.GetComputer)
		computers.PATCH("/:id/approve", Require(booking.OpApproveComputer), handler.ApproveComputer)
		computers.PATCH("/:id/maintenance", Require(booking.OpSetMaintenance), handler.SetMaintenance)

		v1.POST("/lifecycle/sweep", Require(booking.OpSweep), handler.RunSweep)
	}
}
