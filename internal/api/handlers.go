package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"comsy.local/booking-service/internal/booking"
	"comsy.local/booking-service/internal/db/models"
)

// Scheduler is the booking core as seen by the HTTP layer.
type Scheduler interface {
	Submit(ctx context.Context, caller booking.Caller, req booking.SubmitRequest) (*models.Booking, error)
	Cancel(ctx context.Context, caller booking.Caller, bookingID string) error
	List(ctx context.Context, caller booking.Caller, filter models.BookingFilter) ([]models.Booking, error)
	RunSweep(ctx context.Context, caller booking.Caller) (booking.SweepResult, error)
	RegisterComputer(ctx context.Context, caller booking.Caller, req booking.RegisterComputerRequest) (*models.Computer, error)
	ApproveComputer(ctx context.Context, caller booking.Caller, id string) (*models.Computer, error)
	SetMaintenance(ctx context.Context, caller booking.Caller, id string, enabled bool) (*models.Computer, error)
	GetComputer(ctx context.Context, caller booking.Caller, id string) (*models.Computer, error)
	ListComputers(ctx context.Context, caller booking.Caller, approvedOnly bool) ([]models.Computer, error)
}

type Handler struct {
	scheduler Scheduler
	logger    *zap.Logger
}

func NewHandler(scheduler Scheduler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{scheduler: scheduler, logger: logger}
}

type createBookingRequest struct {
	ComputerID string `json:"computer_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Purpose    string `json:"purpose"`
}

func (h *Handler) CreateBooking(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}

	b, err := h.scheduler.Submit(c.Request.Context(), callerFrom(c), booking.SubmitRequest{
		ComputerID: req.ComputerID,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Purpose:    req.Purpose,
	})
	if err != nil {
		respondWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *Handler) CancelBooking(c *gin.Context) {
	if err := h.scheduler.Cancel(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		respondWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Booking cancelled successfully"})
}

func (h *Handler) ListBookings(c *gin.Context) {
	filter, err := bookingFilter(c)
	if err != nil {
		respondWithError(c, h.logger, err)
		return
	}
	h.listBookings(c, filter)
}

// Attendance lists bookings held entirely inside [from, to].
func (h *Handler) Attendance(c *gin.Context) {
	if c.Query("from") == "" || c.Query("to") == "" {
		badRequest(c, "Please provide date range")
		return
	}
	filter, err := bookingFilter(c)
	if err != nil {
		respondWithError(c, h.logger, err)
		return
	}
	h.listBookings(c, filter)
}

func (h *Handler) listBookings(c *gin.Context, filter models.BookingFilter) {
	bookings, err := h.scheduler.List(c.Request.Context(), callerFrom(c), filter)
	if err != nil {
		respondWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, bookings)
}

func bookingFilter(c *gin.Context) (models.BookingFilter, error) {
	filter := models.BookingFilter{
		ComputerID: c.Query("computer_id"),
		UserID:     c.Query("user_id"),
		Status:     models.BookingStatus(c.Query("status")),
	}
	if v := c.Query("from"); v != "" {
		from, err := booking.ParseTimestamp("from", v)
		if err != nil {
			return filter, err
		}
		filter.From = &from
	}
	if v := c.Query("to"); v != "" {
		to, err := booking.ParseTimestamp("to", v)
		if err != nil {
			return filter, err
		}
		filter.To = &to
	}
	return filter, nil
}

func (h *Handler) RunSweep(c *gin.Context) {
	res, err := h.scheduler.RunSweep(c.Request.Context(), callerFrom(c))
	if err != nil {
		respondWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type registerComputerRequest struct {
	Name       string       `json:"name"`
	IPAddress  string       `json:"ip_address"`
	MACAddress string       `json:"mac_address"`
	Specs      models.Specs `json:"specs"`
}

func (h *Handler) RegisterComputer(c *gin.Context) {
	var req registerComputerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}

	computer, err := h.scheduler.RegisterComputer(c.Request.Context(), callerFrom(c), booking.RegisterComputerRequest{
		Name:       req.Name,
		IPAddress:  req.IPAddress,
		MACAddress: req.MACAddress,
		Specs:      req.Specs,
	})
	if err != nil {
		respondWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, computer)
}

func (h *Handler) ListComputers(c *gin.Context) {
	approvedOnly := true
	if v := c.Query("approved"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "approved must be true or false")
			return
		}
		approvedOnly = parsed
	}

	computers, err := h.scheduler.ListComputers(c.Request.Context(), callerFrom(c), approvedOnly)
	if err != nil {
		respondWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, computers)
}

func (h *Handler) GetComputer(c *gin.Context) {
	computer, err := h.scheduler.GetComputer(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		respondWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, computer)
}

func (h *Handler) ApproveComputer(c *gin.Context) {
	computer, err := h.scheduler.ApproveComputer(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		respondWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, computer)
}

func (h *Handler) SetMaintenance(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		badRequest(c, "Invalid request: enabled is required")
		return
	}

	computer, err := h.scheduler.SetMaintenance(c.Request.Context(), callerFrom(c), c.Param("id"), *req.Enabled)
	if err != nil {
		respondWithError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, computer)
}
