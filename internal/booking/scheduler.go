// Package booking admits, cancels and lists computer bookings, and advances
// their lifecycle against the clock.
package booking

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"comsy.local/booking-service/internal/brokermsg"
	"comsy.local/booking-service/internal/common"
	"comsy.local/booking-service/internal/db/models"
	"comsy.local/booking-service/internal/db/repos"
	"comsy.local/booking-service/internal/lock"
)

// BookingStore is the reservation store.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) (*models.Booking, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	FindOverlapping(ctx context.Context, computerID string, start, end time.Time) ([]models.Booking, error)
	DeleteUpcomingBooking(ctx context.Context, id string) (bool, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error)
	StartDueBookings(ctx context.Context, now time.Time) ([]models.Booking, error)
	CompleteEndedBookings(ctx context.Context, now time.Time) ([]models.Booking, error)
	OngoingComputerIDs(ctx context.Context) ([]string, error)
}

// ComputerRegistry is the resource registry.
type ComputerRegistry interface {
	CreateComputer(ctx context.Context, c *models.Computer) (*models.Computer, error)
	GetComputer(ctx context.Context, id string) (*models.Computer, error)
	ListComputers(ctx context.Context, approvedOnly bool) ([]models.Computer, error)
	ApproveComputer(ctx context.Context, id string) (*models.Computer, error)
	SetOperationalStatus(ctx context.Context, id string, status models.OperationalStatus) (*models.Computer, error)
	ReflagOperationalStatus(ctx context.Context, id string, status models.OperationalStatus) (bool, error)
}

// Publisher delivers lifecycle events. Delivery is best-effort.
type Publisher interface {
	Publish(message interface{}, routingKey string) error
}

// Metrics receives scheduler outcomes.
type Metrics interface {
	AdmissionResult(outcome string)
	CancelResult(outcome string)
	SweepCompleted(transitioned, reflagged int, elapsed time.Duration)
}

type Options struct {
	Bookings  BookingStore
	Computers ComputerRegistry
	// Locker serializes admissions per computer. Defaults to an in-process
	// lock.
	Locker lock.Locker
	// Guard wraps store calls. Defaults to a guard that never retries.
	Guard     *common.Guard
	Publisher Publisher
	Metrics   Metrics
	Logger    *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Scheduler is the only writer of booking status and computer operational
// status.
type Scheduler struct {
	bookings  BookingStore
	computers ComputerRegistry
	locker    lock.Locker
	guard     *common.Guard
	publisher Publisher
	metrics   Metrics
	logger    *zap.Logger
	now       func() time.Time

	// sweepMu serializes sweeps and the maintenance release that recomputes
	// a status the sweep also writes.
	sweepMu sync.Mutex
}

func NewScheduler(opts Options) *Scheduler {
	s := &Scheduler{
		bookings:  opts.Bookings,
		computers: opts.Computers,
		locker:    opts.Locker,
		guard:     opts.Guard,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.locker == nil {
		s.locker = lock.NewLocalLocker()
	}
	if s.guard == nil {
		s.guard = common.NewGuard(common.GuardSettings{Name: "store", Logger: s.logger})
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Now returns the scheduler's current time.
func (s *Scheduler) Now() time.Time {
	return s.now().UTC()
}

// SubmitRequest carries the raw booking fields as received.
type SubmitRequest struct {
	ComputerID string
	StartTime  string
	EndTime    string
	Purpose    string
}

type bookingFields struct {
	computerID string
	start      time.Time
	end        time.Time
	purpose    string
}

func validateSubmit(req SubmitRequest) (bookingFields, error) {
	f := bookingFields{
		computerID: strings.TrimSpace(req.ComputerID),
		purpose:    strings.TrimSpace(req.Purpose),
	}
	if f.computerID == "" {
		return f, invalid("computer_id", "is required")
	}
	var err error
	if f.start, err = ParseTimestamp("start_time", req.StartTime); err != nil {
		return f, err
	}
	if f.end, err = ParseTimestamp("end_time", req.EndTime); err != nil {
		return f, err
	}
	if f.purpose == "" {
		return f, invalid("purpose", "is required")
	}
	if !f.start.Before(f.end) {
		return f, invalid("end_time", "must be after start_time")
	}
	return f, nil
}

// Submit admits a booking if the computer is approved and no upcoming or
// ongoing booking on it intersects the requested interval.
func (s *Scheduler) Submit(ctx context.Context, caller Caller, req SubmitRequest) (*models.Booking, error) {
	b, err := s.submit(ctx, caller, req)
	s.recordAdmission(err)
	return b, err
}

func (s *Scheduler) submit(ctx context.Context, caller Caller, req SubmitRequest) (*models.Booking, error) {
	if err := Authorize(caller, OpSubmitBooking, ""); err != nil {
		return nil, err
	}
	f, err := validateSubmit(req)
	if err != nil {
		return nil, err
	}
	if _, err := s.Sweep(ctx, s.Now()); err != nil {
		return nil, err
	}

	release, err := s.locker.Lock(ctx, f.computerID)
	if err != nil {
		return nil, errors.Wrapf(err, "lock computer %s", f.computerID)
	}
	defer release()

	computer, err := guarded(ctx, s.guard, func(ctx context.Context) (*models.Computer, error) {
		return s.computers.GetComputer(ctx, f.computerID)
	})
	if errors.Is(err, repos.ErrNotFound) {
		return nil, errors.Wrapf(ErrResourceUnavailable, "computer %s does not exist", f.computerID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get computer")
	}
	if !computer.Approved() {
		return nil, errors.Wrapf(ErrResourceUnavailable, "computer %s is %s", f.computerID, computer.ApprovalState)
	}

	overlapping, err := guarded(ctx, s.guard, func(ctx context.Context) ([]models.Booking, error) {
		return s.bookings.FindOverlapping(ctx, f.computerID, f.start, f.end)
	})
	if err != nil {
		return nil, errors.Wrap(err, "find overlapping bookings")
	}
	if len(overlapping) > 0 {
		return nil, errors.Wrapf(ErrConflict, "overlaps booking %s", overlapping[0].ID)
	}

	candidate := &models.Booking{
		ID:         uuid.NewString(),
		UserID:     caller.ID,
		ComputerID: f.computerID,
		StartTime:  f.start,
		EndTime:    f.end,
		Purpose:    f.purpose,
		Status:     models.BookingUpcoming,
		CreatedAt:  s.Now(),
	}
	created, err := guarded(ctx, s.guard, func(ctx context.Context) (*models.Booking, error) {
		return s.bookings.CreateBooking(ctx, candidate)
	})
	if errors.Is(err, repos.ErrOverlap) {
		// Another instance won the race past our lock.
		return nil, errors.Wrap(ErrConflict, "overlapping booking admitted concurrently")
	}
	if err != nil {
		return nil, errors.Wrap(err, "create booking")
	}

	s.logger.Info("booking admitted",
		zap.String("booking_id", created.ID),
		zap.String("computer_id", created.ComputerID),
		zap.String("user_id", created.UserID),
		zap.Time("start_time", created.StartTime),
		zap.Time("end_time", created.EndTime))
	s.publishBooking(brokermsg.TopicBookingCreated, created)
	return created, nil
}

// Cancel deletes an upcoming booking. Only its owner or an admin may cancel.
func (s *Scheduler) Cancel(ctx context.Context, caller Caller, bookingID string) error {
	err := s.cancel(ctx, caller, bookingID)
	if s.metrics != nil {
		s.metrics.CancelResult(outcome(err))
	}
	return err
}

func (s *Scheduler) cancel(ctx context.Context, caller Caller, bookingID string) error {
	if _, err := s.Sweep(ctx, s.Now()); err != nil {
		return err
	}

	existing, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if err := Authorize(caller, OpCancelBooking, existing.UserID); err != nil {
		return err
	}
	if existing.Status != models.BookingUpcoming {
		return errors.Wrapf(ErrInvalidState, "only upcoming bookings can be cancelled, booking is %s", existing.Status)
	}

	deleted, err := guarded(ctx, s.guard, func(ctx context.Context) (bool, error) {
		return s.bookings.DeleteUpcomingBooking(ctx, bookingID)
	})
	if err != nil {
		return errors.Wrap(err, "delete booking")
	}
	if !deleted {
		// Started or removed between the read and the delete.
		current, err := s.getBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		return errors.Wrapf(ErrInvalidState, "only upcoming bookings can be cancelled, booking is %s", current.Status)
	}

	s.logger.Info("booking cancelled",
		zap.String("booking_id", bookingID),
		zap.String("cancelled_by", caller.ID))
	s.publishBooking(brokermsg.TopicBookingCancelled, existing)
	return nil
}

func (s *Scheduler) getBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := guarded(ctx, s.guard, func(ctx context.Context) (*models.Booking, error) {
		return s.bookings.GetBooking(ctx, id)
	})
	if errors.Is(err, repos.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "booking %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get booking")
	}
	return b, nil
}

// List returns bookings matching filter ordered by start time, after
// bringing statuses up to date.
func (s *Scheduler) List(ctx context.Context, caller Caller, filter models.BookingFilter) ([]models.Booking, error) {
	if err := Authorize(caller, OpListBookings, ""); err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalid("status", "must be one of upcoming, ongoing, completed")
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, invalid("to", "must not be before from")
	}
	if _, err := s.Sweep(ctx, s.Now()); err != nil {
		return nil, err
	}
	bookings, err := guarded(ctx, s.guard, func(ctx context.Context) ([]models.Booking, error) {
		return s.bookings.ListBookings(ctx, filter)
	})
	if err != nil {
		return nil, errors.Wrap(err, "list bookings")
	}
	return bookings, nil
}

func (s *Scheduler) publishBooking(topic string, b *models.Booking) {
	s.publish(brokermsg.BookingMessage{
		BookingID:  b.ID,
		UserID:     b.UserID,
		ComputerID: b.ComputerID,
		StartTime:  b.StartTime,
		EndTime:    b.EndTime,
		Status:     string(b.Status),
		OccurredAt: s.Now().Unix(),
	}, topic)
}

func (s *Scheduler) publish(message interface{}, topic string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(message, topic); err != nil {
		s.logger.Warn("failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
}

func (s *Scheduler) recordAdmission(err error) {
	if s.metrics != nil {
		s.metrics.AdmissionResult(outcome(err))
	}
}

// outcome labels an error for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrResourceUnavailable):
		return "resource_unavailable"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}

func guarded[T any](ctx context.Context, g *common.Guard, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
