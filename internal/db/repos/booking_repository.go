package repos

import (
	"context"
	"fmt"
	"strings"
	"time"

	"comsy.local/booking-service/internal/db/models"

	"github.com/jmoiron/sqlx"
)

// BookingRepository handles database operations for bookings.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// CreateBooking inserts a booking. The bookings_no_overlap exclusion
// constraint rejects a second active booking on the same interval with
// ErrOverlap.
func (r *BookingRepository) CreateBooking(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	var created models.Booking
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO bookings (id, user_id, computer_id, start_time, end_time, purpose, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING *`,
		b.ID, b.UserID, b.ComputerID, b.StartTime, b.EndTime, b.Purpose, b.Status, b.CreatedAt,
	).StructScan(&created)
	if err != nil {
		return nil, translate(err)
	}
	return &created, nil
}

// GetBooking retrieves a booking by ID
func (r *BookingRepository) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	if err := r.db.GetContext(ctx, &b, `SELECT * FROM bookings WHERE id = $1`, id); err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

// FindOverlapping returns the upcoming and ongoing bookings on computerID
// that intersect [start, end).
func (r *BookingRepository) FindOverlapping(ctx context.Context, computerID string, start, end time.Time) ([]models.Booking, error) {
	bookings := []models.Booking{}
	err := r.db.SelectContext(ctx, &bookings,
		`SELECT * FROM bookings
		 WHERE computer_id = $1
		 AND status IN ('upcoming', 'ongoing')
		 AND start_time < $3
		 AND end_time > $2
		 ORDER BY start_time`,
		computerID, start, end,
	)
	if err != nil {
		return nil, translate(err)
	}
	return bookings, nil
}

// DeleteUpcomingBooking removes the booking only while it is still
// upcoming. It reports whether a row was deleted.
func (r *BookingRepository) DeleteUpcomingBooking(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM bookings WHERE id = $1 AND status = 'upcoming'`, id)
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListBookings returns the bookings matching filter ordered by start time.
func (r *BookingRepository) ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.ComputerID != "" {
		add("computer_id = $%d", filter.ComputerID)
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.From != nil {
		add("start_time >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("end_time <= $%d", *filter.To)
	}

	query := `SELECT * FROM bookings`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY start_time, id`

	bookings := []models.Booking{}
	if err := r.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, translate(err)
	}
	return bookings, nil
}

// StartDueBookings moves upcoming bookings whose interval contains now to
// ongoing and returns them.
func (r *BookingRepository) StartDueBookings(ctx context.Context, now time.Time) ([]models.Booking, error) {
	started := []models.Booking{}
	err := r.db.SelectContext(ctx, &started,
		`UPDATE bookings SET status = 'ongoing'
		 WHERE status = 'upcoming'
		 AND start_time <= $1
		 AND end_time > $1
		 RETURNING *`,
		now,
	)
	if err != nil {
		return nil, translate(err)
	}
	return started, nil
}

// CompleteEndedBookings moves upcoming and ongoing bookings whose end has
// been reached to completed and returns them.
func (r *BookingRepository) CompleteEndedBookings(ctx context.Context, now time.Time) ([]models.Booking, error) {
	completed := []models.Booking{}
	err := r.db.SelectContext(ctx, &completed,
		`UPDATE bookings SET status = 'completed'
		 WHERE status IN ('upcoming', 'ongoing')
		 AND end_time <= $1
		 RETURNING *`,
		now,
	)
	if err != nil {
		return nil, translate(err)
	}
	return completed, nil
}

// OngoingComputerIDs lists the computers holding at least one ongoing booking.
func (r *BookingRepository) OngoingComputerIDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	err := r.db.SelectContext(ctx, &ids,
		`SELECT DISTINCT computer_id FROM bookings WHERE status = 'ongoing'`)
	if err != nil {
		return nil, translate(err)
	}
	return ids, nil
}
