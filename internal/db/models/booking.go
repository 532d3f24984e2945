package models

import "time"

// BookingStatus is the lifecycle position of a booking.
type BookingStatus string

const (
	BookingUpcoming  BookingStatus = "upcoming"
	BookingOngoing   BookingStatus = "ongoing"
	BookingCompleted BookingStatus = "completed"
)

// Active reports whether a booking in this status still holds its interval.
func (s BookingStatus) Active() bool {
	return s == BookingUpcoming || s == BookingOngoing
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingUpcoming, BookingOngoing, BookingCompleted:
		return true
	}
	return false
}

// Booking represents a claim on a computer for the half-open interval
// [StartTime, EndTime).
type Booking struct {
	ID         string        `db:"id" json:"id"`
	UserID     string        `db:"user_id" json:"user_id"`
	ComputerID string        `db:"computer_id" json:"computer_id"`
	StartTime  time.Time     `db:"start_time" json:"start_time"`
	EndTime    time.Time     `db:"end_time" json:"end_time"`
	Purpose    string        `db:"purpose" json:"purpose"`
	Status     BookingStatus `db:"status" json:"status"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// Overlaps reports whether the booking intersects [start, end). Touching
// endpoints do not overlap.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartTime.Before(end) && b.EndTime.After(start)
}

// StatusAt returns the status the booking should hold at now.
func (b *Booking) StatusAt(now time.Time) BookingStatus {
	switch {
	case !now.Before(b.EndTime):
		return BookingCompleted
	case !now.Before(b.StartTime):
		return BookingOngoing
	default:
		return BookingUpcoming
	}
}

// BookingFilter narrows a booking listing. Zero values match everything.
type BookingFilter struct {
	ComputerID string
	UserID     string
	Status     BookingStatus
	From       *time.Time
	To         *time.Time
}

func (f BookingFilter) Matches(b *Booking) bool {
	if f.ComputerID != "" && b.ComputerID != f.ComputerID {
		return false
	}
	if f.UserID != "" && b.UserID != f.UserID {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.From != nil && b.StartTime.Before(*f.From) {
		return false
	}
	if f.To != nil && b.EndTime.After(*f.To) {
		return false
	}
	return true
}
