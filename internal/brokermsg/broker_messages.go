package brokermsg

import "time"

// Topic name constants used as routing keys on the booking exchange.
const (
	// Booking related topics
	TopicBookingCreated   = "booking.created"
	TopicBookingCancelled = "booking.cancelled"
	TopicBookingStarted   = "booking.started"
	TopicBookingCompleted = "booking.completed"

	// Computer related topics
	TopicComputerStatusChanged = "computer.status_changed"
)

// Message structures

// BookingMessage is published on every booking lifecycle topic. Status is
// the status the booking holds after the event.
type BookingMessage struct {
	BookingID  string    `json:"booking_id"`
	UserID     string    `json:"user_id"`
	ComputerID string    `json:"computer_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Status     string    `json:"status"`
	OccurredAt int64     `json:"occurred_at"` // Unix timestamp
}

// ComputerStatusChangedMessage is published when a computer's operational
// status changes, whether by sweep or by the maintenance toggle.
type ComputerStatusChangedMessage struct {
	ComputerID string `json:"computer_id"`
	Status     string `json:"status"`
	OccurredAt int64  `json:"occurred_at"` // Unix timestamp
}
