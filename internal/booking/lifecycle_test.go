package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comsy.local/booking-service/internal/db/models"
)

func TestRunSweeperAdvancesWithoutTraffic(t *testing.T) {
	f := newFixture(t)
	pc := f.approvedComputer(t, "r1")

	b, err := f.submit(alice, pc.ID, ts(10, 0), ts(11, 0))
	require.NoError(t, err)
	f.clock.Set(day(10, 5))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.RunSweeper(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool {
		return f.booking(t, b.ID).Status == models.BookingOngoing
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.OperationalInUse, f.computer(t, pc.ID).OperationalStatus)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestBookingStatusAt(t *testing.T) {
	b := &models.Booking{StartTime: day(10, 0), EndTime: day(11, 0)}

	assert.Equal(t, models.BookingUpcoming, b.StatusAt(day(10, 0).Add(-time.Nanosecond)))
	assert.Equal(t, models.BookingOngoing, b.StatusAt(day(10, 0)))
	assert.Equal(t, models.BookingOngoing, b.StatusAt(day(11, 0).Add(-time.Nanosecond)))
	assert.Equal(t, models.BookingCompleted, b.StatusAt(day(11, 0)))
}
