package booking

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"comsy.local/booking-service/internal/brokermsg"
	"comsy.local/booking-service/internal/db/models"
)

// SweepResult counts the writes one sweep made.
type SweepResult struct {
	Transitioned int `json:"transitioned"`
	Reflagged    int `json:"reflagged"`
}

// Sweep advances bookings to the status they should hold at now and
// re-derives each computer's operational status from its ongoing bookings.
// Computers in maintenance are left alone. A second sweep at the same now
// with no writes in between changes nothing.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	return s.sweepLocked(ctx, now)
}

// RunSweep is the administrative entry point for Sweep.
func (s *Scheduler) RunSweep(ctx context.Context, caller Caller) (SweepResult, error) {
	if err := Authorize(caller, OpSweep, ""); err != nil {
		return SweepResult{}, err
	}
	return s.Sweep(ctx, s.Now())
}

func (s *Scheduler) sweepLocked(ctx context.Context, now time.Time) (SweepResult, error) {
	began := time.Now()
	var res SweepResult

	started, err := guarded(ctx, s.guard, func(ctx context.Context) ([]models.Booking, error) {
		return s.bookings.StartDueBookings(ctx, now)
	})
	if err != nil {
		return res, errors.Wrap(err, "start due bookings")
	}
	completed, err := guarded(ctx, s.guard, func(ctx context.Context) ([]models.Booking, error) {
		return s.bookings.CompleteEndedBookings(ctx, now)
	})
	if err != nil {
		return res, errors.Wrap(err, "complete ended bookings")
	}
	res.Transitioned = len(started) + len(completed)

	for i := range started {
		s.publishBooking(brokermsg.TopicBookingStarted, &started[i])
	}
	for i := range completed {
		s.publishBooking(brokermsg.TopicBookingCompleted, &completed[i])
	}

	res.Reflagged, err = s.reflagComputers(ctx)
	if err != nil {
		return res, err
	}

	if res.Transitioned > 0 || res.Reflagged > 0 {
		s.logger.Info("lifecycle sweep applied",
			zap.Time("now", now),
			zap.Int("started", len(started)),
			zap.Int("completed", len(completed)),
			zap.Int("reflagged", res.Reflagged))
	}
	if s.metrics != nil {
		s.metrics.SweepCompleted(res.Transitioned, res.Reflagged, time.Since(began))
	}
	return res, nil
}

func (s *Scheduler) reflagComputers(ctx context.Context) (int, error) {
	ongoing, err := guarded(ctx, s.guard, func(ctx context.Context) ([]string, error) {
		return s.bookings.OngoingComputerIDs(ctx)
	})
	if err != nil {
		return 0, errors.Wrap(err, "list ongoing computers")
	}
	busy := make(map[string]bool, len(ongoing))
	for _, id := range ongoing {
		busy[id] = true
	}

	computers, err := guarded(ctx, s.guard, func(ctx context.Context) ([]models.Computer, error) {
		return s.computers.ListComputers(ctx, false)
	})
	if err != nil {
		return 0, errors.Wrap(err, "list computers")
	}

	reflagged := 0
	for _, c := range computers {
		want := derivedStatus(busy[c.ID])
		if c.OperationalStatus == want || c.OperationalStatus == models.OperationalMaintenance {
			continue
		}
		changed, err := guarded(ctx, s.guard, func(ctx context.Context) (bool, error) {
			return s.computers.ReflagOperationalStatus(ctx, c.ID, want)
		})
		if err != nil {
			return reflagged, errors.Wrapf(err, "reflag computer %s", c.ID)
		}
		if changed {
			reflagged++
			s.publishComputerStatus(c.ID, want)
		}
	}
	return reflagged, nil
}

func derivedStatus(busy bool) models.OperationalStatus {
	if busy {
		return models.OperationalInUse
	}
	return models.OperationalAvailable
}

// RunSweeper sweeps every interval until ctx is done.
func (s *Scheduler) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("lifecycle sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("lifecycle sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx, s.Now()); err != nil && ctx.Err() == nil {
				s.logger.Error("lifecycle sweep failed", zap.Error(err))
			}
		}
	}
}
