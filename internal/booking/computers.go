package booking

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"comsy.local/booking-service/internal/brokermsg"
	"comsy.local/booking-service/internal/db/models"
	"comsy.local/booking-service/internal/db/repos"
)

// RegisterComputerRequest describes a machine joining the lab.
type RegisterComputerRequest struct {
	Name       string
	IPAddress  string
	MACAddress string
	Specs      models.Specs
}

// RegisterComputer adds a pending, available computer. Name and MAC address
// must be unique.
func (s *Scheduler) RegisterComputer(ctx context.Context, caller Caller, req RegisterComputerRequest) (*models.Computer, error) {
	if err := Authorize(caller, OpRegisterComputer, ""); err != nil {
		return nil, err
	}

	c := &models.Computer{
		ID:                uuid.NewString(),
		Name:              strings.TrimSpace(req.Name),
		IPAddress:         strings.TrimSpace(req.IPAddress),
		MACAddress:        strings.ToLower(strings.TrimSpace(req.MACAddress)),
		Specs:             req.Specs,
		ApprovalState:     models.ApprovalPending,
		OperationalStatus: models.OperationalAvailable,
		CreatedAt:         s.Now(),
	}
	switch {
	case c.Name == "":
		return nil, invalid("name", "is required")
	case c.IPAddress == "":
		return nil, invalid("ip_address", "is required")
	case c.MACAddress == "":
		return nil, invalid("mac_address", "is required")
	}

	created, err := guarded(ctx, s.guard, func(ctx context.Context) (*models.Computer, error) {
		return s.computers.CreateComputer(ctx, c)
	})
	if errors.Is(err, repos.ErrDuplicate) {
		return nil, errors.Wrap(ErrConflict, "computer name or MAC address already registered")
	}
	if err != nil {
		return nil, errors.Wrap(err, "create computer")
	}

	s.logger.Info("computer registered",
		zap.String("computer_id", created.ID),
		zap.String("name", created.Name),
		zap.String("registered_by", caller.ID))
	return created, nil
}

// ApproveComputer makes a computer bookable. Approving twice is a no-op.
func (s *Scheduler) ApproveComputer(ctx context.Context, caller Caller, id string) (*models.Computer, error) {
	if err := Authorize(caller, OpApproveComputer, ""); err != nil {
		return nil, err
	}
	c, err := guarded(ctx, s.guard, func(ctx context.Context) (*models.Computer, error) {
		return s.computers.ApproveComputer(ctx, id)
	})
	if errors.Is(err, repos.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "computer %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "approve computer")
	}
	s.logger.Info("computer approved", zap.String("computer_id", id), zap.String("approved_by", caller.ID))
	return c, nil
}

// SetMaintenance is the explicit maintenance toggle. Releasing maintenance
// derives the status from the computer's ongoing bookings.
func (s *Scheduler) SetMaintenance(ctx context.Context, caller Caller, id string, enabled bool) (*models.Computer, error) {
	if err := Authorize(caller, OpSetMaintenance, ""); err != nil {
		return nil, err
	}

	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	current, err := s.getComputer(ctx, id)
	if err != nil {
		return nil, err
	}

	want := models.OperationalMaintenance
	if !enabled {
		if _, err := s.sweepLocked(ctx, s.Now()); err != nil {
			return nil, err
		}
		ongoing, err := guarded(ctx, s.guard, func(ctx context.Context) ([]models.Booking, error) {
			return s.bookings.ListBookings(ctx, models.BookingFilter{ComputerID: id, Status: models.BookingOngoing})
		})
		if err != nil {
			return nil, errors.Wrap(err, "list ongoing bookings")
		}
		want = derivedStatus(len(ongoing) > 0)
	}

	updated, err := guarded(ctx, s.guard, func(ctx context.Context) (*models.Computer, error) {
		return s.computers.SetOperationalStatus(ctx, id, want)
	})
	if errors.Is(err, repos.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "computer %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "set operational status")
	}

	if current.OperationalStatus != updated.OperationalStatus {
		s.logger.Info("computer status changed",
			zap.String("computer_id", id),
			zap.String("from", string(current.OperationalStatus)),
			zap.String("to", string(updated.OperationalStatus)),
			zap.String("changed_by", caller.ID))
		s.publishComputerStatus(id, updated.OperationalStatus)
	}
	return updated, nil
}

// GetComputer returns one computer.
func (s *Scheduler) GetComputer(ctx context.Context, caller Caller, id string) (*models.Computer, error) {
	if err := Authorize(caller, OpReadComputers, ""); err != nil {
		return nil, err
	}
	return s.getComputer(ctx, id)
}

// ListComputers returns all computers, or only approved ones.
func (s *Scheduler) ListComputers(ctx context.Context, caller Caller, approvedOnly bool) ([]models.Computer, error) {
	if err := Authorize(caller, OpReadComputers, ""); err != nil {
		return nil, err
	}
	computers, err := guarded(ctx, s.guard, func(ctx context.Context) ([]models.Computer, error) {
		return s.computers.ListComputers(ctx, approvedOnly)
	})
	if err != nil {
		return nil, errors.Wrap(err, "list computers")
	}
	return computers, nil
}

func (s *Scheduler) getComputer(ctx context.Context, id string) (*models.Computer, error) {
	c, err := guarded(ctx, s.guard, func(ctx context.Context) (*models.Computer, error) {
		return s.computers.GetComputer(ctx, id)
	})
	if errors.Is(err, repos.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "computer %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get computer")
	}
	return c, nil
}

func (s *Scheduler) publishComputerStatus(id string, status models.OperationalStatus) {
	s.publish(brokermsg.ComputerStatusChangedMessage{
		ComputerID: id,
		Status:     string(status),
		OccurredAt: s.Now().Unix(),
	}, brokermsg.TopicComputerStatusChanged)
}
