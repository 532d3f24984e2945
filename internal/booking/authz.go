package booking

import "github.com/pkg/errors"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Caller is an already-authenticated identity.
type Caller struct {
	ID   string
	Role Role
}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// Operation names an action for authorization.
type Operation string

const (
	OpSubmitBooking    Operation = "booking.submit"
	OpListBookings     Operation = "booking.list"
	OpCancelBooking    Operation = "booking.cancel"
	OpReadComputers    Operation = "computer.read"
	OpRegisterComputer Operation = "computer.register"
	OpApproveComputer  Operation = "computer.approve"
	OpSetMaintenance   Operation = "computer.maintenance"
	OpSweep            Operation = "lifecycle.sweep"
)

var adminOnly = map[Operation]bool{
	OpRegisterComputer: true,
	OpApproveComputer:  true,
	OpSetMaintenance:   true,
	OpSweep:            true,
}

// Authorize is the single capability check. owner is the user id owning the
// target record, empty when the operation has no owned target. Owned targets
// are open to their owner and to admins.
func Authorize(c Caller, op Operation, owner string) error {
	if c.ID == "" {
		return errors.Wrapf(ErrForbidden, "%s requires an authenticated caller", op)
	}
	if c.IsAdmin() {
		return nil
	}
	if adminOnly[op] {
		return errors.Wrapf(ErrForbidden, "%s requires role %s", op, RoleAdmin)
	}
	if owner != "" && owner != c.ID {
		return errors.Wrapf(ErrForbidden, "%s is restricted to the owner", op)
	}
	return nil
}
