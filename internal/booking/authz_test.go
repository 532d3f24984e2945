package booking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		caller  Caller
		op      Operation
		owner   string
		allowed bool
	}{
		{"anonymous", Caller{}, OpListBookings, "", false},
		{"user lists", alice, OpListBookings, "", true},
		{"user submits", alice, OpSubmitBooking, "", true},
		{"owner cancels", alice, OpCancelBooking, "alice", true},
		{"stranger cancels", bob, OpCancelBooking, "alice", false},
		{"admin cancels", admin, OpCancelBooking, "alice", true},
		{"user registers computer", alice, OpRegisterComputer, "", false},
		{"user sweeps", alice, OpSweep, "", false},
		{"admin toggles maintenance", admin, OpSetMaintenance, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.caller, tt.op, tt.owner)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}

func TestAdministrativeOperationsRequireAdmin(t *testing.T) {
	f := newFixture(t)
	pc := f.approvedComputer(t, "r1")
	ctx := context.Background()

	_, err := f.sched.RegisterComputer(ctx, alice, RegisterComputerRequest{Name: "x", IPAddress: "1.1.1.1", MACAddress: "m"})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.sched.ApproveComputer(ctx, alice, pc.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.sched.SetMaintenance(ctx, alice, pc.ID, true)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.sched.RunSweep(ctx, alice)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRegisterComputer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.sched.RegisterComputer(ctx, admin, RegisterComputerRequest{
		Name: "lab-01", IPAddress: "10.0.0.1", MACAddress: "AA:BB:CC:DD:EE:01",
	})
	assert.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:01", c.MACAddress)
	assert.False(t, c.Approved())

	_, err = f.sched.RegisterComputer(ctx, admin, RegisterComputerRequest{
		Name: "lab-01", IPAddress: "10.0.0.2", MACAddress: "aa:bb:cc:dd:ee:02",
	})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.sched.RegisterComputer(ctx, admin, RegisterComputerRequest{Name: "lab-02", IPAddress: "10.0.0.2"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.sched.ApproveComputer(ctx, admin, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	approved, err := f.sched.ListComputers(ctx, alice, true)
	assert.NoError(t, err)
	assert.Empty(t, approved)

	_, err = f.sched.ApproveComputer(ctx, admin, c.ID)
	assert.NoError(t, err)
	_, err = f.sched.ApproveComputer(ctx, admin, c.ID)
	assert.NoError(t, err)

	approved, err = f.sched.ListComputers(ctx, alice, true)
	assert.NoError(t, err)
	assert.Len(t, approved, 1)
}
