package repos

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a lookup by id matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrOverlap is returned when an insert would break the per-computer
	// interval exclusion among upcoming and ongoing bookings.
	ErrOverlap = errors.New("interval overlaps an active booking")
	// ErrDuplicate is returned when a unique column already holds the value.
	ErrDuplicate = errors.New("record already exists")
)

const (
	pqUniqueViolation        = "23505"
	pqExclusionViolation     = "23P01"
	pqSerializationFailure   = "40001"
	pqDeadlockDetected       = "40P01"
	pqTooManyConnections     = "53300"
	pqAdminShutdown          = "57P01"
	pqCannotConnectNow       = "57P03"
	pqConnectionExceptionCls = "08"
)

// translate maps driver errors onto the package sentinels. Errors without a
// mapping are returned unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqExclusionViolation:
			return ErrOverlap
		case pqUniqueViolation:
			return ErrDuplicate
		}
	}
	return err
}

// IsTransient reports whether err is a connection-level failure worth
// retrying. Constraint violations and missing rows are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if string(pqErr.Code.Class()) == pqConnectionExceptionCls {
			return true
		}
		switch pqErr.Code {
		case pqSerializationFailure, pqDeadlockDetected, pqTooManyConnections, pqAdminShutdown, pqCannotConnectNow:
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
