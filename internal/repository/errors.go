// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// booking service to distinguish between different failure scenarios
// without inspecting driver errors.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup by key matches no row.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an update cannot be applied because the
// row is in a conflicting state, such as paying for a cancelled ticket.
var ErrConflict = errors.New("conflict")

// ErrSeatTaken is returned when inserting reservation_seats violates the
// (trip_id, travel_date, seat_id) unique index: another reservation won
// the seat first.
var ErrSeatTaken = errors.New("seat already reserved")

// ErrDuplicateTicket is returned when a generated ticket number collides
// with an existing one.  Callers retry with a fresh number.
var ErrDuplicateTicket = errors.New("duplicate ticket number")

// ErrDuplicateEmail is returned when registering an email that exists.
var ErrDuplicateEmail = errors.New("email already registered")

const mysqlDuplicateEntry = 1062

// isDuplicateKey reports whether err is a MySQL duplicate-key violation.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
