package repository

import "database/sql"

// Store bundles the repositories the booking service reads and writes
// through.  All of them share one connection pool.
type Store struct {
	*TripRepo
	*LayoutRepo
	*ReservationRepo
	*UserRepo
}

// NewStore builds a Store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{
		TripRepo:        NewTripRepo(db),
		LayoutRepo:      NewLayoutRepo(db),
		ReservationRepo: NewReservationRepo(db),
		UserRepo:        NewUserRepo(db),
	}
}
