package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Fahm-Gah/hesarak-backend/internal/calendar"
	"github.com/Fahm-Gah/hesarak-backend/internal/model"
)

// ReservationRepo stores reservations and their seat holds.  A
// reservation row keeps the booked seats as a JSON list for audit; each
// active seat additionally has a reservation_seats row under
// UNIQUE (trip_id, travel_date, seat_id), which is the last line of
// defence against double booking.  All timestamp fields are assumed to be
// stored in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// ReservePlan is what a DecideFunc asks Reserve to write.  Cancel, when
// non-zero, is cancelled before Insert is stored.
type ReservePlan struct {
	Insert model.Reservation
	Cancel uint64
}

// DecideFunc inspects the active reservations of a trip day, loaded while
// the trip row is locked, and returns the writes to perform or an error
// that aborts the transaction.
type DecideFunc func(active []model.Reservation) (ReservePlan, error)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const reservationColumns = `id, ticket_number, trip_id, travel_date, booked_seats, booked_by,
		passenger_name, passenger_phone, price_per_seat, total_price, payment_method,
		is_paid, is_cancelled, payment_deadline, created_at, updated_at`

func scanReservation(row rowScanner) (model.Reservation, error) {
	var (
		res      model.Reservation
		seats    []byte
		method   string
		deadline sql.NullTime
	)
	err := row.Scan(&res.ID, &res.TicketNumber, &res.TripID, &res.Date, &seats, &res.BookedBy,
		&res.Passenger.FullName, &res.Passenger.Phone, &res.PricePerSeat, &res.TotalPrice, &method,
		&res.IsPaid, &res.IsCancelled, &deadline, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return model.Reservation{}, err
	}
	res.PaymentMethod = model.PaymentMethod(method)
	if deadline.Valid {
		d := deadline.Time
		res.PaymentDeadline = &d
	}
	refs, err := DecodeSeatRefs(seats)
	if err != nil {
		return model.Reservation{}, fmt.Errorf("reservation %d: %w", res.ID, err)
	}
	res.BookedSeats = refs
	return res, nil
}

func collectReservations(rows *sql.Rows) ([]model.Reservation, error) {
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// DecodeSeatRefs turns the stored booked_seats JSON into SeatRefs.  Older
// rows stored seats as numbers, numeric strings, {"id": n} objects or
// {"seat": {"id": n}} objects; all of them normalise to SeatRef here so
// nothing downstream sees the raw shapes.
func DecodeSeatRefs(raw []byte) ([]model.SeatRef, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("booked_seats: %w", err)
	}
	out := make([]model.SeatRef, 0, len(items))
	for _, item := range items {
		id, err := seatID(item)
		if err != nil {
			return nil, err
		}
		out = append(out, model.SeatRef{ID: id})
	}
	return out, nil
}

func seatID(item json.RawMessage) (uint64, error) {
	var n uint64
	if err := json.Unmarshal(item, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(item, &s); err == nil {
		id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("booked_seats: bad seat id %q", s)
		}
		return id, nil
	}
	var obj struct {
		ID   json.RawMessage `json:"id"`
		Seat json.RawMessage `json:"seat"`
	}
	if err := json.Unmarshal(item, &obj); err == nil {
		switch {
		case len(obj.ID) > 0:
			return seatID(obj.ID)
		case len(obj.Seat) > 0:
			return seatID(obj.Seat)
		}
	}
	return 0, fmt.Errorf("booked_seats: unrecognised seat reference %s", string(item))
}

// EncodeSeatRefs is the storage form of booked_seats: a JSON list of ids.
func EncodeSeatRefs(refs []model.SeatRef) ([]byte, error) {
	ids := make([]uint64, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	return json.Marshal(ids)
}

// ActiveReservations returns the non-cancelled reservations of a trip on
// the civil day of date.  The day is matched as an inclusive UTC range.
func (r *ReservationRepo) ActiveReservations(ctx context.Context, tripID uint64, date time.Time) ([]model.Reservation, error) {
	return activeForTripDay(ctx, r.db, tripID, date)
}

func activeForTripDay(ctx context.Context, q queryer, tripID uint64, date time.Time) ([]model.Reservation, error) {
	start, end := calendar.DayRange(date)
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE trip_id = ? AND travel_date BETWEEN ? AND ? AND is_cancelled = 0
		ORDER BY id`
	rows, err := q.QueryContext(ctx, query, tripID, start, end)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// Reserve runs the booking transaction: lock the trip row, load the
// active reservations of the day, let decide choose, then cancel and
// insert as planned.  Errors returned by decide are passed through
// unchanged.  A duplicate seat row yields ErrSeatTaken and a duplicate
// ticket number ErrDuplicateTicket.
func (r *ReservationRepo) Reserve(ctx context.Context, tripID uint64, date time.Time, decide DecideFunc) (model.Reservation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Reservation{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var locked uint64
	err = tx.QueryRowContext(ctx, `SELECT id FROM trips WHERE id = ? FOR UPDATE`, tripID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, ErrNotFound
	}
	if err != nil {
		return model.Reservation{}, err
	}

	active, err := activeForTripDay(ctx, tx, tripID, date)
	if err != nil {
		return model.Reservation{}, err
	}
	plan, err := decide(active)
	if err != nil {
		return model.Reservation{}, err
	}

	now := time.Now().UTC()
	if plan.Cancel != 0 {
		if err := cancelTx(ctx, tx, plan.Cancel, now); err != nil {
			return model.Reservation{}, err
		}
	}
	res := plan.Insert
	res.CreatedAt, res.UpdatedAt = now, now
	if err := createTx(ctx, tx, &res); err != nil {
		return model.Reservation{}, err
	}
	if err := createSeatsTx(ctx, tx, res); err != nil {
		return model.Reservation{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Reservation{}, err
	}
	committed = true
	return res, nil
}

// createTx inserts the reservation row and sets res.ID.
func createTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	seats, err := EncodeSeatRefs(res.BookedSeats)
	if err != nil {
		return err
	}
	var deadline any
	if res.PaymentDeadline != nil {
		deadline = res.PaymentDeadline.UTC()
	}
	const q = `INSERT INTO reservations (ticket_number, trip_id, travel_date, booked_seats, booked_by,
			passenger_name, passenger_phone, price_per_seat, total_price, payment_method,
			is_paid, is_cancelled, payment_deadline, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, q, res.TicketNumber, res.TripID, res.Date, string(seats), res.BookedBy,
		res.Passenger.FullName, res.Passenger.Phone, res.PricePerSeat, res.TotalPrice, string(res.PaymentMethod),
		res.IsPaid, res.IsCancelled, deadline, res.CreatedAt, res.UpdatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateTicket
		}
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	return nil
}

// createSeatsTx inserts one reservation_seats row per booked seat in a
// single statement.
func createSeatsTx(ctx context.Context, tx *sql.Tx, res model.Reservation) error {
	if len(res.BookedSeats) == 0 {
		return nil
	}
	query := `INSERT INTO reservation_seats (reservation_id, trip_id, travel_date, seat_id) VALUES `
	args := make([]any, 0, len(res.BookedSeats)*4)
	for i, s := range res.BookedSeats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?)"
		args = append(args, res.ID, res.TripID, res.Date, s.ID)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if isDuplicateKey(err) {
			return ErrSeatTaken
		}
		return err
	}
	return nil
}

// cancelTx flips is_cancelled and frees the seat rows.  Cancelling a
// cancelled reservation is a no-op.
func cancelTx(ctx context.Context, tx *sql.Tx, id uint64, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE reservations SET is_cancelled = 1, updated_at = ? WHERE id = ? AND is_cancelled = 0`,
		now, id); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM reservation_seats WHERE reservation_id = ?`, id)
	return err
}

// CancelReservation cancels a reservation and frees its seats atomically.
func (r *ReservationRepo) CancelReservation(ctx context.Context, id uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := cancelTx(ctx, tx, id, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// MarkPaid sets is_paid on an active reservation.  It returns ErrConflict
// for a cancelled reservation and ErrNotFound for an unknown id; marking a
// paid reservation again succeeds.
func (r *ReservationRepo) MarkPaid(ctx context.Context, id uint64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE reservations SET is_paid = 1, updated_at = ? WHERE id = ? AND is_cancelled = 0 AND is_paid = 0`,
		time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	var cancelled, paid bool
	err = r.db.QueryRowContext(ctx, `SELECT is_cancelled, is_paid FROM reservations WHERE id = ?`, id).Scan(&cancelled, &paid)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if cancelled {
		return ErrConflict
	}
	return nil
}

// ReservationByTicket looks a reservation up by ticket number.
func (r *ReservationRepo) ReservationByTicket(ctx context.Context, number string) (model.Reservation, error) {
	res, err := scanReservation(r.db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE ticket_number = ? LIMIT 1`, number))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, ErrNotFound
	}
	return res, err
}

// ReservationsByUser lists every reservation a user booked, cancelled
// ones included, newest travel date first.
func (r *ReservationRepo) ReservationsByUser(ctx context.Context, userID uint64) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE booked_by = ? ORDER BY travel_date DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}
