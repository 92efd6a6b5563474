package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Fahm-Gah/hesarak-backend/internal/model"
	"github.com/Fahm-Gah/hesarak-backend/internal/schedule"
)

// TripRepo reads trip templates together with their terminals, stops and
// bus.  Times of day are returned as "HH:MM" strings; the calendar date
// never enters a trip template.
type TripRepo struct {
	db *sql.DB
}

// NewTripRepo returns a new TripRepo bound to the given database.
func NewTripRepo(db *sql.DB) *TripRepo { return &TripRepo{db: db} }

const tripSelect = `SELECT
		t.id, t.name,
		TIME_FORMAT(t.departure_time, '%H:%i'),
		COALESCE(TIME_FORMAT(t.arrival_time, '%H:%i'), ''),
		t.frequency, COALESCE(t.days, ''), t.price, t.is_active, t.created_at, t.updated_at,
		ft.id, ft.name, ft.province_id, fp.name,
		tt.id, tt.name, tt.province_id, tp.name,
		b.id, b.bus_type_id, b.name, b.plate_number
	FROM trips t
	JOIN terminals ft ON ft.id = t.from_terminal_id
	JOIN provinces fp ON fp.id = ft.province_id
	JOIN terminals tt ON tt.id = t.to_terminal_id
	JOIN provinces tp ON tp.id = tt.province_id
	JOIN buses b      ON b.id = t.bus_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (model.TripSchedule, error) {
	var (
		t    model.TripSchedule
		freq string
		days string
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.DepartureTime, &t.ArrivalTime,
		&freq, &days, &t.Price, &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
		&t.From.ID, &t.From.Name, &t.From.ProvinceID, &t.From.Province,
		&t.To.ID, &t.To.Name, &t.To.ProvinceID, &t.To.Province,
		&t.Bus.ID, &t.Bus.BusTypeID, &t.Bus.Name, &t.Bus.PlateNumber,
	)
	if err != nil {
		return model.TripSchedule{}, err
	}
	t.Frequency = model.Frequency(freq)
	if days != "" {
		parsed, err := schedule.ParseDays(days)
		if err != nil {
			return model.TripSchedule{}, fmt.Errorf("trip %d: %w", t.ID, err)
		}
		t.Days = parsed
	}
	return t, nil
}

// TripByID returns the trip with the given id, stops included.
func (r *TripRepo) TripByID(ctx context.Context, id uint64) (model.TripSchedule, error) {
	t, err := scanTrip(r.db.QueryRowContext(ctx, tripSelect+` WHERE t.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.TripSchedule{}, ErrNotFound
	}
	if err != nil {
		return model.TripSchedule{}, err
	}
	trips := []model.TripSchedule{t}
	if err := r.attachStops(ctx, trips); err != nil {
		return model.TripSchedule{}, err
	}
	return trips[0], nil
}

// provinceArgs lets callers name a province either by name or by id.
func provinceArgs(p string) (string, uint64) {
	p = strings.TrimSpace(p)
	id, _ := strconv.ParseUint(p, 10, 64)
	return p, id
}

// SearchTrips lists active trips leaving from a terminal of fromProvince
// whose final destination or any stop lies in toProvince.
func (r *TripRepo) SearchTrips(ctx context.Context, fromProvince, toProvince string) ([]model.TripSchedule, error) {
	fromName, fromID := provinceArgs(fromProvince)
	toName, toID := provinceArgs(toProvince)
	q := tripSelect + `
	WHERE t.is_active = 1
	  AND (fp.name = ? OR fp.id = ?)
	  AND ((tp.name = ? OR tp.id = ?) OR EXISTS (
		SELECT 1 FROM trip_stops s
		JOIN terminals st ON st.id = s.terminal_id
		JOIN provinces sp ON sp.id = st.province_id
		WHERE s.trip_id = t.id AND (sp.name = ? OR sp.id = ?)))
	ORDER BY t.departure_time, t.id`
	rows, err := r.db.QueryContext(ctx, q, fromName, fromID, toName, toID, toName, toID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var trips []model.TripSchedule
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachStops(ctx, trips); err != nil {
		return nil, err
	}
	return trips, nil
}

// attachStops loads the ordered stops of every trip in one query.
func (r *TripRepo) attachStops(ctx context.Context, trips []model.TripSchedule) error {
	if len(trips) == 0 {
		return nil
	}
	index := make(map[uint64]int, len(trips))
	placeholders := make([]string, 0, len(trips))
	args := make([]any, 0, len(trips))
	for i, t := range trips {
		index[t.ID] = i
		placeholders = append(placeholders, "?")
		args = append(args, t.ID)
	}
	q := `SELECT s.trip_id, s.stop_order, TIME_FORMAT(s.stop_time, '%H:%i'),
			te.id, te.name, te.province_id, p.name
		FROM trip_stops s
		JOIN terminals te ON te.id = s.terminal_id
		JOIN provinces p  ON p.id = te.province_id
		WHERE s.trip_id IN (` + strings.Join(placeholders, ",") + `)
		ORDER BY s.trip_id, s.stop_order`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			tripID uint64
			stop   model.TripStop
		)
		if err := rows.Scan(&tripID, &stop.Order, &stop.Time,
			&stop.Terminal.ID, &stop.Terminal.Name, &stop.Terminal.ProvinceID, &stop.Terminal.Province); err != nil {
			return err
		}
		if i, ok := index[tripID]; ok {
			trips[i].Stops = append(trips[i].Stops, stop)
		}
	}
	return rows.Err()
}

// TerminalsInProvince returns every terminal of a province given by name
// or id.  ErrNotFound means the province has no terminals.
func (r *TripRepo) TerminalsInProvince(ctx context.Context, province string) ([]model.Terminal, error) {
	name, id := provinceArgs(province)
	rows, err := r.db.QueryContext(ctx, `SELECT te.id, te.name, te.province_id, p.name
		FROM terminals te
		JOIN provinces p ON p.id = te.province_id
		WHERE p.name = ? OR p.id = ?
		ORDER BY te.id`, name, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Terminal
	for rows.Next() {
		var t model.Terminal
		if err := rows.Scan(&t.ID, &t.Name, &t.ProvinceID, &t.Province); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}
