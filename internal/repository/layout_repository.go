package repository

import (
	"context"
	"database/sql"

	"github.com/Fahm-Gah/hesarak-backend/internal/model"
)

// LayoutRepo reads bus interior layouts.  Layouts are authored by
// operators outside this service and only read here.
type LayoutRepo struct {
	db *sql.DB
}

// NewLayoutRepo returns a new LayoutRepo bound to the given database.
func NewLayoutRepo(db *sql.DB) *LayoutRepo { return &LayoutRepo{db: db} }

// ElementsByBusType returns every element of a bus type ordered by grid
// position.  ErrNotFound means the bus type has no layout.
func (r *LayoutRepo) ElementsByBusType(ctx context.Context, busTypeID uint64) ([]model.BusLayoutElement, error) {
	const q = `SELECT id, bus_type_id, element_type, row_no, col_no, row_span, col_span,
			COALESCE(seat_number, ''), is_disabled
		FROM bus_layout_elements
		WHERE bus_type_id = ?
		ORDER BY row_no, col_no, id`
	rows, err := r.db.QueryContext(ctx, q, busTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.BusLayoutElement
	for rows.Next() {
		var (
			e    model.BusLayoutElement
			kind string
		)
		if err := rows.Scan(&e.ID, &e.BusTypeID, &kind, &e.Row, &e.Col, &e.RowSpan, &e.ColSpan,
			&e.SeatNumber, &e.Disabled); err != nil {
			return nil, err
		}
		e.Type = model.ElementType(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}
