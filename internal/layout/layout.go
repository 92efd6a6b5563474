// Package layout validates a bus type's interior grid and answers seat
// lookups against it.  A Layout is immutable once built; callers share it
// freely between goroutines.
package layout

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Fahm-Gah/hesarak-backend/internal/model"
)

// Problem describes one offending element found while building a Layout.
type Problem struct {
	ElementID uint64
	Reason    string
}

// Error is returned by New when the element list violates the grid rules.
// It lists every offending element, not just the first.
type Error struct {
	Problems []Problem
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("element %d: %s", p.ElementID, p.Reason))
	}
	return "invalid bus layout: " + strings.Join(parts, "; ")
}

// Seat is a seat element as seen by the rest of the engine.
type Seat struct {
	ID       uint64
	Number   string
	Row      int
	Col      int
	RowSpan  int
	ColSpan  int
	Disabled bool
}

// Layout is a validated bus interior.
type Layout struct {
	elements []model.BusLayoutElement
	seats    []Seat
	byID     map[uint64]int
	rows     int
	cols     int
}

type cell struct{ row, col int }

// New validates elements and returns the resulting Layout.  Spans of zero
// are normalised to one.  Elements are kept in (row, col) order.
func New(elements []model.BusLayoutElement) (*Layout, error) {
	els := make([]model.BusLayoutElement, len(elements))
	copy(els, elements)
	sort.SliceStable(els, func(i, j int) bool {
		if els[i].Row != els[j].Row {
			return els[i].Row < els[j].Row
		}
		return els[i].Col < els[j].Col
	})

	var problems []Problem
	occupied := make(map[cell]uint64)
	numbers := make(map[string]uint64)
	l := &Layout{byID: make(map[uint64]int)}

	for i := range els {
		e := &els[i]
		if e.RowSpan == 0 {
			e.RowSpan = 1
		}
		if e.ColSpan == 0 {
			e.ColSpan = 1
		}
		if !e.Type.Valid() {
			problems = append(problems, Problem{e.ID, fmt.Sprintf("unknown element type %q", e.Type)})
			continue
		}
		if e.Row < 1 || e.Col < 1 {
			problems = append(problems, Problem{e.ID, "position must be 1-indexed"})
			continue
		}
		if e.RowSpan < 0 || e.ColSpan < 0 {
			problems = append(problems, Problem{e.ID, "span must be positive"})
			continue
		}
		if e.IsSeat() {
			num := strings.TrimSpace(e.SeatNumber)
			if num == "" {
				problems = append(problems, Problem{e.ID, "seat without a seat number"})
				continue
			}
			if other, dup := numbers[num]; dup {
				problems = append(problems, Problem{e.ID, fmt.Sprintf("seat number %q already used by element %d", num, other)})
				continue
			}
			numbers[num] = e.ID
			if _, dup := l.byID[e.ID]; dup {
				problems = append(problems, Problem{e.ID, "duplicate element id"})
				continue
			}
		}

		overlap := false
		for r := e.Row; r < e.Row+e.RowSpan; r++ {
			for c := e.Col; c < e.Col+e.ColSpan; c++ {
				if other, taken := occupied[cell{r, c}]; taken {
					problems = append(problems, Problem{e.ID, fmt.Sprintf("cell (%d,%d) overlaps element %d", r, c, other)})
					overlap = true
					break
				}
			}
			if overlap {
				break
			}
		}
		if overlap {
			continue
		}
		for r := e.Row; r < e.Row+e.RowSpan; r++ {
			for c := e.Col; c < e.Col+e.ColSpan; c++ {
				occupied[cell{r, c}] = e.ID
			}
		}
		if last := e.Row + e.RowSpan - 1; last > l.rows {
			l.rows = last
		}
		if last := e.Col + e.ColSpan - 1; last > l.cols {
			l.cols = last
		}

		l.elements = append(l.elements, *e)
		if e.IsSeat() {
			l.byID[e.ID] = len(l.seats)
			l.seats = append(l.seats, Seat{
				ID:       e.ID,
				Number:   strings.TrimSpace(e.SeatNumber),
				Row:      e.Row,
				Col:      e.Col,
				RowSpan:  e.RowSpan,
				ColSpan:  e.ColSpan,
				Disabled: e.Disabled,
			})
		}
	}

	if len(problems) > 0 {
		return nil, &Error{Problems: problems}
	}
	return l, nil
}

// Elements returns every element of the grid, fixtures included.
func (l *Layout) Elements() []model.BusLayoutElement {
	out := make([]model.BusLayoutElement, len(l.elements))
	copy(out, l.elements)
	return out
}

// Seats returns all seats, disabled ones included.
func (l *Layout) Seats() []Seat {
	out := make([]Seat, len(l.seats))
	copy(out, l.seats)
	return out
}

// Fixtures returns the non-seat elements (driver, wc, door).
func (l *Layout) Fixtures() []model.BusLayoutElement {
	var out []model.BusLayoutElement
	for _, e := range l.elements {
		if !e.IsSeat() {
			out = append(out, e)
		}
	}
	return out
}

// Capacity is the number of seats that are not disabled.
func (l *Layout) Capacity() int {
	n := 0
	for _, s := range l.seats {
		if !s.Disabled {
			n++
		}
	}
	return n
}

// Dimensions returns the number of rows and columns covered by the grid.
func (l *Layout) Dimensions() (rows, cols int) { return l.rows, l.cols }

// Seat looks up a seat by element id.
func (l *Layout) Seat(id uint64) (Seat, bool) {
	i, ok := l.byID[id]
	if !ok {
		return Seat{}, false
	}
	return l.seats[i], true
}

// Resolve splits ids into bookable seats and invalid ids.  An id is
// invalid when it is not a seat of this layout or the seat is disabled.
// Both results keep the order of ids.
func (l *Layout) Resolve(ids []uint64) (valid []Seat, invalid []uint64) {
	for _, id := range ids {
		s, ok := l.Seat(id)
		if !ok || s.Disabled {
			invalid = append(invalid, id)
			continue
		}
		valid = append(valid, s)
	}
	return valid, invalid
}

// Numbers returns the seat numbers for ids, skipping ids the layout does
// not know.
func (l *Layout) Numbers(ids []uint64) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if s, ok := l.Seat(id); ok {
			out = append(out, s.Number)
		}
	}
	return out
}
