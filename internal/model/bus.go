package model

// ElementType names what occupies a cell of a bus interior grid.
type ElementType string

const (
	ElementSeat   ElementType = "seat"
	ElementDriver ElementType = "driver"
	ElementWC     ElementType = "wc"
	ElementDoor   ElementType = "door"
)

// Valid reports whether t is one of the known element types.
func (t ElementType) Valid() bool {
	switch t {
	case ElementSeat, ElementDriver, ElementWC, ElementDoor:
		return true
	}
	return false
}

// BusType groups buses that share one interior layout.  The layout is
// authored once by an operator and is treated as immutable while tickets
// are being sold.
//
// Fields:
//  ID   – primary key identifier.
//  Name – display name (e.g. "VIP 25").
type BusType struct {
	ID   uint64 // bus_types.id
	Name string // bus_types.name
}

// Bus is a physical vehicle assigned to trips.  Its BusTypeID decides
// which layout the seat engine reads.
//
// Fields:
//  ID          – primary key identifier.
//  BusTypeID   – layout used by this bus.
//  Name        – operator facing name.
//  PlateNumber – registration plate.
type Bus struct {
	ID          uint64 // buses.id
	BusTypeID   uint64 // buses.bus_type_id
	Name        string // buses.name
	PlateNumber string // buses.plate_number
}

// BusLayoutElement is one cell (or spanning region) of a bus interior.
// Row and Col are 1-indexed; RowSpan and ColSpan default to 1.  Only
// seats carry a SeatNumber and the Disabled flag.  A disabled seat is
// permanently out of inventory regardless of bookings.
type BusLayoutElement struct {
	ID         uint64      // bus_layout_elements.id
	BusTypeID  uint64      // bus_layout_elements.bus_type_id
	Type       ElementType // bus_layout_elements.element_type
	Row        int         // bus_layout_elements.row_no
	Col        int         // bus_layout_elements.col_no
	RowSpan    int         // bus_layout_elements.row_span
	ColSpan    int         // bus_layout_elements.col_span
	SeatNumber string      // bus_layout_elements.seat_number (seats only)
	Disabled   bool        // bus_layout_elements.is_disabled (seats only)
}

// IsSeat reports whether the element is a seat.
func (e BusLayoutElement) IsSeat() bool { return e.Type == ElementSeat }

// SeatRef is the normalised reference to a seat element.  Reservations
// store SeatRefs, never raw labels.
type SeatRef struct {
	ID uint64
}

// SeatRefs converts plain ids into SeatRefs.
func SeatRefs(ids []uint64) []SeatRef {
	out := make([]SeatRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, SeatRef{ID: id})
	}
	return out
}
