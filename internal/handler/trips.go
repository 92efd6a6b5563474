package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Fahm-Gah/hesarak-backend/internal/booking"
	"github.com/Fahm-Gah/hesarak-backend/internal/logger"
	"github.com/Fahm-Gah/hesarak-backend/internal/middleware"
)

// Inventory is the read side of the booking service.
type Inventory interface {
	Search(ctx context.Context, q booking.SearchQuery) ([]booking.SearchResult, error)
	SeatMap(ctx context.Context, q booking.SeatMapQuery) (*booking.SeatMapView, error)
}

// TripHandler serves trip search and seat maps.
type TripHandler struct {
	Inv Inventory
	Log *logger.Logger
}

func NewTripHandler(inv Inventory, log *logger.Logger) *TripHandler {
	return &TripHandler{Inv: inv, Log: log}
}

// Search handles GET /trips/search?from=&to=&date=.  from and to are
// province names or ids; date is Gregorian or Jalaali.
func (h *TripHandler) Search(c echo.Context) error {
	q := booking.SearchQuery{
		From: c.QueryParam("from"),
		To:   c.QueryParam("to"),
		Date: c.QueryParam("date"),
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	results, err := h.Inv.Search(ctx, q)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if results == nil {
		results = []booking.SearchResult{}
	}
	return c.JSON(http.StatusOK, echo.Map{"trips": results})
}

// SeatMap handles GET /trips/:id/date/:date.  With a bearer token the
// response carries the caller's remaining allowance; ?editing=<ticket>
// marks that ticket's seats as the caller's own.
func (h *TripHandler) SeatMap(c echo.Context) error {
	tripID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || tripID == 0 {
		return fail(c, http.StatusBadRequest, "validation_failed", "invalid trip id", echo.Map{"field": "id"})
	}
	q := booking.SeatMapQuery{
		TripID:        tripID,
		Date:          c.Param("date"),
		EditingTicket: c.QueryParam("editing"),
	}
	if id, ok := middleware.UserID(c); ok {
		q.Viewer = &booking.Actor{ID: id, Role: middleware.Role(c)}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	view, err := h.Inv.SeatMap(ctx, q)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, view)
}
