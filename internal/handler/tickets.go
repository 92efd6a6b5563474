package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Fahm-Gah/hesarak-backend/internal/booking"
	"github.com/Fahm-Gah/hesarak-backend/internal/logger"
	"github.com/Fahm-Gah/hesarak-backend/internal/middleware"
	"github.com/Fahm-Gah/hesarak-backend/internal/model"
)

// Bookings is the write side of the booking service plus ticket lookups.
type Bookings interface {
	CreateReservation(ctx context.Context, req booking.Request, actor booking.Actor) (*booking.Receipt, error)
	Ticket(ctx context.Context, number string, actor booking.Actor) (*booking.TicketDetail, error)
	MyTickets(ctx context.Context, actor booking.Actor) ([]booking.Receipt, error)
	Cancel(ctx context.Context, number string, actor booking.Actor) (*booking.Receipt, error)
	ConfirmPayment(ctx context.Context, number string, actor booking.Actor) (*booking.Receipt, error)
	ChangeSeats(ctx context.Context, number string, seatIDs []uint64, actor booking.Actor) (*booking.Receipt, error)
}

// PDFRenderer turns a ticket into a printable document and its file name.
type PDFRenderer func(booking.TicketDetail) ([]byte, string, error)

// TicketHandler serves booking and ticket management.  All routes require
// JWTAuth; the pay route additionally requires the operator role.
type TicketHandler struct {
	Svc       Bookings
	RenderPDF PDFRenderer
	Log       *logger.Logger
}

func NewTicketHandler(svc Bookings, render PDFRenderer, log *logger.Logger) *TicketHandler {
	return &TicketHandler{Svc: svc, RenderPDF: render, Log: log}
}

type passengerReq struct {
	FullName string `json:"full_name" validate:"required,max=120"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
}

type bookReq struct {
	TripID        uint64        `json:"trip_id" validate:"required"`
	Date          string        `json:"date" validate:"required"`
	SeatIDs       []uint64      `json:"seat_ids" validate:"required,min=1,max=2,unique,dive,required"`
	PaymentMethod string        `json:"payment_method" validate:"omitempty,oneof=cash online"`
	Passenger     *passengerReq `json:"passenger" validate:"omitempty"`
}

type changeSeatsReq struct {
	SeatIDs []uint64 `json:"seat_ids" validate:"required,min=1,max=2,unique,dive,required"`
}

func actor(c echo.Context) (booking.Actor, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		return booking.Actor{}, false
	}
	return booking.Actor{ID: id, Role: middleware.Role(c)}, true
}

func unauthorized(c echo.Context) error {
	return fail(c, http.StatusUnauthorized, "unauthorized", "unauthorized", nil)
}

// Book handles POST /book-ticket.
func (h *TicketHandler) Book(c echo.Context) error {
	who, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	var req bookReq
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	in := booking.Request{
		TripID:        req.TripID,
		Date:          req.Date,
		SeatIDs:       req.SeatIDs,
		PaymentMethod: model.PaymentMethod(strings.ToLower(req.PaymentMethod)),
	}
	if req.Passenger != nil {
		in.Passenger = &model.Passenger{FullName: req.Passenger.FullName, Phone: req.Passenger.Phone}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	receipt, err := h.Svc.CreateReservation(ctx, in, who)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, receipt)
}

// List handles GET /tickets: the caller's tickets, newest first.
func (h *TicketHandler) List(c echo.Context) error {
	who, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	tickets, err := h.Svc.MyTickets(ctx, who)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if tickets == nil {
		tickets = []booking.Receipt{}
	}
	return c.JSON(http.StatusOK, echo.Map{"tickets": tickets})
}

// Get handles GET /tickets/:number.
func (h *TicketHandler) Get(c echo.Context) error {
	who, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	detail, err := h.Svc.Ticket(ctx, c.Param("number"), who)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, detail.Receipt)
}

// PDF handles GET /tickets/:number/pdf.
func (h *TicketHandler) PDF(c echo.Context) error {
	who, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	detail, err := h.Svc.Ticket(ctx, c.Param("number"), who)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	data, name, err := h.RenderPDF(*detail)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Blob(http.StatusOK, "application/pdf", data)
}

// Cancel handles POST /tickets/:number/cancel.
func (h *TicketHandler) Cancel(c echo.Context) error {
	who, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	receipt, err := h.Svc.Cancel(ctx, c.Param("number"), who)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, receipt)
}

// ChangeSeats handles PUT /tickets/:number/seats.  The old reservation is
// replaced atomically; the response is the new ticket.
func (h *TicketHandler) ChangeSeats(c echo.Context) error {
	who, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	var req changeSeatsReq
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	receipt, err := h.Svc.ChangeSeats(ctx, c.Param("number"), req.SeatIDs, who)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, receipt)
}

// Pay handles POST /tickets/:number/pay (operators only).
func (h *TicketHandler) Pay(c echo.Context) error {
	who, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	receipt, err := h.Svc.ConfirmPayment(ctx, c.Param("number"), who)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, receipt)
}
