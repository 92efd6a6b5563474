package router

import (
	"github.com/labstack/echo/v4"

	"github.com/Fahm-Gah/hesarak-backend/internal/handler"
	"github.com/Fahm-Gah/hesarak-backend/internal/middleware"
	"github.com/Fahm-Gah/hesarak-backend/internal/model"
)

// RegisterTickets registers booking and ticket management.  Every route
// requires a valid JWT; mutations also pass through the rate limiter.
// Ownership is checked by the booking service, so customers and operators
// share these routes.  Confirming payment is operator-only.
func RegisterTickets(e *echo.Echo, h *handler.TicketHandler, auth, limit echo.MiddlewareFunc) {
	e.POST("/book-ticket", h.Book, auth, limit)

	g := e.Group("/tickets", auth)
	g.GET("", h.List)
	g.GET("/:number", h.Get)
	g.GET("/:number/pdf", h.PDF)
	g.POST("/:number/cancel", h.Cancel, limit)
	g.PUT("/:number/seats", h.ChangeSeats, limit)
	g.POST("/:number/pay", h.Pay, middleware.RequireRole(model.RoleOperator))
}
