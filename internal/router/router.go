package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/Fahm-Gah/hesarak-backend/internal/handler"
	"github.com/Fahm-Gah/hesarak-backend/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the identity routes.  Register and login are
// public; /me requires a valid access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, auth echo.MiddlewareFunc) {
	g := e.Group("/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)

	e.GET("/me", a.Me, auth)
}

// RegisterTrips registers trip search and the seat map.  Both are public;
// the seat map identifies the caller when a bearer token is sent so it can
// report the remaining allowance.
func RegisterTrips(e *echo.Echo, h *handler.TripHandler, jwtSecret string) {
	g := e.Group("/trips")
	g.GET("/search", h.Search)
	g.GET("/:id/date/:date", h.SeatMap, middleware.OptionalJWT(jwtSecret))
}
