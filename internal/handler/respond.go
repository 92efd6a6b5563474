package handler

import (
	"errors"
	"net/http"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Fahm-Gah/hesarak-backend/internal/booking"
	"github.com/Fahm-Gah/hesarak-backend/internal/i18n"
	"github.com/Fahm-Gah/hesarak-backend/internal/logger"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Validator adapts validator/v10 to echo's Validator interface so handlers
// can call c.Validate on their request DTOs.
type Validator struct {
	v     *validator.Validate
	trans ut.Translator
}

// NewValidator also installs the Persian rule messages used in the
// details of a validation_failed response.
func NewValidator() *Validator {
	v := validator.New()
	trans, err := i18n.ValidationTranslator(v)
	if err != nil {
		panic(err)
	}
	return &Validator{v: v, trans: trans}
}

func (cv *Validator) Validate(i interface{}) error {
	return cv.v.Struct(i)
}

func (cv *Validator) message(fe validator.FieldError) string {
	if cv == nil {
		return fe.Error()
	}
	return fe.Translate(cv.trans)
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

func requestID(c echo.Context) string {
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return c.Request().Header.Get(echo.HeaderXRequestID)
}

func fail(c echo.Context, status int, code, msg string, details any) error {
	return failLocal(c, status, code, msg, i18n.Message(code), details)
}

// failLocal is fail with a rider-facing text other than the code's default.
func failLocal(c echo.Context, status int, code, msg, local string, details any) error {
	return c.JSON(status, errorBody{Error: msg, Code: code, Message: local, Details: details, RequestID: requestID(c)})
}

// bindAndValidate decodes the body into dst and runs the struct tags.
func bindAndValidate(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return fail(c, http.StatusBadRequest, "invalid_body", "invalid request body", nil)
	}
	if err := c.Validate(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			cv, _ := c.Echo().Validator.(*Validator)
			details := make([]fieldError, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, fieldError{
					Field:   strings.ToLower(fe.Field()),
					Rule:    fe.Tag(),
					Param:   fe.Param(),
					Message: cv.message(fe),
				})
			}
			return fail(c, http.StatusBadRequest, "validation_failed", "validation failed", details)
		}
		return fail(c, http.StatusBadRequest, "validation_failed", err.Error(), nil)
	}
	return nil
}

// respondError translates a booking error into its HTTP response.
// Unclassified errors are logged and reported as a generic 500.
func respondError(c echo.Context, log *logger.Logger, err error) error {
	var (
		verr booking.ValidationError
		nerr booking.NotFoundError
		cerr booking.ConflictError
		lerr booking.LimitError
		ferr booking.ForbiddenError
		ierr booking.InternalError
	)
	switch {
	case errors.Is(err, booking.ErrTripNotRunning):
		return fail(c, http.StatusNotFound, "trip_not_running", err.Error(), nil)
	case errors.As(err, &verr):
		var details any
		if verr.Field != "" {
			details = echo.Map{"field": verr.Field}
		}
		return fail(c, http.StatusBadRequest, "validation_failed", verr.Error(), details)
	case errors.As(err, &nerr):
		details := echo.Map{"resource": nerr.Resource}
		if len(nerr.IDs) > 0 {
			details["ids"] = nerr.IDs
		}
		return fail(c, http.StatusNotFound, "not_found", nerr.Error(), details)
	case errors.As(err, &lerr):
		return failLocal(c, http.StatusConflict, "limit_exceeded", lerr.Error(), i18n.LimitExceeded(lerr.Remaining),
			echo.Map{"max": lerr.Max, "remaining": lerr.Remaining})
	case errors.As(err, &cerr):
		if len(cerr.Seats) > 0 {
			return failLocal(c, http.StatusConflict, "seats_taken", cerr.Error(), i18n.SeatsTaken(cerr.Seats),
				echo.Map{"seats": cerr.Seats})
		}
		return fail(c, http.StatusConflict, "conflict", cerr.Error(), nil)
	case errors.As(err, &ferr):
		return fail(c, http.StatusForbidden, "forbidden", ferr.Error(), nil)
	}

	msg := "internal error"
	if errors.As(err, &ierr) && ierr.Msg != "" {
		msg = ierr.Msg
	}
	if log != nil {
		log.WithRequestID(requestID(c)).ErrorWithContext(c.Request().Context(), "request failed", err,
			map[string]interface{}{"method": c.Request().Method, "path": c.Path()})
	}
	return fail(c, http.StatusInternalServerError, "internal", msg, nil)
}
