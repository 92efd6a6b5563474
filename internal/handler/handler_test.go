package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/Fahm-Gah/hesarak-backend/internal/booking"
	"github.com/Fahm-Gah/hesarak-backend/internal/config"
	"github.com/Fahm-Gah/hesarak-backend/internal/logger"
	"github.com/Fahm-Gah/hesarak-backend/internal/model"
	"github.com/Fahm-Gah/hesarak-backend/internal/repository"
	"github.com/Fahm-Gah/hesarak-backend/internal/utils"
)

type fakeBookings struct {
	gotReq   booking.Request
	gotActor booking.Actor
	gotSeats []uint64
	err      error
}

func (f *fakeBookings) CreateReservation(_ context.Context, req booking.Request, a booking.Actor) (*booking.Receipt, error) {
	f.gotReq, f.gotActor = req, a
	if f.err != nil {
		return nil, f.err
	}
	return &booking.Receipt{ID: 1, TicketNumber: "ABC123DEF456", SeatIDs: req.SeatIDs}, nil
}

func (f *fakeBookings) Ticket(_ context.Context, number string, a booking.Actor) (*booking.TicketDetail, error) {
	f.gotActor = a
	if f.err != nil {
		return nil, f.err
	}
	return &booking.TicketDetail{Receipt: booking.Receipt{TicketNumber: number}}, nil
}

func (f *fakeBookings) MyTickets(_ context.Context, a booking.Actor) ([]booking.Receipt, error) {
	f.gotActor = a
	return nil, f.err
}

func (f *fakeBookings) Cancel(_ context.Context, number string, a booking.Actor) (*booking.Receipt, error) {
	f.gotActor = a
	if f.err != nil {
		return nil, f.err
	}
	return &booking.Receipt{TicketNumber: number, IsCancelled: true}, nil
}

func (f *fakeBookings) ConfirmPayment(_ context.Context, number string, a booking.Actor) (*booking.Receipt, error) {
	f.gotActor = a
	if f.err != nil {
		return nil, f.err
	}
	return &booking.Receipt{TicketNumber: number, IsPaid: true}, nil
}

func (f *fakeBookings) ChangeSeats(_ context.Context, number string, ids []uint64, a booking.Actor) (*booking.Receipt, error) {
	f.gotActor, f.gotSeats = a, ids
	if f.err != nil {
		return nil, f.err
	}
	return &booking.Receipt{TicketNumber: "NEW000000001", SeatIDs: ids}, nil
}

type fakeInventory struct {
	gotSeatMap booking.SeatMapQuery
	gotSearch  booking.SearchQuery
	err        error
}

func (f *fakeInventory) Search(_ context.Context, q booking.SearchQuery) ([]booking.SearchResult, error) {
	f.gotSearch = q
	return nil, f.err
}

func (f *fakeInventory) SeatMap(_ context.Context, q booking.SeatMapQuery) (*booking.SeatMapView, error) {
	f.gotSeatMap = q
	if f.err != nil {
		return nil, f.err
	}
	return &booking.SeatMapView{Price: 500, MaxSeatsPerUser: 2}, nil
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	return e
}

// call runs h against a request; uid 0 means anonymous.
func call(t *testing.T, h echo.HandlerFunc, method, target, body string, uid uint64, role string, params ...string) *httptest.ResponseRecorder {
	t.Helper()
	e := newEcho()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) > 0 {
		names, values := make([]string, 0), make([]string, 0)
		for i := 0; i+1 < len(params); i += 2 {
			names = append(names, params[i])
			values = append(values, params[i+1])
		}
		c.SetParamNames(names...)
		c.SetParamValues(values...)
	}
	if uid != 0 {
		c.Set("user_id", uid)
		c.Set("role", role)
	}
	if err := h(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", booking.ValidationError{Field: "seat_ids", Msg: "pick 1 or 2 seats"}, http.StatusBadRequest, "validation_failed"},
		{"not running", booking.ValidationError{Field: "date", Err: booking.ErrTripNotRunning}, http.StatusNotFound, "trip_not_running"},
		{"not found", booking.NotFoundError{Resource: "seat", IDs: []uint64{99}}, http.StatusNotFound, "not_found"},
		{"seats taken", booking.ConflictError{Seats: []string{"A1"}}, http.StatusConflict, "seats_taken"},
		{"state conflict", booking.ConflictError{Resource: "ticket", Msg: "already cancelled"}, http.StatusConflict, "conflict"},
		{"limit", booking.LimitError{Max: 2, Remaining: 1}, http.StatusConflict, "limit_exceeded"},
		{"forbidden", booking.ForbiddenError{}, http.StatusForbidden, "forbidden"},
		{"internal", booking.InternalError{Msg: "trip has no price", Err: errors.New("price 0")}, http.StatusInternalServerError, "internal"},
		{"unknown", errors.New("db down"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := func(c echo.Context) error { return respondError(c, logger.Nop(), tc.err) }
			rec := call(t, h, http.MethodGet, "/", "", 0, "")
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if body := decode(t, rec); body["code"] != tc.code {
				t.Fatalf("code = %v, want %s", body["code"], tc.code)
			}
		})
	}
}

func TestRespondErrorHidesUnknownDetail(t *testing.T) {
	h := func(c echo.Context) error { return respondError(c, logger.Nop(), errors.New("dial tcp 10.0.0.5:3306")) }
	rec := call(t, h, http.MethodGet, "/", "", 0, "")
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Fatalf("internal detail leaked: %s", rec.Body.String())
	}
}

func TestRespondErrorLimitDetails(t *testing.T) {
	h := func(c echo.Context) error { return respondError(c, nil, booking.LimitError{Max: 2, Remaining: 1}) }
	body := decode(t, call(t, h, http.MethodGet, "/", "", 0, ""))
	details, _ := body["details"].(map[string]any)
	if details["remaining"] != float64(1) || details["max"] != float64(2) {
		t.Fatalf("details = %v", body["details"])
	}
}

func TestBookRequiresIdentity(t *testing.T) {
	h := NewTicketHandler(&fakeBookings{}, nil, logger.Nop())
	rec := call(t, h.Book, http.MethodPost, "/book-ticket", `{"trip_id":3,"date":"2024-03-25","seat_ids":[11]}`, 0, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestBookValidatesBody(t *testing.T) {
	cases := map[string]string{
		"three seats":    `{"trip_id":3,"date":"2024-03-25","seat_ids":[11,12,13]}`,
		"no seats":       `{"trip_id":3,"date":"2024-03-25","seat_ids":[]}`,
		"duplicate":      `{"trip_id":3,"date":"2024-03-25","seat_ids":[11,11]}`,
		"missing trip":   `{"date":"2024-03-25","seat_ids":[11]}`,
		"bad method":     `{"trip_id":3,"date":"2024-03-25","seat_ids":[11],"payment_method":"card"}`,
		"malformed json": `{"trip_id":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &fakeBookings{}
			h := NewTicketHandler(svc, nil, logger.Nop())
			rec := call(t, h.Book, http.MethodPost, "/book-ticket", body, 9, model.RoleCustomer)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
			}
			if svc.gotReq.TripID != 0 {
				t.Fatal("service called for an invalid body")
			}
		})
	}
}

func TestBookCreatesReservation(t *testing.T) {
	svc := &fakeBookings{}
	h := NewTicketHandler(svc, nil, logger.Nop())
	body := `{"trip_id":3,"date":"۱۴۰۳-۰۱-۰۶","seat_ids":[11,12],"payment_method":"online","passenger":{"full_name":"Ahmad"}}`
	rec := call(t, h.Book, http.MethodPost, "/book-ticket", body, 9, model.RoleCustomer)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	if svc.gotActor != (booking.Actor{ID: 9, Role: model.RoleCustomer}) {
		t.Fatalf("actor = %+v", svc.gotActor)
	}
	if svc.gotReq.Date != "۱۴۰۳-۰۱-۰۶" || svc.gotReq.PaymentMethod != model.PaymentOnline {
		t.Fatalf("request = %+v", svc.gotReq)
	}
	if svc.gotReq.Passenger == nil || svc.gotReq.Passenger.FullName != "Ahmad" {
		t.Fatalf("passenger = %+v", svc.gotReq.Passenger)
	}
	if got := decode(t, rec)["ticket_number"]; got != "ABC123DEF456" {
		t.Fatalf("ticket_number = %v", got)
	}
}

func TestBookConflictResponse(t *testing.T) {
	svc := &fakeBookings{err: booking.ConflictError{Seats: []string{"A1", "A2"}}}
	h := NewTicketHandler(svc, nil, logger.Nop())
	rec := call(t, h.Book, http.MethodPost, "/book-ticket", `{"trip_id":3,"date":"2024-03-25","seat_ids":[11,12]}`, 9, model.RoleCustomer)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := decode(t, rec)["error"]; msg != "seats already taken: A1, A2" {
		t.Fatalf("error = %v", msg)
	}
}

func TestListReturnsEmptyArray(t *testing.T) {
	h := NewTicketHandler(&fakeBookings{}, nil, logger.Nop())
	rec := call(t, h.List, http.MethodGet, "/tickets", "", 9, model.RoleCustomer)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"tickets":[]}` {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestChangeSeatsPassesIDs(t *testing.T) {
	svc := &fakeBookings{}
	h := NewTicketHandler(svc, nil, logger.Nop())
	rec := call(t, h.ChangeSeats, http.MethodPut, "/tickets/T1/seats", `{"seat_ids":[13]}`, 9, model.RoleCustomer, "number", "T1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	if len(svc.gotSeats) != 1 || svc.gotSeats[0] != 13 {
		t.Fatalf("seats = %v", svc.gotSeats)
	}
}

func TestPDFDownload(t *testing.T) {
	render := func(d booking.TicketDetail) ([]byte, string, error) {
		return []byte("%PDF-1.3 fake"), "TICKET_" + d.Receipt.TicketNumber + ".pdf", nil
	}
	h := NewTicketHandler(&fakeBookings{}, render, logger.Nop())
	rec := call(t, h.PDF, http.MethodGet, "/tickets/T1/pdf", "", 9, model.RoleCustomer, "number", "T1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/pdf" {
		t.Fatalf("content type = %q", ct)
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(cd, "TICKET_T1.pdf") {
		t.Fatalf("content disposition = %q", cd)
	}
}

func TestTicketForbidden(t *testing.T) {
	h := NewTicketHandler(&fakeBookings{err: booking.ForbiddenError{}}, nil, logger.Nop())
	rec := call(t, h.Get, http.MethodGet, "/tickets/T1", "", 9, model.RoleCustomer, "number", "T1")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSeatMapViewer(t *testing.T) {
	inv := &fakeInventory{}
	h := NewTripHandler(inv, logger.Nop())

	rec := call(t, h.SeatMap, http.MethodGet, "/trips/3/date/2024-03-25?editing=T1", "", 0, "", "id", "3", "date", "2024-03-25")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if inv.gotSeatMap.Viewer != nil || inv.gotSeatMap.EditingTicket != "T1" || inv.gotSeatMap.TripID != 3 {
		t.Fatalf("anonymous query = %+v", inv.gotSeatMap)
	}

	call(t, h.SeatMap, http.MethodGet, "/trips/3/date/2024-03-25", "", 9, model.RoleCustomer, "id", "3", "date", "2024-03-25")
	if inv.gotSeatMap.Viewer == nil || inv.gotSeatMap.Viewer.ID != 9 {
		t.Fatalf("viewer = %+v", inv.gotSeatMap.Viewer)
	}
}

func TestSeatMapTripNotRunning(t *testing.T) {
	inv := &fakeInventory{err: booking.ValidationError{Field: "date", Msg: booking.ErrTripNotRunning.Error(), Err: booking.ErrTripNotRunning}}
	h := NewTripHandler(inv, logger.Nop())
	rec := call(t, h.SeatMap, http.MethodGet, "/trips/4/date/2024-03-25", "", 0, "", "id", "4", "date", "2024-03-25")
	if rec.Code != http.StatusNotFound || decode(t, rec)["code"] != "trip_not_running" {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSeatMapBadID(t *testing.T) {
	h := NewTripHandler(&fakeInventory{}, logger.Nop())
	rec := call(t, h.SeatMap, http.MethodGet, "/trips/x/date/2024-03-25", "", 0, "", "id", "x", "date", "2024-03-25")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSearchPassesQuery(t *testing.T) {
	inv := &fakeInventory{}
	h := NewTripHandler(inv, logger.Nop())
	rec := call(t, h.Search, http.MethodGet, "/trips/search?from=Kabul&to=Herat&date=2024-03-25", "", 0, "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"trips":[]}` {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	if inv.gotSearch != (booking.SearchQuery{From: "Kabul", To: "Herat", Date: "2024-03-25"}) {
		t.Fatalf("query = %+v", inv.gotSearch)
	}
}

type fakeUsers struct {
	byEmail map[string]model.User
	nextID  uint64
}

func (f *fakeUsers) Create(_ context.Context, email, password, role, fullName, phone string, cost int) (uint64, error) {
	if _, ok := f.byEmail[email]; ok {
		return 0, repository.ErrDuplicateEmail
	}
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	f.nextID++
	f.byEmail[email] = model.User{ID: f.nextID, Email: email, PasswordHash: hash, Role: role, FullName: fullName, Phone: phone, IsActive: true}
	return f.nextID, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return model.User{}, repository.ErrNotFound
}

func (f *fakeUsers) UserByID(_ context.Context, id uint64) (model.User, error) {
	for _, u := range f.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func authHandler() *AuthHandler {
	cfg := config.Config{JWTSecret: "s3cret", AccessTTLMin: 15, BcryptCost: bcrypt.MinCost}
	return NewAuthHandler(cfg, &fakeUsers{byEmail: map[string]model.User{}}, logger.Nop())
}

func TestRegisterAndLogin(t *testing.T) {
	h := authHandler()
	reg := `{"email":"rider@example.com","password":"password1","full_name":"Rider One"}`

	rec := call(t, h.Register, http.MethodPost, "/auth/register", reg, 0, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d body %s", rec.Code, rec.Body.String())
	}
	access, _ := decode(t, rec)["access"].(map[string]any)
	id, role, err := utils.ParseAccessToken("s3cret", access["token"].(string))
	if err != nil || id != 1 || role != model.RoleCustomer {
		t.Fatalf("token: id=%d role=%q err=%v", id, role, err)
	}

	if rec := call(t, h.Register, http.MethodPost, "/auth/register", reg, 0, ""); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register status = %d", rec.Code)
	}

	rec = call(t, h.Login, http.MethodPost, "/auth/login", `{"email":"rider@example.com","password":"wrong"}`, 0, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", rec.Code)
	}
	rec = call(t, h.Login, http.MethodPost, "/auth/login", `{"email":"nobody@example.com","password":"password1"}`, 0, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user status = %d", rec.Code)
	}
	rec = call(t, h.Login, http.MethodPost, "/auth/login", `{"email":"rider@example.com","password":"password1"}`, 0, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}

	rec = call(t, h.Me, http.MethodGet, "/me", "", 1, model.RoleCustomer)
	if rec.Code != http.StatusOK || decode(t, rec)["full_name"] != "Rider One" {
		t.Fatalf("me: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterValidation(t *testing.T) {
	h := authHandler()
	rec := call(t, h.Register, http.MethodPost, "/auth/register", `{"email":"not-an-email","password":"short"}`, 0, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["code"] != "validation_failed" {
		t.Fatalf("code = %v", body["code"])
	}
	if details, _ := body["details"].([]any); len(details) != 3 {
		t.Fatalf("details = %v", body["details"])
	}
}

func TestErrorsCarryPersianMessage(t *testing.T) {
	svc := &fakeBookings{err: booking.ConflictError{Seats: []string{"A1", "A2"}}}
	h := NewTicketHandler(svc, nil, logger.Nop())
	rec := call(t, h.Book, http.MethodPost, "/book-ticket", `{"trip_id":3,"date":"2024-03-25","seat_ids":[11,12]}`, 9, model.RoleCustomer)
	msg, _ := decode(t, rec)["message"].(string)
	if !strings.Contains(msg, "A1") || !strings.Contains(msg, "A2") || !strings.Contains(msg, "صندلی") {
		t.Fatalf("message = %q", msg)
	}

	lim := func(c echo.Context) error { return respondError(c, nil, booking.LimitError{Max: 2, Remaining: 1}) }
	if msg, _ := decode(t, call(t, lim, http.MethodGet, "/", "", 0, ""))["message"].(string); !strings.Contains(msg, "۱") {
		t.Fatalf("limit message = %q", msg)
	}

	unknown := func(c echo.Context) error { return respondError(c, nil, errors.New("db down")) }
	if msg, _ := decode(t, call(t, unknown, http.MethodGet, "/", "", 0, ""))["message"].(string); msg == "" {
		t.Fatal("internal error has no message")
	}
}

func TestValidationDetailsCarryMessages(t *testing.T) {
	h := NewTicketHandler(&fakeBookings{}, nil, logger.Nop())
	rec := call(t, h.Book, http.MethodPost, "/book-ticket", `{"date":"2024-03-25","seat_ids":[11]}`, 9, model.RoleCustomer)
	var body struct {
		Message string       `json:"message"`
		Details []fieldError `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Message == "" || len(body.Details) == 0 {
		t.Fatalf("body = %s", rec.Body.String())
	}
	for _, d := range body.Details {
		if d.Message == "" {
			t.Fatalf("detail %+v has no message", d)
		}
	}
}

func TestNewValidatorTwice(t *testing.T) {
	for i := 0; i < 2; i++ {
		if NewValidator() == nil {
			t.Fatal("nil validator")
		}
	}
}
