package selection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Fahm-Gah/hesarak-backend/internal/booking"
	"github.com/Fahm-Gah/hesarak-backend/internal/model"
)

// Key identifies one seat map: a trip day, optionally seen while editing
// a ticket.
type Key struct {
	TripID  uint64
	Date    string
	Editing string
}

func (k Key) String() string {
	return fmt.Sprintf("%d|%s|%s", k.TripID, k.Date, k.Editing)
}

// Fetcher loads a fresh seat map.
type Fetcher interface {
	SeatMap(ctx context.Context, key Key) (*booking.SeatMapView, error)
}

// Submission is what a selector sends when the user confirms.
type Submission struct {
	TripID        uint64
	Date          string
	SeatIDs       []uint64
	PaymentMethod model.PaymentMethod
	Passenger     *model.Passenger
}

// Submitter commits a selection as a new ticket, or as the new seats of
// an existing one.
type Submitter interface {
	Book(ctx context.Context, sub Submission) (*booking.Receipt, error)
	ChangeSeats(ctx context.Context, ticket string, seatIDs []uint64) (*booking.Receipt, error)
}

// APIError is a non-2xx answer from the booking API.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details json.RawMessage
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("booking api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("booking api: status %d", e.Status)
}

// IsConflict reports whether err means the selection went stale: seats
// taken in the meantime or the allowance used up elsewhere.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// APIClient talks to the booking HTTP API.
type APIClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// SeatMap implements Fetcher.
func (c *APIClient) SeatMap(ctx context.Context, key Key) (*booking.SeatMapView, error) {
	u := c.BaseURL + "/trips/" + strconv.FormatUint(key.TripID, 10) + "/date/" + url.PathEscape(key.Date)
	if key.Editing != "" {
		u += "?editing=" + url.QueryEscape(key.Editing)
	}
	var view booking.SeatMapView
	if err := c.do(ctx, http.MethodGet, u, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

type bookBody struct {
	TripID        uint64           `json:"trip_id"`
	Date          string           `json:"date"`
	SeatIDs       []uint64         `json:"seat_ids"`
	PaymentMethod string           `json:"payment_method,omitempty"`
	Passenger     *passengerFields `json:"passenger,omitempty"`
}

type passengerFields struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
}

// Book implements Submitter.
func (c *APIClient) Book(ctx context.Context, sub Submission) (*booking.Receipt, error) {
	body := bookBody{
		TripID:        sub.TripID,
		Date:          sub.Date,
		SeatIDs:       sub.SeatIDs,
		PaymentMethod: string(sub.PaymentMethod),
	}
	if sub.Passenger != nil {
		body.Passenger = &passengerFields{FullName: sub.Passenger.FullName, Phone: sub.Passenger.Phone}
	}
	var receipt booking.Receipt
	if err := c.do(ctx, http.MethodPost, c.BaseURL+"/book-ticket", body, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// ChangeSeats implements Submitter.
func (c *APIClient) ChangeSeats(ctx context.Context, ticket string, seatIDs []uint64) (*booking.Receipt, error) {
	u := c.BaseURL + "/tickets/" + url.PathEscape(ticket) + "/seats"
	var receipt booking.Receipt
	if err := c.do(ctx, http.MethodPut, u, map[string][]uint64{"seat_ids": seatIDs}, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *APIClient) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error   string          `json:"error"`
			Code    string          `json:"code"`
			Details json.RawMessage `json:"details"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &payload) == nil {
			apiErr.Code, apiErr.Message, apiErr.Details = payload.Code, payload.Error, payload.Details
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
