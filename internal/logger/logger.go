package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Logger wraps slog.Logger with the booking-specific helpers used across
// the service.
type Logger struct {
	*slog.Logger
}

// New creates a logger for env.  Development environments get the text
// handler; everything else gets JSON.  level is one of debug, info, warn,
// error (default info).
func New(env, level string) *Logger {
	return NewWithWriter(os.Stdout, env, level)
}

// NewWithWriter is New writing to w.
func NewWithWriter(w io.Writer, env, level string) *Logger {
	lvl := getLogLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Nop returns a logger that discards everything.  Used by tests.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func getLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRequestID adds request ID to logger context
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("request_id", requestID))}
}

// WithUserID adds user ID to logger context
func (l *Logger) WithUserID(userID uint64) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("user_id", strconv.FormatUint(userID, 10)))}
}

// WithError adds error to logger context
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("error", err.Error()))}
}

// LogHTTPRequest logs one served request.  Called from the echo request
// logger middleware.
func (l *Logger) LogHTTPRequest(ctx context.Context, method, uri, requestID string, status int, latency time.Duration, err error) {
	attrs := []any{
		slog.String("method", method),
		slog.String("uri", uri),
		slog.Int("status", status),
		slog.Duration("latency", latency),
		slog.String("request_id", requestID),
	}
	if err != nil {
		l.Logger.ErrorContext(ctx, "HTTP Request", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	l.Logger.InfoContext(ctx, "HTTP Request", attrs...)
}

// LogTicketBooked logs a committed reservation.
func (l *Logger) LogTicketBooked(ctx context.Context, ticket string, tripID, userID uint64, seats int) {
	l.Logger.InfoContext(ctx,
		"Ticket Booked",
		slog.String("ticket", ticket),
		slog.Uint64("trip_id", tripID),
		slog.Uint64("user_id", userID),
		slog.Int("seats", seats),
	)
}

// LogTicketCancelled logs a cancellation.
func (l *Logger) LogTicketCancelled(ctx context.Context, ticket string, userID uint64) {
	l.Logger.InfoContext(ctx,
		"Ticket Cancelled",
		slog.String("ticket", ticket),
		slog.Uint64("user_id", userID),
	)
}

// LogTicketPaid logs the explicit payment transition.
func (l *Logger) LogTicketPaid(ctx context.Context, ticket string) {
	l.Logger.InfoContext(ctx, "Ticket Paid", slog.String("ticket", ticket))
}

// LogSeatConflict logs a lost race or a stale selection.
func (l *Logger) LogSeatConflict(ctx context.Context, tripID uint64, date string, seats []string) {
	l.Logger.WarnContext(ctx,
		"Seat Conflict",
		slog.Uint64("trip_id", tripID),
		slog.String("date", date),
		slog.Any("seats", seats),
	)
}

// LogAuthFailure logs failed authentication
func (l *Logger) LogAuthFailure(ctx context.Context, reason, ip string) {
	l.Logger.WarnContext(ctx,
		"Authentication Failure",
		slog.String("reason", reason),
		slog.String("ip", ip),
	)
}

// ErrorWithContext logs an error message with context
func (l *Logger) ErrorWithContext(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	args := make([]interface{}, 0, len(fields)*2+2)
	args = append(args, slog.String("error", err.Error()))
	for k, v := range fields {
		args = append(args, slog.Any(k, v))
	}
	l.Logger.ErrorContext(ctx, msg, args...)
}
