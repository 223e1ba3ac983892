package events

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"
)

type contextKey int

const (
	loggerKey contextKey = iota
	requestIDKey
	profileIDKey
)

// FromContext extracts logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// WithLogger adds logger to context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithRequestID adds a request ID to context. An empty id gets a fresh UUID.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	logger := FromContext(ctx).WithField("request_id", id)
	ctx = context.WithValue(ctx, requestIDKey, id)
	return WithLogger(ctx, logger)
}

// WithProfileID adds the acting profile ID to context.
func WithProfileID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("profile_id", id)
	ctx = context.WithValue(ctx, profileIDKey, id)
	return WithLogger(ctx, logger)
}

// GetRequestID retrieves request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetProfileID retrieves profile ID from context.
func GetProfileID(ctx context.Context) string {
	if id, ok := ctx.Value(profileIDKey).(string); ok {
		return id
	}
	return ""
}

var defaultLogger = &Logger{
	mu:        &sync.Mutex{},
	level:     InfoLevel,
	format:    "text",
	output:    os.Stderr,
	timestamp: true,
	fields:    make(map[string]interface{}),
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
