package events

import (
	"context"
	"os"
	"sync"
)

type contextKey int

const (
	loggerKey contextKey = iota
	assessmentIDKey
	queueItemIDKey
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

// WithAssessmentID adds an assessment ID to context.
func WithAssessmentID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("assessment_id", id)
	ctx = context.WithValue(ctx, assessmentIDKey, id)
	return WithLogger(ctx, logger)
}

// WithQueueItemID adds a sync queue item ID to context.
func WithQueueItemID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("queue_item_id", id)
	ctx = context.WithValue(ctx, queueItemIDKey, id)
	return WithLogger(ctx, logger)
}

// GetAssessmentID retrieves the assessment ID from context.
func GetAssessmentID(ctx context.Context) string {
	if id, ok := ctx.Value(assessmentIDKey).(string); ok {
		return id
	}
	return ""
}

// GetQueueItemID retrieves the queue item ID from context.
func GetQueueItemID(ctx context.Context) string {
	if id, ok := ctx.Value(queueItemIDKey).(string); ok {
		return id
	}
	return ""
}

var defaultLogger = &Logger{
	mu:     &sync.Mutex{},
	level:  InfoLevel,
	format: "text",
	output: os.Stdout,
	fields: make(map[string]interface{}),
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
