package events_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/fieldsync/internal/events"
)

func TestFromContext(t *testing.T) {
	// Should return default logger when none in context
	logger := events.FromContext(context.Background())
	assert.NotNil(t, logger)
}

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)

	ctx := events.WithLogger(context.Background(), logger)

	assert.Same(t, logger, events.FromContext(ctx))
}

func TestWithAssessmentID(t *testing.T) {
	var buf bytes.Buffer
	ctx := events.WithLogger(context.Background(), events.NewTestLogger(events.InfoLevel, "json", &buf))

	ctx = events.WithAssessmentID(ctx, "A1")
	assert.Equal(t, "A1", events.GetAssessmentID(ctx))

	events.FromContext(ctx).Info("saved")
	assert.Contains(t, buf.String(), `"assessment_id":"A1"`)
}

func TestWithQueueItemID(t *testing.T) {
	var buf bytes.Buffer
	ctx := events.WithLogger(context.Background(), events.NewTestLogger(events.InfoLevel, "json", &buf))

	ctx = events.WithQueueItemID(ctx, "item-9")
	assert.Equal(t, "item-9", events.GetQueueItemID(ctx))

	events.FromContext(ctx).Info("dispatch")
	assert.Contains(t, buf.String(), `"queue_item_id":"item-9"`)
}

func TestContextIDsEmpty(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, events.GetAssessmentID(ctx))
	assert.Empty(t, events.GetQueueItemID(ctx))
}

func TestSetDefault(t *testing.T) {
	var buf bytes.Buffer
	customLogger := events.NewTestLogger(events.DebugLevel, "text", &buf)
	events.SetDefault(customLogger)

	assert.Same(t, customLogger, events.FromContext(context.Background()))
}
