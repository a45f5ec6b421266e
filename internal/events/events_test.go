package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobLifecycleEvent(t *testing.T) {
	// Define a sample payload
	type testPayload struct {
		JobID  uuid.UUID `json:"job_id"`
		RepoID string    `json:"repo_id"`
	}

	payload := testPayload{
		JobID:  uuid.New(),
		RepoID: "github.com/acme/widgets",
	}

	// Create a new event
	eventType := "job.enqueued"
	event, err := NewJobLifecycleEvent(eventType, payload)

	// Assert creation was successful
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, eventType, event.Type)
	assert.NotNil(t, event.Payload)
	assert.WithinDuration(t, time.Now(), event.CreatedAt, 2*time.Second)

	// Verify payload was correctly serialized
	var decodedPayload testPayload
	err = json.Unmarshal(event.Payload, &decodedPayload)
	require.NoError(t, err)
	assert.Equal(t, payload.JobID, decodedPayload.JobID)
	assert.Equal(t, payload.RepoID, decodedPayload.RepoID)
}

func TestUnmarshalPayload(t *testing.T) {
	type testPayload struct {
		JobID  uuid.UUID `json:"job_id"`
		Status string    `json:"status"`
	}

	original := testPayload{JobID: uuid.New(), Status: "completed"}
	event, err := NewJobLifecycleEvent("job.completed", original)
	require.NoError(t, err)

	var decoded testPayload
	require.NoError(t, event.UnmarshalPayload(&decoded))
	assert.Equal(t, original, decoded)
}

// MockEventHandler implements the EventHandler interface for testing
type MockEventHandler struct {
	// The last event received by this handler
	LastEvent *JobLifecycleEvent
	// Error to return from HandleEvent
	HandlerError error
	// Count of events handled
	HandledCount int
}

// HandleEvent implements the EventHandler interface
func (h *MockEventHandler) HandleEvent(ctx context.Context, event *JobLifecycleEvent) error {
	h.LastEvent = event
	h.HandledCount++
	return h.HandlerError
}

func TestEventHandler(t *testing.T) {
	// Create a mock handler
	handler := &MockEventHandler{}

	// Create a test event
	event, err := NewJobLifecycleEvent("job.enqueued", map[string]string{"repo_id": "acme/widgets"})
	require.NoError(t, err)

	// Handle the event
	err = handler.HandleEvent(context.Background(), event)
	assert.NoError(t, err)
	assert.Equal(t, 1, handler.HandledCount)
	assert.Equal(t, event, handler.LastEvent)

	// Test error case
	expectedErr := errors.New("handler error")
	handler.HandlerError = expectedErr
	err = handler.HandleEvent(context.Background(), event)
	assert.Equal(t, expectedErr, err)
	assert.Equal(t, 2, handler.HandledCount)
}
