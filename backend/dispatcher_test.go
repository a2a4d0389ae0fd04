package backend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mostlygeek/genstudio/event"
	"github.com/mostlygeek/genstudio/mapper"
	"github.com/mostlygeek/genstudio/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedBackend returns the queued statuses from Poll, one per call.
type scriptedBackend struct {
	mu       sync.Mutex
	statuses []Status
	polls    int
	results  int
}

func (s *scriptedBackend) Kind() schema.Kind { return schema.KindFal }

func (s *scriptedBackend) Invoke(ctx context.Context, cfg schema.Configuration, payload mapper.Payload) (*JobHandle, error) {
	return &JobHandle{ID: "job", Status: StatusProcessing, CreatedAt: time.Now()}, nil
}

func (s *scriptedBackend) Poll(ctx context.Context, cfg schema.Configuration, handle *JobHandle) (*JobHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := handle.clone()
	next.Status = s.statuses[min(s.polls, len(s.statuses)-1)]
	s.polls++
	return next, nil
}

func (s *scriptedBackend) Result(ctx context.Context, cfg schema.Configuration, handle *JobHandle) (*JobHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results++
	next := handle.clone()
	next.Output = map[string]any{"images": []any{"a"}}
	return next, nil
}

type recordingObserver struct {
	dispatches []string
	polls      []Status
}

func (r *recordingObserver) ObserveDispatch(kind schema.Kind, outcome string, elapsed time.Duration) {
	r.dispatches = append(r.dispatches, string(kind)+":"+outcome)
}

func (r *recordingObserver) ObservePoll(kind schema.Kind, status Status) {
	r.polls = append(r.polls, status)
}

func TestDispatcher_Watch(t *testing.T) {
	b := &scriptedBackend{statuses: []Status{StatusProcessing, StatusProcessing, StatusSucceeded}}
	d := NewDispatcher(b)
	obs := &recordingObserver{}
	d.SetObserver(obs)

	var updates []JobUpdatedEvent
	var mu sync.Mutex
	defer event.On(func(e JobUpdatedEvent) {
		mu.Lock()
		updates = append(updates, e)
		mu.Unlock()
	})()

	cfg := falConfig()
	handle, err := d.Invoke(context.Background(), cfg, map[string]any{"prompt": "x"})
	require.NoError(t, err)

	var seen []Status
	final, err := d.Watch(context.Background(), cfg, handle, time.Millisecond, func(h *JobHandle) {
		seen = append(seen, h.Status)
	})
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusProcessing, StatusProcessing, StatusSucceeded}, seen)
	assert.Equal(t, StatusSucceeded, final.Status)
	assert.Equal(t, map[string]any{"images": []any{"a"}}, final.Output)
	assert.Equal(t, 1, b.results)

	assert.Equal(t, []string{"fal:ok"}, obs.dispatches)
	assert.Equal(t, []Status{StatusProcessing, StatusProcessing, StatusSucceeded}, obs.polls)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(updates), 2)
	assert.Equal(t, StatusProcessing, updates[0].Handle.Status)
	assert.Equal(t, "flux-dev", updates[0].Handle.Slug)
	assert.Equal(t, StatusSucceeded, updates[len(updates)-1].Handle.Status)
}

func TestDispatcher_WatchStopsOnCancel(t *testing.T) {
	b := &scriptedBackend{statuses: []Status{StatusProcessing}}
	d := NewDispatcher(b)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	final, err := d.Watch(ctx, falConfig(), &JobHandle{ID: "job"}, 5*time.Millisecond, func(*JobHandle) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusProcessing, final.Status)
}

func TestDispatcher_MissingBackend(t *testing.T) {
	d := NewDispatcher()
	_, err := d.Invoke(context.Background(), falConfig(), map[string]any{"prompt": "x"})
	var derr *schema.DispatchError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, schema.KindFal, derr.Vendor)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "invalid", outcome(schema.NewValidationError("x", "bad")))
	assert.Equal(t, "http_500", outcome(&schema.DispatchError{Vendor: schema.KindFal, StatusCode: 500}))
	assert.Equal(t, "vendor_error", outcome(&schema.DispatchError{Vendor: schema.KindFal}))
	assert.Equal(t, "canceled", outcome(context.Canceled))
	assert.Equal(t, "error", outcome(errors.New("boom")))
}
