// Package backend invokes and polls third-party inference vendors.
package backend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mostlygeek/genstudio/mapper"
	"github.com/mostlygeek/genstudio/schema"
)

// Status is the normalized lifecycle state of a job.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// JobHandle tracks one vendor invocation.
type JobHandle struct {
	ID            string          `json:"id"`
	Slug          string          `json:"slug"`
	Kind          schema.Kind     `json:"type"`
	Status        Status          `json:"status"`
	VendorStatus  string          `json:"vendorStatus,omitempty"`
	QueuePosition *int            `json:"queuePosition,omitempty"`
	Progress      *float64        `json:"progress,omitempty"`
	Logs          []string        `json:"logs,omitempty"`
	Error         string          `json:"error,omitempty"`
	Output        map[string]any  `json:"output,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

func (h *JobHandle) clone() *JobHandle {
	c := *h
	if h.Logs != nil {
		c.Logs = append([]string(nil), h.Logs...)
	}
	return &c
}

// Backend is implemented once per vendor kind.
type Backend interface {
	Kind() schema.Kind

	// Invoke submits the payload. Asynchronous vendors return a handle that
	// is not yet terminal.
	Invoke(ctx context.Context, cfg schema.Configuration, payload mapper.Payload) (*JobHandle, error)

	// Poll refreshes the handle's status. It never blocks on completion.
	Poll(ctx context.Context, cfg schema.Configuration, handle *JobHandle) (*JobHandle, error)

	// Result fetches and normalizes the output of a succeeded job.
	Result(ctx context.Context, cfg schema.Configuration, handle *JobHandle) (*JobHandle, error)
}

// MediaPublisher uploads inline media and returns a URL vendors can fetch.
type MediaPublisher interface {
	Publish(ctx context.Context, m *mapper.Media) (string, error)
}

// JobUpdatedEvent is emitted whenever the dispatcher produces a new handle
// state.
type JobUpdatedEvent struct {
	Handle JobHandle
}

const JobUpdatedEventID = 0x10

func (e JobUpdatedEvent) Type() uint32 {
	return JobUpdatedEventID
}
