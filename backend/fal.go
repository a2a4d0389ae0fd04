package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mostlygeek/genstudio/mapper"
	"github.com/mostlygeek/genstudio/schema"
	"github.com/tidwall/gjson"
)

const DefaultFalQueueURL = "https://queue.fal.run"

// FAL queue statuses.
const (
	falInQueue    = "IN_QUEUE"
	falInProgress = "IN_PROGRESS"
	falCompleted  = "COMPLETED"
	falFailed     = "FAILED"
)

// Fal submits jobs to the FAL queue API.
type Fal struct {
	QueueURL  string
	Key       string
	Client    *http.Client
	Publisher MediaPublisher
}

func NewFal(queueURL, key string) *Fal {
	if queueURL == "" {
		queueURL = DefaultFalQueueURL
	}
	return &Fal{QueueURL: queueURL, Key: key}
}

func (f *Fal) Kind() schema.Kind {
	return schema.KindFal
}

func (f *Fal) header() http.Header {
	h := http.Header{}
	if f.Key != "" {
		h.Set("Authorization", "Key "+f.Key)
	}
	return h
}

// requestsURL is {queue}/{owner}/{alias}/requests/{id}. Sub paths of the
// endpoint id are not part of the request routes.
func (f *Fal) requestsURL(endpointID, requestID string) string {
	parts := strings.SplitN(strings.Trim(endpointID, "/"), "/", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return joinURL(f.QueueURL, append(parts, "requests", url.PathEscape(requestID))...)
}

func (f *Fal) Invoke(ctx context.Context, cfg schema.Configuration, payload mapper.Payload) (*JobHandle, error) {
	body, err := payload.Encode(publishOrInline(ctx, f.Publisher))
	if err != nil {
		return nil, err
	}

	data, err := do(ctx, defaultClient(f.Client), vendorRequest{
		kind:   schema.KindFal,
		method: http.MethodPost,
		url:    joinURL(f.QueueURL, cfg.EndpointID),
		header: f.header(),
		body:   body,
	})
	if err != nil {
		return nil, err
	}

	submitted := gjson.ParseBytes(data)
	id := submitted.Get("request_id").String()
	if id == "" {
		return nil, invalidResponse(schema.KindFal, data)
	}

	handle := &JobHandle{
		ID:           id,
		Slug:         cfg.Name,
		Kind:         schema.KindFal,
		Status:       StatusProcessing,
		VendorStatus: falInQueue,
		CreatedAt:    time.Now(),
	}
	if s := submitted.Get("status").String(); s != "" {
		handle.VendorStatus = s
	}
	if pos := submitted.Get("queue_position"); pos.Exists() {
		p := int(pos.Int())
		handle.QueuePosition = &p
	}
	return handle, nil
}

func (f *Fal) Poll(ctx context.Context, cfg schema.Configuration, handle *JobHandle) (*JobHandle, error) {
	data, err := do(ctx, defaultClient(f.Client), vendorRequest{
		kind:   schema.KindFal,
		method: http.MethodGet,
		url:    f.requestsURL(cfg.EndpointID, handle.ID) + "/status?logs=1",
		header: f.header(),
	})
	if err != nil {
		return nil, err
	}

	status := gjson.ParseBytes(data)
	next := handle.clone()
	next.VendorStatus = status.Get("status").String()
	next.QueuePosition = nil

	switch next.VendorStatus {
	case falInQueue, falInProgress:
		next.Status = StatusProcessing
	case falCompleted:
		next.Status = StatusSucceeded
		if e := status.Get("error"); e.Exists() && e.Type != gjson.Null && e.String() != "" {
			next.Status = StatusFailed
			next.Error = e.String()
		}
	case falFailed:
		next.Status = StatusFailed
		next.Error = firstNonEmpty(status.Get("error").String(), "job failed")
	default:
		return nil, invalidResponse(schema.KindFal, data)
	}

	if pos := status.Get("queue_position"); pos.Exists() {
		p := int(pos.Int())
		next.QueuePosition = &p
	}
	if pct := status.Get("progress.percentage"); pct.Exists() {
		v := pct.Float()
		next.Progress = &v
	}
	if logs := status.Get("logs"); logs.IsArray() {
		next.Logs = nil
		for _, entry := range logs.Array() {
			if msg := entry.Get("message").String(); msg != "" {
				next.Logs = append(next.Logs, msg)
			}
		}
	}
	return next, nil
}

// Result fetches the response payload of a completed request. The result
// stays available on the vendor side so repeated calls return the same
// output.
func (f *Fal) Result(ctx context.Context, cfg schema.Configuration, handle *JobHandle) (*JobHandle, error) {
	data, err := do(ctx, defaultClient(f.Client), vendorRequest{
		kind:   schema.KindFal,
		method: http.MethodGet,
		url:    f.requestsURL(cfg.EndpointID, handle.ID),
		header: f.header(),
	})
	if err != nil {
		return nil, err
	}

	normalized, err := Normalize(cfg.Outputs, data)
	if err != nil {
		return nil, err
	}
	next := handle.clone()
	next.Status = StatusSucceeded
	next.VendorStatus = falCompleted
	next.QueuePosition = nil
	next.Raw = data
	next.Output = normalized
	return next, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
