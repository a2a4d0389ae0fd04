package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mostlygeek/genstudio/event"
	"github.com/mostlygeek/genstudio/mapper"
	"github.com/mostlygeek/genstudio/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultWatchInterval is the fixed delay between polls in Watch.
const DefaultWatchInterval = time.Second

// Observer receives dispatch and poll outcomes, e.g. for metrics.
type Observer interface {
	ObserveDispatch(kind schema.Kind, outcome string, elapsed time.Duration)
	ObservePoll(kind schema.Kind, status Status)
}

// Dispatcher routes a Configuration to the backend for its kind.
type Dispatcher struct {
	backends map[schema.Kind]Backend
	observer Observer
	tracer   trace.Tracer
}

func NewDispatcher(backends ...Backend) *Dispatcher {
	d := &Dispatcher{
		backends: make(map[schema.Kind]Backend, len(backends)),
		tracer:   otel.Tracer("github.com/mostlygeek/genstudio/backend"),
	}
	for _, b := range backends {
		d.backends[b.Kind()] = b
	}
	return d
}

func (d *Dispatcher) SetObserver(o Observer) {
	d.observer = o
}

func (d *Dispatcher) Backend(kind schema.Kind) (Backend, error) {
	b, ok := d.backends[kind]
	if !ok {
		return nil, &schema.DispatchError{Vendor: kind, Message: "no backend configured"}
	}
	return b, nil
}

// Invoke validates cfg, maps params and submits the job. No vendor call is
// made when validation or mapping fails.
func (d *Dispatcher) Invoke(ctx context.Context, cfg schema.Configuration, params map[string]any) (*JobHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b, err := d.Backend(cfg.Type)
	if err != nil {
		return nil, err
	}
	payload, err := mapper.BuildInput(cfg, params)
	if err != nil {
		if d.observer != nil {
			d.observer.ObserveDispatch(cfg.Type, outcome(err), 0)
		}
		return nil, err
	}

	ctx, span := d.tracer.Start(ctx, "backend.invoke", trace.WithAttributes(
		attribute.String("genstudio.slug", cfg.Name),
		attribute.String("genstudio.vendor", string(cfg.Type)),
	))
	defer span.End()

	start := time.Now()
	handle, err := b.Invoke(ctx, cfg, payload)
	if d.observer != nil {
		d.observer.ObserveDispatch(cfg.Type, outcome(err), time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	handle.Slug = cfg.Name
	handle.Kind = cfg.Type
	span.SetAttributes(attribute.String("genstudio.job_id", handle.ID), attribute.String("genstudio.status", string(handle.Status)))
	event.Emit(JobUpdatedEvent{Handle: *handle})
	return handle, nil
}

// Status polls the job once. When the vendor reports success without
// output, the result is fetched in the same call.
func (d *Dispatcher) Status(ctx context.Context, cfg schema.Configuration, handle *JobHandle) (*JobHandle, error) {
	b, err := d.Backend(cfg.Type)
	if err != nil {
		return nil, err
	}
	if handle.Slug == "" {
		handle.Slug = cfg.Name
	}
	handle.Kind = cfg.Type

	ctx, span := d.tracer.Start(ctx, "backend.poll", trace.WithAttributes(
		attribute.String("genstudio.slug", cfg.Name),
		attribute.String("genstudio.vendor", string(cfg.Type)),
		attribute.String("genstudio.job_id", handle.ID),
	))
	defer span.End()

	next, err := b.Poll(ctx, cfg, handle)
	if err == nil && next.Status == StatusSucceeded && next.Output == nil && next.Raw == nil {
		next, err = b.Result(ctx, cfg, next)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if d.observer != nil {
		d.observer.ObservePoll(cfg.Type, next.Status)
	}
	span.SetAttributes(attribute.String("genstudio.status", string(next.Status)))
	if next.Status != handle.Status || next.Status.Terminal() {
		event.Emit(JobUpdatedEvent{Handle: *next})
	}
	return next, nil
}

// Watch polls every interval until the job is terminal or ctx is done,
// calling fn with each new handle. There is no backoff and no limit on the
// number of polls.
func (d *Dispatcher) Watch(ctx context.Context, cfg schema.Configuration, handle *JobHandle, interval time.Duration, fn func(*JobHandle)) (*JobHandle, error) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	current := handle
	for {
		next, err := d.Status(ctx, cfg, current)
		if err != nil {
			return current, err
		}
		current = next
		fn(current)
		if current.Status.Terminal() {
			return current, nil
		}

		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-ticker.C:
		}
	}
}

func outcome(err error) string {
	var verr *schema.ValidationError
	var derr *schema.DispatchError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "invalid"
	case errors.As(err, &derr):
		if derr.StatusCode > 0 {
			return fmt.Sprintf("http_%d", derr.StatusCode)
		}
		return "vendor_error"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "error"
}
