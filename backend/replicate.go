package backend

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/mostlygeek/genstudio/mapper"
	"github.com/mostlygeek/genstudio/schema"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const DefaultReplicateURL = "https://api.replicate.com"

// Replicate runs predictions through the Replicate HTTP API.
type Replicate struct {
	BaseURL string
	Token   string
	Client  *http.Client

	// Publisher, when set, turns inline media into URLs. Otherwise inline
	// media is sent as data URIs.
	Publisher MediaPublisher
}

func NewReplicate(baseURL, token string) *Replicate {
	if baseURL == "" {
		baseURL = DefaultReplicateURL
	}
	return &Replicate{BaseURL: baseURL, Token: token}
}

func (r *Replicate) Kind() schema.Kind {
	return schema.KindReplicate
}

func (r *Replicate) header() http.Header {
	h := http.Header{}
	if r.Token != "" {
		h.Set("Authorization", "Bearer "+r.Token)
	}
	return h
}

func (r *Replicate) Invoke(ctx context.Context, cfg schema.Configuration, payload mapper.Payload) (*JobHandle, error) {
	version, err := schema.ParseReplicateVersion(cfg.Version)
	if err != nil {
		return nil, err
	}

	input, err := payload.Encode(publishOrInline(ctx, r.Publisher))
	if err != nil {
		return nil, err
	}
	body, err := sjson.SetBytes([]byte(`{}`), "version", version)
	if err != nil {
		return nil, err
	}
	if body, err = sjson.SetRawBytes(body, "input", input); err != nil {
		return nil, err
	}

	data, err := do(ctx, defaultClient(r.Client), vendorRequest{
		kind:   schema.KindReplicate,
		method: http.MethodPost,
		url:    joinURL(r.BaseURL, "v1/predictions"),
		header: r.header(),
		body:   body,
	})
	if err != nil {
		return nil, err
	}

	id := gjson.GetBytes(data, "id").String()
	if id == "" {
		return nil, invalidResponse(schema.KindReplicate, data)
	}
	handle := &JobHandle{
		ID:        id,
		Slug:      cfg.Name,
		Kind:      schema.KindReplicate,
		Status:    StatusStarting,
		CreatedAt: time.Now(),
	}
	return r.apply(cfg, handle, data)
}

func (r *Replicate) Poll(ctx context.Context, cfg schema.Configuration, handle *JobHandle) (*JobHandle, error) {
	data, err := do(ctx, defaultClient(r.Client), vendorRequest{
		kind:   schema.KindReplicate,
		method: http.MethodGet,
		url:    joinURL(r.BaseURL, "v1/predictions", url.PathEscape(handle.ID)),
		header: r.header(),
	})
	if err != nil {
		return nil, err
	}
	return r.apply(cfg, handle.clone(), data)
}

// Result is a poll: Replicate returns the output with the prediction.
func (r *Replicate) Result(ctx context.Context, cfg schema.Configuration, handle *JobHandle) (*JobHandle, error) {
	if handle.Status == StatusSucceeded && handle.Output != nil {
		return handle, nil
	}
	return r.Poll(ctx, cfg, handle)
}

func (r *Replicate) apply(cfg schema.Configuration, handle *JobHandle, data []byte) (*JobHandle, error) {
	prediction := gjson.ParseBytes(data)

	vendorStatus := prediction.Get("status").String()
	handle.VendorStatus = vendorStatus
	switch Status(vendorStatus) {
	case StatusStarting, StatusProcessing, StatusSucceeded, StatusFailed, StatusCanceled:
		handle.Status = Status(vendorStatus)
	case "aborted":
		handle.Status = StatusCanceled
	case "":
	default:
		handle.Status = StatusProcessing
	}

	if logs := prediction.Get("logs"); logs.Exists() {
		handle.Logs = splitLines(logs.String())
		if p, ok := ProgressFromLogs(handle.Logs); ok {
			handle.Progress = &p
		}
	}
	if e := prediction.Get("error"); e.Exists() && e.Type != gjson.Null {
		handle.Error = e.String()
	}

	if handle.Status == StatusSucceeded {
		output := prediction.Get("output")
		handle.Raw = []byte(output.Raw)
		normalized, err := Normalize(cfg.Outputs, []byte(output.Raw))
		if err != nil {
			return nil, err
		}
		handle.Output = normalized
	}
	return handle, nil
}

// publishOrInline sends URLs as-is and inline media either through the
// publisher or as a data URI.
func publishOrInline(ctx context.Context, p MediaPublisher) mapper.MediaFunc {
	return func(m *mapper.Media) (any, error) {
		if m.IsURL() {
			return m.URL, nil
		}
		if p != nil {
			return p.Publish(ctx, m)
		}
		return m.DataURI(), nil
	}
}
