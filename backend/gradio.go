package backend

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mostlygeek/genstudio/mapper"
	"github.com/mostlygeek/genstudio/schema"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/tmaxmax/go-sse"
)

const DefaultGradioHostAPI = "https://huggingface.co"

// maxEventSize bounds a single server-sent event from a Space.
const maxEventSize = 16 << 20

// Gradio calls named endpoints on Gradio apps, usually Hugging Face Spaces.
// Calls are synchronous: Invoke returns a terminal handle.
type Gradio struct {
	HostAPI string
	Token   string
	Client  *http.Client

	mu     sync.Mutex
	spaces map[string]string // client ref -> API base URL
}

func NewGradio(hostAPI, token string) *Gradio {
	if hostAPI == "" {
		hostAPI = DefaultGradioHostAPI
	}
	return &Gradio{HostAPI: hostAPI, Token: token, spaces: make(map[string]string)}
}

func (g *Gradio) Kind() schema.Kind {
	return schema.KindGradio
}

func (g *Gradio) header() http.Header {
	h := http.Header{}
	if g.Token != "" {
		h.Set("Authorization", "Bearer "+g.Token)
	}
	return h
}

// connect resolves a client ref to the app's API base and caches it. Refs
// are either full URLs or Space ids of the form owner/name. The base is the
// app root plus the api_prefix from its config: empty on Gradio 4,
// /gradio_api on Gradio 5.
func (g *Gradio) connect(ctx context.Context, ref string) (string, error) {
	g.mu.Lock()
	if g.spaces == nil {
		g.spaces = make(map[string]string)
	}
	base, ok := g.spaces[ref]
	g.mu.Unlock()
	if ok {
		return base, nil
	}

	var root string
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		root = strings.TrimRight(ref, "/")
	} else {
		data, err := do(ctx, defaultClient(g.Client), vendorRequest{
			kind:   schema.KindGradio,
			method: http.MethodGet,
			url:    joinURL(g.HostAPI, "api/spaces", ref, "host"),
			header: g.header(),
		})
		if err != nil {
			return "", err
		}
		root = strings.TrimRight(gjson.GetBytes(data, "host").String(), "/")
		if root == "" {
			return "", &schema.DispatchError{Vendor: schema.KindGradio, Message: fmt.Sprintf("space %s has no host", ref)}
		}
	}

	config, err := do(ctx, defaultClient(g.Client), vendorRequest{
		kind:   schema.KindGradio,
		method: http.MethodGet,
		url:    joinURL(root, "config"),
		header: g.header(),
	})
	if err != nil {
		return "", err
	}
	base = root
	if prefix := strings.Trim(gjson.GetBytes(config, "api_prefix").String(), "/"); prefix != "" {
		base = joinURL(root, prefix)
	}

	g.mu.Lock()
	g.spaces[ref] = base
	g.mu.Unlock()
	return base, nil
}

// upload stores a blob on the app and returns its server side path.
func (g *Gradio) upload(ctx context.Context, base string, m *mapper.Media) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("files", m.FileName())
	if err != nil {
		return "", err
	}
	if _, err := part.Write(m.Data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	data, err := do(ctx, defaultClient(g.Client), vendorRequest{
		kind:        schema.KindGradio,
		method:      http.MethodPost,
		url:         joinURL(base, "upload"),
		header:      g.header(),
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
	})
	if err != nil {
		return "", err
	}
	path := gjson.GetBytes(data, "0").String()
	if path == "" {
		return "", invalidResponse(schema.KindGradio, data)
	}
	return path, nil
}

func (g *Gradio) fileData(ctx context.Context, base string, m *mapper.Media) (map[string]any, error) {
	meta := map[string]any{"_type": "gradio.FileData"}
	if m.IsURL() {
		return map[string]any{"path": m.URL, "url": m.URL, "meta": meta}, nil
	}
	path, err := g.upload(ctx, base, m)
	if err != nil {
		return nil, err
	}
	fd := map[string]any{"path": path, "meta": meta}
	if m.Name != "" {
		fd["orig_name"] = m.Name
	}
	if m.MIME != "" {
		fd["mime_type"] = m.MIME
	}
	return fd, nil
}

func (g *Gradio) Invoke(ctx context.Context, cfg schema.Configuration, payload mapper.Payload) (*JobHandle, error) {
	base, err := g.connect(ctx, cfg.Client)
	if err != nil {
		return nil, err
	}

	// data is positional: one slot per declared input, null where the
	// payload left an optional field out.
	args := make([]any, len(cfg.Inputs))
	for i, field := range cfg.Inputs {
		value, _ := payload.Get(field.Key)
		if m, ok := value.(*mapper.Media); ok {
			if value, err = g.fileData(ctx, base, m); err != nil {
				return nil, err
			}
		}
		args[i] = value
	}
	body, err := sjson.SetBytes([]byte(`{}`), "data", args)
	if err != nil {
		return nil, err
	}

	callURL := joinURL(base, "call", cfg.GradioRoute())
	data, err := do(ctx, defaultClient(g.Client), vendorRequest{
		kind:   schema.KindGradio,
		method: http.MethodPost,
		url:    callURL,
		header: g.header(),
		body:   body,
	})
	if err != nil {
		return nil, err
	}
	eventID := gjson.GetBytes(data, "event_id").String()
	if eventID == "" {
		return nil, invalidResponse(schema.KindGradio, data)
	}

	result, err := g.await(ctx, callURL+"/"+url.PathEscape(eventID))
	if err != nil {
		return nil, err
	}

	raw, err := sjson.SetRawBytes([]byte(`{}`), "data", result)
	if err != nil {
		return nil, err
	}
	normalized, err := Normalize(cfg.Outputs, raw)
	if err != nil {
		return nil, err
	}

	return &JobHandle{
		ID:           eventID,
		Slug:         cfg.Name,
		Kind:         schema.KindGradio,
		Status:       StatusSucceeded,
		VendorStatus: "complete",
		Output:       normalized,
		Raw:          raw,
		CreatedAt:    time.Now(),
	}, nil
}

// await reads the event stream of a call until it completes or fails and
// returns the data of the complete event.
func (g *Gradio) await(ctx context.Context, streamURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range g.header() {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := defaultClient(g.Client).Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &schema.DispatchError{Vendor: schema.KindGradio, Message: "connection failed", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		return nil, &schema.DispatchError{Vendor: schema.KindGradio, StatusCode: resp.StatusCode, Message: vendorMessage(buf.Bytes())}
	}

	for ev, err := range sse.Read(resp.Body, &sse.ReadConfig{MaxEventSize: maxEventSize}) {
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &schema.DispatchError{Vendor: schema.KindGradio, Message: "read event stream", Err: err}
		}
		switch ev.Type {
		case "complete":
			return []byte(ev.Data), nil
		case "error":
			msg := "space returned an error"
			if v := gjson.Parse(ev.Data); v.Type == gjson.String && v.String() != "" {
				msg = v.String()
			} else if ev.Data != "" && ev.Data != "null" {
				msg = ev.Data
			}
			return nil, &schema.DispatchError{Vendor: schema.KindGradio, Message: msg}
		}
	}
	return nil, &schema.DispatchError{Vendor: schema.KindGradio, Message: "event stream closed before completion"}
}

// Poll is a no-op: Gradio calls finish inside Invoke. A handle rebuilt from
// an id alone is reported as succeeded without output.
func (g *Gradio) Poll(ctx context.Context, cfg schema.Configuration, handle *JobHandle) (*JobHandle, error) {
	if handle.Status != "" {
		return handle, nil
	}
	next := handle.clone()
	next.Status = StatusSucceeded
	next.VendorStatus = "complete"
	return next, nil
}

func (g *Gradio) Result(ctx context.Context, cfg schema.Configuration, handle *JobHandle) (*JobHandle, error) {
	return g.Poll(ctx, cfg, handle)
}
