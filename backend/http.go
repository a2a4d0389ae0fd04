package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mostlygeek/genstudio/schema"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxErrorBody bounds how much of a vendor error body ends up in messages.
const maxErrorBody = 512

type vendorRequest struct {
	kind        schema.Kind
	method      string
	url         string
	header      http.Header
	body        []byte
	contentType string
}

// do sends the request and returns the body of a 2xx response. Connection
// failures and other statuses become *schema.DispatchError.
func do(ctx context.Context, client *http.Client, r vendorRequest) ([]byte, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, &schema.DispatchError{Vendor: r.kind, Message: "build request", Err: err}
	}
	for k, values := range r.header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if r.body != nil {
		ct := r.contentType
		if ct == "" {
			ct = "application/json"
		}
		req.Header.Set("Content-Type", ct)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &schema.DispatchError{Vendor: r.kind, Message: "connection failed", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &schema.DispatchError{Vendor: r.kind, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &schema.DispatchError{Vendor: r.kind, StatusCode: resp.StatusCode, Message: vendorMessage(data)}
	}
	return data, nil
}

// vendorMessage pulls the human readable error out of a vendor body.
func vendorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"detail", "error.message", "error", "message", "title"} {
			if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
		if v := gjson.GetBytes(body, "detail.0.msg"); v.Exists() {
			return v.String()
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	if msg == "" {
		msg = "empty response"
	}
	return msg
}

func invalidResponse(kind schema.Kind, body []byte) error {
	return &schema.DispatchError{Vendor: kind, Message: fmt.Sprintf("unexpected response: %s", vendorMessage(body))}
}

// tracedClient propagates the dispatch span to vendors and records a
// client span per request.
var tracedClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return tracedClient
}

func joinURL(base string, parts ...string) string {
	u := strings.TrimRight(base, "/")
	for _, p := range parts {
		u += "/" + strings.Trim(p, "/")
	}
	return u
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimRight(line, "\r"); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
