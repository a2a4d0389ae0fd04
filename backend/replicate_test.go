package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mostlygeek/genstudio/mapper"
	"github.com/mostlygeek/genstudio/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func replicateConfig() schema.Configuration {
	return schema.Configuration{
		Name:    "upscale",
		Type:    schema.KindReplicate,
		Model:   "a/b",
		Version: "v1",
		Inputs: []schema.FieldDescriptor{
			{Key: "image", Component: schema.ComponentImage, Show: true, Required: true},
			{Key: "scale", Value: 2},
		},
		Outputs: []schema.FieldDescriptor{{Key: "out", Type: schema.TypeArray}},
	}
}

type fakeReplicate struct {
	calls    atomic.Int32
	lastBody []byte
	poll     string
}

func (f *fakeReplicate) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer r8-token" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"title":"Unauthenticated","detail":"You did not pass a valid authentication token"}`)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/predictions":
			f.lastBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, `{"id":"p1","status":"starting","urls":{"get":"x"}}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/predictions/p1":
			io.WriteString(w, f.poll)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReplicate_InvokeAndPoll(t *testing.T) {
	fake := &fakeReplicate{
		poll: `{"id":"p1","status":"succeeded","logs":"step 1\nstep 2\n","output":["https://r/a.png"],"error":null}`,
	}
	srv := fake.server(t)
	d := NewDispatcher(NewReplicate(srv.URL, "r8-token"))
	cfg := replicateConfig()

	handle, err := d.Invoke(context.Background(), cfg, map[string]any{"image": "https://x/y.png"})
	require.NoError(t, err)
	assert.Equal(t, "p1", handle.ID)
	assert.Equal(t, StatusStarting, handle.Status)
	assert.Equal(t, "upscale", handle.Slug)
	assert.Equal(t, schema.KindReplicate, handle.Kind)

	assert.Equal(t, "v1", gjson.GetBytes(fake.lastBody, "version").String())
	assert.JSONEq(t, `{"image":"https://x/y.png","scale":2}`, gjson.GetBytes(fake.lastBody, "input").Raw)

	polled, err := d.Status(context.Background(), cfg, &JobHandle{ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, polled.Status)
	assert.Equal(t, []string{"step 1", "step 2"}, polled.Logs)
	assert.Equal(t, map[string]any{"out": []any{"https://r/a.png"}}, polled.Output)
	assert.Empty(t, polled.Error)
}

func TestReplicate_StatusMapping(t *testing.T) {
	tests := []struct {
		vendor string
		want   Status
	}{
		{"starting", StatusStarting},
		{"processing", StatusProcessing},
		{"failed", StatusFailed},
		{"canceled", StatusCanceled},
		{"aborted", StatusCanceled},
		{"queued", StatusProcessing},
	}
	for _, tt := range tests {
		t.Run(tt.vendor, func(t *testing.T) {
			fake := &fakeReplicate{poll: `{"id":"p1","status":"` + tt.vendor + `"}`}
			srv := fake.server(t)
			d := NewDispatcher(NewReplicate(srv.URL, "r8-token"))

			polled, err := d.Status(context.Background(), replicateConfig(), &JobHandle{ID: "p1"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, polled.Status)
			assert.Equal(t, tt.vendor, polled.VendorStatus)
		})
	}
}

func TestReplicate_InlineMediaAsDataURI(t *testing.T) {
	fake := &fakeReplicate{}
	srv := fake.server(t)
	d := NewDispatcher(NewReplicate(srv.URL, "r8-token"))

	uri := "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAIAAACQd1PeAAAADElEQVR4nGP4z8AAAAMBAQDJ/pLvAAAAAElFTkSuQmCC"
	_, err := d.Invoke(context.Background(), replicateConfig(), map[string]any{"image": uri})
	require.NoError(t, err)
	assert.Equal(t, uri, gjson.GetBytes(fake.lastBody, "input.image").String())
}

type stubPublisher struct{}

func (stubPublisher) Publish(ctx context.Context, m *mapper.Media) (string, error) {
	return "https://assets.local/inputs/x" + m.Extension(), nil
}

func TestReplicate_InlineMediaPublished(t *testing.T) {
	fake := &fakeReplicate{}
	srv := fake.server(t)
	r := NewReplicate(srv.URL, "r8-token")
	r.Publisher = stubPublisher{}
	d := NewDispatcher(r)

	uri := "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAIAAACQd1PeAAAADElEQVR4nGP4z8AAAAMBAQDJ/pLvAAAAAElFTkSuQmCC"
	_, err := d.Invoke(context.Background(), replicateConfig(), map[string]any{"image": uri})
	require.NoError(t, err)
	assert.Equal(t, "https://assets.local/inputs/x.png", gjson.GetBytes(fake.lastBody, "input.image").String())
}

func TestReplicate_ValidationNeverCallsVendor(t *testing.T) {
	fake := &fakeReplicate{}
	srv := fake.server(t)
	d := NewDispatcher(NewReplicate(srv.URL, "r8-token"))

	_, err := d.Invoke(context.Background(), replicateConfig(), map[string]any{})
	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "image", verr.Field)

	noVersion := replicateConfig()
	noVersion.Version = ""
	_, err = d.Invoke(context.Background(), noVersion, map[string]any{"image": "https://x/y.png"})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "version", verr.Field)

	noModel := replicateConfig()
	noModel.Model = ""
	_, err = d.Invoke(context.Background(), noModel, map[string]any{"image": "https://x/y.png"})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "model", verr.Field)

	assert.Equal(t, int32(0), fake.calls.Load())
}

func TestReplicate_VendorErrors(t *testing.T) {
	fake := &fakeReplicate{
		poll: `{"id":"p1","status":"failed","output":null,"error":"CUDA out of memory"}`,
	}
	srv := fake.server(t)

	_, err := NewDispatcher(NewReplicate(srv.URL, "wrong")).Invoke(context.Background(), replicateConfig(), map[string]any{"image": "https://x/y.png"})
	var derr *schema.DispatchError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, schema.KindReplicate, derr.Vendor)
	assert.Equal(t, http.StatusUnauthorized, derr.StatusCode)
	assert.Equal(t, "You did not pass a valid authentication token", derr.Message)

	handle, err := NewDispatcher(NewReplicate(srv.URL, "r8-token")).Status(context.Background(), replicateConfig(), &JobHandle{ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, handle.Status)
	assert.Equal(t, "CUDA out of memory", handle.Error)
}

func TestReplicate_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewDispatcher(NewReplicate(url, "r8-token")).Invoke(context.Background(), replicateConfig(), map[string]any{"image": "https://x/y.png"})
	var derr *schema.DispatchError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "connection failed", derr.Message)
}
