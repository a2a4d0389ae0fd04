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

func gradioConfig() schema.Configuration {
	return schema.Configuration{
		Name:     "sketch",
		Type:     schema.KindGradio,
		Client:   "owner/sketch",
		Endpoint: "/predict",
		Inputs: []schema.FieldDescriptor{
			{Key: "image", Component: schema.ComponentImage, Show: true, Required: true},
			{Key: "prompt", Component: schema.ComponentPrompt, Show: true},
			{Key: "steps", Value: 20},
		},
		Outputs: []schema.FieldDescriptor{{Key: "image"}, {Key: "count"}},
	}
}

type fakeSpace struct {
	hostLookups   atomic.Int32
	configLookups atomic.Int32
	uploads       atomic.Int32
	called        []byte
	stream        string

	// apiPrefix is served as the config's api_prefix, "/gradio_api" on
	// Gradio 5 apps.
	apiPrefix string
}

func (f *fakeSpace) server(t *testing.T) *httptest.Server {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api := "/space" + f.apiPrefix
		switch {
		case r.URL.Path == "/api/spaces/owner/sketch/host":
			f.hostLookups.Add(1)
			io.WriteString(w, `{"subdomain":"owner-sketch","host":"`+srv.URL+`/space"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/space/config":
			f.configLookups.Add(1)
			if f.apiPrefix == "" {
				io.WriteString(w, `{"version":"4.44.1","components":[]}`)
				return
			}
			io.WriteString(w, `{"version":"5.9.1","api_prefix":"`+f.apiPrefix+`","components":[]}`)
		case r.Method == http.MethodPost && r.URL.Path == api+"/upload":
			f.uploads.Add(1)
			file, header, err := r.FormFile("files")
			if !assert.NoError(t, err) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			defer file.Close()
			assert.Equal(t, "upload.png", header.Filename)
			io.WriteString(w, `["/tmp/gradio/abc/upload.png"]`)
		case r.Method == http.MethodPost && r.URL.Path == api+"/call/predict":
			f.called, _ = io.ReadAll(r.Body)
			io.WriteString(w, `{"event_id":"evt-1"}`)
		case r.Method == http.MethodGet && r.URL.Path == api+"/call/predict/evt-1":
			w.Header().Set("Content-Type", "text/event-stream")
			io.WriteString(w, f.stream)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGradio_InvokeIsSynchronous(t *testing.T) {
	fake := &fakeSpace{stream: "event: heartbeat\ndata: null\n\n" +
		"event: generating\ndata: [\"partial\"]\n\n" +
		"event: complete\ndata: [\"https://r/a.png\", 5]\n\n"}
	srv := fake.server(t)
	d := NewDispatcher(NewGradio(srv.URL, ""))
	cfg := gradioConfig()

	handle, err := d.Invoke(context.Background(), cfg, map[string]any{
		"image":  "https://x/in.png",
		"prompt": "pencil sketch",
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", handle.ID)
	assert.Equal(t, StatusSucceeded, handle.Status)
	assert.True(t, handle.Status.Terminal())
	assert.Equal(t, map[string]any{"image": "https://r/a.png", "count": 5.0}, handle.Output)
	assert.JSONEq(t, `{"data":["https://r/a.png",5]}`, string(handle.Raw))

	data := gjson.GetBytes(fake.called, "data").Array()
	require.Len(t, data, 3)
	assert.Equal(t, "https://x/in.png", data[0].Get("url").String())
	assert.Equal(t, "gradio.FileData", data[0].Get("meta._type").String())
	assert.Equal(t, "pencil sketch", data[1].String())
	assert.Equal(t, int64(20), data[2].Int())

	polled, err := d.Status(context.Background(), cfg, handle)
	require.NoError(t, err)
	assert.Equal(t, handle.Output, polled.Output)

	_, err = d.Invoke(context.Background(), cfg, map[string]any{"image": "https://x/in.png"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.hostLookups.Load())
	assert.Equal(t, int32(1), fake.configLookups.Load())
}

func TestGradio_MissingOptionalKeepsPosition(t *testing.T) {
	fake := &fakeSpace{stream: "event: complete\ndata: [\"https://r/a.png\", 1]\n\n"}
	srv := fake.server(t)
	d := NewDispatcher(NewGradio(srv.URL, ""))

	_, err := d.Invoke(context.Background(), gradioConfig(), map[string]any{"image": "https://x/y.png"})
	require.NoError(t, err)

	data := gjson.GetBytes(fake.called, "data").Array()
	require.Len(t, data, 3)
	assert.Equal(t, "https://x/y.png", data[0].Get("url").String())
	assert.Equal(t, gjson.Null, data[1].Type)
	assert.Equal(t, int64(20), data[2].Int())
}

func TestGradio_APIPrefix(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
	}{
		{"gradio 4", ""},
		{"gradio 5", "/gradio_api"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeSpace{apiPrefix: tt.prefix, stream: "event: complete\ndata: [\"https://r/a.png\", 3]\n\n"}
			srv := fake.server(t)
			d := NewDispatcher(NewGradio(srv.URL, ""))

			handle, err := d.Invoke(context.Background(), gradioConfig(), map[string]any{
				"image": mapper.NewBlob("", "image/png", []byte("\x89PNG\r\n\x1a\n0000")),
			})
			require.NoError(t, err)
			assert.Equal(t, 3.0, handle.Output["count"])
			assert.Equal(t, int32(1), fake.uploads.Load())
		})
	}
}

func TestGradio_BlobUpload(t *testing.T) {
	fake := &fakeSpace{stream: "event: complete\ndata: [\"https://r/a.png\", 1]\n\n"}
	srv := fake.server(t)
	d := NewDispatcher(NewGradio(srv.URL, ""))

	_, err := d.Invoke(context.Background(), gradioConfig(), map[string]any{
		"image": mapper.NewBlob("", "image/png", []byte("\x89PNG\r\n\x1a\n0000")),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.uploads.Load())
	assert.Equal(t, "/tmp/gradio/abc/upload.png", gjson.GetBytes(fake.called, "data.0.path").String())
	assert.Equal(t, "image/png", gjson.GetBytes(fake.called, "data.0.mime_type").String())
}

func TestGradio_ErrorEvent(t *testing.T) {
	fake := &fakeSpace{stream: "event: error\ndata: \"GPU quota exceeded\"\n\n"}
	srv := fake.server(t)
	d := NewDispatcher(NewGradio(srv.URL, ""))

	_, err := d.Invoke(context.Background(), gradioConfig(), map[string]any{"image": "https://x/in.png"})
	var derr *schema.DispatchError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, schema.KindGradio, derr.Vendor)
	assert.Equal(t, "GPU quota exceeded", derr.Message)
}

func TestGradio_StreamClosedEarly(t *testing.T) {
	fake := &fakeSpace{stream: "event: generating\ndata: null\n\n"}
	srv := fake.server(t)
	d := NewDispatcher(NewGradio(srv.URL, ""))

	_, err := d.Invoke(context.Background(), gradioConfig(), map[string]any{"image": "https://x/in.png"})
	var derr *schema.DispatchError
	require.True(t, errors.As(err, &derr))
}

func TestGradio_UnknownSpace(t *testing.T) {
	fake := &fakeSpace{}
	srv := fake.server(t)
	d := NewDispatcher(NewGradio(srv.URL, ""))

	cfg := gradioConfig()
	cfg.Client = "owner/missing"
	_, err := d.Invoke(context.Background(), cfg, map[string]any{"image": "https://x/in.png"})
	var derr *schema.DispatchError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, http.StatusNotFound, derr.StatusCode)
}

func TestGradio_FullURLClient(t *testing.T) {
	fake := &fakeSpace{stream: "event: complete\ndata: [\"https://r/a.png\", 2]\n\n"}
	srv := fake.server(t)
	d := NewDispatcher(NewGradio("http://127.0.0.1:1", ""))

	cfg := gradioConfig()
	cfg.Client = srv.URL + "/space/"
	cfg.Endpoint = ""
	cfg.Path = "predict"
	handle, err := d.Invoke(context.Background(), cfg, map[string]any{"image": "https://x/in.png"})
	require.NoError(t, err)
	assert.Equal(t, 2.0, handle.Output["count"])
	assert.Equal(t, int32(0), fake.hostLookups.Load())
}

func TestGradio_PollRebuiltHandle(t *testing.T) {
	d := NewDispatcher(NewGradio("", ""))
	handle, err := d.Status(context.Background(), gradioConfig(), &JobHandle{ID: "evt-9"})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, handle.Status)
	assert.Nil(t, handle.Output)
}
