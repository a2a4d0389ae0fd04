package studio

import (
	"net/http"
	"strings"
	"testing"

	"github.com/mostlygeek/genstudio/schema"
	"github.com/mostlygeek/genstudio/studio/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUI_IndexRedirects(t *testing.T) {
	pm := newTestManager(t, config.Config{})
	for _, path := range []string{"/", "/ui"} {
		w := pm.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/ui/configurations", w.Header().Get("Location"))
	}
}

func TestUI_ConfigurationsPage(t *testing.T) {
	pm := newTestManager(t, config.Config{})

	w := pm.do(http.MethodGet, "/ui/configurations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, `href="/ui/configurations/upscale"`)
	assert.Contains(t, body, "Upscales an image.")
	assert.NotContains(t, body, "real-esrgan**")
	assert.Contains(t, body, "1.2.3")
}

func TestUI_ConfigurationPage(t *testing.T) {
	pm := newTestManager(t, config.Config{})

	w := pm.do(http.MethodGet, "/ui/configurations/upscale", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "<strong>real-esrgan</strong>")
	assert.Contains(t, body, "nightmareai/real-esrgan:v1")
	assert.Contains(t, body, `class="chroma"`)
	assert.Contains(t, body, "face_enhance")
	assert.Contains(t, body, `name="image"`)
	assert.Contains(t, body, `type="file"`)
	assert.Contains(t, body, `/api/dispatch/upscale`)
	// hidden inputs are listed but not offered in the form
	assert.NotContains(t, body, `name="face_enhance"`)

	w = pm.do(http.MethodGet, "/ui/configurations/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "configuration not found")
}

func TestUI_LogsPage(t *testing.T) {
	pm := newTestManager(t, config.Config{})
	pm.logger.Info("<studio> visible in the log page")

	w := pm.do(http.MethodGet, "/ui/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "&lt;studio&gt; visible in the log page")
}

func TestUI_Static(t *testing.T) {
	pm := newTestManager(t, config.Config{})

	w := pm.do(http.MethodGet, "/ui/static/style.css", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/css; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), ":root")

	w = pm.do(http.MethodGet, "/ui/static/chroma.css", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), ".chroma")

	w = pm.do(http.MethodGet, "/ui/static/missing.js", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUITarget(t *testing.T) {
	tests := []struct {
		name string
		cfg  schema.Configuration
		want string
	}{
		{"replicate bare version", schema.Configuration{Type: schema.KindReplicate, Model: "a/b", Version: "v1"}, "a/b:v1"},
		{"replicate full ref", schema.Configuration{Type: schema.KindReplicate, Model: "a/b", Version: "a/b:v1"}, "a/b:v1"},
		{"gradio endpoint", schema.Configuration{Type: schema.KindGradio, Client: "owner/space", Endpoint: "predict"}, "owner/space /predict"},
		{"gradio path", schema.Configuration{Type: schema.KindGradio, Client: "owner/space", Path: "/run"}, "owner/space /run"},
		{"fal", schema.Configuration{Type: schema.KindFal, EndpointID: "fal-ai/flux/dev"}, "fal-ai/flux/dev"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, uiTarget(tt.cfg))
		})
	}
}

func TestUIField(t *testing.T) {
	lo, hi, step := 1.0, 4.0, 0.5
	field := uiField(schema.FieldDescriptor{
		Key:       "scale",
		Component: schema.ComponentSlider,
		Type:      schema.TypeNumber,
		Value:     2,
		Show:      true,
		Min:       &lo,
		Max:       &hi,
		Step:      &step,
	})
	assert.Equal(t, "number", field.InputType)
	assert.Equal(t, "2", field.Default)
	assert.Equal(t, "min 1, max 4, step 0.5", field.Range)
	assert.True(t, field.Shown)
}

func TestCompileUIPages(t *testing.T) {
	pages, err := compileUIPages()
	require.NoError(t, err)

	var names []string
	for name := range pages {
		names = append(names, name)
	}
	assert.ElementsMatch(t, []string{
		"pages/configuration",
		"pages/configurations",
		"pages/jobs",
		"pages/logs",
	}, names)
}

func TestRenderMarkdown(t *testing.T) {
	assert.Equal(t, "", string(RenderMarkdown("  ")))

	html := string(RenderMarkdown("# Title\n\n```json\n{\"a\": 1}\n```\n"))
	assert.Contains(t, html, "<h1")
	assert.Contains(t, html, `<div class="chroma">`)
	assert.False(t, strings.Contains(html, "```"))
}
