package studio

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mostlygeek/genstudio/backend"
	"github.com/mostlygeek/genstudio/mapper"
	"github.com/mostlygeek/genstudio/resolver"
	"github.com/mostlygeek/genstudio/schema"
)

// maxUploadMemory is the multipart form size kept in memory before
// spilling to temp files.
const maxUploadMemory = 32 << 20

type ConfigurationSummary struct {
	Name        string          `json:"name"`
	Type        schema.Kind     `json:"type"`
	Description string          `json:"description,omitempty"`
	Source      resolver.Source `json:"source"`
	Inputs      int             `json:"inputs"`
	Outputs     int             `json:"outputs"`
}

func addApiHandlers(pm *Manager) {
	apiGroup := pm.ginEngine.Group("/api", pm.apiKeyAuth())
	{
		apiGroup.GET("/configurations", pm.apiListConfigurations)
		apiGroup.POST("/configurations", pm.apiCreateConfiguration)
		apiGroup.GET("/configurations/:slug", pm.apiGetConfiguration)
		apiGroup.POST("/dispatch/:slug", pm.apiDispatch)
		apiGroup.GET("/predictions/:slug/:id", pm.apiGetStatus)
		apiGroup.GET("/predictions/:slug/:id/events", pm.apiStreamStatus)
		apiGroup.GET("/predictions/:slug/:id/ws", pm.apiStatusWebSocket)
		apiGroup.GET("/jobs", pm.apiListJobs)
		apiGroup.GET("/events", pm.apiSendEvents)
		apiGroup.GET("/logs", pm.apiGetLogs)
		apiGroup.GET("/ws", pm.HandleWebSocket)
		apiGroup.GET("/version", pm.apiGetVersion)
	}
}

// apiKeyAuth accepts a key as a bearer token, an X-Api-Key header or an
// api_key query parameter (browsers cannot set headers on EventSource and
// WebSocket). No configured keys means no auth.
func (pm *Manager) apiKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		keys := pm.apiKeys()
		if len(keys) == 0 {
			c.Next()
			return
		}

		provided := c.GetHeader("X-Api-Key")
		if bearer, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
			provided = strings.TrimSpace(bearer)
		}
		if provided == "" {
			provided = c.Query("api_key")
		}

		for _, key := range keys {
			if key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(provided)) == 1 {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
	}
}

// sendError maps the error taxonomy onto HTTP statuses.
func (pm *Manager) sendError(c *gin.Context, err error) {
	var verr *schema.ValidationError
	var derr *schema.DispatchError

	switch {
	case errors.As(err, &verr):
		body := gin.H{"error": verr.Error()}
		if verr.Field != "" {
			body["field"] = verr.Field
		}
		c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, schema.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &derr):
		pm.logger.Warnf("<%s> %v", derr.Vendor, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "vendor": derr.Vendor})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		pm.logger.Errorf("<studio> %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (pm *Manager) apiListConfigurations(c *gin.Context) {
	entries, err := pm.resolver.List(c.Request.Context())
	if err != nil {
		pm.sendError(c, err)
		return
	}

	summaries := make([]ConfigurationSummary, 0, len(entries))
	for _, entry := range entries {
		cfg := entry.Configuration
		summaries = append(summaries, ConfigurationSummary{
			Name:        cfg.Name,
			Type:        cfg.Type,
			Description: cfg.Description,
			Source:      entry.Source,
			Inputs:      len(cfg.Inputs),
			Outputs:     len(cfg.Outputs),
		})
	}
	c.JSON(http.StatusOK, summaries)
}

func (pm *Manager) apiGetConfiguration(c *gin.Context) {
	cfg, err := pm.resolver.Resolve(c.Request.Context(), c.Param("slug"))
	if err != nil {
		pm.sendError(c, err)
		return
	}
	doc, err := cfg.MarshalDocument()
	if err != nil {
		pm.sendError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", doc)
}

func (pm *Manager) apiCreateConfiguration(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	cfg, err := schema.UnmarshalDocument(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid configuration document: " + err.Error()})
		return
	}

	id, err := pm.resolver.Create(c.Request.Context(), cfg)
	if err != nil {
		pm.sendError(c, err)
		return
	}
	pm.logger.Infof("<studio> stored configuration %s (%s)", cfg.Name, id)
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (pm *Manager) apiDispatch(c *gin.Context) {
	slug := c.Param("slug")
	cfg, err := pm.resolver.Resolve(c.Request.Context(), slug)
	if err != nil {
		pm.sendError(c, err)
		return
	}

	params, err := requestParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	handle, err := pm.dispatcher.Invoke(c.Request.Context(), cfg, params)
	if err != nil {
		pm.sendError(c, err)
		return
	}
	pm.logger.Infof("<%s> dispatched %s as %s (%s)", cfg.Type, slug, handle.ID, handle.Status)
	c.JSON(http.StatusOK, handle)
}

func (pm *Manager) apiGetStatus(c *gin.Context) {
	cfg, err := pm.resolver.Resolve(c.Request.Context(), c.Param("slug"))
	if err != nil {
		pm.sendError(c, err)
		return
	}

	handle, err := pm.dispatcher.Status(c.Request.Context(), cfg, &backend.JobHandle{ID: c.Param("id")})
	if err != nil {
		pm.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, handle)
}

func (pm *Manager) apiGetLogs(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain; charset=utf-8", pm.logger.GetHistory())
}

func (pm *Manager) apiGetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, map[string]string{
		"version":    pm.version,
		"commit":     pm.commit,
		"build_date": pm.buildDate,
	})
}

// requestParams reads dispatch parameters from a JSON object or a
// multipart form. Uploaded files become media blobs; repeated keys become
// lists.
func requestParams(c *gin.Context) (map[string]any, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		form, err := c.MultipartForm()
		if err != nil {
			return nil, err
		}
		return formParams(form)
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	params := map[string]any{}
	if len(bytes.TrimSpace(body)) == 0 {
		return params, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&params); err != nil {
		return nil, errors.New("request body must be a JSON object")
	}
	return params, nil
}

func formParams(form *multipart.Form) (map[string]any, error) {
	params := make(map[string]any, len(form.Value)+len(form.File))
	for key, values := range form.Value {
		if len(values) == 1 {
			params[key] = values[0]
			continue
		}
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = v
		}
		params[key] = list
	}

	for key, headers := range form.File {
		blobs := make([]any, 0, len(headers))
		for _, header := range headers {
			blob, err := readFormFile(header)
			if err != nil {
				return nil, err
			}
			blobs = append(blobs, blob)
		}
		if len(blobs) == 1 {
			params[key] = blobs[0]
		} else {
			params[key] = blobs
		}
	}
	return params, nil
}

func readFormFile(header *multipart.FileHeader) (*mapper.Media, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return mapper.NewBlob(header.Filename, header.Header.Get("Content-Type"), data), nil
}
