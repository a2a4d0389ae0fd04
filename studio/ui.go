package studio

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mostlygeek/genstudio/resolver"
	"github.com/mostlygeek/genstudio/schema"
)

type UINavigationItem struct {
	Label  string
	Path   string
	Active bool
}

type UIVersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

type UIConfiguration struct {
	Name        string
	Path        string
	Type        string
	Description string
	Source      string
	Inputs      int
	Outputs     int
}

type UIField struct {
	Key       string
	Label     string
	Component string
	Type      string
	Default   string
	Range     string
	Options   string
	Shown     bool
	Required  bool
	InputType string
}

type UIConfigurationDetail struct {
	UIConfiguration
	Target          string
	DescriptionHTML template.HTML
	DocumentHTML    template.HTML
	DispatchPath    string
	ShownInputs     []UIField
	Inputs          []UIField
	Outputs         []UIField
}

type UIJob struct {
	ID         string
	Slug       string
	Kind       string
	Status     string
	Progress   string
	Error      string
	Updated    string
	StatusPath string
	ConfigPath string
}

type UIPageData struct {
	NavItems       []UINavigationItem
	VersionInfo    UIVersionInfo
	Configurations []UIConfiguration
	Configuration  *UIConfigurationDetail
	Jobs           []UIJob
	Logs           string
	Error          string
}

func addUIHandlers(pm *Manager) {
	pm.ginEngine.GET("/", pm.uiIndexHandler)
	pm.ginEngine.GET("/ui", pm.uiIndexHandler)

	ui := pm.ginEngine.Group("/ui")
	{
		ui.GET("/configurations", pm.uiConfigurationsPageHandler)
		ui.GET("/configurations/:slug", pm.uiConfigurationPageHandler)
		ui.GET("/jobs", pm.uiJobsPageHandler)
		ui.GET("/logs", pm.uiLogsPageHandler)
		ui.GET("/static/*filepath", pm.uiStaticHandler)
	}
}

func (pm *Manager) uiIndexHandler(c *gin.Context) {
	c.Redirect(http.StatusFound, "/ui/configurations")
}

func (pm *Manager) uiConfigurationsPageHandler(c *gin.Context) {
	data := pm.uiPageData("/ui/configurations")
	entries, err := pm.resolver.List(c.Request.Context())
	if err != nil {
		data.Error = err.Error()
	}
	for _, entry := range entries {
		data.Configurations = append(data.Configurations, uiConfiguration(entry))
	}
	pm.renderUIPage(c, http.StatusOK, "pages/configurations", data)
}

func (pm *Manager) uiConfigurationPageHandler(c *gin.Context) {
	data := pm.uiPageData("/ui/configurations")
	entry, err := pm.resolver.ResolveEntry(c.Request.Context(), c.Param("slug"))
	if err != nil {
		data.Error = err.Error()
		status := http.StatusInternalServerError
		if errors.Is(err, schema.ErrNotFound) {
			status = http.StatusNotFound
		}
		pm.renderUIPage(c, status, "pages/configuration", data)
		return
	}

	detail, err := uiConfigurationDetail(entry)
	if err != nil {
		data.Error = err.Error()
	}
	data.Configuration = detail
	pm.renderUIPage(c, http.StatusOK, "pages/configuration", data)
}

func (pm *Manager) uiJobsPageHandler(c *gin.Context) {
	data := pm.uiPageData("/ui/jobs")
	for _, record := range pm.jobs.List() {
		data.Jobs = append(data.Jobs, uiJob(record))
	}
	pm.renderUIPage(c, http.StatusOK, "pages/jobs", data)
}

func (pm *Manager) uiLogsPageHandler(c *gin.Context) {
	data := pm.uiPageData("/ui/logs")
	data.Logs = string(pm.logger.GetHistory())
	pm.renderUIPage(c, http.StatusOK, "pages/logs", data)
}

func (pm *Manager) uiStaticHandler(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("filepath"), "/")
	if name == "chroma.css" {
		css, err := GenerateChromaCSS()
		if err != nil {
			c.String(http.StatusInternalServerError, err.Error())
			return
		}
		c.Data(http.StatusOK, "text/css; charset=utf-8", []byte(css))
		return
	}

	staticFS, err := GetUIStaticFS()
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	ServeCompressedFile(staticFS, c.Writer, c.Request, name)
}

func (pm *Manager) uiPageData(activePath string) UIPageData {
	return UIPageData{
		NavItems: []UINavigationItem{
			{Label: "Configurations", Path: "/ui/configurations", Active: activePath == "/ui/configurations"},
			{Label: "Jobs", Path: "/ui/jobs", Active: activePath == "/ui/jobs"},
			{Label: "Logs", Path: "/ui/logs", Active: activePath == "/ui/logs"},
		},
		VersionInfo: UIVersionInfo{
			Version:   pm.version,
			Commit:    pm.commit,
			BuildDate: pm.buildDate,
		},
	}
}

func uiConfiguration(entry resolver.Entry) UIConfiguration {
	cfg := entry.Configuration
	return UIConfiguration{
		Name:        cfg.Name,
		Path:        "/ui/configurations/" + url.PathEscape(cfg.Name),
		Type:        string(cfg.Type),
		Description: firstLine(cfg.Description),
		Source:      string(entry.Source),
		Inputs:      len(cfg.Inputs),
		Outputs:     len(cfg.Outputs),
	}
}

func uiConfigurationDetail(entry resolver.Entry) (*UIConfigurationDetail, error) {
	cfg := entry.Configuration
	detail := &UIConfigurationDetail{
		UIConfiguration: uiConfiguration(entry),
		Target:          uiTarget(cfg),
		DescriptionHTML: RenderMarkdown(cfg.Description),
		DispatchPath:    "/api/dispatch/" + url.PathEscape(cfg.Name),
	}
	for _, f := range cfg.Inputs {
		field := uiField(f)
		detail.Inputs = append(detail.Inputs, field)
		if f.Show {
			detail.ShownInputs = append(detail.ShownInputs, field)
		}
	}
	for _, f := range cfg.Outputs {
		detail.Outputs = append(detail.Outputs, uiField(f))
	}

	doc, err := cfg.MarshalDocument()
	if err != nil {
		return detail, err
	}
	detail.DocumentHTML = RenderCodeBlock(string(doc), "json")
	return detail, nil
}

func uiJob(record JobRecord) UIJob {
	h := record.Handle
	job := UIJob{
		ID:         h.ID,
		Slug:       h.Slug,
		Kind:       string(h.Kind),
		Status:     string(h.Status),
		Error:      h.Error,
		Updated:    record.Updated.Format(time.RFC3339),
		StatusPath: "/api/predictions/" + url.PathEscape(h.Slug) + "/" + url.PathEscape(h.ID),
		ConfigPath: "/ui/configurations/" + url.PathEscape(h.Slug),
	}
	if h.Progress != nil {
		job.Progress = strconv.FormatFloat(*h.Progress, 'f', 0, 64) + "%"
	}
	return job
}

func uiTarget(cfg schema.Configuration) string {
	switch cfg.Type {
	case schema.KindReplicate:
		if cfg.Model != "" && !strings.Contains(cfg.Version, ":") {
			return cfg.Model + ":" + cfg.Version
		}
		return cfg.Version
	case schema.KindGradio:
		return cfg.Client + " " + cfg.GradioRoute()
	case schema.KindFal:
		return cfg.EndpointID
	}
	return ""
}

func uiField(f schema.FieldDescriptor) UIField {
	field := UIField{
		Key:       f.Key,
		Label:     f.DisplayLabel(),
		Component: string(f.Component),
		Type:      string(f.Type),
		Options:   strings.Join(f.Options, ", "),
		Shown:     f.Show,
		Required:  f.Required,
		InputType: uiInputType(f.Component),
	}
	if f.Value != nil {
		field.Default = fmt.Sprint(f.Value)
	}

	var bounds []string
	if f.Min != nil {
		bounds = append(bounds, "min "+formatFloat(*f.Min))
	}
	if f.Max != nil {
		bounds = append(bounds, "max "+formatFloat(*f.Max))
	}
	if f.Step != nil {
		bounds = append(bounds, "step "+formatFloat(*f.Step))
	}
	field.Range = strings.Join(bounds, ", ")
	return field
}

func uiInputType(component schema.Component) string {
	switch component {
	case schema.ComponentImage, schema.ComponentVideo, schema.ComponentAudio:
		return "file"
	case schema.ComponentNumber, schema.ComponentSlider:
		return "number"
	case schema.ComponentCheckbox:
		return "checkbox"
	default:
		return "text"
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
