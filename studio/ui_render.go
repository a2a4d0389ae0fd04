package studio

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/eknkc/amber"
	"github.com/gin-gonic/gin"
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

const uiPagesGlob = "ui/templates/pages/*.amber"

// uiPages holds the compiled amber pages keyed by "pages/<file name>".
type uiPages map[string]*template.Template

// compileUIPages compiles every embedded page. A new .amber file is served
// under its file name without registration.
func compileUIPages() (uiPages, error) {
	files, err := fs.Glob(uiFS, uiPagesGlob)
	if err != nil {
		return nil, err
	}
	opts := amber.Options{
		PrettyPrint:       true,
		VirtualFilesystem: http.FS(uiFS),
	}

	pages := make(uiPages, len(files))
	for _, file := range files {
		data, err := uiFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read page %s: %w", file, err)
		}
		tmpl, err := amber.CompileData(data, file, opts)
		if err != nil {
			return nil, fmt.Errorf("compile page %s: %w", file, err)
		}
		pages["pages/"+strings.TrimSuffix(path.Base(file), ".amber")] = tmpl
	}
	return pages, nil
}

func (pm *Manager) renderUIPage(c *gin.Context, status int, name string, data UIPageData) {
	tmpl := pm.uiPages[name]
	if tmpl == nil {
		c.String(http.StatusInternalServerError, "UI page %s not found", name)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}

var chromaHTMLFormatter = html.New(
	html.WithClasses(true),
	html.WithLineNumbers(false),
	html.TabWidth(2),
)

var chromaStyle = styles.Get("github")

// RenderMarkdown renders a configuration description. Fenced code blocks
// go through chroma.
func RenderMarkdown(text string) template.HTML {
	if strings.TrimSpace(text) == "" {
		return template.HTML("")
	}

	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs | parser.Strikethrough)
	doc := p.Parse([]byte(text))

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{
		Flags:          mdhtml.CommonFlags | mdhtml.HrefTargetBlank | mdhtml.SkipHTML,
		RenderNodeHook: renderCodeBlockHook,
	})
	return template.HTML(markdown.Render(doc, renderer))
}

func renderCodeBlockHook(w io.Writer, node ast.Node, entering bool) (ast.WalkStatus, bool) {
	codeBlock, ok := node.(*ast.CodeBlock)
	if !ok {
		return ast.GoToNext, false
	}
	if entering {
		io.WriteString(w, string(RenderCodeBlock(string(codeBlock.Literal), string(codeBlock.Info))))
	}
	return ast.GoToNext, true
}

// RenderCodeBlock highlights code for lang, falling back to an escaped
// <pre> block.
func RenderCodeBlock(code, lang string) template.HTML {
	if code == "" {
		return template.HTML("")
	}

	lang = strings.TrimSpace(lang)
	if lang == "" {
		lang = "text"
	}
	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	plain := template.HTML("<pre><code>" + template.HTMLEscapeString(code) + "</code></pre>")
	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return plain
	}

	var buf bytes.Buffer
	buf.WriteString(`<div class="chroma">`)
	if err := chromaHTMLFormatter.Format(&buf, chromaStyle, iterator); err != nil {
		return plain
	}
	buf.WriteString("</div>")
	return template.HTML(buf.String())
}

// GenerateChromaCSS returns the stylesheet for the highlight classes.
func GenerateChromaCSS() (string, error) {
	var buf bytes.Buffer
	if err := chromaHTMLFormatter.WriteCSS(&buf, chromaStyle); err != nil {
		return "", err
	}
	return buf.String(), nil
}
