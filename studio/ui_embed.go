package studio

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed ui/static ui/templates
var uiFS embed.FS

func GetUIStaticFS() (http.FileSystem, error) {
	subFS, err := fs.Sub(uiFS, "ui/static")
	if err != nil {
		return nil, err
	}
	return http.FS(subFS), nil
}

// ServeCompressedFile serves name from fsys, preferring a precompressed
// .br or .gz sibling the client accepts.
func ServeCompressedFile(fsys http.FileSystem, w http.ResponseWriter, r *http.Request, name string) {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")

	original, err := fsys.Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer original.Close()

	stat, err := original.Stat()
	if err != nil || stat.IsDir() {
		http.NotFound(w, r)
		return
	}

	if encoding, ext := selectEncoding(r.Header.Get("Accept-Encoding")); encoding != "" {
		for _, candidate := range compressedCandidates(encoding, ext) {
			compressed, err := fsys.Open(name + candidate.ext)
			if err != nil {
				continue
			}
			defer compressed.Close()
			cstat, err := compressed.Stat()
			if err != nil {
				continue
			}
			w.Header().Set("Content-Encoding", candidate.encoding)
			w.Header().Set("Vary", "Accept-Encoding")
			setContentType(w, name)
			http.ServeContent(w, r, name, cstat.ModTime(), compressed)
			return
		}
	}

	setContentType(w, name)
	http.ServeContent(w, r, name, stat.ModTime(), original)
}

type encodingCandidate struct {
	encoding string
	ext      string
}

// compressedCandidates falls back from brotli to gzip when only the .gz
// variant exists.
func compressedCandidates(encoding, ext string) []encodingCandidate {
	candidates := []encodingCandidate{{encoding, ext}}
	if encoding == "br" {
		candidates = append(candidates, encodingCandidate{"gzip", ".gz"})
	}
	return candidates
}

// selectEncoding picks br over gzip regardless of q-values.
func selectEncoding(acceptEncoding string) (string, string) {
	var br, gzip bool
	for _, part := range strings.Split(acceptEncoding, ",") {
		token, _, _ := strings.Cut(part, ";")
		switch strings.TrimSpace(strings.ToLower(token)) {
		case "br":
			br = true
		case "gzip":
			gzip = true
		}
	}
	switch {
	case br:
		return "br", ".br"
	case gzip:
		return "gzip", ".gz"
	default:
		return "", ""
	}
}

func setContentType(w http.ResponseWriter, name string) {
	switch path.Ext(name) {
	case ".css":
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
	case ".js":
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	case ".svg":
		w.Header().Set("Content-Type", "image/svg+xml")
	}
}
