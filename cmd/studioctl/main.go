// studioctl is a command line client for a genstudio server.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/billziss-gh/golib/shlex"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

const usage = `usage: studioctl [flags] <command> [args]

commands:
  list                       list configurations
  show SLUG                  print a configuration document
  dispatch SLUG 'k=v ...'    invoke a configuration; @path uploads a file
  status SLUG ID [-wait]     poll a job, -wait until it is terminal

flags:
`

func main() {
	fs := flag.NewFlagSet("studioctl", flag.ExitOnError)
	server := fs.String("server", envOr("GENSTUDIO_SERVER", "http://localhost:8080"), "genstudio server URL")
	key := fs.String("key", os.Getenv("GENSTUDIO_API_KEY"), "API key")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	c := &client{server: strings.TrimRight(*server, "/"), key: *key, http: http.DefaultClient, out: os.Stdout}
	if err := c.run(context.Background(), fs.Args()); err != nil {
		if errors.Is(err, errUsage) {
			fs.Usage()
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "studioctl:", err)
		os.Exit(1)
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

var errUsage = errors.New("usage")

type client struct {
	server string
	key    string
	http   *http.Client
	out    io.Writer

	// pollInterval is the -wait delay between status requests.
	pollInterval time.Duration
}

func (c *client) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch cmd, rest := args[0], args[1:]; cmd {
	case "list":
		return c.print(c.get(ctx, "/api/configurations"))
	case "show":
		if len(rest) != 1 {
			return errUsage
		}
		return c.print(c.get(ctx, "/api/configurations/"+url.PathEscape(rest[0])))
	case "dispatch":
		if len(rest) < 1 {
			return errUsage
		}
		return c.print(c.dispatch(ctx, rest[0], strings.Join(rest[1:], " ")))
	case "status":
		sub := flag.NewFlagSet("status", flag.ContinueOnError)
		wait := sub.Bool("wait", false, "poll until the job is terminal")
		// flags may follow the positional arguments
		var positional []string
		for len(rest) > 0 {
			if err := sub.Parse(rest); err != nil {
				return err
			}
			if sub.NArg() == 0 {
				break
			}
			positional = append(positional, sub.Arg(0))
			rest = sub.Args()[1:]
		}
		if len(positional) != 2 {
			return errUsage
		}
		return c.status(ctx, positional[0], positional[1], *wait)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (c *client) status(ctx context.Context, slug, id string, wait bool) error {
	path := "/api/predictions/" + url.PathEscape(slug) + "/" + url.PathEscape(id)
	interval := c.pollInterval
	if interval <= 0 {
		interval = time.Second
	}

	for {
		body, err := c.get(ctx, path)
		if err != nil || !wait {
			return c.print(body, err)
		}
		switch gjson.GetBytes(body, "status").String() {
		case "succeeded", "failed", "canceled":
			return c.print(body, nil)
		}
		fmt.Fprintf(c.out, "%s %s\n", id, gjson.GetBytes(body, "status").String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// dispatch sends k=v parameters as JSON, or as a multipart form when a
// value names a file with @path.
func (c *client) dispatch(ctx context.Context, slug, params string) ([]byte, error) {
	pairs, err := parseParams(params)
	if err != nil {
		return nil, err
	}

	path := "/api/dispatch/" + url.PathEscape(slug)
	for _, p := range pairs {
		if strings.HasPrefix(p.value, "@") {
			body, contentType, err := multipartBody(pairs)
			if err != nil {
				return nil, err
			}
			return c.do(ctx, http.MethodPost, path, contentType, body)
		}
	}

	doc := []byte(`{}`)
	for _, p := range pairs {
		if doc, err = sjson.SetRawBytes(doc, gjson.Escape(p.key), jsonValue(p.value)); err != nil {
			return nil, err
		}
	}
	return c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(doc))
}

type param struct {
	key   string
	value string
}

// parseParams splits a shell-quoted list of key=value words.
func parseParams(s string) ([]param, error) {
	var params []param
	for _, word := range shlex.Posix.Split(s) {
		key, value, ok := strings.Cut(word, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", word)
		}
		params = append(params, param{key: key, value: value})
	}
	return params, nil
}

// jsonValue keeps numbers, booleans, arrays and objects typed and quotes
// everything else.
func jsonValue(v string) []byte {
	if gjson.Valid(v) {
		switch gjson.Parse(v).Type {
		case gjson.Number, gjson.True, gjson.False, gjson.JSON:
			return []byte(v)
		}
	}
	quoted, _ := sjson.Set(`{}`, "v", v)
	return []byte(gjson.Get(quoted, "v").Raw)
}

func multipartBody(params []param) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range params {
		name, ok := strings.CutPrefix(p.value, "@")
		if !ok {
			if err := mw.WriteField(p.key, p.value); err != nil {
				return nil, "", err
			}
			continue
		}
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, "", err
		}
		part, err := mw.CreateFormFile(p.key, filepath.Base(name))
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func (c *client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, "", nil)
}

func (c *client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.server+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		msg := gjson.GetBytes(data, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		if field := gjson.GetBytes(data, "field").String(); field != "" {
			msg += " (field " + field + ")"
		}
		return nil, fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, msg)
	}
	return data, nil
}

func (c *client) print(body []byte, err error) error {
	if err != nil {
		return err
	}
	_, err = c.out.Write(pretty.Pretty(body))
	return err
}
