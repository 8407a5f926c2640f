// Package cgi implements the CgiExecutor: fork/exec of a script
// interpreter over pipes, a hard wall-clock timeout, and CGI output
// parsing, per spec.md §4.5. Grounded on
// original_source/srcs/CgiHandler.cpp's environment table and
// timeout-then-SIGKILL shape, reimplemented with os/exec.CommandContext
// instead of raw fork/dup2/waitpid.
package cgi

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/MariiaZhytnikova/webserv/internal/config"
	"github.com/MariiaZhytnikova/webserv/internal/httpmsg"
	"github.com/MariiaZhytnikova/webserv/internal/responsebuilder"
)

// Timeout is the hard wall-clock deadline for a CGI child (spec.md §4.5
// and §6's CGI_TIMEOUT).
const Timeout = 10 * time.Second

// ServerSoftware is the SERVER_SOFTWARE environment value advertised to
// CGI children.
const ServerSoftware = "webserv/1.0"

// Executor runs CGI scripts with concurrency bounded by a worker pool, so
// a burst of CGI requests cannot fork unboundedly many children.
type Executor struct {
	pool *ants.Pool
}

// NewExecutor returns an Executor that runs at most maxConcurrent CGI
// children at a time.
func NewExecutor(maxConcurrent int) (*Executor, error) {
	pool, err := ants.NewPool(maxConcurrent)
	if err != nil {
		return nil, err
	}
	return &Executor{pool: pool}, nil
}

// Release stops the underlying worker pool.
func (e *Executor) Release() {
	e.pool.Release()
}

// Dispatch reports whether the request path's extension is bound to a CGI
// interpreter in loc's extension map, and if so, which interpreter
// (spec.md §4.5's dispatch rule).
func Dispatch(loc *config.Location, path string) (interpreter string, ok bool) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", false
	}
	interp, found := loc.CGIExtensions[ext]
	return interp, found
}

// ScriptPath resolves the filesystem path of the CGI script a request
// targets, stripping the location's prefix from the request path before
// appending the remainder to the effective document root, the same
// resolution rule internal/static applies to static files (spec.md
// §4.4.1, reused here since §4.5 names no separate CGI path rule).
func ScriptPath(vh *config.VirtualHost, loc *config.Location, reqPath string) string {
	root := loc.EffectiveRoot(vh)
	rel := reqPath
	if pm, ok := loc.Matcher.(config.PrefixMatcher); ok {
		rel = strings.TrimPrefix(reqPath, pm.Prefix)
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return root + rel
}

// Execute runs the CGI script at scriptPath through interpreterPath,
// bounded by the executor's worker pool, and returns the finished
// response.
func (e *Executor) Execute(vh *config.VirtualHost, req *httpmsg.Request, scriptPath, interpreterPath string) *httpmsg.Response {
	resultCh := make(chan *httpmsg.Response, 1)
	err := e.pool.Submit(func() {
		resultCh <- e.run(vh, req, scriptPath, interpreterPath)
	})
	if err != nil {
		return responsebuilder.BuildError(vh, 502, false)
	}
	return <-resultCh
}

func (e *Executor) run(vh *config.VirtualHost, req *httpmsg.Request, scriptPath, interpreterPath string) *httpmsg.Response {
	if _, err := os.Stat(scriptPath); err != nil {
		return responsebuilder.BuildError(vh, 404, false)
	}

	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, interpreterPath, scriptPath)
	cmd.Env = buildEnv(req, scriptPath, vh)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if req.Method == httpmsg.MethodPost && len(req.Body) > 0 {
		cmd.Stdin = bytes.NewReader(req.Body)
	}

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		// exec.CommandContext already sent the child SIGKILL on deadline;
		// this is the "fatal" 502 spec.md §7 names for a CGI timeout.
		return responsebuilder.BuildError(vh, 502, true)
	}
	if runErr != nil {
		return responsebuilder.BuildError(vh, 502, false)
	}

	return parseOutput(vh, stdout.Bytes())
}

// buildEnv assembles the CGI environment table of spec.md §4.5.
func buildEnv(req *httpmsg.Request, scriptPath string, vh *config.VirtualHost) []string {
	scriptName := "/" + filepath.Base(scriptPath)
	pathInfo := ""
	if idx := strings.Index(req.Path, filepath.Base(scriptPath)); idx >= 0 {
		pathInfo = req.Path[idx+len(filepath.Base(scriptPath)):]
	}

	absScript, _ := filepath.Abs(scriptPath)
	absRoot, _ := filepath.Abs(vh.Root)

	env := map[string]string{
		"GATEWAY_INTERFACE": "CGI/1.1",
		"SERVER_PROTOCOL":   "HTTP/1.1",
		"SERVER_SOFTWARE":   ServerSoftware,
		"REDIRECT_STATUS":   "200",
		"REQUEST_METHOD":    string(req.Method),
		"QUERY_STRING":      req.Query,
		"CONTENT_LENGTH":    strconv.Itoa(len(req.Body)),
		"CONTENT_TYPE":      req.HeaderGet("content-type"),
		"SCRIPT_FILENAME":   absScript,
		"SCRIPT_NAME":       scriptName,
		"PATH_INFO":         pathInfo,
		"SERVER_ROOT":       absRoot,
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// parseOutput implements spec.md §4.5's output parsing: split stdout at
// the header/body boundary, require a Content-Type header, honor a
// Status: header if present, and fail with 502 on any protocol
// violation.
func parseOutput(vh *config.VirtualHost, output []byte) *httpmsg.Response {
	idx := bytes.Index(output, []byte("\r\n\r\n"))
	delim := 4
	if idx < 0 {
		idx = bytes.Index(output, []byte("\n\n"))
		delim = 2
	}
	if idx < 0 {
		return responsebuilder.BuildError(vh, 502, false)
	}

	headerBlock := output[:idx]
	body := output[idx+delim:]

	headers := httpmsg.NewHeader()
	status := 200
	reason := "OK"
	hasContentType := false

	normalized := strings.ReplaceAll(string(headerBlock), "\r\n", "\n")
	for _, line := range strings.Split(normalized, "\n") {
		if line == "" {
			continue
		}
		sep := strings.IndexByte(line, ':')
		if sep < 0 {
			continue
		}
		name := strings.TrimSpace(line[:sep])
		value := strings.TrimSpace(line[sep+1:])
		lname := strings.ToLower(name)

		if lname == "status" {
			fields := strings.Fields(value)
			if len(fields) > 0 {
				if n, err := strconv.Atoi(fields[0]); err == nil {
					status = n
					if len(fields) > 1 {
						reason = strings.Join(fields[1:], " ")
					}
				}
			}
			continue
		}
		if lname == "content-type" {
			hasContentType = true
		}
		headers.Set(lname, value)
	}

	if !hasContentType {
		return responsebuilder.BuildError(vh, 502, false)
	}

	resp := &httpmsg.Response{Version: "HTTP/1.1", Status: status, Reason: reason, Headers: headers}
	resp.Headers.Set("connection", "keep-alive")
	resp.WithBody(body)
	return resp
}
