// Package responsebuilder turns an outcome (an error code, a success
// payload, or a redirect) into a finished *httpmsg.Response: it looks up
// configured error pages, synthesizes a fallback body when none fits, and
// performs the flat {{key}} template substitution spec.md §4.8 describes.
package responsebuilder

import (
	"os"
	"strconv"
	"strings"

	"github.com/MariiaZhytnikova/webserv/internal/config"
	"github.com/MariiaZhytnikova/webserv/internal/httpmsg"
)

// reasonPhrases covers the status codes this server actually emits
// (spec.md §7's error table plus the success/redirect paths).
var reasonPhrases = map[int]string{
	200: "OK",
	201: "Created",
	204: "No Content",
	301: "Moved Permanently",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	411: "Length Required",
	413: "Payload Too Large",
	414: "URI Too Long",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	505: "HTTP Version Not Supported",
}

// ReasonPhrase returns the canonical reason phrase for code, or "Error" if
// this server never emits that code.
func ReasonPhrase(code int) string {
	if r, ok := reasonPhrases[code]; ok {
		return r
	}
	return "Error"
}

// BuildError constructs the error response for code against vh's
// configuration (spec.md §4.8). fatal controls whether the connection
// header says close or keep-alive, per spec.md §7.
func BuildError(vh *config.VirtualHost, code int, fatal bool) *httpmsg.Response {
	reason := ReasonPhrase(code)
	body := loadErrorPage(vh, code)
	if body == nil {
		body = []byte(synthesizeErrorBody(code, reason))
	}

	resp := httpmsg.NewResponse(code, reason)
	resp.Headers.Set("content-type", "text/html")
	if fatal {
		resp.Headers.Set("connection", "close")
	} else {
		resp.Headers.Set("connection", "keep-alive")
	}
	resp.WithBody(body)
	return resp
}

// BuildRedirectPage attempts the "friendly redirect" path spec.md §4.3
// item 1 describes: if vh has a 301 error page that looks like a real
// HTML page, serve it with status 200 and {{REDIRECT_URL}} substituted
// for target. ok is false if no such page exists, telling the caller to
// fall back to a bare redirect response.
func BuildRedirectPage(vh *config.VirtualHost, target string) (resp *httpmsg.Response, ok bool) {
	body := loadErrorPage(vh, 301)
	if body == nil {
		return nil, false
	}
	substituted := strings.ReplaceAll(string(body), "{{REDIRECT_URL}}", target)

	resp = httpmsg.NewResponse(200, ReasonPhrase(200))
	resp.Headers.Set("content-type", "text/html")
	resp.Headers.Set("connection", "keep-alive")
	resp.WithBody([]byte(substituted))
	return resp, true
}

// BuildBareRedirect builds the fallback redirect response when no
// friendly error page is configured: the configured code, a Location
// header, an empty body, and Connection: close (spec.md §4.3 item 1).
func BuildBareRedirect(code int, target string) *httpmsg.Response {
	resp := httpmsg.NewResponse(code, ReasonPhrase(code))
	resp.Headers.Set("location", target)
	resp.Headers.Set("connection", "close")
	resp.WithBody(nil)
	return resp
}

// BuildSuccess loads "<root>/pages/202.html", replaces every "{{key}}"
// occurrence for the given values, and responds 200 (spec.md §4.8). If the
// template file is missing, a minimal synthesized page is used instead so
// the executor always gets a response back.
func BuildSuccess(vh *config.VirtualHost, values map[string]string) *httpmsg.Response {
	root := strings.TrimSuffix(vh.Root, "/")
	page := root + "/pages/202.html"

	raw, err := os.ReadFile(page)
	var body string
	if err != nil {
		body = "<html><body><h1>202 Accepted</h1></body></html>"
	} else {
		body = string(raw)
	}
	for k, v := range values {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}

	resp := httpmsg.NewResponse(200, ReasonPhrase(200))
	resp.Headers.Set("content-type", "text/html")
	resp.Headers.Set("connection", "keep-alive")
	resp.WithBody([]byte(body))
	return resp
}

// loadErrorPage reads vh's configured error page for code, relative to
// vh.Root, returning nil if none is configured, unreadable, or does not
// look like an HTML page (spec.md §4.8's "<html"/"<body" sniff).
func loadErrorPage(vh *config.VirtualHost, code int) []byte {
	if vh == nil {
		return nil
	}
	relPath, ok := vh.ErrorPages[code]
	if !ok || relPath == "" {
		return nil
	}
	root := strings.TrimSuffix(vh.Root, "/")
	data, err := os.ReadFile(root + "/" + strings.TrimPrefix(relPath, "/"))
	if err != nil {
		return nil
	}
	s := string(data)
	if !strings.Contains(s, "<html") && !strings.Contains(s, "<body") {
		return nil
	}
	return data
}

func synthesizeErrorBody(code int, reason string) string {
	return "<html><body><h1>" + strconv.Itoa(code) + " " + reason + "</h1></body></html>"
}
