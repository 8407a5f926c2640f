// Package validator implements the gating pipeline of spec.md §4.3: a
// fixed, ordered sequence of checks that either lets a request through or
// short-circuits it with a terminal response. It replaces the original
// C++ implementation's exception-throwing validation
// (original_source/srcs/RequestValidator.cpp) with a result-or-response
// discipline, matching how the teacher's own HttpError travels as a value
// rather than a panic/recover pair.
package validator

import (
	"strconv"
	"strings"

	"github.com/MariiaZhytnikova/webserv/internal/config"
	"github.com/MariiaZhytnikova/webserv/internal/httpmsg"
	"github.com/MariiaZhytnikova/webserv/internal/responsebuilder"
)

// uaMarkers is the browser-sniffing set spec.md §4.3 item 1 names.
var uaMarkers = []string{"Mozilla", "Chrome", "Safari", "Firefox", "Edge"}

const maxURILength = 8192

// Result is the outcome of running the pipeline against one request. If
// Response is non-nil, the request is terminal: the caller must send
// Response (and close the connection if Fatal) without invoking an
// executor.
type Result struct {
	Response *httpmsg.Response
	Fatal    bool
}

// terminal builds a Result carrying resp, marking the connection fatal
// when the kind requires Connection: close.
func terminal(resp *httpmsg.Response, fatal bool) Result {
	return Result{Response: resp, Fatal: fatal}
}

// Validate runs the ordered gating pipeline against req within vh/loc and
// returns a terminal Result if any stage rejects the request, or a zero
// Result (Response == nil) if the request may proceed to an executor.
func Validate(vh *config.VirtualHost, loc *config.Location, req *httpmsg.Request) Result {
	// 1. Redirect rule.
	if loc != nil && loc.Return != nil {
		return validateRedirect(vh, loc, req)
	}

	// 2. Malformed header sentinel.
	if req.IsMalformed() {
		return terminal(responsebuilder.BuildError(vh, 400, true), true)
	}

	// 3. Exactly one Host.
	if req.Headers.Count("host") != 1 {
		return terminal(responsebuilder.BuildError(vh, 400, true), true)
	}

	// 4. At most one Content-Type.
	if req.Headers.Count("content-type") > 1 {
		return terminal(responsebuilder.BuildError(vh, 400, true), true)
	}

	// 5. URI length.
	if len(req.Path) > maxURILength {
		return terminal(responsebuilder.BuildError(vh, 414, false), false)
	}

	// 6. URI percent-encoding.
	if !validPercentEncoding(req.Target) {
		return terminal(responsebuilder.BuildError(vh, 400, true), true)
	}

	// 7. URI traversal.
	if strings.Contains(req.Path, "..") {
		return terminal(responsebuilder.BuildError(vh, 403, false), false)
	}

	// 8. Transfer-Encoding: chunked.
	if strings.Contains(strings.ToLower(req.HeaderGet("transfer-encoding")), "chunked") {
		return terminal(responsebuilder.BuildError(vh, 400, true), true)
	}

	// 9. Body size.
	var maxBody int64 = vh.ClientMaxBodySize
	if maxBody > 0 && int64(len(req.Body)) > maxBody {
		return terminal(responsebuilder.BuildError(vh, 413, false), false)
	}

	// 10. Version.
	if req.Version != "HTTP/1.1" {
		return terminal(responsebuilder.BuildError(vh, 505, true), true)
	}

	// 11. Method known.
	if req.Method == httpmsg.MethodUnknown {
		return terminal(responsebuilder.BuildError(vh, 501, false), false)
	}

	// 12. Method allowed by location.
	allowed := true
	if loc != nil {
		allowed = loc.MethodAllowed(string(req.Method))
	} else if len(vh.Methods) > 0 {
		allowed = methodIn(vh.Methods, string(req.Method))
	}
	if !allowed {
		resp := responsebuilder.BuildError(vh, 405, false)
		methods := vh.Methods
		if loc != nil {
			methods = loc.Methods
		}
		resp.Headers.Set("allow", strings.Join(methods, ", "))
		return terminal(resp, false)
	}

	// 13. POST prechecks.
	if req.Method == httpmsg.MethodPost {
		cl := req.HeaderGet("content-length")
		if cl == "" {
			return terminal(responsebuilder.BuildError(vh, 411, false), false)
		}
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return terminal(responsebuilder.BuildError(vh, 400, true), true)
		}
		if n > 0 && req.HeaderGet("content-type") == "" {
			return terminal(responsebuilder.BuildError(vh, 400, true), true)
		}
	}

	return Result{}
}

func methodIn(list []string, m string) bool {
	for _, v := range list {
		if v == m {
			return true
		}
	}
	return false
}

// validPercentEncoding reports whether every "%" in target is followed by
// exactly two hex digits (spec.md §4.3 item 6).
func validPercentEncoding(target string) bool {
	for i := 0; i < len(target); i++ {
		if target[i] != '%' {
			continue
		}
		if i+2 >= len(target) || !isHex(target[i+1]) || !isHex(target[i+2]) {
			return false
		}
	}
	return true
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

// validateRedirect implements spec.md §4.3 item 1.
func validateRedirect(vh *config.VirtualHost, loc *config.Location, req *httpmsg.Request) Result {
	target := loc.Return.Target
	code := loc.Return.Code

	ua := req.HeaderGet("user-agent")
	looksLikeBrowser := false
	for _, marker := range uaMarkers {
		if strings.Contains(ua, marker) {
			looksLikeBrowser = true
			break
		}
	}

	if looksLikeBrowser {
		if resp, ok := responsebuilder.BuildRedirectPage(vh, target); ok {
			return terminal(resp, false)
		}
	}

	return terminal(responsebuilder.BuildBareRedirect(code, target), true)
}
