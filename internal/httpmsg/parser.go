// Package httpmsg implements the wire-level request parser and response
// serializer described in spec.md §4.1. Parsing favors tolerance over
// rejection: anything that fails syntactic validation is filed under the
// Header's "malformed" sentinel bucket rather than aborting the parse, so
// the Validator (not this package) decides the fate of a bad request.
package httpmsg

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/evanphx/wildcat"

	"github.com/MariiaZhytnikova/webserv/internal/byteconv"
)

// ErrIncomplete signals the buffer does not yet contain a full request;
// the caller (the connection multiplexer) should wait for more bytes.
var ErrIncomplete = errors.New("httpmsg: incomplete request")

// ErrHeaderTooLarge signals the buffer exceeded the configured header size
// cap without a header terminator being found (spec.md §3 invariant,
// §6 MAX_HEADER_SIZE).
var ErrHeaderTooLarge = errors.New("httpmsg: header block exceeds limit")

var crlfcrlf = []byte("\r\n\r\n")
var lflf = []byte("\n\n")

var wildcatPool = sync.Pool{
	New: func() interface{} { return wildcat.NewHTTPParser() },
}

// findHeaderEnd locates the end of the header block: the offset of the
// start of the blank line, and the length of the terminator found (4 for
// "\r\n\r\n", 2 for "\n\n"). It reports ok=false if no terminator is present
// yet.
func findHeaderEnd(buf []byte) (headerEnd int, delimLen int, ok bool) {
	// Fast path: let wildcat do the well-formed case; it is already tuned
	// for this and is what the teacher's own codec uses to frame requests.
	p := wildcatPool.Get().(*wildcat.HTTPParser)
	bodyOffset, err := p.Parse(buf)
	wildcatPool.Put(p)
	if err == nil && bodyOffset >= 4 && bodyOffset <= len(buf) {
		term := buf[bodyOffset-4 : bodyOffset]
		if bytes.Equal(term, crlfcrlf) {
			return bodyOffset - 4, 4, true
		}
	}

	// Fallback: manual scan. wildcat bails out on request lines/headers
	// this server must still accept (in order to bucket them as
	// malformed instead of dropping the connection), so find the
	// terminator ourselves.
	if idx := bytes.Index(buf, crlfcrlf); idx != -1 {
		return idx, 4, true
	}
	if idx := bytes.Index(buf, lflf); idx != -1 {
		return idx, 2, true
	}
	return 0, 0, false
}

// ParseRequest parses one complete request from the front of buf.
//
// It returns the parsed Request and the number of bytes consumed from buf
// on success. If buf does not yet contain a complete request it returns
// ErrIncomplete; the caller should retain the buffer and try again once
// more bytes arrive. If the header block grows past maxHeaderSize bytes
// without a terminator, it returns ErrHeaderTooLarge.
func ParseRequest(buf []byte, maxHeaderSize int) (*Request, int, error) {
	headerEnd, delimLen, ok := findHeaderEnd(buf)
	if !ok {
		if len(buf) > maxHeaderSize {
			return nil, 0, ErrHeaderTooLarge
		}
		return nil, 0, ErrIncomplete
	}

	req := &Request{Headers: NewHeader(), Cookies: make(map[string]string)}
	parseHeaderBlock(buf[:headerEnd], req)

	bodyStart := headerEnd + delimLen
	contentLength := -1
	if cl := req.Headers.Get("content-length"); cl != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(cl)); err == nil && n >= 0 {
			contentLength = n
		}
	}

	total := bodyStart
	if contentLength > 0 {
		need := bodyStart + contentLength
		if len(buf) < need {
			return nil, 0, ErrIncomplete
		}
		req.Body = append([]byte(nil), buf[bodyStart:need]...)
		total = need
	}

	parseCookies(req)
	return req, total, nil
}

// parseHeaderBlock splits block into a request line and header lines, and
// populates req accordingly (spec.md §4.1).
func parseHeaderBlock(block []byte, req *Request) {
	lines := splitLines(block)
	if len(lines) == 0 {
		req.Method = MethodUnknown
		req.Path = "/"
		return
	}

	parseRequestLine(lines[0], req)
	for _, line := range lines[1:] {
		parseHeaderLine(line, req.Headers)
	}
}

// splitLines splits a header block on CRLF or bare LF, dropping a trailing
// empty line (the blank line itself is not part of block since the caller
// already cut the block at the terminator's start).
func splitLines(block []byte) []string {
	normalized := bytes.ReplaceAll(block, []byte("\r\n"), []byte("\n"))
	raw := strings.Split(byteconv.B2S(normalized), "\n")
	var lines []string
	for _, l := range raw {
		if l == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

// parseRequestLine tokenizes the request line into method, target, and
// version. Fewer than three whitespace-separated fields files the whole
// line under the malformed sentinel, per spec.md §4.1.
func parseRequestLine(line string, req *Request) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		req.Method = MethodUnknown
		req.Path = "/"
		req.Headers.AddRaw(MalformedKey, line)
		return
	}

	methodTok, target, version := fields[0], fields[1], fields[2]
	if m, ok := knownMethods[methodTok]; ok {
		req.Method = m
	} else {
		req.Method = MethodUnknown
	}
	req.Version = version

	req.Target = target
	if idx := strings.IndexByte(target, '?'); idx >= 0 {
		req.Path = target[:idx]
		req.Query = target[idx+1:]
	} else {
		req.Path = target
	}
	if req.Path == "" {
		req.Path = "/"
	}
}

// tokenChar reports whether b is a valid RFC 7230 header-name token
// character.
func tokenChar(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	}
	switch b {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

// parseHeaderLine parses a single header line into h, filing it under the
// malformed sentinel on any syntactic violation (spec.md §4.1).
func parseHeaderLine(line string, h *Header) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		h.AddRaw(MalformedKey, line)
		return
	}

	name := strings.TrimSpace(line[:colon])
	lname := strings.ToLower(name)
	if lname == "" {
		h.AddRaw(MalformedKey, line)
		return
	}
	for i := 0; i < len(lname); i++ {
		if !tokenChar(lname[i]) {
			h.AddRaw(MalformedKey, line)
			return
		}
	}

	value := trimSpacesAndTabs(line[colon+1:])
	for i := 0; i < len(value); i++ {
		b := value[i]
		if b == 127 || (b < 32 && b != '\t') {
			h.AddRaw(MalformedKey, line)
			return
		}
	}

	h.Add(lname, value)
}

func trimSpacesAndTabs(s string) string {
	start := 0
	for start < len(s) && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	end := len(s)
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

// parseCookies extracts cookie name/value pairs from every "cookie" header
// into req.Cookies (spec.md §4.1: last write wins within a single
// request).
func parseCookies(req *Request) {
	for _, raw := range req.Headers.Values("cookie") {
		for _, part := range strings.Split(raw, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			eq := strings.IndexByte(part, '=')
			if eq < 0 {
				continue
			}
			name := strings.TrimSpace(part[:eq])
			value := strings.TrimSpace(part[eq+1:])
			if name == "" {
				continue
			}
			req.Cookies[name] = value
		}
	}
}
