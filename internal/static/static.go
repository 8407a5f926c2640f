// Package static implements the StaticExecutor: GET (file serving,
// autoindex), POST (file upload), DELETE, PUT, and HEAD, per spec.md
// §4.4. It is grounded on the original C++ implementation's per-method
// split (original_source/srcs/StaticGet.cpp, StaticPost.cpp,
// StaticDelete.cpp) translated into one Go package with a function per
// method rather than one class per method.
package static

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/MariiaZhytnikova/webserv/internal/config"
	"github.com/MariiaZhytnikova/webserv/internal/filecache"
	"github.com/MariiaZhytnikova/webserv/internal/httpmsg"
	"github.com/MariiaZhytnikova/webserv/internal/responsebuilder"
)

// fileCache backs serveFile so repeated GETs of the same unmodified file
// across keep-alive connections skip the disk read.
var fileCache = filecache.DefaultCache

// mimeTypes is the extension→Content-Type table spec.md §4.4.2 specifies.
var mimeTypes = map[string]string{
	".html": "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".txt":  "text/plain",
}

func mimeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := mimeTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// resolveFSPath implements spec.md §4.4.1's path-resolution rule: the
// location's prefix is stripped from the request path, the remainder is
// URL-decoded, and the result is appended to the effective document root.
func resolveFSPath(vh *config.VirtualHost, loc *config.Location, reqPath string) string {
	root := loc.EffectiveRoot(vh)
	if root == "" {
		root = "./www"
	}
	rel := reqPath
	if pm, ok := loc.Matcher.(config.PrefixMatcher); ok {
		rel = strings.TrimPrefix(reqPath, pm.Prefix)
	}
	if decoded, err := url.PathUnescape(rel); err == nil {
		rel = decoded
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return root + rel
}

func locationPrefix(loc *config.Location) string {
	if pm, ok := loc.Matcher.(config.PrefixMatcher); ok {
		return pm.Prefix
	}
	return ""
}

// HandleGet implements spec.md §4.4.2.
func HandleGet(vh *config.VirtualHost, loc *config.Location, req *httpmsg.Request) *httpmsg.Response {
	fsPath := resolveFSPath(vh, loc, req.Path)

	info, err := os.Stat(fsPath)
	if err != nil {
		return responsebuilder.BuildError(vh, 404, false)
	}

	if info.IsDir() {
		if !strings.HasSuffix(req.Path, "/") {
			resp := httpmsg.NewResponse(301, responsebuilder.ReasonPhrase(301))
			resp.Headers.Set("location", req.Path+"/")
			resp.Headers.Set("connection", "keep-alive")
			resp.WithBody(nil)
			return resp
		}

		indexPath := strings.TrimSuffix(fsPath, "/") + "/" + loc.EffectiveIndex(vh)
		if idxInfo, idxErr := os.Stat(indexPath); idxErr == nil && idxInfo.Mode().IsRegular() {
			return serveFile(vh, indexPath)
		}

		if loc.EffectiveAutoindex(vh) {
			entries, readErr := os.ReadDir(fsPath)
			if readErr != nil {
				return responsebuilder.BuildError(vh, 403, false)
			}
			if locationPrefix(loc) == "/uploads/" {
				return plainTextListing(entries)
			}
			return htmlListing(req.Path, entries)
		}

		return responsebuilder.BuildError(vh, 403, false)
	}

	if !info.Mode().IsRegular() {
		return responsebuilder.BuildError(vh, 403, false)
	}
	return serveFile(vh, fsPath)
}

// serveFile reads path, consulting fileCache first so a file served
// repeatedly across keep-alive connections is read from disk once per
// modification rather than once per request.
func serveFile(vh *config.VirtualHost, path string) *httpmsg.Response {
	info, statErr := os.Stat(path)

	if statErr == nil {
		if cached, fresh := fileCache.Lookup(path, info); fresh {
			return fileResponse(cached.Data, path)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return responsebuilder.BuildError(vh, 403, false)
	}

	if statErr == nil {
		fileCache.Set(path, data, info.ModTime(), info.Size(), mimeFor(path))
	}

	return fileResponse(data, path)
}

func fileResponse(data []byte, path string) *httpmsg.Response {
	resp := httpmsg.NewResponse(200, responsebuilder.ReasonPhrase(200))
	resp.Headers.Set("content-type", mimeFor(path))
	resp.Headers.Set("connection", "keep-alive")
	resp.WithBody(data)
	return resp
}

func htmlListing(reqPath string, entries []os.DirEntry) *httpmsg.Response {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.WriteString("<html><head><meta charset=\"utf-8\"></head><body><h1>Index of ")
	buf.WriteString(reqPath)
	buf.WriteString("</h1><ul>")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		buf.WriteString("<li><a href=\"")
		buf.WriteString(reqPath)
		buf.WriteString(name)
		buf.WriteString("\">")
		buf.WriteString(name)
		buf.WriteString("</a></li>")
	}
	buf.WriteString("</ul></body></html>")

	body := make([]byte, buf.Len())
	copy(body, buf.B)

	resp := httpmsg.NewResponse(200, responsebuilder.ReasonPhrase(200))
	resp.Headers.Set("content-type", "text/html")
	resp.Headers.Set("connection", "keep-alive")
	resp.WithBody(body)
	return resp
}

func plainTextListing(entries []os.DirEntry) *httpmsg.Response {
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	resp := httpmsg.NewResponse(200, responsebuilder.ReasonPhrase(200))
	resp.Headers.Set("content-type", "text/plain")
	resp.Headers.Set("connection", "keep-alive")
	resp.WithBody([]byte(strings.Join(names, "\n")))
	return resp
}

// HandleDelete implements spec.md §4.4.4.
func HandleDelete(vh *config.VirtualHost, loc *config.Location, req *httpmsg.Request) *httpmsg.Response {
	fsPath := resolveFSPath(vh, loc, req.Path)

	info, err := os.Stat(fsPath)
	if err != nil {
		return responsebuilder.BuildError(vh, 404, false)
	}
	if info.IsDir() {
		return responsebuilder.BuildError(vh, 403, false)
	}
	if err := os.Remove(fsPath); err != nil {
		return responsebuilder.BuildError(vh, 500, false)
	}

	resp := httpmsg.NewResponse(204, responsebuilder.ReasonPhrase(204))
	resp.Headers.Set("connection", "keep-alive")
	resp.WithBody(nil)
	return resp
}

// HandlePut implements spec.md §4.4.5.
func HandlePut(vh *config.VirtualHost, loc *config.Location, req *httpmsg.Request) *httpmsg.Response {
	fsPath := resolveFSPath(vh, loc, req.Path)

	_, statErr := os.Stat(fsPath)
	existed := statErr == nil

	if err := os.MkdirAll(filepath.Dir(fsPath), 0o755); err != nil {
		return responsebuilder.BuildError(vh, 403, false)
	}
	f, err := os.OpenFile(fsPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return responsebuilder.BuildError(vh, 403, false)
	}
	defer f.Close()
	if _, err := f.Write(req.Body); err != nil {
		return responsebuilder.BuildError(vh, 403, false)
	}

	status := 204
	if !existed {
		status = 201
	}
	resp := httpmsg.NewResponse(status, responsebuilder.ReasonPhrase(status))
	resp.Headers.Set("connection", "keep-alive")
	resp.WithBody(nil)
	return resp
}

// HandleHead implements spec.md §4.4.6: run the GET pipeline, then strip
// the body while keeping its computed Content-Length, and force the
// connection closed.
func HandleHead(vh *config.VirtualHost, loc *config.Location, req *httpmsg.Request) *httpmsg.Response {
	resp := HandleGet(vh, loc, req)
	resp.Headers.Set("content-length", strconv.Itoa(len(resp.Body)))
	resp.Body = nil
	resp.Headers.Set("connection", "close")
	return resp
}

// HandlePost implements spec.md §4.4.3.
func HandlePost(vh *config.VirtualHost, loc *config.Location, req *httpmsg.Request) *httpmsg.Response {
	dir := resolveUploadDir(vh, loc, req.Path)

	contentType := req.HeaderGet("content-type")
	mediaType, params := parseContentTypeParams(contentType)

	var filename string
	var content []byte

	switch {
	case mediaType == "multipart/form-data" && params["boundary"] != "":
		fn, body, ok := extractMultipartFirstFile(req.Body, params["boundary"])
		if !ok {
			fn = fmt.Sprintf("upload_%d.bin", time.Now().Unix())
		}
		filename, content = fn, body

	case mediaType == "application/x-www-form-urlencoded":
		if bytes.Contains(req.Body, []byte("=")) {
			values, _ := url.ParseQuery(string(req.Body))
			filename = values.Get("filename")
			if filename == "" {
				filename = fmt.Sprintf("upload_%d.bin", time.Now().Unix())
			}
			content = []byte(values.Get("content"))
		} else {
			filename = fmt.Sprintf("raw_%d.txt", time.Now().Unix())
			content = req.Body
		}

	default:
		filename = fmt.Sprintf("raw_%d.bin", time.Now().Unix())
		content = req.Body
	}

	filename = sanitizeFilename(filename)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return responsebuilder.BuildError(vh, 500, false)
	}
	target := strings.TrimSuffix(dir, "/") + "/" + filename
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return responsebuilder.BuildError(vh, 500, false)
	}

	return responsebuilder.BuildSuccess(vh, map[string]string{
		"filename": filename,
		"size":     strconv.Itoa(len(content)),
	})
}

func resolveUploadDir(vh *config.VirtualHost, loc *config.Location, reqPath string) string {
	root := loc.EffectiveRoot(vh)
	if loc.UploadPath != "" {
		return strings.TrimSuffix(root, "/") + "/" + strings.TrimPrefix(loc.UploadPath, "/")
	}
	return resolveFSPath(vh, loc, reqPath)
}

// sanitizeFilename implements spec.md §4.4.3's sanitation rule: strip
// path separators and control bytes; fall back to a fixed name if that
// leaves nothing.
func sanitizeFilename(name string) string {
	var sb strings.Builder
	for i := 0; i < len(name); i++ {
		b := name[i]
		if b == '/' || b == '\\' || b <= 31 {
			continue
		}
		sb.WriteByte(b)
	}
	out := sb.String()
	if out == "" {
		return "upload.bin"
	}
	return out
}

// parseContentTypeParams splits a Content-Type header value into its
// media type and a lowercased parameter map (e.g. "boundary").
func parseContentTypeParams(ct string) (string, map[string]string) {
	parts := strings.Split(ct, ";")
	mediaType := strings.TrimSpace(parts[0])
	params := make(map[string]string)
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		eq := strings.IndexByte(p, '=')
		if eq < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(p[:eq]))
		val := strings.Trim(strings.TrimSpace(p[eq+1:]), `"`)
		params[key] = val
	}
	return mediaType, params
}

// extractMultipartFirstFile scans body for the first multipart part and
// returns its filename (from Content-Disposition) and content, per
// spec.md §4.4.3. This is a hand-rolled boundary scan rather than
// mime/multipart.Reader, because the spec's synthesize-filename-on-miss
// behavior has no equivalent hook in the stdlib reader.
func extractMultipartFirstFile(body []byte, boundary string) (filename string, content []byte, ok bool) {
	delim := []byte("--" + boundary)

	start := bytes.Index(body, delim)
	if start < 0 {
		return "", nil, false
	}
	afterDelim := start + len(delim)

	headerEnd := bytes.Index(body[afterDelim:], []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return "", nil, false
	}
	headerBlock := body[afterDelim : afterDelim+headerEnd]
	bodyStart := afterDelim + headerEnd + 4

	filename = extractFilenameFromDisposition(string(headerBlock))

	nextBoundary := bytes.Index(body[bodyStart:], []byte("\r\n--"+boundary))
	var partEnd int
	if nextBoundary < 0 {
		// No closing delimiter found; body[bodyStart:] may carry a trailing
		// CRLF that was never part of the part's content.
		partEnd = len(body)
		content = bytes.TrimSuffix(body[bodyStart:partEnd], []byte("\r\n"))
	} else {
		// The "\r\n--"+boundary match starts at the delimiter's own leading
		// CRLF, so body[bodyStart:partEnd] is exactly the part's content
		// with no further trimming needed.
		partEnd = bodyStart + nextBoundary
		content = body[bodyStart:partEnd]
	}

	return filename, content, filename != ""
}

func extractFilenameFromDisposition(headerBlock string) string {
	for _, line := range strings.Split(headerBlock, "\r\n") {
		if !strings.HasPrefix(strings.ToLower(line), "content-disposition:") {
			continue
		}
		idx := strings.Index(strings.ToLower(line), "filename=")
		if idx < 0 {
			return ""
		}
		rest := line[idx+len("filename="):]
		rest = strings.TrimSpace(rest)
		if strings.HasPrefix(rest, `"`) {
			if end := strings.IndexByte(rest[1:], '"'); end >= 0 {
				return rest[1 : 1+end]
			}
			return strings.Trim(rest, `"`)
		}
		if end := strings.IndexAny(rest, "; \t"); end >= 0 {
			return rest[:end]
		}
		return rest
	}
	return ""
}
