package httpmsg

import (
	"strconv"
	"strings"

	"github.com/valyala/bytebufferpool"
)

// Serialize renders resp as wire bytes: status line, headers in stored
// order (names as stored in the Header; Add and Set lowercase them), Set-Cookie lines, a blank
// line, then the body verbatim (spec.md §4.1's Serializer rules). The
// returned slice is owned by the caller; callers that need to reuse the
// backing buffer across many responses should use SerializeInto instead.
func Serialize(resp *Response) []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	SerializeInto(buf, resp)
	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out
}

// SerializeInto writes resp's wire form into buf, resetting buf first.
func SerializeInto(buf *bytebufferpool.ByteBuffer, resp *Response) {
	buf.Reset()

	version := resp.Version
	if version == "" {
		version = "HTTP/1.1"
	}
	buf.WriteString(version)
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(resp.Status))
	buf.WriteByte(' ')
	buf.WriteString(resp.Reason)
	buf.WriteString("\r\n")

	if resp.Headers != nil {
		resp.Headers.Each(func(name, value string) {
			if name == MalformedKey {
				return
			}
			buf.WriteString(name)
			buf.WriteString(": ")
			buf.WriteString(value)
			buf.WriteString("\r\n")
		})
	}

	for _, c := range resp.Cookies {
		buf.WriteString("Set-Cookie: ")
		buf.WriteString(serializeCookie(c))
		buf.WriteString("\r\n")
	}

	buf.WriteString("\r\n")
	buf.Write(resp.Body)
}

func serializeCookie(c Cookie) string {
	var sb strings.Builder
	sb.WriteString(c.Name)
	sb.WriteByte('=')
	sb.WriteString(c.Value)
	if c.Path != "" {
		sb.WriteString("; Path=")
		sb.WriteString(c.Path)
	}
	if c.MaxAge != 0 {
		sb.WriteString("; Max-Age=")
		sb.WriteString(strconv.Itoa(c.MaxAge))
	}
	if c.HTTPOnly {
		sb.WriteString("; HttpOnly")
	}
	return sb.String()
}
