package httpmsg

// Cookie is a single Set-Cookie directive attached to a Response.
type Cookie struct {
	Name     string
	Value    string
	Path     string
	MaxAge   int // seconds; 0 means the attribute is omitted
	HTTPOnly bool
}

// Response is the in-memory representation of an outgoing HTTP/1.1
// response, built by the Router/Validator/executors and handed to the
// Serializer (spec.md §3's HttpResponse, §4.1's Serializer).
type Response struct {
	Version string
	Status  int
	Reason  string
	Headers *Header
	Cookies []Cookie
	Body    []byte
}

// NewResponse returns a Response with status/reason set and an empty
// header multimap, ready for callers to populate.
func NewResponse(status int, reason string) *Response {
	return &Response{
		Version: "HTTP/1.1",
		Status:  status,
		Reason:  reason,
		Headers: NewHeader(),
	}
}

// SetCookie appends c to the response's Set-Cookie list.
func (r *Response) SetCookie(c Cookie) {
	r.Cookies = append(r.Cookies, c)
}

// WithBody sets the body and, if not already present, the Content-Length
// header to match.
func (r *Response) WithBody(body []byte) *Response {
	r.Body = body
	if !r.Headers.Has("content-length") {
		r.Headers.Set("content-length", itoa(len(body)))
	}
	return r
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
