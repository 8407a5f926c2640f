package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MariiaZhytnikova/webserv/internal/config"
	"github.com/MariiaZhytnikova/webserv/internal/httpmsg"
)

func baseRequest(method httpmsg.Method, path string) *httpmsg.Request {
	h := httpmsg.NewHeader()
	h.Add("host", "example.com")
	return &httpmsg.Request{
		Method:  method,
		Target:  path,
		Path:    path,
		Version: "HTTP/1.1",
		Headers: h,
	}
}

func baseVHost() *config.VirtualHost {
	return &config.VirtualHost{Root: "./www", ClientMaxBodySize: 1024}
}

func TestValidatePassesThroughCleanRequest(t *testing.T) {
	res := Validate(baseVHost(), nil, baseRequest(httpmsg.MethodGet, "/"))
	assert.Nil(t, res.Response)
}

func TestValidateMalformedSentinelIsFatal400(t *testing.T) {
	req := baseRequest(httpmsg.MethodGet, "/")
	req.Headers.AddRaw(httpmsg.MalformedKey, "bad line")
	res := Validate(baseVHost(), nil, req)
	require.NotNil(t, res.Response)
	assert.Equal(t, 400, res.Response.Status)
	assert.True(t, res.Fatal)
}

func TestValidateRequiresExactlyOneHost(t *testing.T) {
	req := baseRequest(httpmsg.MethodGet, "/")
	req.Headers.Add("host", "second.com")
	res := Validate(baseVHost(), nil, req)
	require.NotNil(t, res.Response)
	assert.Equal(t, 400, res.Response.Status)
}

func TestValidateMissingHostRejected(t *testing.T) {
	req := baseRequest(httpmsg.MethodGet, "/")
	req.Headers.Del("host")
	res := Validate(baseVHost(), nil, req)
	require.NotNil(t, res.Response)
	assert.Equal(t, 400, res.Response.Status)
}

func TestValidateURITooLong(t *testing.T) {
	longPath := "/" + strings.Repeat("a", 9000)
	req := baseRequest(httpmsg.MethodGet, longPath)
	res := Validate(baseVHost(), nil, req)
	require.NotNil(t, res.Response)
	assert.Equal(t, 414, res.Response.Status)
}

func TestValidateBadPercentEncoding(t *testing.T) {
	req := baseRequest(httpmsg.MethodGet, "/a%2")
	req.Target = "/a%2"
	res := Validate(baseVHost(), nil, req)
	require.NotNil(t, res.Response)
	assert.Equal(t, 400, res.Response.Status)
	assert.True(t, res.Fatal)
}

func TestValidateGoodPercentEncodingPasses(t *testing.T) {
	req := baseRequest(httpmsg.MethodGet, "/a%20b")
	req.Target = "/a%20b"
	res := Validate(baseVHost(), nil, req)
	assert.Nil(t, res.Response)
}

func TestValidatePathTraversalRejected(t *testing.T) {
	req := baseRequest(httpmsg.MethodGet, "/../etc/passwd")
	res := Validate(baseVHost(), nil, req)
	require.NotNil(t, res.Response)
	assert.Equal(t, 403, res.Response.Status)
}

func TestValidateChunkedRejected(t *testing.T) {
	req := baseRequest(httpmsg.MethodPost, "/upload")
	req.Headers.Add("transfer-encoding", "chunked")
	req.Headers.Add("content-length", "5")
	req.Headers.Add("content-type", "text/plain")
	res := Validate(baseVHost(), nil, req)
	require.NotNil(t, res.Response)
	assert.Equal(t, 400, res.Response.Status)
	assert.True(t, res.Fatal, "chunked request bodies must close the connection")
}

func TestValidateBodyTooLarge(t *testing.T) {
	req := baseRequest(httpmsg.MethodPost, "/upload")
	req.Body = make([]byte, 2048)
	req.Headers.Add("content-length", "2048")
	req.Headers.Add("content-type", "text/plain")
	res := Validate(baseVHost(), nil, req)
	require.NotNil(t, res.Response)
	assert.Equal(t, 413, res.Response.Status)
}

func TestValidateVersionMustBe11(t *testing.T) {
	req := baseRequest(httpmsg.MethodGet, "/")
	req.Version = "HTTP/1.0"
	res := Validate(baseVHost(), nil, req)
	require.NotNil(t, res.Response)
	assert.Equal(t, 505, res.Response.Status)
	assert.True(t, res.Fatal)
}

func TestValidateUnknownMethod(t *testing.T) {
	req := baseRequest(httpmsg.MethodUnknown, "/")
	res := Validate(baseVHost(), nil, req)
	require.NotNil(t, res.Response)
	assert.Equal(t, 501, res.Response.Status)
}

func TestValidateMethodNotAllowedByLocation(t *testing.T) {
	loc := &config.Location{Methods: []string{"GET"}}
	req := baseRequest(httpmsg.MethodDelete, "/")
	res := Validate(baseVHost(), loc, req)
	require.NotNil(t, res.Response)
	assert.Equal(t, 405, res.Response.Status)
	assert.Equal(t, "GET", res.Response.Headers.Get("allow"))
}

func TestValidatePostMissingContentLength(t *testing.T) {
	req := baseRequest(httpmsg.MethodPost, "/upload")
	res := Validate(baseVHost(), nil, req)
	require.NotNil(t, res.Response)
	assert.Equal(t, 411, res.Response.Status)
}

func TestValidatePostBadContentLength(t *testing.T) {
	req := baseRequest(httpmsg.MethodPost, "/upload")
	req.Headers.Add("content-length", "not-a-number")
	res := Validate(baseVHost(), nil, req)
	require.NotNil(t, res.Response)
	assert.Equal(t, 400, res.Response.Status)
}

func TestValidatePostMissingContentTypeWhenBodyPresent(t *testing.T) {
	req := baseRequest(httpmsg.MethodPost, "/upload")
	req.Headers.Add("content-length", "5")
	res := Validate(baseVHost(), nil, req)
	require.NotNil(t, res.Response)
	assert.Equal(t, 400, res.Response.Status)
}

func TestValidatePostZeroLengthAllowsMissingContentType(t *testing.T) {
	req := baseRequest(httpmsg.MethodPost, "/upload")
	req.Headers.Add("content-length", "0")
	res := Validate(baseVHost(), nil, req)
	assert.Nil(t, res.Response)
}

func TestValidateRedirectBareWhenNoFriendlyPage(t *testing.T) {
	loc := &config.Location{Return: &config.Return{Code: 301, Target: "/new"}}
	req := baseRequest(httpmsg.MethodGet, "/old")
	res := Validate(baseVHost(), loc, req)
	require.NotNil(t, res.Response)
	assert.Equal(t, 301, res.Response.Status)
	assert.Equal(t, "/new", res.Response.Headers.Get("location"))
	assert.True(t, res.Fatal)
}
