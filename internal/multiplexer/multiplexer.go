// Package multiplexer implements the ConnectionMultiplexer of spec.md
// §4.6: a non-blocking, readiness-multiplexed event loop that owns every
// client connection, detects request boundaries, pipelines back-to-back
// requests, and enforces the keep-alive/idle/size caps. Grounded on
// engine.go and server.go's gnet.BuiltinEventEngine hook shape
// (OnBoot/OnOpen/OnTraffic/OnClose), reused here almost one-to-one for
// the event hooks themselves, with the per-connection caps and pipeline
// wiring layered on top since the teacher has no such caps.
package multiplexer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/gnet/v2"
	"golang.org/x/time/rate"

	"github.com/MariiaZhytnikova/webserv/internal/cgi"
	"github.com/MariiaZhytnikova/webserv/internal/config"
	"github.com/MariiaZhytnikova/webserv/internal/httpmsg"
	"github.com/MariiaZhytnikova/webserv/internal/pool"
	"github.com/MariiaZhytnikova/webserv/internal/responsebuilder"
	"github.com/MariiaZhytnikova/webserv/internal/router"
	"github.com/MariiaZhytnikova/webserv/internal/session"
	"github.com/MariiaZhytnikova/webserv/internal/static"
	"github.com/MariiaZhytnikova/webserv/internal/validator"
	"github.com/MariiaZhytnikova/webserv/log"
)

// connBufPool recycles the byte slices backing ClientConnection.buf
// across connections, so a fresh client doesn't force a new allocation
// once the pool has warmed up.
var connBufPool = pool.NewBuffer(4096, func(size int) []byte { return make([]byte, 0, size) })

// MaxHeaderSize is the buffered-without-a-boundary cap of spec.md §4.6 and
// §6 (MAX_HEADER_SIZE).
const MaxHeaderSize = 8192

// MaxClients is the live-connection cap enforced on accept.
const MaxClients = 1024

// MaxRequestsPerConnection is the keep-alive request-count cap.
const MaxRequestsPerConnection = 10

// IdleTimeout closes a connection that has sent nothing for this long.
const IdleTimeout = 10 * time.Second

// idleSweepInterval is how often the idle sweep runs.
const idleSweepInterval = time.Second

// ClientConnection is the per-connection state the Multiplexer owns,
// mirroring spec.md §3's ClientConnection record. It is attached to a
// gnet.Conn via SetContext/Context, the same slot the teacher's codec
// occupies in server.go's OnOpen/OnTraffic.
type ClientConnection struct {
	buf          []byte
	requestCount int
	lastActivity time.Time
	endpoint     config.Endpoint
}

// Multiplexer is the gnet event handler. One Multiplexer serves one
// listening endpoint (see Listen); the endpoint recorded for each
// connection is the conn's local address.
type Multiplexer struct {
	gnet.BuiltinEventEngine

	tree     *config.Tree
	sessions *session.Store
	cgiExec  *cgi.Executor

	eng gnet.Engine

	mu          sync.Mutex
	clientCount int
	limiters    map[config.Endpoint]*rate.Limiter
	conns       map[int]gnet.Conn

	logger log.ILogger

	stopSweep chan struct{}
}

// New builds a Multiplexer bound to tree, with per-endpoint accept rate
// limiting and a shared session store and CGI executor.
func New(tree *config.Tree, sessions *session.Store, cgiExec *cgi.Executor, logger log.ILogger) *Multiplexer {
	m := &Multiplexer{
		tree:      tree,
		sessions:  sessions,
		cgiExec:   cgiExec,
		limiters:  make(map[config.Endpoint]*rate.Limiter),
		conns:     make(map[int]gnet.Conn),
		logger:    logger,
		stopSweep: make(chan struct{}),
	}
	for _, ep := range tree.Endpoints() {
		// One accept per 10ms sustained, bursts up to 64 — admission
		// control for the listening socket, not a per-request limiter.
		m.limiters[ep] = rate.NewLimiter(rate.Every(10*time.Millisecond), 64)
	}
	return m
}

// OnBoot records the running gnet.Engine so Shutdown can stop it later,
// and starts the idle-timeout sweep.
func (m *Multiplexer) OnBoot(eng gnet.Engine) gnet.Action {
	m.eng = eng
	go m.sweepLoop()
	return gnet.None
}

// OnOpen admits a new client connection, refusing it once the live count
// would exceed MaxClients (spec.md §4.6's accept-time cap).
func (m *Multiplexer) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	m.mu.Lock()
	if m.clientCount >= MaxClients {
		m.mu.Unlock()
		if m.logger != nil {
			m.logger.Warn().Msgf("refused connection from %s: %d clients already live", c.RemoteAddr(), MaxClients)
		}
		return nil, gnet.Close
	}
	m.clientCount++
	m.mu.Unlock()

	ep := endpointOf(c)
	if lim, ok := m.limiters[ep]; ok && !lim.Allow() {
		m.mu.Lock()
		m.clientCount--
		m.mu.Unlock()
		return nil, gnet.Close
	}

	c.SetContext(&ClientConnection{
		buf:          connBufPool.Get(),
		lastActivity: time.Now(),
		endpoint:     ep,
	})

	m.mu.Lock()
	m.conns[c.Fd()] = c
	m.mu.Unlock()

	return nil, gnet.None
}

// OnClose releases the accounting for a departing connection, returning
// its buffer to connBufPool.
func (m *Multiplexer) OnClose(c gnet.Conn, err error) gnet.Action {
	if cc, ok := c.Context().(*ClientConnection); ok && cc.buf != nil {
		connBufPool.Put(cc.buf)
	}

	m.mu.Lock()
	m.clientCount--
	delete(m.conns, c.Fd())
	m.mu.Unlock()
	return gnet.None
}

// OnTraffic buffers the newly-readable bytes, then pipelines: as long as
// the buffer holds another complete request it is parsed, dispatched, and
// its response written, exactly spec.md §4.6's pipelining rule. Grounded
// on server.go's OnTraffic loop (Peek/parse/Write/Discard), generalized
// from one http.Request per iteration to this repo's own Validator/
// executor pipeline.
func (m *Multiplexer) OnTraffic(c gnet.Conn) gnet.Action {
	cc, ok := c.Context().(*ClientConnection)
	if !ok {
		return gnet.Close
	}

	incoming, _ := c.Peek(-1)
	cc.buf = append(cc.buf, incoming...)
	c.Discard(len(incoming))
	cc.lastActivity = time.Now()

	closeAfter := false

	for {
		req, consumed, err := httpmsg.ParseRequest(cc.buf, MaxHeaderSize)
		if err == httpmsg.ErrIncomplete {
			break
		}
		if err == httpmsg.ErrHeaderTooLarge {
			closeAfter = true
			break
		}
		if err != nil {
			closeAfter = true
			break
		}

		cc.buf = cc.buf[consumed:]
		cc.requestCount++

		resp, fatal := m.dispatch(cc.endpoint, req)

		mustClose := fatal || cc.requestCount > MaxRequestsPerConnection || req.HeaderGet("connection") == "close" || responseSaysClose(resp)
		if mustClose {
			resp.Headers.Set("connection", "close")
		}

		if _, werr := c.Write(httpmsg.Serialize(resp)); werr != nil {
			closeAfter = true
			break
		}

		if mustClose {
			closeAfter = true
			break
		}
	}

	if closeAfter {
		return gnet.Close
	}
	return gnet.None
}

// dispatch runs one parsed request through router -> validator ->
// executor -> responsebuilder, the control flow spec.md §2 names.
func (m *Multiplexer) dispatch(ep config.Endpoint, req *httpmsg.Request) (resp *httpmsg.Response, fatal bool) {
	vh := router.SelectVirtualHost(m.tree, ep, req.HeaderGet("host"))
	if vh == nil {
		return responsebuilder.BuildError(&config.VirtualHost{}, 400, true), true
	}

	loc := router.SelectLocation(vh, req.Path)

	result := validator.Validate(vh, loc, req)
	if result.Response != nil {
		return m.withSession(vh, req, result.Response), result.Fatal
	}

	resp = m.execute(vh, loc, req)
	return m.withSession(vh, req, resp), false
}

// execute runs the appropriate executor (CGI if the path's extension is
// bound to an interpreter, otherwise the static file executor) for the
// request's method.
func (m *Multiplexer) execute(vh *config.VirtualHost, loc *config.Location, req *httpmsg.Request) *httpmsg.Response {
	if loc != nil {
		if interp, ok := cgi.Dispatch(loc, req.Path); ok {
			scriptPath := cgi.ScriptPath(vh, loc, req.Path)
			return m.cgiExec.Execute(vh, req, scriptPath, interp)
		}
	}

	switch req.Method {
	case httpmsg.MethodGet:
		return static.HandleGet(vh, loc, req)
	case httpmsg.MethodPost:
		return static.HandlePost(vh, loc, req)
	case httpmsg.MethodDelete:
		return static.HandleDelete(vh, loc, req)
	case httpmsg.MethodPut:
		return static.HandlePut(vh, loc, req)
	case httpmsg.MethodHead:
		return static.HandleHead(vh, loc, req)
	default:
		return responsebuilder.BuildError(vh, 405, false)
	}
}

// withSession implements spec.md §4.7's per-request session wiring: read
// session_id from cookies, getOrCreate, and attach Set-Cookie only when a
// fresh id was minted.
func (m *Multiplexer) withSession(vh *config.VirtualHost, req *httpmsg.Request, resp *httpmsg.Response) *httpmsg.Response {
	if m.sessions == nil {
		return resp
	}
	id := ""
	if req.Cookies != nil {
		id = req.Cookies["session_id"]
	}
	sess, minted := m.sessions.GetOrCreate(id)
	if minted {
		resp.SetCookie(httpmsg.Cookie{Name: "session_id", Value: sess.ID, Path: "/"})
	}
	return resp
}

// sweepLoop closes connections idle past IdleTimeout. Close() here
// triggers gnet's own OnClose callback, which removes the entry from
// conns, so the registry never needs its own separate purge pass.
func (m *Multiplexer) sweepLoop() {
	ticker := time.NewTicker(idleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.closeIdle()
		case <-m.stopSweep:
			return
		}
	}
}

func (m *Multiplexer) closeIdle() {
	deadline := time.Now().Add(-IdleTimeout)

	m.mu.Lock()
	var stale []gnet.Conn
	for _, c := range m.conns {
		if cc, ok := c.Context().(*ClientConnection); ok && cc.lastActivity.Before(deadline) {
			stale = append(stale, c)
		}
	}
	m.mu.Unlock()

	for _, c := range stale {
		c.Close()
	}
}

// Listen starts the event loop for ep. gnet.Run binds one network address
// per call, so a configuration with several listening endpoints runs one
// Multiplexer (sharing the same tree/sessions/cgiExec) per endpoint; see
// cmd/webserv for the multi-endpoint wiring.
func (m *Multiplexer) Listen(ep config.Endpoint) error {
	addr := "tcp://" + ep.String()
	if m.logger != nil {
		m.logger.Info().Msgf("listening on %s", ep.String())
	}
	return gnet.Run(
		m,
		addr,
		gnet.WithMulticore(true),
		gnet.WithReuseAddr(true),
		gnet.WithReusePort(true),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
	)
}

// Shutdown stops the running event engine, per spec.md §4.6's global
// running-flag rule.
func (m *Multiplexer) Shutdown(ctx context.Context) error {
	close(m.stopSweep)
	return m.eng.Stop(ctx)
}

func endpointOf(c gnet.Conn) config.Endpoint {
	addr := c.LocalAddr()
	if addr == nil {
		return config.Endpoint{}
	}
	host, port := splitHostPort(addr.String())
	return config.Endpoint{Host: host, Port: port}
}

func splitHostPort(hostport string) (string, int) {
	idx := strings.LastIndexByte(hostport, ':')
	if idx < 0 {
		return hostport, 0
	}
	host := hostport[:idx]
	port := 0
	for _, r := range hostport[idx+1:] {
		if r < '0' || r > '9' {
			port = 0
			break
		}
		port = port*10 + int(r-'0')
	}
	return host, port
}

func responseSaysClose(resp *httpmsg.Response) bool {
	return resp.Headers != nil && resp.Headers.Get("connection") == "close"
}
