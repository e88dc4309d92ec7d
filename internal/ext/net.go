package ext

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dshills/hearth/internal/bridge"
	"github.com/dshills/hearth/internal/capability"
	"github.com/dshills/hearth/internal/extension"
)

// Net defaults.
const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultReadSize     = 64 * 1024
	maxFetchBody        = 32 << 20
	maxRedirects        = 10
)

func netDescriptor() extension.Descriptor {
	return extension.Descriptor{
		Name:     "net",
		Tier:     extension.CapabilityBased,
		Required: true,
		Ops:      []string{"fetch", "connect", "listen", "accept", "read", "write", "close"},
		Init:     initNet,
	}
}

func initNet(_ context.Context, ic *extension.InitContext) (extension.State, error) {
	caps, err := ic.Capabilities()
	if err != nil {
		return nil, err
	}
	keep, err := ic.Keepalive()
	if err != nil {
		return nil, err
	}
	limit := rate.Inf
	if rps := ic.Limits().RequestsPerSecond; rps > 0 {
		limit = rate.Limit(rps)
	}
	m := &NetModule{
		caps:    caps,
		keep:    keep,
		limiter: rate.NewLimiter(limit, 1),
		sockets: make(map[int64]*socket),
	}
	m.client = &http.Client{
		Timeout:       DefaultFetchTimeout,
		CheckRedirect: m.checkRedirect,
	}
	return m, nil
}

// checkRedirect gates every redirect target on net.connect like the
// original request.
func (m *NetModule) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("net.fetch: stopped after %d redirects", maxRedirects)
	}
	return m.caps.Require(capability.ClassNetConnect, hostPort(req.URL))
}

// NetModule implements hearth.net. Listeners and connections live in an
// arena keyed by handle; a listener keeps the run-loop alive until closed.
type NetModule struct {
	caps    *capability.Set
	keep    *extension.Keepalive
	limiter *rate.Limiter
	client  *http.Client

	mu      sync.Mutex
	sockets map[int64]*socket
	closed  bool
}

type socket struct {
	conn    net.Conn
	ln      net.Listener
	release func()
}

func (s *socket) close() error {
	if s.release != nil {
		s.release()
	}
	if s.ln != nil {
		return s.ln.Close()
	}
	return s.conn.Close()
}

// Ops implements extension.State.
func (m *NetModule) Ops() []extension.Op {
	return []extension.Op{
		{Name: "fetch", Async: m.fetch},
		{Name: "connect", Async: m.connect},
		{Name: "listen", Async: m.listen},
		{Name: "accept", Async: m.accept},
		{Name: "read", Async: m.read},
		{Name: "write", Async: m.write},
		{Name: "close", Sync: m.closeHandle},
	}
}

// Close closes every socket.
func (m *NetModule) Close() error {
	m.mu.Lock()
	sockets := m.sockets
	m.sockets = make(map[int64]*socket)
	m.closed = true
	m.mu.Unlock()

	var errs []error
	for _, s := range sockets {
		if err := s.close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *NetModule) add(s *socket) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, bridge.ErrShuttingDown
	}
	id := nextHandle()
	m.sockets[id] = s
	return id, nil
}

func (m *NetModule) get(c *extension.Call, i int) (*socket, error) {
	id, err := c.Int(i)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sockets[id]
	if !ok {
		return nil, fmt.Errorf("%s: socket %d: %w", c.Op, id, bridge.ErrInvalidHandle)
	}
	return s, nil
}

// fetch(url, {method="GET", headers={}, body="", timeout_ms=30000})
// -> {status, headers, body}
func (m *NetModule) fetch(c *extension.Call) (extension.Poller, error) {
	raw, err := c.String(0)
	if err != nil {
		return nil, err
	}
	opts, err := c.OptTable(1)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("net.fetch: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("net.fetch: unsupported scheme %q", u.Scheme)
	}
	if err := m.caps.Require(capability.ClassNetConnect, hostPort(u)); err != nil {
		return nil, err
	}

	method := strings.ToUpper(extension.StringField(opts, "method", http.MethodGet))
	body := extension.StringField(opts, "body", "")
	timeout := time.Duration(extension.IntField(opts, "timeout_ms", 0)) * time.Millisecond
	headers, _ := opts["headers"].(map[string]any)
	ctx := callContext(c)

	return extension.Go(func() (any, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		var rd io.Reader
		if body != "" {
			rd = strings.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
		resp, err := m.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
		if err != nil {
			return nil, err
		}
		hdr := make(map[string]any, len(resp.Header))
		for k := range resp.Header {
			hdr[strings.ToLower(k)] = resp.Header.Get(k)
		}
		return map[string]any{
			"status":  int64(resp.StatusCode),
			"headers": hdr,
			"body":    string(data),
		}, nil
	}), nil
}

// connect(addr) -> connection id
func (m *NetModule) connect(c *extension.Call) (extension.Poller, error) {
	addr, err := c.String(0)
	if err != nil {
		return nil, err
	}
	if err := m.caps.Require(capability.ClassNetConnect, addr); err != nil {
		return nil, err
	}
	ctx := callContext(c)
	return extension.Go(func() (any, error) {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		id, err := m.add(&socket{conn: conn})
		if err != nil {
			conn.Close()
			return nil, err
		}
		return id, nil
	}), nil
}

// listen(addr) -> {id, addr}
func (m *NetModule) listen(c *extension.Call) (extension.Poller, error) {
	addr, err := c.String(0)
	if err != nil {
		return nil, err
	}
	if err := m.caps.Require(capability.ClassNetListen, addr); err != nil {
		return nil, err
	}
	return extension.Go(func() (any, error) {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		s := &socket{ln: ln, release: m.keep.Acquire()}
		id, err := m.add(s)
		if err != nil {
			s.close()
			return nil, err
		}
		return map[string]any{"id": id, "addr": ln.Addr().String()}, nil
	}), nil
}

// accept(listener) -> {id, remote}
func (m *NetModule) accept(c *extension.Call) (extension.Poller, error) {
	s, err := m.get(c, 0)
	if err != nil {
		return nil, err
	}
	if s.ln == nil {
		return nil, fmt.Errorf("net.accept: not a listener: %w", bridge.ErrInvalidHandle)
	}
	return extension.Go(func() (any, error) {
		conn, err := s.ln.Accept()
		if err != nil {
			return nil, err
		}
		id, err := m.add(&socket{conn: conn})
		if err != nil {
			conn.Close()
			return nil, err
		}
		return map[string]any{"id": id, "remote": conn.RemoteAddr().String()}, nil
	}), nil
}

// read(conn, max=65536) -> string, or nil at end of stream
func (m *NetModule) read(c *extension.Call) (extension.Poller, error) {
	s, err := m.get(c, 0)
	if err != nil {
		return nil, err
	}
	if s.conn == nil {
		return nil, fmt.Errorf("net.read: not a connection: %w", bridge.ErrInvalidHandle)
	}
	size, err := c.OptInt(1, DefaultReadSize)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = DefaultReadSize
	}
	return extension.Go(func() (any, error) {
		buf := make([]byte, size)
		n, err := s.conn.Read(buf)
		if n > 0 {
			return string(buf[:n]), nil
		}
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}), nil
}

// write(conn, data) -> bytes written
func (m *NetModule) write(c *extension.Call) (extension.Poller, error) {
	s, err := m.get(c, 0)
	if err != nil {
		return nil, err
	}
	if s.conn == nil {
		return nil, fmt.Errorf("net.write: not a connection: %w", bridge.ErrInvalidHandle)
	}
	data, err := c.String(1)
	if err != nil {
		return nil, err
	}
	return extension.Go(func() (any, error) {
		n, err := io.WriteString(s.conn, data)
		return int64(n), err
	}), nil
}

// close(id)
func (m *NetModule) closeHandle(c *extension.Call) (any, error) {
	id, err := c.Int(0)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	s, ok := m.sockets[id]
	delete(m.sockets, id)
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("net.close: socket %d: %w", id, bridge.ErrInvalidHandle)
	}
	if err := s.close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return nil, err
	}
	return nil, nil
}

// hostPort returns the net.connect subject of u, filling in the scheme's
// default port.
func hostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

func callContext(c *extension.Call) context.Context {
	if c.Ctx != nil {
		return c.Ctx
	}
	return context.Background()
}
