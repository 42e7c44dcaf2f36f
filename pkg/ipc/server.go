package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cccc-dev/cccc/pkg/events"
	"github.com/cccc-dev/cccc/pkg/log"
	"github.com/cccc-dev/cccc/pkg/metrics"
	"github.com/cccc-dev/cccc/pkg/types"
)

// Handler executes one operation. The daemon implements it; the server
// owns only transport, ordering, timeouts, and subscriptions.
type Handler interface {
	Handle(ctx context.Context, op string, args json.RawMessage) (any, error)
}

// ReplayFunc reads committed events for subscription catch-up.
type ReplayFunc func(filter SubscribeFilter) ([]*types.Event, error)

// Config holds server configuration.
type Config struct {
	SocketPath     string
	TCPAddr        string // optional loopback listener
	AuthToken      string // required on TCP connections when set
	Handler        Handler
	Broker         *events.Broker
	Replay         ReplayFunc
	RequestTimeout time.Duration // default 30s
}

const defaultRequestTimeout = 30 * time.Second

// Server accepts port connections and speaks the frame protocol.
type Server struct {
	cfg Config

	mu        sync.Mutex
	listeners []net.Listener
	tcpAddr   net.Addr
	conns     map[*serverConn]bool
	closed    bool
	wg        sync.WaitGroup
}

// TCPAddr returns the bound TCP address, or nil when TCP is off. Useful
// when the configured port was 0.
func (s *Server) TCPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tcpAddr
}

// NewServer creates a server; Start begins accepting.
func NewServer(cfg Config) *Server {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Server{cfg: cfg, conns: make(map[*serverConn]bool)}
}

// Start listens on the unix socket and, if configured, loopback TCP.
func (s *Server) Start() error {
	if s.cfg.SocketPath != "" {
		if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
			return types.E(types.ErrIO, "failed to create socket dir: %v", err)
		}
		os.Remove(s.cfg.SocketPath)
		ln, err := net.Listen("unix", s.cfg.SocketPath)
		if err != nil {
			return types.E(types.ErrIO, "failed to listen on socket: %v", err)
		}
		s.addListener(ln, false)
	}
	if s.cfg.TCPAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.TCPAddr)
		if err != nil {
			return types.E(types.ErrIO, "failed to listen on tcp: %v", err)
		}
		s.mu.Lock()
		s.tcpAddr = ln.Addr()
		s.mu.Unlock()
		s.addListener(ln, true)
	}
	if len(s.listeners) == 0 {
		return types.E(types.ErrInvalidPayload, "no listen address configured")
	}
	return nil
}

func (s *Server) addListener(ln net.Listener, needsAuth bool) {
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			c := &serverConn{
				srv:       s,
				nc:        nc,
				needsAuth: needsAuth && s.cfg.AuthToken != "",
				reqCh:     make(chan *Frame, 64),
				subs:      make(map[string]func()),
				cancels:   make(map[string]context.CancelFunc),
			}
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				nc.Close()
				return
			}
			s.conns[c] = true
			s.mu.Unlock()
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				c.serve()
			}()
		}
	}()
}

// Stop closes listeners and live connections, then waits.
func (s *Server) Stop() {
	s.mu.Lock()
	s.closed = true
	for _, ln := range s.listeners {
		ln.Close()
	}
	for c := range s.conns {
		c.nc.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	if s.cfg.SocketPath != "" {
		os.Remove(s.cfg.SocketPath)
	}
}

func (s *Server) dropConn(c *serverConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// serverConn is one port connection. Requests execute in arrival order
// on a single worker; subscriptions fan out on their own goroutines.
type serverConn struct {
	srv       *Server
	nc        net.Conn
	needsAuth bool

	writeMu sync.Mutex
	reqCh   chan *Frame

	mu      sync.Mutex
	subs    map[string]func()
	cancels map[string]context.CancelFunc
}

func (c *serverConn) serve() {
	defer c.srv.dropConn(c)
	defer c.nc.Close()

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		for f := range c.reqCh {
			c.handleRequest(f)
		}
	}()
	defer workers.Wait()
	defer close(c.reqCh)
	defer c.stopAll()

	for {
		f, err := ReadFrame(c.nc)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.WithComponent("ipc").Debug().Err(err).Msg("connection read failed")
			}
			return
		}
		switch f.Type {
		case FrameRequest:
			c.reqCh <- f
		case FrameSubscribe:
			c.startSubscription(f)
		case FrameCancel:
			c.cancel(f.ID)
		default:
			c.writeError(f.ID, types.E(types.ErrInvalidPayload, "unexpected frame type %q", f.Type))
		}
	}
}

func (c *serverConn) write(f *Frame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := WriteFrame(c.nc, f); err != nil {
		c.nc.Close()
	}
}

func (c *serverConn) writeError(id string, err error) {
	c.write(&Frame{Type: FrameResponse, ID: id, Error: types.AsError(err)})
}

func (c *serverConn) authorized(f *Frame) bool {
	return !c.needsAuth || f.Token == c.srv.cfg.AuthToken
}

// handleRequest runs one operation with timeout, cancellation, and
// panic containment.
func (c *serverConn) handleRequest(f *Frame) {
	if !c.authorized(f) {
		c.writeError(f.ID, types.E(types.ErrUnauthorized, "missing or invalid token"))
		return
	}

	timeout := c.srv.cfg.RequestTimeout
	if f.TimeoutMS > 0 {
		timeout = time.Duration(f.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	c.mu.Lock()
	c.cancels[f.ID] = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.cancels, f.ID)
		c.mu.Unlock()
	}()

	result, err := c.invoke(ctx, f)
	metrics.IncRequest(f.Op, err == nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = types.E(types.ErrTimeout, "operation %s timed out", f.Op)
		}
		c.writeError(f.ID, err)
		return
	}
	payload, merr := json.Marshal(result)
	if merr != nil {
		c.writeError(f.ID, types.E(types.ErrInternal, "failed to encode result"))
		return
	}
	c.write(&Frame{Type: FrameResponse, ID: f.ID, OK: true, Result: payload})
}

// invoke calls the handler, converting a panic into internal_error with
// a correlation id instead of killing the daemon.
func (c *serverConn) invoke(ctx context.Context, f *Frame) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			id := uuid.NewString()
			log.WithComponent("ipc").Error().
				Str("correlation_id", id).
				Str("op", f.Op).
				Any("panic", r).
				Msg("handler panicked")
			err = types.E(types.ErrInternal, "internal error").WithDetail("correlation_id", id)
		}
	}()
	return c.srv.cfg.Handler.Handle(ctx, f.Op, f.Args)
}

func (c *serverConn) cancel(id string) {
	c.mu.Lock()
	stopSub := c.subs[id]
	delete(c.subs, id)
	reqCancel := c.cancels[id]
	c.mu.Unlock()
	if stopSub != nil {
		stopSub()
	}
	if reqCancel != nil {
		reqCancel()
	}
}

func (c *serverConn) stopAll() {
	c.mu.Lock()
	subs := make([]func(), 0, len(c.subs))
	for _, stop := range c.subs {
		subs = append(subs, stop)
	}
	c.subs = map[string]func(){}
	for _, cancel := range c.cancels {
		cancel()
	}
	c.mu.Unlock()
	for _, stop := range subs {
		stop()
	}
}

// startSubscription streams committed events matching the filter:
// optional catch-up replay from a given id, then live events. A
// subscriber that cannot keep up is dropped with a lagged error so it
// can re-sync from the ledger.
func (c *serverConn) startSubscription(f *Frame) {
	if !c.authorized(f) {
		c.writeError(f.ID, types.E(types.ErrUnauthorized, "missing or invalid token"))
		return
	}
	var filter SubscribeFilter
	if len(f.Filter) > 0 {
		if err := json.Unmarshal(f.Filter, &filter); err != nil {
			c.writeError(f.ID, types.E(types.ErrInvalidPayload, "malformed filter: %v", err))
			return
		}
	}
	if filter.FromID != "" && filter.GroupID == "" {
		c.writeError(f.ID, types.E(types.ErrInvalidPayload, "from_id requires group_id"))
		return
	}

	// Subscribe before replaying so nothing commits unseen in between;
	// the live loop skips ids the replay already sent.
	sub := c.srv.cfg.Broker.Subscribe(filter.GroupID, filter.Kinds, events.DefaultBuffer)
	stopped := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			c.srv.cfg.Broker.Unsubscribe(sub)
			close(stopped)
		})
	}
	c.mu.Lock()
	c.subs[f.ID] = stop
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.subs, f.ID)
			c.mu.Unlock()
			stop()
		}()

		lastSent := ""
		if filter.FromID != "" && c.srv.cfg.Replay != nil {
			replay, err := c.srv.cfg.Replay(filter)
			if err != nil {
				c.writeError(f.ID, err)
				return
			}
			for _, ev := range replay {
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				c.write(&Frame{Type: FrameEvent, ID: f.ID, Data: data})
				lastSent = ev.ID
			}
		}

		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					if sub.Lagged() {
						metrics.IncLagDrop()
						c.writeError(f.ID, types.E(types.ErrLagged, "subscriber fell behind"))
					} else {
						c.write(&Frame{Type: FrameComplete, ID: f.ID})
					}
					return
				}
				if filter.GroupID != "" && ev.GroupID == filter.GroupID && lastSent != "" && ev.ID <= lastSent {
					continue
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				c.write(&Frame{Type: FrameEvent, ID: f.ID, Data: data})
			case <-stopped:
				c.write(&Frame{Type: FrameComplete, ID: f.ID})
				return
			}
		}
	}()
}
