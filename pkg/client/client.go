package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cccc-dev/cccc/pkg/ipc"
	"github.com/cccc-dev/cccc/pkg/types"
)

// Client is one connection to the daemon. Safe for concurrent use;
// calls multiplex over the single connection by frame id.
type Client struct {
	// By is the principal the typed wrappers attach to every request.
	// Set it once after Dial; empty means "user".
	By string

	nc    net.Conn
	token string

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *ipc.Frame
	subs    map[string]*Subscription
	closed  bool
	readErr error
}

// Dial connects over the unix socket.
func Dial(socketPath string) (*Client, error) {
	nc, err := net.DialTimeout("unix", socketPath, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return newClient(nc, ""), nil
}

// DialTCP connects over loopback TCP with a bearer token.
func DialTCP(addr, token string) (*Client, error) {
	nc, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return newClient(nc, token), nil
}

func newClient(nc net.Conn, token string) *Client {
	c := &Client{
		nc:      nc,
		token:   token,
		pending: make(map[string]chan *ipc.Frame),
		subs:    make(map[string]*Subscription),
	}
	go c.readLoop()
	return c
}

// Close tears down the connection; in-flight calls fail.
func (c *Client) Close() error {
	return c.nc.Close()
}

func (c *Client) write(f *ipc.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ipc.WriteFrame(c.nc, f)
}

// Call executes one operation and decodes the result into result when
// it is non-nil. The context deadline, if set, travels to the daemon so
// both sides give up together.
func (c *Client) Call(ctx context.Context, op string, args any, result any) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode args: %w", err)
	}

	id := uuid.NewString()
	ch := make(chan *ipc.Frame, 1)
	c.mu.Lock()
	if c.closed {
		readErr := c.readErr
		c.mu.Unlock()
		return connClosed(readErr)
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	f := &ipc.Frame{Type: ipc.FrameRequest, ID: id, Op: op, Args: payload, Token: c.token}
	if deadline, ok := ctx.Deadline(); ok {
		if ms := int(time.Until(deadline) / time.Millisecond); ms > 0 {
			f.TimeoutMS = ms
		}
	}
	if err := c.write(f); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			readErr := c.readErr
			c.mu.Unlock()
			return connClosed(readErr)
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("failed to decode result: %w", err)
			}
		}
		return nil
	case <-ctx.Done():
		c.write(&ipc.Frame{Type: ipc.FrameCancel, ID: id})
		return ctx.Err()
	}
}

func connClosed(readErr error) error {
	if readErr != nil {
		return fmt.Errorf("connection closed: %w", readErr)
	}
	return fmt.Errorf("connection closed")
}

// Subscription is a live event stream. Events closes when the stream
// ends; Err then reports why (nil on clean completion or cancel).
type Subscription struct {
	Events <-chan *types.Event

	client *Client
	id     string
	ch     chan *types.Event

	mu     sync.Mutex
	err    error
	closed bool
}

// Err reports the terminal error after Events closes.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel stops the stream. The daemon confirms with a complete frame;
// pending events may still drain first.
func (s *Subscription) Cancel() {
	s.client.write(&ipc.Frame{Type: ipc.FrameCancel, ID: s.id})
}

func (s *Subscription) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}

// Subscribe opens an event stream matching the filter. With FromID set
// the daemon replays committed history before going live.
func (c *Client) Subscribe(filter ipc.SubscribeFilter) (*Subscription, error) {
	raw, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter: %w", err)
	}

	id := uuid.NewString()
	sub := &Subscription{client: c, id: id, ch: make(chan *types.Event, 64)}
	sub.Events = sub.ch

	c.mu.Lock()
	if c.closed {
		readErr := c.readErr
		c.mu.Unlock()
		return nil, connClosed(readErr)
	}
	c.subs[id] = sub
	c.mu.Unlock()

	f := &ipc.Frame{Type: ipc.FrameSubscribe, ID: id, Filter: raw, Token: c.token}
	if err := c.write(f); err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return sub, nil
}

// readLoop demultiplexes incoming frames to waiting calls and
// subscriptions until the connection dies.
func (c *Client) readLoop() {
	var readErr error
	for {
		f, err := ipc.ReadFrame(c.nc)
		if err != nil {
			readErr = err
			break
		}
		switch f.Type {
		case ipc.FrameResponse:
			c.mu.Lock()
			ch := c.pending[f.ID]
			sub := c.subs[f.ID]
			if sub != nil {
				delete(c.subs, f.ID)
			}
			c.mu.Unlock()
			if ch != nil {
				ch <- f
			}
			if sub != nil {
				// A response on a subscription id is its terminal error.
				var serr error
				if f.Error != nil {
					serr = f.Error
				}
				sub.finish(serr)
			}
		case ipc.FrameEvent:
			c.mu.Lock()
			sub := c.subs[f.ID]
			c.mu.Unlock()
			if sub == nil {
				continue
			}
			var ev types.Event
			if err := json.Unmarshal(f.Data, &ev); err != nil {
				continue
			}
			select {
			case sub.ch <- &ev:
			default:
				// Local consumer stalled; drop the stream rather than
				// block the whole connection.
				c.mu.Lock()
				delete(c.subs, f.ID)
				c.mu.Unlock()
				sub.finish(types.E(types.ErrLagged, "local subscriber fell behind"))
			}
		case ipc.FrameComplete:
			c.mu.Lock()
			sub := c.subs[f.ID]
			delete(c.subs, f.ID)
			c.mu.Unlock()
			if sub != nil {
				sub.finish(nil)
			}
		}
	}

	c.mu.Lock()
	c.closed = true
	c.readErr = readErr
	pending := c.pending
	subs := c.subs
	c.pending = make(map[string]chan *ipc.Frame)
	c.subs = make(map[string]*Subscription)
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
	for _, sub := range subs {
		sub.finish(connClosed(readErr))
	}
}
