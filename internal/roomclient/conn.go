package roomclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/park285/cheese-chess-rooms/pkg/protocol"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateClosed       State = "closed"
)

var ErrClosed = errors.New("connection closed")

// EventCallback receives every frame that is not a reply to a pending Request.
type EventCallback func(protocol.Envelope)

type StateCallback func(State)

type callbackEntry struct {
	id int
	cb EventCallback
}

type stateCallbackEntry struct {
	id int
	cb StateCallback
}

// Conn is a client websocket speaking the room protocol.
type Conn struct {
	conn *websocket.Conn

	cbM      sync.RWMutex
	eventCbs []callbackEntry
	stateCbs []stateCallbackEntry
	nextCbID int

	pendM   sync.Mutex
	pending map[string]chan protocol.Envelope
	seq     atomic.Int64

	events chan protocol.Envelope

	pingInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	rootCtx  context.Context
	cancel   context.CancelFunc
}

type ConnOption func(*Conn)

// WithPingInterval sets the keepalive period; zero disables pings.
func WithPingInterval(d time.Duration) ConnOption {
	return func(c *Conn) { c.pingInterval = d }
}

// WithEventBuffer sets how many unread events Next can hold before older ones are dropped.
func WithEventBuffer(n int) ConnOption {
	return func(c *Conn) {
		if n > 0 {
			c.events = make(chan protocol.Envelope, n)
		}
	}
}

// Dial connects to wsURL and starts the read and ping loops.
func Dial(ctx context.Context, wsURL string, opts ...ConnOption) (*Conn, error) {
	c := &Conn{
		pending:      make(map[string]chan protocol.Envelope),
		events:       make(chan protocol.Envelope, 256),
		pingInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	c.conn = conn
	c.rootCtx, c.cancel = context.WithCancel(context.Background())

	c.wg.Add(1)
	go c.listen()
	if c.pingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop()
	}
	return c, nil
}

func (c *Conn) listen() {
	defer c.wg.Done()
	defer close(c.events)
	for {
		var env protocol.Envelope
		if err := wsjson.Read(c.rootCtx, c.conn, &env); err != nil {
			if c.isStopping() {
				c.setState(StateClosed)
			} else {
				c.setState(StateDisconnected)
			}
			c.failPending()
			return
		}
		if c.resolve(env) {
			continue
		}

		c.cbM.RLock()
		callbacks := make([]callbackEntry, len(c.eventCbs))
		copy(callbacks, c.eventCbs)
		c.cbM.RUnlock()
		for _, entry := range callbacks {
			entry.cb(env)
		}

		select {
		case c.events <- env:
		default:
			// drop the oldest unread event
			select {
			case <-c.events:
			default:
			}
			c.events <- env
		}
	}
}

func (c *Conn) pingLoop() {
	defer c.wg.Done()
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(c.rootCtx, 3*time.Second)
			err := c.conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				_ = c.conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

// resolve hands replies to the Request waiting for them.
func (c *Conn) resolve(env protocol.Envelope) bool {
	if env.ID == "" || (env.Type != protocol.TypeAck && env.Type != protocol.TypeError) {
		return false
	}
	c.pendM.Lock()
	ch, ok := c.pending[env.ID]
	delete(c.pending, env.ID)
	c.pendM.Unlock()
	if !ok {
		return false
	}
	ch <- env
	return true
}

func (c *Conn) failPending() {
	c.pendM.Lock()
	defer c.pendM.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Send writes one frame without waiting for a reply.
func (c *Conn) Send(ctx context.Context, typ, id string, payload any) error {
	frame, err := protocol.Encode(typ, id, payload)
	if err != nil {
		return err
	}
	if c.isStopping() {
		return ErrClosed
	}
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

// Request sends a frame with a fresh id and waits for its ack. An error frame is returned
// as a protocol.ErrorPayload error.
func (c *Conn) Request(ctx context.Context, typ string, payload any) (protocol.Envelope, error) {
	id := "c" + strconv.FormatInt(c.seq.Add(1), 10)
	ch := make(chan protocol.Envelope, 1)
	c.pendM.Lock()
	c.pending[id] = ch
	c.pendM.Unlock()

	if err := c.Send(ctx, typ, id, payload); err != nil {
		c.pendM.Lock()
		delete(c.pending, id)
		c.pendM.Unlock()
		return protocol.Envelope{}, err
	}

	select {
	case <-ctx.Done():
		c.pendM.Lock()
		delete(c.pending, id)
		c.pendM.Unlock()
		return protocol.Envelope{}, ctx.Err()
	case env, ok := <-ch:
		if !ok {
			return protocol.Envelope{}, ErrClosed
		}
		if env.Type == protocol.TypeError {
			var perr protocol.ErrorPayload
			if err := protocol.DecodePayload(env, &perr); err != nil {
				return env, err
			}
			return env, perr
		}
		return env, nil
	}
}

// Next returns the next unsolicited frame.
func (c *Conn) Next(ctx context.Context) (protocol.Envelope, error) {
	select {
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	case env, ok := <-c.events:
		if !ok {
			return protocol.Envelope{}, ErrClosed
		}
		return env, nil
	}
}

// NextOfType skips frames until one of type typ arrives.
func (c *Conn) NextOfType(ctx context.Context, typ string) (protocol.Envelope, error) {
	for {
		env, err := c.Next(ctx)
		if err != nil {
			return env, err
		}
		if env.Type == typ {
			return env, nil
		}
	}
}

func (c *Conn) OnEvent(cb EventCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextCbID++
	c.eventCbs = append(c.eventCbs, callbackEntry{id: c.nextCbID, cb: cb})
	return c.nextCbID
}

func (c *Conn) OnStateChange(cb StateCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextCbID++
	c.stateCbs = append(c.stateCbs, stateCallbackEntry{id: c.nextCbID, cb: cb})
	return c.nextCbID
}

// RemoveCallback unregisters an event or state callback.
func (c *Conn) RemoveCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, e := range c.eventCbs {
		if e.id == id {
			c.eventCbs = append(c.eventCbs[:i], c.eventCbs[i+1:]...)
			return
		}
	}
	for i, e := range c.stateCbs {
		if e.id == id {
			c.stateCbs = append(c.stateCbs[:i], c.stateCbs[i+1:]...)
			return
		}
	}
}

func (c *Conn) setState(s State) {
	c.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(c.stateCbs))
	copy(callbacks, c.stateCbs)
	c.cbM.RUnlock()
	for _, entry := range callbacks {
		entry.cb(s)
	}
}

// Close sends a normal closure and waits for the loops to stop.
func (c *Conn) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	err := c.conn.Close(websocket.StatusNormalClosure, "bye")

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		c.cancel()
		return ctx.Err()
	case <-done:
		c.cancel()
	}
	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		return err
	}
	return nil
}

func (c *Conn) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}
