package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gigdesk/msgd/internal/bus"
	"github.com/gigdesk/msgd/internal/wire"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrNotOpen is returned by Publish when the connection is not open.
	// Callers are expected to fall back to the REST path; nothing is queued.
	ErrNotOpen = errors.New("transport: connection not open")

	// ErrAckTimeout is passed to an ack callback when the server does not
	// acknowledge within the configured window.
	ErrAckTimeout = errors.New("transport: ack timeout")

	// ErrTornDown is returned after an explicit Close.
	ErrTornDown = errors.New("transport: torn down")
)

// AckFunc receives the server acknowledgment payload for a published event,
// or an error if the connection dropped or the ack timed out.
type AckFunc func(payload json.RawMessage, err error)

// Config holds connection parameters.
type Config struct {
	URL         string
	UserID      string
	Token       string
	BackoffBase time.Duration
	BackoffCap  time.Duration
	AckTimeout  time.Duration
}

func (c *Config) defaults() {
	if c.BackoffBase == 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 10 * time.Second
	}
}

// Conn owns the single websocket to the messaging server. It republishes
// inbound frames on the bus as "rt.<event>" events and reconnects with
// exponential backoff until explicitly torn down. Only Conn touches socket
// internals; everything else publishes and subscribes.
type Conn struct {
	cfg     Config
	machine *Machine
	bus     *bus.Bus
	logger  *zap.Logger

	mu        sync.Mutex
	ws        *websocket.Conn
	seq       uint64
	pending   map[uint64]*pendingAck
	backoff   Backoff
	torndown  bool
	reconnect *time.Timer
}

type pendingAck struct {
	fn    AckFunc
	timer *time.Timer
}

// NewConn creates a connection manager. It does not dial; call Connect.
func NewConn(cfg Config, machine *Machine, b *bus.Bus, logger *zap.Logger) *Conn {
	cfg.defaults()
	return &Conn{
		cfg:     cfg,
		machine: machine,
		bus:     b,
		logger:  logger,
		pending: make(map[uint64]*pendingAck),
		backoff: Backoff{Base: cfg.BackoffBase, Cap: cfg.BackoffCap},
	}
}

// State returns the current connection state.
func (c *Conn) State() State {
	return c.machine.Current()
}

// Connect dials the server. Idempotent: a no-op when already open or
// connecting. On failure the connection schedules its own retry; the
// returned error is informational.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		return ErrTornDown
	}
	switch c.machine.Current() {
	case Open, Connecting:
		c.mu.Unlock()
		return nil
	}
	_ = c.machine.Transition(Connecting)
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.Token)
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.logger.Warn("dial failed", zap.Error(err), zap.String("url", c.cfg.URL))
		c.mu.Lock()
		_ = c.machine.Transition(Closed)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.bus.Publish(bus.Event{Kind: "rt.error", Timestamp: time.Now(), Payload: err.Error()})
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		_ = ws.Close()
		return ErrTornDown
	}
	c.ws = ws
	_ = c.machine.Transition(Open)
	c.backoff.Reset()
	c.mu.Unlock()

	c.logger.Info("connected", zap.String("url", c.cfg.URL))
	c.bus.Publish(bus.Event{Kind: "rt.connected", Timestamp: time.Now()})

	if err := c.Publish(EvtAuthenticate, wire.Authenticate{UserID: c.cfg.UserID, Token: c.cfg.Token}, nil); err != nil {
		c.logger.Warn("authenticate publish failed", zap.Error(err))
	}

	go c.readLoop(ws)
	return nil
}

// Publish serializes and sends a typed outbound event. Returns ErrNotOpen
// when the connection is not open. When ack is non-nil, it is invoked with
// the server acknowledgment payload, or with an error on timeout or
// connection loss.
func (c *Conn) Publish(event string, payload any, ack AckFunc) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	c.mu.Lock()
	if c.machine.Current() != Open || c.ws == nil {
		c.mu.Unlock()
		return ErrNotOpen
	}

	f := frame{Event: event, Payload: raw}
	if ack != nil {
		c.seq++
		f.Seq = c.seq
		seq := c.seq
		c.pending[seq] = &pendingAck{
			fn: ack,
			timer: time.AfterFunc(c.cfg.AckTimeout, func() {
				c.resolvePending(seq, nil, ErrAckTimeout)
			}),
		}
	}

	if err := c.ws.WriteJSON(f); err != nil {
		if ack != nil {
			if p, ok := c.pending[f.Seq]; ok {
				p.timer.Stop()
				delete(c.pending, f.Seq)
			}
		}
		c.mu.Unlock()
		return fmt.Errorf("write %s: %w", event, err)
	}
	c.mu.Unlock()
	return nil
}

// Close tears the connection down for good. No reconnect is attempted.
func (c *Conn) Close() {
	c.mu.Lock()
	c.torndown = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	ws := c.ws
	c.ws = nil
	failed := c.takePendingLocked()
	if c.machine.Current() != Disconnected {
		_ = c.machine.Transition(Disconnected)
	}
	c.mu.Unlock()

	for _, p := range failed {
		p.fn(nil, ErrTornDown)
	}
	if ws != nil {
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = ws.Close()
	}
	c.logger.Info("transport torn down")
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		var f frame
		if err := ws.ReadJSON(&f); err != nil {
			c.handleDisconnect(ws, err)
			return
		}
		if f.Event == evtAck {
			c.resolvePending(f.Seq, f.Payload, nil)
			continue
		}
		c.bus.Publish(bus.Event{
			Kind:      "rt." + f.Event,
			Timestamp: time.Now(),
			Payload:   f.Payload,
		})
	}
}

func (c *Conn) handleDisconnect(ws *websocket.Conn, cause error) {
	_ = ws.Close()

	c.mu.Lock()
	if c.torndown || c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	_ = c.machine.Transition(Closed)
	failed := c.takePendingLocked()
	c.scheduleReconnectLocked()
	attempt := c.backoff.Attempt()
	c.mu.Unlock()

	for _, p := range failed {
		p.fn(nil, ErrNotOpen)
	}

	c.logger.Warn("connection lost", zap.Error(cause), zap.Int("attempt", attempt))
	c.bus.Publish(bus.Event{Kind: "rt.disconnected", Timestamp: time.Now()})
	c.bus.Publish(bus.Event{Kind: "rt.error", Timestamp: time.Now(), Payload: cause.Error()})
}

// scheduleReconnectLocked arms the reconnect timer. The caller must hold mu;
// the state machine guards against concurrent dial attempts.
func (c *Conn) scheduleReconnectLocked() {
	if c.torndown {
		return
	}
	delay := c.backoff.Next()
	c.reconnect = time.AfterFunc(delay, func() {
		c.mu.Lock()
		torndown := c.torndown
		c.mu.Unlock()
		if torndown {
			return
		}
		_ = c.Connect(context.Background())
	})
}

func (c *Conn) resolvePending(seq uint64, payload json.RawMessage, err error) {
	c.mu.Lock()
	p, ok := c.pending[seq]
	if ok {
		p.timer.Stop()
		delete(c.pending, seq)
	}
	c.mu.Unlock()
	if ok {
		p.fn(payload, err)
	}
}

func (c *Conn) takePendingLocked() []*pendingAck {
	var out []*pendingAck
	for seq, p := range c.pending {
		p.timer.Stop()
		out = append(out, p)
		delete(c.pending, seq)
	}
	return out
}
