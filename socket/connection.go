// Package socket implements the chat socket: request serialization, the
// authentication flow, and a connection state machine that queues requests
// until the connection is open and authenticated.
//
// All mutable connection state lives on one dispatch queue. Transport reads
// happen on a separate goroutine and are posted to the queue as they arrive.
package socket

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/NeboLoop/supportchat-go/dispatch"
	"github.com/NeboLoop/supportchat-go/frame"
	"github.com/NeboLoop/supportchat-go/metrics"
	"github.com/NeboLoop/supportchat-go/wire"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// DefaultRetryDelay is the fixed interval between connection attempts.
const DefaultRetryDelay = 3 * time.Second

// Config holds connection parameters.
type Config struct {
	URL    string
	Header http.Header
	// RetryDelay is the fixed reconnect interval. Retries are unbounded.
	RetryDelay time.Duration
	// DialTimeout bounds one dial attempt; it defaults to RetryDelay.
	DialTimeout time.Duration
}

// Connection is the chat socket state machine.
type Connection struct {
	cfg    Config
	dialer Dialer
	ser    *Serializer
	auth   *Authenticator
	loop   *dispatch.Queue
	logger *slog.Logger

	state         atomic.Int32
	authenticated atomic.Bool

	// Everything below is confined to loop.
	conn     Conn
	gen      uint64
	manual   bool
	closed   bool
	authing  bool
	pending  map[int64]*Request
	queue    []*Request
	retry    *time.Timer
	retrySeq uint64
	onEvent  frame.Handler
	onStatus func(connected bool)
}

// NewConnection creates a disconnected connection. loop is the dispatch queue
// that owns its state; ser and auth must only be used from that queue too.
func NewConnection(cfg Config, dialer Dialer, ser *Serializer, auth *Authenticator, loop *dispatch.Queue, logger *slog.Logger) *Connection {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.DialTimeout <= 0 || cfg.DialTimeout > cfg.RetryDelay {
		cfg.DialTimeout = cfg.RetryDelay
	}
	if dialer == nil {
		dialer = WSDialer{Timeout: cfg.DialTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		cfg:     cfg,
		dialer:  dialer,
		ser:     ser,
		auth:    auth,
		loop:    loop,
		logger:  logger.With("component", "socket"),
		pending: make(map[int64]*Request),
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// IsOpen reports whether the transport is open.
func (c *Connection) IsOpen() bool { return c.State() == StateOpen }

// IsAuthenticated reports whether the open transport finished the auth flow.
func (c *Connection) IsAuthenticated() bool { return c.authenticated.Load() }

// SetEventHandler registers the receiver of Event frames.
func (c *Connection) SetEventHandler(h frame.Handler) {
	c.loop.Async(func() { c.onEvent = h })
}

// SetStatusHandler registers the receiver of connected/disconnected changes.
func (c *Connection) SetStatusHandler(fn func(connected bool)) {
	c.loop.Async(func() { c.onStatus = fn })
}

// Connect opens the transport unless it is already open or connecting. On an
// open transport whose authentication failed, it runs authentication again.
func (c *Connection) Connect() {
	c.loop.Async(c.connectIfNeeded)
}

// Disconnect closes the transport without notifying the status handler.
// Queued requests are kept for the next Connect.
func (c *Connection) Disconnect() {
	c.loop.Async(c.disconnect)
}

// Close disconnects and stops all retries. The connection cannot be reused.
func (c *Connection) Close() {
	c.loop.Async(func() {
		c.disconnect()
		c.closed = true
	})
}

// Send issues a request. h, if non-nil, is called on the dispatch queue with
// the matching Response. Requests made before the connection is open and
// authenticated are queued and sent in order once it is.
func (c *Connection) Send(kind wire.Request, h frame.Handler) {
	c.loop.Async(func() { c.send(kind, h) })
}

// --------------------------------------------------------------------------
// Loop-confined internals
// --------------------------------------------------------------------------

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Connection) send(kind wire.Request, h frame.Handler) {
	r := c.ser.CreateRequest(kind, h)
	if h != nil {
		c.pending[r.ID] = r
		metrics.PendingRequests.Set(float64(len(c.pending)))
	}

	if c.State() == StateOpen && c.authenticated.Load() && len(c.queue) == 0 {
		c.transmit(r)
		return
	}

	c.queue = append(c.queue, r)
	metrics.QueueDepth.Set(float64(len(c.queue)))
	c.logger.Debug("queueing request", "path", r.Path(), "request_id", r.ID, "state", c.State())
	c.connectIfNeeded()
}

// sendAuth transmits an auth-flow request ahead of the queue. Auth requests
// belong to one transport: they are never queued and a lost transport drops
// their handlers.
func (c *Connection) sendAuth(kind wire.Request, h frame.Handler) {
	r := c.ser.CreateRequest(kind, h)
	r.auth = true
	if c.State() != StateOpen {
		c.logger.Debug("dropping auth request on closed transport", "path", r.Path())
		return
	}
	if h != nil {
		c.pending[r.ID] = r
	}
	c.transmit(r)
}

// transmit writes r. On failure the transport is torn down and r is put back
// at the head of the queue, unless it is an auth request.
func (c *Connection) transmit(r *Request) bool {
	text := c.ser.Render(r)
	if err := c.conn.WriteText(text); err != nil {
		if !r.auth {
			c.queue = append([]*Request{r}, c.queue...)
		}
		c.transportLost(c.gen, err)
		return false
	}
	metrics.FramesSent.WithLabelValues("text").Inc()

	if bp, ok := r.Kind.(wire.BinaryPayload); ok && len(bp.BinaryData()) > 0 {
		if err := c.conn.WriteBinary(bp.BinaryData()); err != nil {
			c.transportLost(c.gen, err)
			return false
		}
		metrics.FramesSent.WithLabelValues("binary").Inc()
	}

	r.sentAt = time.Now()
	c.logger.Debug("sent request", "path", r.Path(), "request_id", r.ID)
	return true
}

func (c *Connection) drainQueue() {
	for len(c.queue) > 0 {
		r := c.queue[0]
		c.queue = c.queue[1:]
		if !c.transmit(r) {
			break
		}
	}
	if len(c.queue) == 0 {
		c.queue = nil
	}
	metrics.QueueDepth.Set(float64(len(c.queue)))
}

func (c *Connection) connectIfNeeded() {
	if c.closed {
		return
	}
	c.manual = false
	switch c.State() {
	case StateConnecting:
		return
	case StateOpen:
		if !c.authenticated.Load() && !c.authing {
			c.logger.Info("retrying authentication")
			c.startAuth(c.gen)
		}
		return
	}

	c.setState(StateConnecting)
	c.gen++
	gen := c.gen
	url, header, timeout := c.cfg.URL, c.cfg.Header.Clone(), c.cfg.DialTimeout
	c.logger.Debug("connecting", "url", url)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		conn, err := c.dialer.Dial(ctx, url, header)
		if !c.loop.Async(func() { c.handleDial(gen, conn, err) }) && conn != nil {
			conn.Close()
		}
	}()

	c.scheduleRetry()
}

func (c *Connection) handleDial(gen uint64, conn Conn, err error) {
	if gen != c.gen || c.closed {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		metrics.ConnectAttempts.WithLabelValues("error").Inc()
		c.logger.Warn("connect failed", "url", c.cfg.URL, "error", err)
		c.setState(StateDisconnected)
		c.notifyStatus(false)
		return
	}
	metrics.ConnectAttempts.WithLabelValues("ok").Inc()

	c.conn = conn
	c.setState(StateOpen)
	c.logger.Info("connected", "url", c.cfg.URL)

	go c.readLoop(gen, conn)
	c.startAuth(gen)
}

func (c *Connection) startAuth(gen uint64) {
	c.authing = true
	c.auth.Run(c.sendAuth, func(ok bool) { c.authDone(gen, ok) })
}

func (c *Connection) authDone(gen uint64, ok bool) {
	if gen != c.gen || c.State() != StateOpen {
		return
	}
	c.authing = false
	if !ok {
		c.notifyStatus(false)
		return
	}
	c.authenticated.Store(true)
	c.drainQueue()
	if c.gen == gen && c.State() == StateOpen {
		c.notifyStatus(true)
	}
}

func (c *Connection) readLoop(gen uint64, conn Conn) {
	for {
		text, err := conn.ReadText()
		if err != nil {
			c.loop.Async(func() { c.transportLost(gen, err) })
			return
		}
		if !c.loop.Async(func() { c.handleFrame(gen, text) }) {
			return
		}
	}
}

func (c *Connection) handleFrame(gen uint64, text string) {
	if gen != c.gen {
		return
	}
	m, err := frame.Decode(text)
	if err != nil {
		metrics.DecodeErrors.Inc()
		c.logger.Warn("dropping undecodable frame", "error", err)
		return
	}
	metrics.FramesReceived.WithLabelValues(m.Kind.String()).Inc()

	switch m.Kind {
	case frame.KindResponse:
		r, ok := c.pending[m.RequestID]
		if !ok {
			c.logger.Debug("response without pending request", "request_id", m.RequestID)
			return
		}
		delete(c.pending, m.RequestID)
		metrics.PendingRequests.Set(float64(len(c.pending)))
		if !r.sentAt.IsZero() {
			elapsed := time.Since(r.sentAt)
			metrics.ResponseSeconds.Observe(elapsed.Seconds())
			c.logger.Debug("response received", "path", r.Path(), "request_id", r.ID, "ms", elapsed.Milliseconds())
		}
		r.Handler(m)

	case frame.KindEvent:
		if c.onEvent != nil {
			c.onEvent(m)
		}

	case frame.KindResponseError:
		c.logger.Warn("response error", "request_id", m.RequestID, "has_request_id", m.HasRequestID, "body", m.Body)
		// A rejected auth request fails the auth flow instead of leaving it waiting.
		if r, ok := c.pending[m.RequestID]; ok && m.HasRequestID && r.auth {
			delete(c.pending, m.RequestID)
			metrics.PendingRequests.Set(float64(len(c.pending)))
			r.Handler(m)
		}
	}
}

// dropAuthRequests forgets the auth flow of the current transport.
func (c *Connection) dropAuthRequests() {
	for id, r := range c.pending {
		if r.auth {
			delete(c.pending, id)
		}
	}
	metrics.PendingRequests.Set(float64(len(c.pending)))
	c.authing = false
}

// transportLost handles a read or write failure on the connection of gen.
// Pending requests stay registered.
func (c *Connection) transportLost(gen uint64, err error) {
	if gen != c.gen {
		return
	}
	c.gen++
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.authenticated.Store(false)
	c.dropAuthRequests()
	c.setState(StateDisconnected)
	c.logger.Warn("connection lost", "error", err)
	c.notifyStatus(false)
	if !c.manual && !c.closed {
		c.scheduleRetry()
	}
}

func (c *Connection) disconnect() {
	c.manual = true
	c.stopRetry()
	c.gen++
	if c.conn != nil {
		c.setState(StateClosing)
		c.conn.Close()
		c.conn = nil
	}
	c.authenticated.Store(false)
	c.dropAuthRequests()
	c.setState(StateDisconnected)
	c.logger.Debug("disconnected", "queued", len(c.queue))
}

func (c *Connection) scheduleRetry() {
	c.stopRetry()
	seq := c.retrySeq
	c.retry = c.loop.After(c.cfg.RetryDelay, func() { c.retryFired(seq) })
}

func (c *Connection) stopRetry() {
	c.retrySeq++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Connection) retryFired(seq uint64) {
	if seq != c.retrySeq || c.manual || c.closed {
		return
	}
	c.retry = nil
	switch c.State() {
	case StateOpen:
	case StateConnecting:
		c.scheduleRetry()
	default:
		c.logger.Debug("retrying connection", "delay", c.cfg.RetryDelay)
		c.connectIfNeeded()
	}
}

func (c *Connection) notifyStatus(connected bool) {
	if c.onStatus != nil {
		c.onStatus(connected)
	}
}
