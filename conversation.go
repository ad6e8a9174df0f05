// Package supportchat is a client for customer-support chat over the chat
// socket protocol. A Conversation keeps one authenticated socket open, holds
// the durable event log of the conversation and reports messages, typing and
// live-chat changes through registered callbacks.
package supportchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/NeboLoop/supportchat-go/dispatch"
	"github.com/NeboLoop/supportchat-go/event"
	"github.com/NeboLoop/supportchat-go/frame"
	"github.com/NeboLoop/supportchat-go/session"
	"github.com/NeboLoop/supportchat-go/socket"
	"github.com/NeboLoop/supportchat-go/store"
	"github.com/NeboLoop/supportchat-go/wire"
)

// ErrNoResults is reported by GetEvents when the server returned no usable
// events.
var ErrNoResults = errors.New("No results returned.")

var ErrClosed = errors.New("supportchat: conversation closed")

// EventStore persists the raw event records of a conversation.
type EventStore interface {
	Save() error
	SavedEvents() []json.RawMessage
	AddEventJSON(raw json.RawMessage)
	ReplaceEvents(raws []json.RawMessage)
}

// Option configures a Conversation.
type Option func(*options)

type options struct {
	dialer   socket.Dialer
	sessions session.Store
	events   EventStore
	http     *HTTPClient
	logger   *slog.Logger
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d socket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithSessionStore replaces the session store selected by Config.
func WithSessionStore(s session.Store) Option {
	return func(o *options) { o.sessions = s }
}

// WithEventStore replaces the event file store selected by Config.
func WithEventStore(s EventStore) Option {
	return func(o *options) { o.events = s }
}

// WithHTTPClient replaces the client used for HTTP actions.
func WithHTTPClient(c *HTTPClient) Option {
	return func(o *options) { o.http = c }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

type callbacks struct {
	message    func(event.Event)
	update     func(event.Event)
	typing     func(bool)
	liveChat   func(bool, event.Event)
	connection func(bool)
}

// Conversation manages one support conversation. Callbacks run one at a time
// on the conversation's dispatch queue; they must not call Close.
type Conversation struct {
	cfg    Config
	logger *slog.Logger

	main       *dispatch.Queue
	background *dispatch.Queue

	ser  *socket.Serializer
	conn *socket.Connection
	http *HTTPClient

	sessions    session.Store
	ownSessions bool
	redis       *redis.Client
	events      EventStore

	preview  *rate.Limiter
	deviceID string
	eventSeq atomic.Int64
	closed   atomic.Bool

	mu     sync.RWMutex
	log    *event.Log
	live   bool
	typing bool

	// Confined to main.
	cb          callbacks
	typingGen   uint64
	typingTimer *time.Timer
}

// New creates a conversation. It restores the saved session and event log
// but does not connect; call EnterConversation.
func New(cfg Config, opts ...Option) (*Conversation, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	c := &Conversation{
		cfg:        cfg,
		logger:     o.logger.With("component", "conversation"),
		main:       dispatch.NewQueue("main"),
		background: dispatch.NewQueue("background"),
		http:       o.http,
		sessions:   o.sessions,
		events:     o.events,
		preview:    rate.NewLimiter(rate.Every(cfg.TypingPreviewInterval), 1),
		deviceID:   uuid.NewString(),
	}
	fail := func(err error) (*Conversation, error) {
		c.main.Close()
		c.background.Close()
		c.closeSessions()
		return nil, err
	}

	if c.sessions == nil {
		if err := c.openSessionStore(); err != nil {
			return fail(err)
		}
	}
	if c.events == nil && cfg.EventLogPath() != "" {
		fs, err := store.Open(cfg.EventLogPath(), o.logger)
		if err != nil && !errors.Is(err, store.ErrCorrupt) {
			return fail(err)
		}
		if err != nil {
			c.logger.Warn("starting from an empty event log", "error", err)
		}
		c.events = fs
	}
	if c.http == nil {
		c.http = NewHTTPClient(cfg.Header(), nil, o.logger)
	}

	var saved []event.Event
	if c.events != nil {
		var skipped int
		saved, skipped = event.ParseAll(c.events.SavedEvents())
		if skipped > 0 {
			c.logger.Warn("skipped unreadable saved events", "count", skipped)
		}
	}
	c.log = event.NewLog(saved...)
	c.live = c.log.LiveChat()

	c.ser = socket.NewSerializer(cfg.ClientType, cfg.ClientVersion, cfg.TargetCustomerToken, o.logger)
	auth := socket.NewAuthenticator(socket.Credentials{
		CompanyMarker:       cfg.CompanyMarker,
		IsCustomer:          cfg.IsCustomer(),
		UserToken:           cfg.UserToken,
		TargetCustomerToken: cfg.TargetCustomerToken,
		App:                 cfg.App,
		RegionCode:          cfg.RegionCode,
	}, c.ser, c.sessions, o.logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.main.Sync(func() {
		if err := auth.LoadSaved(ctx); err != nil {
			c.logger.Warn("saved session unavailable", "error", err)
		}
	})

	c.conn = socket.NewConnection(socket.Config{
		URL:        cfg.SocketURL(),
		Header:     cfg.Header(),
		RetryDelay: cfg.RetryDelay,
	}, o.dialer, c.ser, auth, c.main, o.logger)
	c.conn.SetEventHandler(c.handleEvent)
	c.conn.SetStatusHandler(c.handleStatus)

	return c, nil
}

func (c *Conversation) openSessionStore() error {
	opts := []session.StoreOption{
		session.WithTTL(c.cfg.SessionTTL),
		session.WithKey(c.cfg.CompanyMarker),
	}
	kind := session.StoreTypeMemory
	if c.cfg.RedisAddr != "" {
		c.redis = redis.NewClient(&redis.Options{Addr: c.cfg.RedisAddr})
		opts = append(opts, session.WithRedisClient(c.redis))
		kind = session.StoreTypeRedis
	}
	st, err := session.NewStore(kind, opts...)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	c.sessions = st
	c.ownSessions = true
	return nil
}

func (c *Conversation) closeSessions() {
	if c.ownSessions && c.sessions != nil {
		c.sessions.Close()
	}
	if c.redis != nil {
		c.redis.Close()
	}
}

// --------------------------------------------------------------------------
// Callbacks
// --------------------------------------------------------------------------

// OnMessage registers a callback for new chat messages. Automated messages
// are delivered after Config.AutomatedMessageDelay.
func (c *Conversation) OnMessage(fn func(event.Event)) {
	c.main.Async(func() { c.cb.message = chain1(c.cb.message, fn) })
}

// OnMessageUpdate registers a callback for updates to delivered messages.
func (c *Conversation) OnMessageUpdate(fn func(event.Event)) {
	c.main.Async(func() { c.cb.update = chain1(c.cb.update, fn) })
}

// OnTypingStatus registers a callback for changes of the other party's
// typing state.
func (c *Conversation) OnTypingStatus(fn func(isTyping bool)) {
	c.main.Async(func() { c.cb.typing = chain1(c.cb.typing, fn) })
}

// OnLiveChatStatus registers a callback for entering or leaving live chat.
func (c *Conversation) OnLiveChatStatus(fn func(isLive bool, e event.Event)) {
	c.main.Async(func() {
		prev := c.cb.liveChat
		c.cb.liveChat = func(live bool, e event.Event) {
			if prev != nil {
				prev(live, e)
			}
			fn(live, e)
		}
	})
}

// OnConnectionStatus registers a callback for connected/disconnected changes.
// Transport and auth failures both report false.
func (c *Conversation) OnConnectionStatus(fn func(connected bool)) {
	c.main.Async(func() { c.cb.connection = chain1(c.cb.connection, fn) })
}

func chain1[T any](existing, additional func(T)) func(T) {
	if existing == nil {
		return additional
	}
	return func(v T) {
		existing(v)
		additional(v)
	}
}

// --------------------------------------------------------------------------
// State
// --------------------------------------------------------------------------

// Events returns the durable event log in ascending sequence order.
func (c *Conversation) Events() []event.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.log.Events()
}

// LastEvent returns the newest durable event.
func (c *Conversation) LastEvent() (event.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.log.Last()
}

// IsLiveChat reports whether a human representative is in the conversation.
func (c *Conversation) IsLiveChat() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.live
}

// IsTyping reports whether the other party is typing.
func (c *Conversation) IsTyping() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.typing
}

// IsConnected reports whether the socket is open and authenticated. With
// retry set, a connection attempt is started when it is not.
func (c *Conversation) IsConnected(retry bool) bool {
	ok := c.conn.IsOpen() && c.conn.IsAuthenticated()
	if !ok && retry && !c.closed.Load() {
		c.conn.Connect()
	}
	return ok
}

// EnterConversation connects the socket.
func (c *Conversation) EnterConversation() {
	c.logger.Debug("entering conversation")
	c.conn.Connect()
}

// ExitConversation saves the event log and disconnects. Queued requests are
// kept for the next EnterConversation.
func (c *Conversation) ExitConversation() {
	c.logger.Debug("exiting conversation")
	c.saveEvents()
	c.conn.Disconnect()
}

// Close disconnects, stops all timers and queues, and saves the event log.
// It must not be called from a callback.
func (c *Conversation) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.conn.Close()
	c.main.Sync(c.stopTypingWatchdog)
	c.main.Close()
	c.background.Close()

	var err error
	if c.events != nil {
		if serr := c.events.Save(); serr != nil {
			err = fmt.Errorf("save events: %w", serr)
		}
	}
	c.closeSessions()
	return err
}

func (c *Conversation) saveEvents() {
	if c.events == nil {
		return
	}
	c.background.Async(func() {
		if err := c.events.Save(); err != nil {
			c.logger.Warn("save events", "error", err)
		}
	})
}

// --------------------------------------------------------------------------
// Incoming events (main queue)
// --------------------------------------------------------------------------

func (c *Conversation) handleStatus(connected bool) {
	c.logger.Debug("connection status", "connected", connected)
	if c.cb.connection != nil {
		c.cb.connection(connected)
	}
}

func (c *Conversation) handleEvent(m frame.Incoming) {
	e, err := event.Parse(json.RawMessage(m.Body))
	if err != nil {
		c.logger.Warn("dropping unreadable event", "error", err)
		return
	}
	c.ingest(e)
}

// ingest applies a streamed event. A durable event whose seq is already in
// the log replaces it and is reported as an update, not as a new message.
func (c *Conversation) ingest(e event.Event) {
	added := true
	if !e.IsEphemeral() {
		c.mu.Lock()
		added = c.log.Insert(e)
		var raws []json.RawMessage
		if !added {
			raws = rawEvents(c.log.Events())
		}
		c.mu.Unlock()

		if c.events != nil {
			if added {
				c.events.AddEventJSON(e.Raw)
			} else {
				c.events.ReplaceEvents(raws)
			}
			c.saveEvents()
		}
	}

	if live, ok := e.LiveChatStatus(); ok {
		c.mu.Lock()
		was := c.live
		c.live = live
		c.mu.Unlock()
		if was != live && c.cb.liveChat != nil {
			c.cb.liveChat(live, e)
		}
	}

	switch e.Ephemeral {
	case event.EphemeralTypingStatus, event.EphemeralTypingPreview:
		if isTyping, ok := e.TypingStatus(); ok {
			c.setTyping(isTyping)
		}
		return

	case event.EphemeralEventStatus:
		if _, ok := c.eventBySeq(e.ParentSeq); !ok {
			c.logger.Debug("status update for unknown event", "parent_seq", e.ParentSeq)
		}
		if c.cb.update != nil {
			c.cb.update(e)
		}
		return
	}

	if !e.IsMessage() {
		return
	}
	if !added {
		if c.cb.update != nil {
			c.cb.update(e)
		}
		return
	}
	if e.IsAutomated() && c.cfg.AutomatedMessageDelay > 0 {
		c.main.After(c.cfg.AutomatedMessageDelay, func() { c.deliver(e) })
		return
	}
	c.deliver(e)
}

func (c *Conversation) deliver(e event.Event) {
	if c.closed.Load() || c.cb.message == nil {
		return
	}
	c.cb.message(e)
}

func (c *Conversation) eventBySeq(seq int64) (event.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.log.Get(seq)
}

// setTyping records a typing event. A true status arms a watchdog that clears
// it after Config.TypingTimeout without another typing event.
func (c *Conversation) setTyping(isTyping bool) {
	c.stopTypingWatchdog()
	if isTyping {
		gen := c.typingGen
		c.typingTimer = c.main.After(c.cfg.TypingTimeout, func() {
			if gen != c.typingGen {
				return
			}
			c.typingTimer = nil
			c.logger.Debug("typing status timed out")
			c.changeTyping(false)
		})
	}
	c.changeTyping(isTyping)
}

func (c *Conversation) stopTypingWatchdog() {
	c.typingGen++
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
}

func (c *Conversation) changeTyping(isTyping bool) {
	c.mu.Lock()
	changed := c.typing != isTyping
	c.typing = isTyping
	c.mu.Unlock()
	if changed && c.cb.typing != nil {
		c.cb.typing(isTyping)
	}
}

// --------------------------------------------------------------------------
// Fetching events
// --------------------------------------------------------------------------

// GetEvents fetches the events after the given one (all events when after is
// nil) and reconciles them into the log. done is called on the dispatch queue
// with the fetched events, or with ErrNoResults.
func (c *Conversation) GetEvents(after *event.Event, done func([]event.Event, error)) {
	var afterSeq int64
	if after != nil {
		afterSeq = after.Seq
	}
	if done == nil {
		done = func([]event.Event, error) {}
	}
	if c.closed.Load() {
		done(nil, ErrClosed)
		return
	}

	c.conn.Send(wire.GetEvents{AfterSeq: afterSeq}, func(m frame.Incoming) {
		c.background.Async(func() {
			fetched, err := parseEvents(m)
			if err != nil {
				c.logger.Warn("get events", "after_seq", afterSeq, "error", err)
				c.main.Async(func() { done(nil, ErrNoResults) })
				return
			}
			c.main.Async(func() { c.applyFetched(fetched, afterSeq, done) })
		})
	})
}

func parseEvents(m frame.Incoming) ([]event.Event, error) {
	var resp wire.EventsResponse
	if err := m.Unmarshal(&resp); err != nil {
		return nil, err
	}
	list := resp.List()
	if len(list) == 0 {
		return nil, ErrNoResults
	}
	parsed, _ := event.ParseAll(list)
	fetched := parsed[:0]
	for _, e := range parsed {
		if !e.IsEphemeral() {
			fetched = append(fetched, e)
		}
	}
	if len(fetched) == 0 {
		return nil, ErrNoResults
	}
	return fetched, nil
}

func (c *Conversation) applyFetched(fetched []event.Event, afterSeq int64, done func([]event.Event, error)) {
	c.mu.Lock()
	c.log.Merge(fetched, afterSeq)
	c.live = c.log.LiveChat()
	raws := rawEvents(c.log.Events())
	c.mu.Unlock()

	if c.events != nil {
		c.events.ReplaceEvents(raws)
		c.saveEvents()
	}
	c.logger.Debug("fetched events", "count", len(fetched), "after_seq", afterSeq)
	done(fetched, nil)
}

func rawEvents(events []event.Event) []json.RawMessage {
	raws := make([]json.RawMessage, 0, len(events))
	for _, e := range events {
		if len(e.Raw) > 0 {
			raws = append(raws, e.Raw)
		}
	}
	return raws
}
