// Package sockettest provides an in-memory transport for exercising the chat
// socket without a network.
package sockettest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NeboLoop/supportchat-go/frame"
	"github.com/NeboLoop/supportchat-go/socket"
)

// Wait is how long helpers wait for the client before failing the test.
var Wait = 2 * time.Second

var ErrWriteFailed = errors.New("sockettest: write failed")

// SessionBody returns an auth response body for the given ids.
func SessionBody(companyID, customerID int64) string {
	return fmt.Sprintf(`{"SessionInfo":{"Company":{"CompanyId":%d},"Customer":{"CustomerId":%d},"Rep":{"RepId":0},"SessionAuth":{"SessionSecret":"secret-%d"}}}`,
		companyID, customerID, customerID)
}

// Conn is the server end and the client end of one fake transport.
type Conn struct {
	in  chan string
	out chan string
	bin chan []byte

	done chan struct{}
	once sync.Once

	mu         sync.Mutex
	failWrites bool
}

// NewConn creates an open transport.
func NewConn() *Conn {
	return &Conn{
		in:   make(chan string, 256),
		out:  make(chan string, 256),
		bin:  make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

// ReadText implements socket.Conn.
func (c *Conn) ReadText() (string, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.done:
		return "", io.EOF
	}
}

// WriteText implements socket.Conn.
func (c *Conn) WriteText(msg string) error {
	c.mu.Lock()
	fail := c.failWrites
	c.mu.Unlock()
	if fail || c.Closed() {
		return ErrWriteFailed
	}
	c.out <- msg
	return nil
}

// WriteBinary implements socket.Conn.
func (c *Conn) WriteBinary(data []byte) error {
	if c.Closed() {
		return ErrWriteFailed
	}
	c.bin <- append([]byte(nil), data...)
	return nil
}

// Close implements socket.Conn.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Drop closes the transport from the server side.
func (c *Conn) Drop() { c.Close() }

// Closed reports whether either side closed the transport.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// FailWrites makes every later write fail.
func (c *Conn) FailWrites() {
	c.mu.Lock()
	c.failWrites = true
	c.mu.Unlock()
}

// Push delivers a raw frame to the client.
func (c *Conn) Push(raw string) {
	if !c.Closed() {
		c.in <- raw
	}
}

// Respond answers req with body.
func (c *Conn) Respond(req frame.Outgoing, body string) {
	c.Push(fmt.Sprintf("%s|%d|%s", frame.TagResponse, req.RequestID, body))
}

// RespondError answers req with a ResponseError frame.
func (c *Conn) RespondError(req frame.Outgoing, body string) {
	c.Push(fmt.Sprintf("%s|%d|%s", frame.TagResponseError, req.RequestID, body))
}

// Event pushes an Event frame.
func (c *Conn) Event(body string) {
	c.Push(frame.TagEvent + frame.Separator + body)
}

// Next waits for the next text frame written by the client.
func (c *Conn) Next(t testing.TB) frame.Outgoing {
	t.Helper()
	select {
	case raw := <-c.out:
		out, err := frame.DecodeRequest(raw)
		if err != nil {
			t.Fatalf("client wrote undecodable frame %q: %v", raw, err)
		}
		return out
	case <-time.After(Wait):
		t.Fatalf("timed out waiting for a client frame")
		return frame.Outgoing{}
	}
}

// NextBinary waits for the next binary frame written by the client.
func (c *Conn) NextBinary(t testing.TB) []byte {
	t.Helper()
	select {
	case b := <-c.bin:
		return b
	case <-time.After(Wait):
		t.Fatalf("timed out waiting for a binary frame")
		return nil
	}
}

// ExpectNone fails if the client writes a text frame within d.
func (c *Conn) ExpectNone(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case raw := <-c.out:
		t.Fatalf("unexpected client frame %q", raw)
	case <-time.After(d):
	}
}

// Authenticate answers the client's auth request with a session.
func (c *Conn) Authenticate(t testing.TB, companyID, customerID int64) frame.Outgoing {
	t.Helper()
	req := c.Next(t)
	if !strings.HasPrefix(req.Path, "auth/") {
		t.Fatalf("first frame: got %q, want an auth request", req.Path)
	}
	c.Respond(req, SessionBody(companyID, customerID))
	return req
}

type dialResult struct {
	conn *Conn
	err  error
}

// Dialer hands out prepared transports in order.
type Dialer struct {
	results chan dialResult

	mu     sync.Mutex
	dials  int
	url    string
	header http.Header
}

// NewDialer creates a dialer with no prepared transports.
func NewDialer() *Dialer {
	return &Dialer{results: make(chan dialResult, 32)}
}

// Accept prepares a transport for a later Dial and returns it.
func (d *Dialer) Accept() *Conn {
	c := NewConn()
	d.results <- dialResult{conn: c}
	return c
}

// Fail makes a later Dial return err.
func (d *Dialer) Fail(err error) {
	d.results <- dialResult{err: err}
}

// Dial implements socket.Dialer. It blocks until a result is prepared or
// ctx expires.
func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (socket.Conn, error) {
	d.mu.Lock()
	d.dials++
	d.url = url
	d.header = header
	d.mu.Unlock()

	select {
	case r := <-d.results:
		if r.err != nil {
			return nil, r.err
		}
		return r.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dials returns the number of Dial calls so far.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Header returns the handshake header of the last Dial.
func (d *Dialer) Header() http.Header {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.header
}

// URL returns the target of the last Dial.
func (d *Dialer) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}
