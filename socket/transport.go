package socket

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn is an open message transport.
type Conn interface {
	// ReadText blocks until the next text message arrives.
	ReadText() (string, error)
	WriteText(msg string) error
	WriteBinary(data []byte) error
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WSDialer dials WebSocket servers.
type WSDialer struct {
	// Timeout bounds the TCP connect and upgrade handshake.
	Timeout time.Duration
}

// Dial implements Dialer.
func (d WSDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := ws.Dialer{
		Header:  ws.HandshakeHeaderHTTP(header),
		Timeout: d.Timeout,
	}
	nc, br, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &wsConn{conn: nc}
	var r io.Reader = nc
	if br != nil {
		// The server may have sent frames together with the handshake reply.
		r = br
	}
	c.rw = struct {
		io.Reader
		io.Writer
	}{r, &lockedWriter{mu: &c.mu, w: nc}}
	return c, nil
}

// wsConn serializes writes so control-frame replies from the reader do not
// interleave with application frames. rw pairs the reader with a writer
// that takes mu for each control reply.
type wsConn struct {
	conn net.Conn
	mu   sync.Mutex
	rw   io.ReadWriter
}

func (c *wsConn) ReadText() (string, error) {
	for {
		data, op, err := wsutil.ReadServerData(c.rw)
		if err != nil {
			return "", err
		}
		if op == ws.OpText {
			return string(data), nil
		}
	}
}

func (c *wsConn) WriteText(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsutil.WriteClientText(c.conn, []byte(msg))
}

func (c *wsConn) WriteBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsutil.WriteClientBinary(c.conn, data)
}

func (c *wsConn) Close() error { return c.conn.Close() }

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
