// Package session holds the authenticated session produced by the socket
// auth flow and the stores that keep it across process restarts.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrInvalidConfig    = errors.New("session: invalid store configuration")
	ErrInvalidStoreType = errors.New("session: invalid store type")
)

// DefaultTTL is how long a saved session stays usable.
const DefaultTTL = 15 * time.Minute

// Session is the state returned by a successful authentication.
type Session struct {
	// Info is the server's SessionInfo object, kept verbatim so it can be
	// sent back on resume.
	Info      json.RawMessage `json:"info"`
	CompanyID int64           `json:"company_id"`
	// CallerID is the customer id for customers, the rep id otherwise.
	CallerID int64 `json:"caller_id"`
	// Owner is the user token the session was created for; empty for
	// anonymous accounts.
	Owner     string    `json:"owner,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Auth returns the SessionAuth object inside Info, or nil.
func (s *Session) Auth() json.RawMessage {
	if s == nil || len(s.Info) == 0 {
		return nil
	}
	var v struct {
		SessionAuth json.RawMessage `json:"SessionAuth"`
	}
	if err := json.Unmarshal(s.Info, &v); err != nil {
		return nil
	}
	if len(v.SessionAuth) == 0 || string(v.SessionAuth) == "null" {
		return nil
	}
	return v.SessionAuth
}

// BelongsTo reports whether the session was created for userToken.
func (s *Session) BelongsTo(userToken string) bool {
	return s != nil && s.Owner == userToken
}

// Store persists at most one session per configured key.
type Store interface {
	// Save replaces the stored session.
	Save(ctx context.Context, s *Session) error

	// Get returns the stored session, or nil if there is none or it expired.
	Get(ctx context.Context) (*Session, error)

	// Clear removes the stored session.
	Clear(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
