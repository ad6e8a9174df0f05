package socket

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NeboLoop/supportchat-go/frame"
	"github.com/NeboLoop/supportchat-go/session"
	"github.com/NeboLoop/supportchat-go/wire"
)

// Request is one outgoing request. Its frame is rendered at transmit time so
// that queued requests pick up the session established after they were made.
type Request struct {
	ID      int64
	Kind    wire.Request
	Handler frame.Handler

	createdAt time.Time
	sentAt    time.Time
	auth      bool
}

// Path returns the request's endpoint.
func (r *Request) Path() string { return r.Kind.Path() }

// Serializer assigns request ids and renders frames. It holds the session
// state that every request carries. A Serializer is confined to the
// connection's dispatch queue.
type Serializer struct {
	clientType    string
	clientVersion string
	targetToken   string

	lastID    int64
	session   *session.Session
	companyID int64
	callerID  int64
	issueID   int64

	logger *slog.Logger
}

// NewSerializer creates a serializer. targetCustomerToken selects issue-scoped
// context for non-customer endpoints.
func NewSerializer(clientType, clientVersion, targetCustomerToken string, logger *slog.Logger) *Serializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Serializer{
		clientType:    clientType,
		clientVersion: clientVersion,
		targetToken:   targetCustomerToken,
		logger:        logger.With("component", "serializer"),
	}
}

// CreateRequest assigns the next request id. Ids start at 1.
func (s *Serializer) CreateRequest(kind wire.Request, h frame.Handler) *Request {
	s.lastID++
	return &Request{
		ID:        s.lastID,
		Kind:      kind,
		Handler:   h,
		createdAt: time.Now(),
	}
}

// SetSession stores an authenticated session and the ids it carries.
func (s *Serializer) SetSession(sess *session.Session) {
	s.session = sess
	if sess != nil {
		s.companyID = sess.CompanyID
		s.callerID = sess.CallerID
	}
}

func (s *Serializer) Session() *session.Session { return s.session }
func (s *Serializer) CompanyID() int64          { return s.companyID }
func (s *Serializer) CallerID() int64           { return s.callerID }
func (s *Serializer) IssueID() int64            { return s.issueID }
func (s *Serializer) SetIssueID(id int64)       { s.issueID = id }

// Context returns the routing context for path.
func (s *Serializer) Context(path string) map[string]any {
	if !strings.HasPrefix(path, wire.CustomerPrefix) && s.targetToken != "" {
		return map[string]any{"IssueId": s.issueID}
	}
	return map[string]any{"CompanyId": s.companyID}
}

// Render produces the wire frame for r.
func (s *Serializer) Render(r *Request) string {
	path := r.Kind.Path()

	var ctx map[string]any
	if o, ok := r.Kind.(wire.ContextOverride); ok {
		ctx = o.RequestContext()
	} else {
		ctx = s.Context(path)
	}

	return frame.Encode(path, r.ID, s.marshalObject(path, "context", ctx), s.params(r.Kind))
}

// params renders the request fields plus the envelope every request carries.
// Fields set by the request take precedence over the envelope.
func (s *Serializer) params(kind wire.Request) json.RawMessage {
	raw, err := json.Marshal(kind)
	if err != nil {
		s.logger.Error("serialize params", "path", kind.Path(), "error", err)
		return json.RawMessage("{}")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		s.logger.Error("params are not a JSON object", "path", kind.Path(), "error", err)
		return json.RawMessage("{}")
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}

	setDefault(fields, "RequestId", uuid.NewString())
	setDefault(fields, "ClientType", s.clientType)
	setDefault(fields, "ClientVersion", s.clientVersion)
	if auth := s.session.Auth(); auth != nil {
		if _, ok := fields["SessionAuth"]; !ok {
			fields["SessionAuth"] = auth
		}
	}

	return s.marshalObject(kind.Path(), "params", fields)
}

func (s *Serializer) marshalObject(path, section string, v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("serialize "+section, "path", path, "error", err)
		return json.RawMessage("{}")
	}
	return b
}

// RequestParams returns fields plus the request envelope for transports other
// than the socket. When contextKey is non-empty the company context is
// attached under it.
func (s *Serializer) RequestParams(fields map[string]any, contextKey string) map[string]any {
	out := make(map[string]any, len(fields)+5)
	for k, v := range fields {
		out[k] = v
	}
	for k, v := range map[string]string{
		"RequestId":     uuid.NewString(),
		"ClientType":    s.clientType,
		"ClientVersion": s.clientVersion,
	} {
		if _, ok := out[k]; !ok && v != "" {
			out[k] = v
		}
	}
	if auth := s.session.Auth(); auth != nil {
		if _, ok := out["SessionAuth"]; !ok {
			out["SessionAuth"] = auth
		}
	}
	if contextKey != "" {
		out[contextKey] = s.Context(wire.CustomerPrefix)
	}
	return out
}

func setDefault(fields map[string]json.RawMessage, key, value string) {
	if _, ok := fields[key]; ok || value == "" {
		return
	}
	b, _ := json.Marshal(value)
	fields[key] = b
}
