// Package frame implements the pipe-delimited text codec for the chat socket
// protocol. Every WebSocket text message is one frame.
//
// Outgoing (client to server):
//
//	<path>|<requestId>|<contextJSON>|<paramsJSON>
//
// Incoming (server to client):
//
//	Response|<requestId>|<bodyJSON>
//	Event|<bodyJSON>
//	ResponseError|<requestId?>|<body?>
//
// Bodies may themselves contain '|', so incoming frames are split on the
// leading separators only. A body of literal "null" carries no payload.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	Separator = "|"

	TagResponse      = "Response"
	TagEvent         = "Event"
	TagResponseError = "ResponseError"

	null = "null"
)

// Kind classifies an incoming frame.
type Kind uint8

const (
	KindResponse Kind = iota + 1
	KindEvent
	KindResponseError
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindEvent:
		return "event"
	case KindResponseError:
		return "response_error"
	default:
		return "unknown"
	}
}

var (
	ErrMalformed    = errors.New("frame: malformed frame")
	ErrUnknownType  = errors.New("frame: unknown frame type")
	ErrBadRequestID = errors.New("frame: request id is not an integer")
	ErrNoPayload    = errors.New("frame: no payload")
)

// Incoming is a decoded server frame. RequestID is set for responses and, when
// the server includes one, for response errors.
type Incoming struct {
	Kind         Kind
	RequestID    int64
	HasRequestID bool
	Body         string
	Raw          string
}

// HasPayload reports whether the frame carries a JSON body.
func (m Incoming) HasPayload() bool {
	b := strings.TrimSpace(m.Body)
	return b != "" && b != null
}

// Unmarshal decodes the body into v. It returns ErrNoPayload for empty or
// "null" bodies.
func (m Incoming) Unmarshal(v any) error {
	if !m.HasPayload() {
		return ErrNoPayload
	}
	if err := json.Unmarshal([]byte(m.Body), v); err != nil {
		return fmt.Errorf("%w: body: %v", ErrMalformed, err)
	}
	return nil
}

// Handler receives one decoded frame.
type Handler func(Incoming)

// Decode parses one incoming frame.
func Decode(raw string) (Incoming, error) {
	tag, rest, found := strings.Cut(raw, Separator)
	m := Incoming{Raw: raw}

	switch tag {
	case TagResponse:
		if !found {
			return Incoming{}, fmt.Errorf("%w: response without request id", ErrMalformed)
		}
		idTok, body, _ := strings.Cut(rest, Separator)
		id, err := strconv.ParseInt(idTok, 10, 64)
		if err != nil {
			return Incoming{}, fmt.Errorf("%w: %q", ErrBadRequestID, idTok)
		}
		m.Kind = KindResponse
		m.RequestID = id
		m.HasRequestID = true
		m.Body = body

	case TagEvent:
		if !found {
			return Incoming{}, fmt.Errorf("%w: event without body", ErrMalformed)
		}
		m.Kind = KindEvent
		m.Body = rest

	case TagResponseError:
		m.Kind = KindResponseError
		if found {
			idTok, body, _ := strings.Cut(rest, Separator)
			if id, err := strconv.ParseInt(idTok, 10, 64); err == nil {
				m.RequestID = id
				m.HasRequestID = true
				m.Body = body
			} else {
				m.Body = rest
			}
		}

	default:
		return Incoming{}, fmt.Errorf("%w: %q", ErrUnknownType, tag)
	}

	return m, nil
}

// Outgoing is a client request frame with its JSON sections already rendered.
type Outgoing struct {
	Path      string
	RequestID int64
	Context   json.RawMessage
	Params    json.RawMessage
}

// Encode renders an outgoing frame. Empty context or params are sent as "{}".
func Encode(path string, requestID int64, context, params json.RawMessage) string {
	var sb strings.Builder
	sb.Grow(len(path) + len(context) + len(params) + 24)
	sb.WriteString(path)
	sb.WriteString(Separator)
	sb.WriteString(strconv.FormatInt(requestID, 10))
	sb.WriteString(Separator)
	sb.Write(orEmpty(context))
	sb.WriteString(Separator)
	sb.Write(orEmpty(params))
	return sb.String()
}

// DecodeRequest parses an outgoing frame. The context section is read as one
// JSON value so that '|' inside JSON strings does not split the frame.
func DecodeRequest(raw string) (Outgoing, error) {
	path, rest, ok := strings.Cut(raw, Separator)
	if !ok || path == "" {
		return Outgoing{}, fmt.Errorf("%w: missing path", ErrMalformed)
	}
	idTok, rest, ok := strings.Cut(rest, Separator)
	if !ok {
		return Outgoing{}, fmt.Errorf("%w: missing request id", ErrMalformed)
	}
	id, err := strconv.ParseInt(idTok, 10, 64)
	if err != nil {
		return Outgoing{}, fmt.Errorf("%w: %q", ErrBadRequestID, idTok)
	}

	dec := json.NewDecoder(strings.NewReader(rest))
	var ctx json.RawMessage
	if err := dec.Decode(&ctx); err != nil {
		return Outgoing{}, fmt.Errorf("%w: context: %v", ErrMalformed, err)
	}
	off := int(dec.InputOffset())
	if off >= len(rest) || rest[off:off+1] != Separator {
		return Outgoing{}, fmt.Errorf("%w: missing params", ErrMalformed)
	}
	params := rest[off+1:]
	if !json.Valid([]byte(params)) {
		return Outgoing{}, fmt.Errorf("%w: params are not JSON", ErrMalformed)
	}

	return Outgoing{
		Path:      path,
		RequestID: id,
		Context:   ctx,
		Params:    json.RawMessage(params),
	}, nil
}

func orEmpty(b json.RawMessage) []byte {
	if len(bytes.TrimSpace(b)) == 0 {
		return []byte("{}")
	}
	return b
}
