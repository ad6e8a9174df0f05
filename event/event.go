// Package event models the server-pushed conversation records and the
// ordered, de-duplicated log built from them.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type is the server's EventType.
type Type int

const (
	TypeNone                Type = 0
	TypeTextMessage         Type = 1
	TypeNewRep              Type = 3
	TypeConversationEnd     Type = 4
	TypePictureMessage      Type = 5
	TypeCustomerFeedback    Type = 18
	TypeSRSResponse         Type = 22
	TypeSRSEcho             Type = 23
	TypeSRSAction           Type = 24
	TypeScheduleAppointment Type = 27
	TypeSwitchSRSToChat     Type = 28
)

// Ephemeral is the server's EphemeralType. Ephemeral events are status
// updates and never enter the durable log.
type Ephemeral int

const (
	EphemeralNone          Ephemeral = 0
	EphemeralTypingStatus  Ephemeral = 1
	EphemeralTypingPreview Ephemeral = 2
	EphemeralEventStatus   Ephemeral = 6
)

func (e Ephemeral) known() bool {
	switch e {
	case EphemeralNone, EphemeralTypingStatus, EphemeralTypingPreview, EphemeralEventStatus:
		return true
	}
	return false
}

// FlagCustomer marks an event authored by the customer.
const FlagCustomer = 1

var (
	ErrMissingField     = errors.New("event: missing required field")
	ErrUnknownEphemeral = errors.New("event: unknown ephemeral type")
)

// Event is one parsed conversation record.
type Event struct {
	Seq        int64
	ParentSeq  int64
	Type       Type
	Ephemeral  Ephemeral
	Time       time.Time
	IssueID    int64
	CompanyID  int64
	CustomerID int64
	RepID      int64
	Flags      int

	// Content is the decoded EventJSON object, nil when absent.
	Content json.RawMessage
	// Raw is the record as received, used for persistence.
	Raw json.RawMessage
}

type record struct {
	EventType           *int     `json:"EventType"`
	EphemeralType       *int     `json:"EphemeralType"`
	IssueID             *int64   `json:"IssueId"`
	CompanyID           *int64   `json:"CompanyId"`
	CustomerID          *int64   `json:"CustomerId"`
	RepID               *int64   `json:"RepId"`
	EventTime           *float64 `json:"EventTime"`
	EventFlags          *int     `json:"EventFlags"`
	CustomerEventLogSeq *int64   `json:"CustomerEventLogSeq"`
	CompanyEventLogSeq  *int64   `json:"CompanyEventLogSeq"`
	ParentEventLogSeq   *int64   `json:"ParentEventLogSeq"`
	EventJSON           string   `json:"EventJSON"`
}

// Parse decodes one server event record.
func Parse(raw json.RawMessage) (Event, error) {
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Event{}, fmt.Errorf("event: decode: %w", err)
	}
	if err := r.validate(); err != nil {
		return Event{}, err
	}

	e := Event{
		Seq:        max(*r.CustomerEventLogSeq, *r.CompanyEventLogSeq),
		Type:       Type(*r.EventType),
		Ephemeral:  Ephemeral(*r.EphemeralType),
		Time:       time.UnixMicro(int64(*r.EventTime)),
		IssueID:    *r.IssueID,
		CompanyID:  *r.CompanyID,
		CustomerID: *r.CustomerID,
		RepID:      *r.RepID,
		Flags:      *r.EventFlags,
		Raw:        append(json.RawMessage(nil), raw...),
	}
	if !e.Ephemeral.known() {
		return Event{}, fmt.Errorf("%w: %d", ErrUnknownEphemeral, e.Ephemeral)
	}

	content := r.EventJSON
	if e.Type == TypeSRSAction || (e.Ephemeral == EphemeralEventStatus && e.Type == TypeNone) {
		e.Type = TypeSRSResponse
	}
	if e.Type == TypeSRSEcho {
		var echo struct {
			Echo string `json:"Echo"`
		}
		if json.Unmarshal([]byte(content), &echo) == nil && echo.Echo != "" {
			content = echo.Echo
			e.Type = TypeSRSResponse
		}
	}
	if content != "" && json.Valid([]byte(content)) {
		e.Content = json.RawMessage(content)
		var parent struct {
			ParentEventLogSeq int64 `json:"ParentEventLogSeq"`
		}
		if json.Unmarshal(e.Content, &parent) == nil {
			e.ParentSeq = parent.ParentEventLogSeq
		}
	}
	if r.ParentEventLogSeq != nil {
		e.ParentSeq = *r.ParentEventLogSeq
	}
	return e, nil
}

func (r record) validate() error {
	missing := func(name string) error { return fmt.Errorf("%w: %s", ErrMissingField, name) }
	switch {
	case r.EventType == nil:
		return missing("EventType")
	case r.EphemeralType == nil:
		return missing("EphemeralType")
	case r.IssueID == nil:
		return missing("IssueId")
	case r.CompanyID == nil:
		return missing("CompanyId")
	case r.CustomerID == nil:
		return missing("CustomerId")
	case r.RepID == nil:
		return missing("RepId")
	case r.EventTime == nil:
		return missing("EventTime")
	case r.EventFlags == nil:
		return missing("EventFlags")
	case r.CustomerEventLogSeq == nil:
		return missing("CustomerEventLogSeq")
	case r.CompanyEventLogSeq == nil:
		return missing("CompanyEventLogSeq")
	}
	return nil
}

// ParseAll decodes a batch, skipping records that fail to parse. The number
// of skipped records is returned alongside.
func ParseAll(raws []json.RawMessage) ([]Event, int) {
	out := make([]Event, 0, len(raws))
	skipped := 0
	for _, raw := range raws {
		e, err := Parse(raw)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, e)
	}
	return out, skipped
}

// IsEphemeral reports whether the event is a status update.
func (e Event) IsEphemeral() bool { return e.Ephemeral != EphemeralNone }

// IsCustomerEvent reports whether the customer authored the event.
func (e Event) IsCustomerEvent() bool { return e.Flags == FlagCustomer }

// IsAutomated reports whether the event came from the automated response system.
func (e Event) IsAutomated() bool {
	switch e.Type {
	case TypeSRSResponse, TypeSRSEcho, TypeSRSAction:
		return true
	}
	return false
}

// IsMessage reports whether the event carries a chat message.
func (e Event) IsMessage() bool {
	switch e.Type {
	case TypeTextMessage, TypePictureMessage, TypeSRSResponse, TypeSRSEcho, TypeCustomerFeedback:
		return e.Content != nil
	}
	return false
}

// TypingStatus returns the typing flag of a typing-status event. A typing
// preview counts as typing while its text is non-empty.
func (e Event) TypingStatus() (isTyping, ok bool) {
	if e.Content == nil {
		return false, false
	}
	switch e.Ephemeral {
	case EphemeralTypingStatus:
		var v struct {
			IsTyping *bool `json:"IsTyping"`
		}
		if err := json.Unmarshal(e.Content, &v); err != nil || v.IsTyping == nil {
			return false, false
		}
		return *v.IsTyping, true
	case EphemeralTypingPreview:
		text, ok := e.PreviewText()
		return text != "", ok
	}
	return false, false
}

// PreviewText returns the draft text of a typing-preview event.
func (e Event) PreviewText() (string, bool) {
	if e.Ephemeral != EphemeralTypingPreview || e.Type != TypeNone || e.Content == nil {
		return "", false
	}
	var v struct {
		Text *string `json:"Text"`
	}
	if err := json.Unmarshal(e.Content, &v); err != nil || v.Text == nil {
		return "", false
	}
	return *v.Text, true
}

// Text returns the message text, if any.
func (e Event) Text() string {
	if e.Content == nil {
		return ""
	}
	var v struct {
		Text string `json:"Text"`
	}
	json.Unmarshal(e.Content, &v)
	return v.Text
}

// LiveChatStatus reports whether the event switches live chat on or off.
// ok is false for events that do not affect live chat.
func (e Event) LiveChatStatus() (live, ok bool) {
	switch e.Type {
	case TypeNewRep, TypeSwitchSRSToChat:
		return true, true
	case TypeConversationEnd:
		return false, true
	}
	return false, false
}
