package wire

import "encoding/json"

// AuthResponse is the body of every successful auth/* response.
type AuthResponse struct {
	SessionInfo json.RawMessage `json:"SessionInfo"`
}

// SessionInfo is the subset of the session object the client reads. The full
// object is kept verbatim and sent back on session resume.
type SessionInfo struct {
	Company struct {
		CompanyID int64 `json:"CompanyId"`
	} `json:"Company"`
	Customer struct {
		CustomerID        int64  `json:"CustomerId"`
		PrimaryIdentifier string `json:"PrimaryIdentifier,omitempty"`
	} `json:"Customer"`
	Rep struct {
		RepID int64 `json:"RepId"`
	} `json:"Rep"`
	SessionAuth json.RawMessage `json:"SessionAuth,omitempty"`
}

type CustomerResponse struct {
	Customer struct {
		CustomerID int64 `json:"CustomerId"`
	} `json:"Customer"`
}

type IssueResponse struct {
	IssueID int64 `json:"IssueId"`
}

// EventsResponse is the body of customer/GetEvents. Older servers use Events.
type EventsResponse struct {
	EventList []json.RawMessage `json:"EventList"`
	Events    []json.RawMessage `json:"Events"`
}

// List returns whichever event array the server populated.
func (r EventsResponse) List() []json.RawMessage {
	if len(r.EventList) > 0 {
		return r.EventList
	}
	return r.Events
}
