// Package wire defines the request kinds and JSON payload types of the chat
// socket protocol. Each request kind is a struct whose JSON encoding is the
// params section of the outgoing frame and whose Path names the endpoint.
package wire

import "encoding/json"

// Endpoint paths.
const (
	PathAuthenticateWithSession           = "auth/AuthenticateWithSession"
	PathAuthenticateWithCustomerToken     = "auth/AuthenticateWithCustomerToken"
	PathAuthenticateWithSalesForceToken   = "auth/AuthenticateWithSalesForceToken"
	PathCreateAnonCustomerAccount         = "auth/CreateAnonCustomerAccount"
	PathGetCustomerByCRMCustomerID        = "rep/GetCustomerByCRMCustomerId"
	PathParticipateInIssueForCustomer     = "rep/ParticipateInIssueForCustomer"
	PathSendTextMessage                   = "customer/SendTextMessage"
	PathSendPictureMessage                = "customer/SendPictureMessage"
	PathNotifyTypingPreview               = "customer/NotifyTypingPreview"
	PathNotifyTypingStatus                = "rep/NotifyTypingStatus"
	PathGetEvents                         = "customer/GetEvents"
	PathEndConversation                   = "customer/EndConversation"
	PathEnterChat                         = "customer/enterChat"
	PathAppOpen                           = "srs/AppOpen"
	PathPutMAEvent                        = "srs/PutMAEvent"
	PathSendTextMessageAndHierAndTreewalk = "srs/SendTextMessageAndHierAndTreewalk"
	PathCreateLinkButtonTapEvent          = "srs/CreateLinkButtonTapEvent"
	PathGetComponentView                  = "srs/GetComponentView"

	// CustomerPrefix marks endpoints whose context is the company.
	CustomerPrefix = "customer/"
)

// Request is one outgoing request kind.
type Request interface {
	Path() string
}

// ContextOverride is implemented by requests that carry their own context
// instead of the one computed from session state.
type ContextOverride interface {
	Request
	RequestContext() map[string]any
}

// BinaryPayload is implemented by requests followed by a binary data frame.
type BinaryPayload interface {
	Request
	BinaryData() []byte
}

// Raw is a request built from an arbitrary path and field set, used for
// server-described actions whose shape is only known at runtime.
type Raw struct {
	Endpoint string
	Fields   map[string]any
}

func (r Raw) Path() string { return r.Endpoint }

func (r Raw) MarshalJSON() ([]byte, error) {
	if r.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.Fields)
}

// --------------------------------------------------------------------------
// Authentication
// --------------------------------------------------------------------------

type AuthenticateWithSession struct {
	SessionInfo   json.RawMessage `json:"SessionInfo"`
	App           string          `json:"App"`
	CompanyMarker string          `json:"CompanyMarker,omitempty"`
	RegionCode    string          `json:"RegionCode,omitempty"`
}

func (AuthenticateWithSession) Path() string { return PathAuthenticateWithSession }

type AuthenticateWithCustomerToken struct {
	CompanyMarker string `json:"CompanyMarker"`
	Identifiers   string `json:"Identifiers"`
	App           string `json:"App"`
}

func (AuthenticateWithCustomerToken) Path() string { return PathAuthenticateWithCustomerToken }

type AuthenticateWithSalesForceToken struct {
	Company                        string `json:"Company"`
	AuthCallbackData               string `json:"AuthCallbackData"`
	GhostEmailAddress              string `json:"GhostEmailAddress"`
	CountConnectionForIssueTimeout bool   `json:"CountConnectionForIssueTimeout"`
	App                            string `json:"App"`
}

func (AuthenticateWithSalesForceToken) Path() string { return PathAuthenticateWithSalesForceToken }

type CreateAnonCustomerAccount struct {
	CompanyMarker string `json:"CompanyMarker"`
	RegionCode    string `json:"RegionCode"`
}

func (CreateAnonCustomerAccount) Path() string { return PathCreateAnonCustomerAccount }

type GetCustomerByCRMCustomerID struct {
	CRMCustomerID string `json:"CRMCustomerId"`
}

func (GetCustomerByCRMCustomerID) Path() string { return PathGetCustomerByCRMCustomerID }

// ParticipateInIssueForCustomer joins the customer's issue. Its context names
// the customer rather than the company.
type ParticipateInIssueForCustomer struct {
	CustomerID int64 `json:"-"`
}

func (ParticipateInIssueForCustomer) Path() string { return PathParticipateInIssueForCustomer }

func (r ParticipateInIssueForCustomer) RequestContext() map[string]any {
	return map[string]any{"CustomerId": r.CustomerID}
}

// --------------------------------------------------------------------------
// Messaging
// --------------------------------------------------------------------------

type SendTextMessage struct {
	Text string `json:"Text"`
}

func (SendTextMessage) Path() string { return PathSendTextMessage }

// SendPictureMessage announces an image; the bytes follow as a binary frame.
type SendPictureMessage struct {
	MimeType  string `json:"MimeType"`
	FileSize  int    `json:"FileSize"`
	PicWidth  int    `json:"PicWidth"`
	PicHeight int    `json:"PicHeight"`

	Data []byte `json:"-"`
}

func (SendPictureMessage) Path() string { return PathSendPictureMessage }

func (r SendPictureMessage) BinaryData() []byte { return r.Data }

type NotifyTypingPreview struct {
	Text string `json:"Text"`
}

func (NotifyTypingPreview) Path() string { return PathNotifyTypingPreview }

type NotifyTypingStatus struct {
	IsTyping bool `json:"IsTyping"`
}

func (NotifyTypingStatus) Path() string { return PathNotifyTypingStatus }

type GetEvents struct {
	AfterSeq int64 `json:"AfterSeq"`
}

func (GetEvents) Path() string { return PathGetEvents }

type EndConversation struct{}

func (EndConversation) Path() string { return PathEndConversation }

type EnterChat struct{}

func (EnterChat) Path() string { return PathEnterChat }

// --------------------------------------------------------------------------
// Automated responses
// --------------------------------------------------------------------------

type AppOpen struct{}

func (AppOpen) Path() string { return PathAppOpen }

// Treewalk selects a button or submits a query against the response tree.
type Treewalk struct {
	Text              string `json:"Text"`
	Classification    string `json:"Classification,omitempty"`
	SearchQuery       string `json:"SearchQuery,omitempty"`
	ParentEventLogSeq *int64 `json:"ParentEventLogSeq,omitempty"`
	Data              string `json:"Data,omitempty"`
}

func (Treewalk) Path() string { return PathSendTextMessageAndHierAndTreewalk }

type CreateLinkButtonTapEvent struct {
	Title string `json:"Title"`
	Link  string `json:"Link"`
	Data  string `json:"Data,omitempty"`
}

func (CreateLinkButtonTapEvent) Path() string { return PathCreateLinkButtonTapEvent }

type GetComponentView struct {
	ComponentView string `json:"ComponentView"`
	Data          string `json:"Data,omitempty"`
}

func (GetComponentView) Path() string { return PathGetComponentView }

type PutMAEvent struct {
	EventType  string             `json:"EventType"`
	Attributes map[string]string  `json:"Attributes"`
	Metrics    map[string]float64 `json:"Metrics,omitempty"`
}

func (PutMAEvent) Path() string { return PathPutMAEvent }
