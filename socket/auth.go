package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/NeboLoop/supportchat-go/frame"
	"github.com/NeboLoop/supportchat-go/metrics"
	"github.com/NeboLoop/supportchat-go/session"
	"github.com/NeboLoop/supportchat-go/wire"
)

// Credentials identify the client against the backend.
type Credentials struct {
	CompanyMarker string
	IsCustomer    bool
	// UserToken is the long-lived user token; empty for anonymous use.
	UserToken string
	// TargetCustomerToken is the CRM id of the customer a non-customer
	// caller acts for.
	TargetCustomerToken string
	App                 string
	RegionCode          string
}

// Auth methods, used as metric and log labels.
const (
	MethodSession         = "session"
	MethodCustomerToken   = "customer_token"
	MethodSalesForceToken = "salesforce_token"
	MethodAnonymous       = "anonymous"
)

var (
	ErrNoSession = errors.New("socket: auth response has no session")
	ErrRejected  = errors.New("socket: auth request rejected")
)

const storeTimeout = 2 * time.Second

// SelectAuth picks the auth request for the current state: a cached session
// first, then the user token, then a new anonymous account.
func SelectAuth(creds Credentials, sess *session.Session) (wire.Request, string) {
	switch {
	case sess != nil && len(sess.Info) > 0:
		return wire.AuthenticateWithSession{
			SessionInfo:   sess.Info,
			App:           creds.App,
			CompanyMarker: creds.CompanyMarker,
			RegionCode:    creds.RegionCode,
		}, MethodSession

	case creds.UserToken != "" && creds.IsCustomer:
		return wire.AuthenticateWithCustomerToken{
			CompanyMarker: creds.CompanyMarker,
			Identifiers:   creds.UserToken,
			App:           creds.App,
		}, MethodCustomerToken

	case creds.UserToken != "":
		return wire.AuthenticateWithSalesForceToken{
			Company:          creds.CompanyMarker,
			AuthCallbackData: creds.UserToken,
			App:              creds.App,
		}, MethodSalesForceToken

	default:
		return wire.CreateAnonCustomerAccount{
			CompanyMarker: creds.CompanyMarker,
			RegionCode:    creds.RegionCode,
		}, MethodAnonymous
	}
}

// sendFunc transmits a request on the open connection, bypassing the queue.
type sendFunc func(kind wire.Request, h frame.Handler)

// Authenticator runs the auth flow once per connection open. It is confined
// to the connection's dispatch queue.
type Authenticator struct {
	creds  Credentials
	ser    *Serializer
	store  session.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewAuthenticator creates the auth flow. store may be nil.
func NewAuthenticator(creds Credentials, ser *Serializer, store session.Store, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		creds:  creds,
		ser:    ser,
		store:  store,
		logger: logger.With("component", "auth"),
		now:    time.Now,
	}
}

// LoadSaved restores a stored session into the serializer. A session that
// belongs to a different user is cleared.
func (a *Authenticator) LoadSaved(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	sess, err := a.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("load saved session: %w", err)
	}
	if sess == nil {
		return nil
	}
	if !sess.BelongsTo(a.creds.UserToken) {
		a.logger.Info("clearing saved session for another user")
		if err := a.store.Clear(ctx); err != nil {
			return fmt.Errorf("clear saved session: %w", err)
		}
		return nil
	}
	a.ser.SetSession(sess)
	a.logger.Debug("restored saved session", "company_id", sess.CompanyID, "caller_id", sess.CallerID)
	return nil
}

// Run sends the auth request and calls done with the outcome. When the
// server refuses a cached session, the session is cleared and Run falls back
// once to token or anonymous auth. Other failures leave the session state as
// it was.
func (a *Authenticator) Run(send sendFunc, done func(ok bool)) {
	a.run(send, done, true)
}

func (a *Authenticator) run(send sendFunc, done func(ok bool), fallback bool) {
	req, method := SelectAuth(a.creds, a.ser.Session())
	a.logger.Debug("authenticating", "method", method)

	send(req, func(m frame.Incoming) {
		sess, err := a.parseSession(m)
		if err != nil {
			metrics.AuthResults.WithLabelValues(method, "error").Inc()
			a.logger.Error("authentication failed", "method", method, "error", err)
			if method == MethodSession && fallback {
				a.forget()
				a.run(send, done, false)
				return
			}
			done(false)
			return
		}
		metrics.AuthResults.WithLabelValues(method, "ok").Inc()

		a.ser.SetSession(sess)
		a.save(sess)
		a.logger.Info("authenticated", "method", method, "company_id", sess.CompanyID, "caller_id", sess.CallerID)

		if !a.creds.IsCustomer && a.creds.TargetCustomerToken != "" {
			a.joinTargetCustomer(send, done)
			return
		}
		done(true)
	})
}

func (a *Authenticator) parseSession(m frame.Incoming) (*session.Session, error) {
	if m.Kind != frame.KindResponse {
		return nil, fmt.Errorf("%w: %s", ErrRejected, m.Body)
	}
	var resp wire.AuthResponse
	if err := m.Unmarshal(&resp); err != nil {
		return nil, err
	}
	if len(resp.SessionInfo) == 0 || string(resp.SessionInfo) == "null" {
		return nil, ErrNoSession
	}
	var info wire.SessionInfo
	if err := json.Unmarshal(resp.SessionInfo, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}

	caller := info.Customer.CustomerID
	if !a.creds.IsCustomer {
		caller = info.Rep.RepID
	}
	return &session.Session{
		Info:      resp.SessionInfo,
		CompanyID: info.Company.CompanyID,
		CallerID:  caller,
		Owner:     a.creds.UserToken,
		CreatedAt: a.now(),
	}, nil
}

// forget drops a session the server refused, in memory and in the store.
func (a *Authenticator) forget() {
	a.ser.SetSession(nil)
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := a.store.Clear(ctx); err != nil {
		a.logger.Warn("clear session", "error", err)
	}
}

func (a *Authenticator) save(sess *session.Session) {
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := a.store.Save(ctx, sess); err != nil {
		a.logger.Warn("save session", "error", err)
	}
}

// joinTargetCustomer resolves the target customer and joins their issue.
func (a *Authenticator) joinTargetCustomer(send sendFunc, done func(ok bool)) {
	send(wire.GetCustomerByCRMCustomerID{CRMCustomerID: a.creds.TargetCustomerToken}, func(m frame.Incoming) {
		var cust wire.CustomerResponse
		if err := m.Unmarshal(&cust); err != nil || m.Kind != frame.KindResponse || cust.Customer.CustomerID == 0 {
			a.logger.Error("get customer by CRM id failed", "error", err, "body", m.Body)
			done(false)
			return
		}

		send(wire.ParticipateInIssueForCustomer{CustomerID: cust.Customer.CustomerID}, func(m frame.Incoming) {
			var issue wire.IssueResponse
			if err := m.Unmarshal(&issue); err != nil || m.Kind != frame.KindResponse || issue.IssueID == 0 {
				a.logger.Error("participate in issue failed", "error", err, "body", m.Body)
				done(false)
				return
			}
			a.ser.SetIssueID(issue.IssueID)
			a.logger.Info("joined customer issue", "customer_id", cust.Customer.CustomerID, "issue_id", issue.IssueID)
			done(true)
		})
	})
}
