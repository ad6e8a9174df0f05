package socket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NeboLoop/supportchat-go/frame"
	"github.com/NeboLoop/supportchat-go/session"
	"github.com/NeboLoop/supportchat-go/wire"
)

func TestSelectAuth(t *testing.T) {
	saved := &session.Session{Info: json.RawMessage(`{"Company":{"CompanyId":1}}`)}

	tests := []struct {
		name       string
		creds      Credentials
		sess       *session.Session
		wantPath   string
		wantMethod string
	}{
		{"saved session wins", Credentials{UserToken: "tok", IsCustomer: true}, saved, wire.PathAuthenticateWithSession, MethodSession},
		{"customer token", Credentials{UserToken: "tok", IsCustomer: true}, nil, wire.PathAuthenticateWithCustomerToken, MethodCustomerToken},
		{"rep token", Credentials{UserToken: "tok"}, nil, wire.PathAuthenticateWithSalesForceToken, MethodSalesForceToken},
		{"anonymous", Credentials{IsCustomer: true}, nil, wire.PathCreateAnonCustomerAccount, MethodAnonymous},
		{"empty session info", Credentials{IsCustomer: true}, &session.Session{}, wire.PathCreateAnonCustomerAccount, MethodAnonymous},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, method := SelectAuth(tc.creds, tc.sess)
			if req.Path() != tc.wantPath {
				t.Errorf("path: got %q, want %q", req.Path(), tc.wantPath)
			}
			if method != tc.wantMethod {
				t.Errorf("method: got %q, want %q", method, tc.wantMethod)
			}
		})
	}
}

type sent struct {
	kind wire.Request
	h    frame.Handler
}

type recorder struct{ reqs []sent }

func (r *recorder) send(kind wire.Request, h frame.Handler) {
	r.reqs = append(r.reqs, sent{kind, h})
}

func (r *recorder) reply(t *testing.T, i int, body string) {
	t.Helper()
	if i >= len(r.reqs) {
		t.Fatalf("request %d was never sent (%d sent)", i, len(r.reqs))
	}
	r.reqs[i].h(frame.Incoming{Kind: frame.KindResponse, HasRequestID: true, Body: body})
}

const sessionBody = `{"SessionInfo":{"Company":{"CompanyId":10},"Customer":{"CustomerId":20},"Rep":{"RepId":30},"SessionAuth":{"SessionSecret":"s"}}}`

func newTestStore(t *testing.T) session.Store {
	t.Helper()
	st, err := session.NewStore(session.StoreTypeMemory)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestAuthSuccessSavesSession(t *testing.T) {
	ser := NewSerializer("consumer-go-sdk", "1.0.0", "", nil)
	store := newTestStore(t)
	a := NewAuthenticator(Credentials{CompanyMarker: "acme", IsCustomer: true, UserToken: "tok"}, ser, store, nil)

	var rec recorder
	var result []bool
	a.Run(rec.send, func(ok bool) { result = append(result, ok) })
	if got := rec.reqs[0].kind.Path(); got != wire.PathAuthenticateWithCustomerToken {
		t.Fatalf("auth path: got %q", got)
	}
	rec.reply(t, 0, sessionBody)

	if diff := cmp.Diff([]bool{true}, result); diff != "" {
		t.Fatalf("done mismatch (-want +got):\n%s", diff)
	}
	if ser.CompanyID() != 10 || ser.CallerID() != 20 {
		t.Errorf("ids: got company %d caller %d, want 10 and 20", ser.CompanyID(), ser.CallerID())
	}

	saved, err := store.Get(context.Background())
	if err != nil || saved == nil {
		t.Fatalf("store.Get: %v, %v", saved, err)
	}
	if saved.Owner != "tok" || saved.CompanyID != 10 {
		t.Errorf("saved session: %+v", saved)
	}
}

func TestAuthRepUsesRepID(t *testing.T) {
	ser := NewSerializer("consumer-go-sdk", "1.0.0", "", nil)
	a := NewAuthenticator(Credentials{UserToken: "tok"}, ser, nil, nil)

	var rec recorder
	a.Run(rec.send, func(bool) {})
	rec.reply(t, 0, sessionBody)
	if ser.CallerID() != 30 {
		t.Errorf("caller id: got %d, want rep id 30", ser.CallerID())
	}
}

func TestAuthFailureWithoutSession(t *testing.T) {
	for _, body := range []string{`{}`, `{"SessionInfo":null}`, `not json`, `{"SessionInfo":"x"}`} {
		t.Run(body, func(t *testing.T) {
			ser := NewSerializer("consumer-go-sdk", "1.0.0", "", nil)
			a := NewAuthenticator(Credentials{IsCustomer: true, UserToken: "tok"}, ser, nil, nil)

			var rec recorder
			var result []bool
			a.Run(rec.send, func(ok bool) { result = append(result, ok) })
			rec.reply(t, 0, body)

			if diff := cmp.Diff([]bool{false}, result); diff != "" {
				t.Errorf("done mismatch (-want +got):\n%s", diff)
			}
			if len(rec.reqs) != 1 {
				t.Errorf("sent %d requests, want 1", len(rec.reqs))
			}
			if ser.Session() != nil {
				t.Errorf("session set on failure")
			}
		})
	}
}

func TestAuthRejectedSessionFallsBackOnce(t *testing.T) {
	ctx := context.Background()
	prev := &session.Session{Info: json.RawMessage(`{"Company":{"CompanyId":1}}`), CompanyID: 1, CallerID: 2, Owner: "tok"}
	store := newTestStore(t)
	store.Save(ctx, prev)

	ser := NewSerializer("consumer-go-sdk", "1.0.0", "", nil)
	ser.SetSession(prev)
	a := NewAuthenticator(Credentials{IsCustomer: true, UserToken: "tok"}, ser, store, nil)

	var rec recorder
	var result []bool
	a.Run(rec.send, func(ok bool) { result = append(result, ok) })
	if got := rec.reqs[0].kind.Path(); got != wire.PathAuthenticateWithSession {
		t.Fatalf("first auth path: got %q", got)
	}
	rec.reply(t, 0, `{}`)

	if len(rec.reqs) != 2 {
		t.Fatalf("sent %d requests, want a fallback request", len(rec.reqs))
	}
	if got := rec.reqs[1].kind.Path(); got != wire.PathAuthenticateWithCustomerToken {
		t.Errorf("fallback auth path: got %q", got)
	}
	if ser.Session() != nil {
		t.Errorf("refused session kept in the serializer")
	}
	if got, _ := store.Get(ctx); got != nil {
		t.Errorf("refused session kept in the store")
	}
	if len(result) != 0 {
		t.Fatalf("done called before the fallback answered")
	}

	rec.reply(t, 1, `{}`)
	if diff := cmp.Diff([]bool{false}, result); diff != "" {
		t.Errorf("done mismatch (-want +got):\n%s", diff)
	}
	if len(rec.reqs) != 2 {
		t.Errorf("sent %d requests, want no second fallback", len(rec.reqs))
	}
}

func TestAuthFallbackCreatesSession(t *testing.T) {
	prev := &session.Session{Info: json.RawMessage(`{"Company":{"CompanyId":1}}`), CompanyID: 1, CallerID: 2}
	ser := NewSerializer("consumer-go-sdk", "1.0.0", "", nil)
	ser.SetSession(prev)
	a := NewAuthenticator(Credentials{IsCustomer: true}, ser, nil, nil)

	var rec recorder
	var result []bool
	a.Run(rec.send, func(ok bool) { result = append(result, ok) })
	rec.reply(t, 0, `{"SessionInfo":null}`)
	if got := rec.reqs[1].kind.Path(); got != wire.PathCreateAnonCustomerAccount {
		t.Fatalf("fallback auth path: got %q", got)
	}
	rec.reply(t, 1, sessionBody)

	if diff := cmp.Diff([]bool{true}, result); diff != "" {
		t.Errorf("done mismatch (-want +got):\n%s", diff)
	}
	if ser.CompanyID() != 10 || ser.CallerID() != 20 {
		t.Errorf("ids: got company %d caller %d, want 10 and 20", ser.CompanyID(), ser.CallerID())
	}
}

func TestAuthResponseErrorFails(t *testing.T) {
	ser := NewSerializer("consumer-go-sdk", "1.0.0", "", nil)
	a := NewAuthenticator(Credentials{IsCustomer: true}, ser, nil, nil)

	var rec recorder
	var result []bool
	a.Run(rec.send, func(ok bool) { result = append(result, ok) })
	rec.reqs[0].h(frame.Incoming{Kind: frame.KindResponseError, HasRequestID: true, Body: sessionBody})

	if diff := cmp.Diff([]bool{false}, result); diff != "" {
		t.Errorf("done mismatch (-want +got):\n%s", diff)
	}
	if ser.Session() != nil {
		t.Errorf("session taken from an error frame")
	}
}

func TestAuthJoinsTargetCustomer(t *testing.T) {
	ser := NewSerializer("agent-go-sdk", "1.0.0", "crm-42", nil)
	a := NewAuthenticator(Credentials{UserToken: "tok", TargetCustomerToken: "crm-42"}, ser, nil, nil)

	var rec recorder
	var result []bool
	a.Run(rec.send, func(ok bool) { result = append(result, ok) })
	rec.reply(t, 0, sessionBody)

	if len(rec.reqs) != 2 {
		t.Fatalf("sent %d requests, want 2", len(rec.reqs))
	}
	lookup, ok := rec.reqs[1].kind.(wire.GetCustomerByCRMCustomerID)
	if !ok || lookup.CRMCustomerID != "crm-42" {
		t.Fatalf("second request: %#v", rec.reqs[1].kind)
	}
	rec.reply(t, 1, `{"Customer":{"CustomerId":555}}`)

	join, ok := rec.reqs[2].kind.(wire.ParticipateInIssueForCustomer)
	if !ok || join.CustomerID != 555 {
		t.Fatalf("third request: %#v", rec.reqs[2].kind)
	}
	if len(result) != 0 {
		t.Fatalf("done called before the issue was joined")
	}
	rec.reply(t, 2, `{"IssueId":900}`)

	if diff := cmp.Diff([]bool{true}, result); diff != "" {
		t.Errorf("done mismatch (-want +got):\n%s", diff)
	}
	if ser.IssueID() != 900 {
		t.Errorf("issue id: got %d, want 900", ser.IssueID())
	}
}

func TestAuthTargetCustomerNotFound(t *testing.T) {
	ser := NewSerializer("agent-go-sdk", "1.0.0", "crm-42", nil)
	a := NewAuthenticator(Credentials{UserToken: "tok", TargetCustomerToken: "crm-42"}, ser, nil, nil)

	var rec recorder
	var result []bool
	a.Run(rec.send, func(ok bool) { result = append(result, ok) })
	rec.reply(t, 0, sessionBody)
	rec.reply(t, 1, `{}`)

	if diff := cmp.Diff([]bool{false}, result); diff != "" {
		t.Errorf("done mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadSaved(t *testing.T) {
	ctx := context.Background()
	info := json.RawMessage(`{"Company":{"CompanyId":4}}`)

	t.Run("same owner", func(t *testing.T) {
		store := newTestStore(t)
		store.Save(ctx, &session.Session{Info: info, CompanyID: 4, Owner: "tok", CreatedAt: time.Now()})

		ser := NewSerializer("consumer-go-sdk", "1.0.0", "", nil)
		a := NewAuthenticator(Credentials{UserToken: "tok", IsCustomer: true}, ser, store, nil)
		if err := a.LoadSaved(ctx); err != nil {
			t.Fatalf("LoadSaved: %v", err)
		}
		if ser.CompanyID() != 4 {
			t.Errorf("company id: got %d, want 4", ser.CompanyID())
		}
		if _, method := SelectAuth(a.creds, ser.Session()); method != MethodSession {
			t.Errorf("method after restore: got %q", method)
		}
	})

	t.Run("other owner", func(t *testing.T) {
		store := newTestStore(t)
		store.Save(ctx, &session.Session{Info: info, CompanyID: 4, Owner: "someone-else", CreatedAt: time.Now()})

		ser := NewSerializer("consumer-go-sdk", "1.0.0", "", nil)
		a := NewAuthenticator(Credentials{UserToken: "tok", IsCustomer: true}, ser, store, nil)
		if err := a.LoadSaved(ctx); err != nil {
			t.Fatalf("LoadSaved: %v", err)
		}
		if ser.Session() != nil {
			t.Errorf("restored a session that belongs to another user")
		}
		if got, _ := store.Get(ctx); got != nil {
			t.Errorf("foreign session not cleared")
		}
	})
}
