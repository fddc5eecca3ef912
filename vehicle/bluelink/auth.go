package bluelink

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bluelink-kr/bluelinkd/util"
)

// FlowTimeout bounds each handshake stage; a state token that is never
// matched expires with the flow.
var FlowTimeout = 5 * time.Minute

// Callback carries the query parameters of a vendor redirect
type Callback struct {
	Code    string
	UserID  string
	State   string
	ErrCode string
	ErrMsg  string
}

// AuthFlow drives the two-stage login handshake: the authorization callback
// delivers the code, then the consent (terms) callback delivers the terms
// user id. Each stage correlates the vendor redirect with a generated state
// token; a mismatch fails the callback, not the flow.
type AuthFlow struct {
	log      *util.Logger
	identity *Identity

	mu      sync.Mutex
	state   string
	pending chan Callback
}

// NewAuthFlow creates an auth flow for the given identity
func NewAuthFlow(log *util.Logger, identity *Identity) *AuthFlow {
	return &AuthFlow{
		log:      log,
		identity: identity,
	}
}

// AuthorizeURL arms the authorization stage and returns the browser URL
func (f *AuthFlow) AuthorizeURL() string {
	state := f.arm()
	return AuthorizeURL(f.identity.config.ClientID, f.identity.config.RedirectURI, state)
}

// TermsURL arms the consent stage and returns the browser URL
func (f *AuthFlow) TermsURL() (string, error) {
	tok, err := f.identity.Token()
	if err != nil {
		return "", err
	}

	state := f.arm()
	return TermsURL(tok.AccessToken, state), nil
}

// HandleCallback resumes the armed stage. Unknown or expired state tokens
// are rejected to defeat CSRF.
func (f *AuthFlow) HandleCallback(cb Callback) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pending == nil || cb.State == "" || cb.State != f.state {
		return errors.New("unknown or expired state")
	}

	pending := f.pending
	f.pending = nil
	f.state = ""

	pending <- cb

	return nil
}

// Login waits for the authorization callback and exchanges the code
func (f *AuthFlow) Login() error {
	cb, err := f.wait()
	if err != nil {
		return err
	}

	return f.identity.Login(cb.Code)
}

// Consent waits for the terms callback and records the terms user id
func (f *AuthFlow) Consent() (string, error) {
	cb, err := f.wait()
	if err != nil {
		return "", err
	}

	f.identity.SetTermsUser(cb.UserID)

	return cb.UserID, nil
}

// arm generates a fresh state token and resets the pending channel. Arming
// a new stage invalidates any previous one.
func (f *AuthFlow) arm() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = uuid.NewString()
	f.pending = make(chan Callback, 1)

	return f.state
}

func (f *AuthFlow) wait() (Callback, error) {
	f.mu.Lock()
	pending := f.pending
	f.mu.Unlock()

	if pending == nil {
		return Callback{}, errors.New("no handshake in progress")
	}

	select {
	case cb := <-pending:
		if cb.ErrCode != "" {
			return Callback{}, fmt.Errorf("callback failed (%s): %s", cb.ErrCode, cb.ErrMsg)
		}
		return cb, nil

	case <-time.After(FlowTimeout):
		f.mu.Lock()
		if f.pending == pending {
			f.pending = nil
			f.state = ""
		}
		f.mu.Unlock()

		return Callback{}, errors.New("handshake timed out")
	}
}
