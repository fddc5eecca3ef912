package bluelink

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/looplab/fsm"
	"golang.org/x/oauth2"

	"github.com/bluelink-kr/bluelinkd/api"
	"github.com/bluelink-kr/bluelinkd/util"
	"github.com/bluelink-kr/bluelinkd/util/request"
)

const (
	// refreshMargin covers clock skew and in-flight request latency
	refreshMargin = 5 * time.Minute

	// reauthMargin flags the credential set before the refresh token lapses,
	// since the refresh token itself cannot be silently renewed
	reauthMargin = 24 * time.Hour
)

// auth states
const (
	StateUnauthenticated = "unauthenticated"
	StateAuthenticated   = "authenticated"
	StateRefreshing      = "refreshing"
	StateReauthRequired  = "reauth_required"
)

// auth events
const (
	evLogin     = "login"
	evLogout    = "logout"
	evRefresh   = "refresh"
	evRefreshed = "refreshed"
	evAbort     = "abort"
	evReject    = "reject"
)

// Config is the OAuth client configuration
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Identity owns the OAuth credential set and implements oauth2.TokenSource.
// All credential mutation happens here; every mutation invokes the persist
// hook registered via OnUpdate.
type Identity struct {
	*request.Helper
	log    *util.Logger
	clock  clock.Clock
	config Config

	mu       sync.Mutex
	fsm      *fsm.FSM
	creds    api.Credentials
	onUpdate func(api.Credentials)
}

var _ oauth2.TokenSource = (*Identity)(nil)

// NewIdentity creates a Bluelink identity
func NewIdentity(log *util.Logger, config Config) *Identity {
	v := &Identity{
		Helper: request.NewHelper(log),
		log:    log,
		clock:  clock.New(),
		config: config,
	}

	v.fsm = fsm.NewFSM(StateUnauthenticated,
		fsm.Events{
			{Name: evLogin, Src: []string{StateUnauthenticated, StateAuthenticated, StateReauthRequired}, Dst: StateAuthenticated},
			{Name: evLogout, Src: []string{StateAuthenticated, StateReauthRequired}, Dst: StateUnauthenticated},
			{Name: evRefresh, Src: []string{StateAuthenticated}, Dst: StateRefreshing},
			{Name: evRefreshed, Src: []string{StateRefreshing}, Dst: StateAuthenticated},
			{Name: evAbort, Src: []string{StateRefreshing}, Dst: StateAuthenticated},
			{Name: evReject, Src: []string{StateAuthenticated, StateRefreshing}, Dst: StateReauthRequired},
		},
		nil,
	)

	return v
}

// OnUpdate registers the credential persist hook
func (v *Identity) OnUpdate(fn func(api.Credentials)) {
	v.mu.Lock()
	v.onUpdate = fn
	v.mu.Unlock()
}

// State returns the current auth state
func (v *Identity) State() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fsm.Current()
}

// ReauthRequired returns true once the user must log in again
func (v *Identity) ReauthRequired() bool {
	return v.State() == StateReauthRequired
}

// Credentials returns a copy of the credential set
func (v *Identity) Credentials() api.Credentials {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.creds
}

// Restore seeds the identity from a persisted credential set
func (v *Identity) Restore(creds api.Credentials) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !creds.Valid() {
		return errors.New("incomplete credential set")
	}

	v.creds = creds

	if !v.clock.Now().Before(creds.RefreshExpiry.Add(-reauthMargin)) {
		v.event(evLogin)
		v.event(evReject)
		return api.ErrReauthRequired
	}

	v.event(evLogin)
	return nil
}

// Login exchanges an authorization code for the initial credential set.
// The refresh token validity window starts here and is never extended.
func (v *Identity) Login(code string) error {
	if code == "" {
		return fmt.Errorf("%w: missing authorization code", api.ErrAuthFail)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	tok, err := v.exchange(url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {v.config.RedirectURI},
	})
	if err != nil {
		return err
	}

	now := v.clock.Now()

	v.creds = api.Credentials{
		ClientID:      v.config.ClientID,
		ClientSecret:  v.config.ClientSecret,
		RedirectURI:   v.config.RedirectURI,
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		TokenType:     tok.TokenType,
		AccessExpiry:  now.Add(tok.expiresIn()),
		RefreshExpiry: now.Add(RefreshTokenExpiry),
	}

	v.event(evLogin)
	v.persist()

	return nil
}

// Logout invalidates the token server-side and clears the credential set
func (v *Identity) Logout() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.creds.AccessToken != "" {
		if _, err := v.exchange(url.Values{
			"grant_type":   {"delete"},
			"access_token": {v.creds.AccessToken},
		}); err != nil {
			return err
		}
	}

	v.creds = api.Credentials{}
	v.event(evLogout)
	v.persist()

	return nil
}

// SetUser records the profile user id
func (v *Identity) SetUser(userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.creds.UserID = userID
	v.persist()
}

// SetTermsUser records the consent (terms) user id
func (v *Identity) SetTermsUser(termsUserID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.creds.TermsUserID = termsUserID
	v.persist()
}

// Token returns a token valid for at least the refresh margin, refreshing it
// if due. The identity mutex serializes concurrent callers, so a refresh due
// at the same moment for multiple polling jobs results in a single exchange;
// late callers observe the refreshed credential set.
func (v *Identity) Token() (*oauth2.Token, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.fsm.Current() {
	case StateUnauthenticated:
		return nil, fmt.Errorf("%w: not logged in", api.ErrReauthRequired)
	case StateReauthRequired:
		return nil, api.ErrReauthRequired
	}

	now := v.clock.Now()

	// the refresh token is about to lapse; surface instead of refreshing
	if !now.Before(v.creds.RefreshExpiry.Add(-reauthMargin)) {
		v.event(evReject)
		return nil, api.ErrReauthRequired
	}

	if now.Before(v.creds.AccessExpiry.Add(-refreshMargin)) {
		return v.oauthToken(), nil
	}

	v.event(evRefresh)

	tok, err := v.exchange(url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {v.creds.RefreshToken},
	})
	if err != nil {
		if errors.Is(err, api.ErrAuthFail) {
			v.event(evReject)
			return nil, fmt.Errorf("%w: %v", api.ErrReauthRequired, err)
		}

		// transient failure, credentials unchanged
		v.event(evAbort)
		return nil, err
	}

	v.creds.AccessToken = tok.AccessToken
	v.creds.AccessExpiry = v.clock.Now().Add(tok.expiresIn())
	if tok.RefreshToken != "" {
		v.creds.RefreshToken = tok.RefreshToken
	}
	if tok.TokenType != "" {
		v.creds.TokenType = tok.TokenType
	}
	// RefreshExpiry is fixed at login; an access-token refresh does not extend it

	v.event(evRefreshed)
	v.persist()

	return v.oauthToken(), nil
}

// Request decorates an api request with a valid access token
func (v *Identity) Request(req *http.Request) error {
	tok, err := v.Token()
	if err == nil {
		tok.SetAuthHeader(req)
	}
	return err
}

// exchange posts to the token endpoint using basic client authentication.
// Must be called with the identity mutex held.
func (v *Identity) exchange(data url.Values) (*Token, error) {
	auth := v.config.ClientID + ":" + v.config.ClientSecret

	req, err := request.New(http.MethodPost, TokenURI, strings.NewReader(data.Encode()), request.URLEncoding, map[string]string{
		"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte(auth)),
	})

	var tok Token
	if err == nil {
		err = v.DoJSON(req, &tok)
	}

	if err != nil {
		var se request.StatusError
		if errors.As(err, &se) && se.HasStatus(http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %v", api.ErrAuthFail, err)
		}
		return nil, err
	}

	if tok.ErrCode != "" {
		return nil, fmt.Errorf("%w: %v", api.ErrAuthFail, tok.Error)
	}

	if data.Get("grant_type") != "delete" && tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response missing access_token", api.ErrAuthFail)
	}

	return &tok, nil
}

func (v *Identity) oauthToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  v.creds.AccessToken,
		TokenType:    v.creds.TokenType,
		RefreshToken: v.creds.RefreshToken,
		Expiry:       v.creds.AccessExpiry,
	}
}

func (v *Identity) persist() {
	if v.onUpdate != nil {
		v.onUpdate(v.creds)
	}
}

func (v *Identity) event(name string) {
	if err := v.fsm.Event(context.Background(), name); err != nil {
		v.log.DEBUG.Printf("fsm: %s: %v", name, err)
	}
}

// expiresIn returns the access token lifetime, defaulting when omitted
func (t *Token) expiresIn() time.Duration {
	if t.ExpiresIn > 0 {
		return time.Duration(t.ExpiresIn) * time.Second
	}
	return AccessTokenExpiry
}
