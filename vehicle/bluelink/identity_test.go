package bluelink

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/bluelink-kr/bluelinkd/api"
	"github.com/bluelink-kr/bluelinkd/util"
)

func testIdentity(t *testing.T, handler http.HandlerFunc) (*Identity, *clock.Mock) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	prev := TokenURI
	TokenURI = srv.URL
	t.Cleanup(func() { TokenURI = prev })

	v := NewIdentity(util.NewLogger("test"), Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost:7070/api/bluelink/oauth/callback",
	})

	mock := clock.NewMock()
	v.clock = mock

	return v, mock
}

func storedCredentials(now time.Time) api.Credentials {
	return api.Credentials{
		ClientID:      "client",
		ClientSecret:  "secret",
		RedirectURI:   "http://localhost:7070/api/bluelink/oauth/callback",
		AccessToken:   "old-access",
		RefreshToken:  "refresh",
		TokenType:     "Bearer",
		AccessExpiry:  now.Add(time.Hour),
		RefreshExpiry: now.Add(RefreshTokenExpiry),
	}
}

func TestLogin(t *testing.T) {
	v, mock := testIdentity(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		require.Equal(t, "the-code", r.PostForm.Get("code"))

		auth := "Basic " + base64.StdEncoding.EncodeToString([]byte("client:secret"))
		require.Equal(t, auth, r.Header.Get("Authorization"))

		fmt.Fprint(w, `{"access_token": "access", "refresh_token": "refresh", "token_type": "Bearer", "expires_in": 86400}`)
	})

	var persisted api.Credentials
	v.OnUpdate(func(creds api.Credentials) {
		persisted = creds
	})

	require.NoError(t, v.Login("the-code"))
	require.Equal(t, StateAuthenticated, v.State())

	creds := v.Credentials()
	require.Equal(t, "access", creds.AccessToken)
	require.Equal(t, mock.Now().Add(24*time.Hour), creds.AccessExpiry)
	require.Equal(t, mock.Now().Add(RefreshTokenExpiry), creds.RefreshExpiry)
	require.Equal(t, creds, persisted)
}

func TestLoginWithoutCode(t *testing.T) {
	v, _ := testIdentity(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint must not be called")
	})

	require.ErrorIs(t, v.Login(""), api.ErrAuthFail)
	require.Equal(t, StateUnauthenticated, v.State())
}

func TestTokenWithoutRefreshDue(t *testing.T) {
	v, mock := testIdentity(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint must not be called")
	})

	require.NoError(t, v.Restore(storedCredentials(mock.Now())))

	tok, err := v.Token()
	require.NoError(t, err)
	require.Equal(t, "old-access", tok.AccessToken)
}

func TestTokenRefresh(t *testing.T) {
	var calls int32

	v, mock := testIdentity(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)

		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		require.Equal(t, "refresh", r.PostForm.Get("refresh_token"))

		fmt.Fprint(w, `{"access_token": "new-access", "token_type": "Bearer", "expires_in": 86400}`)
	})

	creds := storedCredentials(mock.Now())
	require.NoError(t, v.Restore(creds))

	// past the refresh margin
	mock.Add(time.Hour)

	tok, err := v.Token()
	require.NoError(t, err)
	require.Equal(t, "new-access", tok.AccessToken)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	updated := v.Credentials()
	require.Equal(t, mock.Now().Add(24*time.Hour), updated.AccessExpiry)

	// refresh keeps the original refresh token and its fixed expiry
	require.Equal(t, "refresh", updated.RefreshToken)
	require.Equal(t, creds.RefreshExpiry, updated.RefreshExpiry)
}

func TestTokenRefreshSerialized(t *testing.T) {
	var calls int32

	v, mock := testIdentity(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"access_token": "new-access", "token_type": "Bearer", "expires_in": 86400}`)
	})

	require.NoError(t, v.Restore(storedCredentials(mock.Now())))
	mock.Add(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			tok, err := v.Token()
			require.NoError(t, err)
			require.Equal(t, "new-access", tok.AccessToken)
		}()
	}
	wg.Wait()

	// concurrent callers await the single in-flight exchange
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTokenReauthBeforeRefreshExpiry(t *testing.T) {
	v, mock := testIdentity(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint must not be called")
	})

	creds := storedCredentials(mock.Now())
	creds.RefreshExpiry = mock.Now().Add(48 * time.Hour)
	require.NoError(t, v.Restore(creds))

	// advance into the reauth margin
	mock.Add(36 * time.Hour)

	_, err := v.Token()
	require.ErrorIs(t, err, api.ErrReauthRequired)
	require.True(t, v.ReauthRequired())

	// sticky until the next login
	_, err = v.Token()
	require.ErrorIs(t, err, api.ErrReauthRequired)
}

func TestTokenRefreshRejected(t *testing.T) {
	v, mock := testIdentity(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	creds := storedCredentials(mock.Now())
	require.NoError(t, v.Restore(creds))
	mock.Add(time.Hour)

	_, err := v.Token()
	require.ErrorIs(t, err, api.ErrReauthRequired)
	require.Equal(t, StateReauthRequired, v.State())

	// stored credentials survive for inspection
	require.Equal(t, "refresh", v.Credentials().RefreshToken)
}

func TestTokenRefreshTransientFailure(t *testing.T) {
	var calls int32

	v, mock := testIdentity(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"access_token": "new-access", "token_type": "Bearer", "expires_in": 86400}`)
	})

	require.NoError(t, v.Restore(storedCredentials(mock.Now())))
	mock.Add(time.Hour)

	_, err := v.Token()
	require.Error(t, err)
	require.NotErrorIs(t, err, api.ErrReauthRequired)
	require.Equal(t, StateAuthenticated, v.State())

	// next attempt succeeds without a new login
	tok, err := v.Token()
	require.NoError(t, err)
	require.Equal(t, "new-access", tok.AccessToken)
}

func TestTokenUnauthenticated(t *testing.T) {
	v, _ := testIdentity(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint must not be called")
	})

	_, err := v.Token()
	require.ErrorIs(t, err, api.ErrReauthRequired)
}

func TestRestoreExpiringCredentials(t *testing.T) {
	v, mock := testIdentity(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint must not be called")
	})

	creds := storedCredentials(mock.Now())
	creds.RefreshExpiry = mock.Now().Add(time.Hour)

	require.ErrorIs(t, v.Restore(creds), api.ErrReauthRequired)
	require.True(t, v.ReauthRequired())
}

func TestRestoreIncompleteCredentials(t *testing.T) {
	v, _ := testIdentity(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint must not be called")
	})

	require.Error(t, v.Restore(api.Credentials{}))
	require.Equal(t, StateUnauthenticated, v.State())
}

func TestLogout(t *testing.T) {
	v, mock := testIdentity(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "delete", r.PostForm.Get("grant_type"))
		require.Equal(t, "old-access", r.PostForm.Get("access_token"))

		fmt.Fprint(w, `{}`)
	})

	require.NoError(t, v.Restore(storedCredentials(mock.Now())))

	var persisted api.Credentials
	v.OnUpdate(func(creds api.Credentials) {
		persisted = creds
	})

	require.NoError(t, v.Logout())
	require.Equal(t, StateUnauthenticated, v.State())
	require.Empty(t, persisted.RefreshToken)
}

func TestVendorTokenError(t *testing.T) {
	v, mock := testIdentity(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errCode": "4002", "errMsg": "invalid_grant"}`)
	})

	require.NoError(t, v.Restore(storedCredentials(mock.Now())))
	mock.Add(time.Hour)

	_, err := v.Token()
	require.ErrorIs(t, err, api.ErrReauthRequired)
	require.Equal(t, StateReauthRequired, v.State())
}
