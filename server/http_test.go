package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/bluelink-kr/bluelinkd/api"
	"github.com/bluelink-kr/bluelinkd/core"
	"github.com/bluelink-kr/bluelinkd/util"
	"github.com/bluelink-kr/bluelinkd/vehicle/bluelink"
)

type stubCoordinator struct {
	refreshed int32
	reauth    bool
}

func (c *stubCoordinator) RefreshAll() {
	atomic.AddInt32(&c.refreshed, 1)
}

func (c *stubCoordinator) Status() []core.JobStatus {
	return []core.JobStatus{{Name: "driving_range", Interval: core.DrivingRangeInterval}}
}

func (c *stubCoordinator) ReauthRequired() bool {
	return c.reauth
}

func (c *stubCoordinator) Vehicle() api.Vehicle {
	return api.Vehicle{CarID: "car-1", Nickname: "mine", Type: api.CarTypeEV}
}

func testServer(t *testing.T, coord *stubCoordinator, flow *bluelink.AuthFlow) *httptest.Server {
	t.Helper()

	snapshot := core.NewSnapshot(clock.NewMock(), nil)
	snapshot.Merge("ev_battery", map[string]core.Value{
		core.FieldEvSoc: {Value: 55.0, Unit: "%"},
	})

	srv := httptest.NewServer(NewHTTPd("127.0.0.1:0", coord, snapshot, flow).Router())
	t.Cleanup(srv.Close)

	return srv
}

func TestHealth(t *testing.T) {
	srv := testServer(t, &stubCoordinator{}, nil)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestState(t *testing.T) {
	coord := &stubCoordinator{reauth: true}
	srv := testServer(t, coord, nil)

	resp, err := http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res stateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))

	require.Equal(t, "car-1", res.Vehicle.CarID)
	require.True(t, res.ReauthRequired)
	require.Len(t, res.Jobs, 1)
	require.Equal(t, 55.0, res.Fields[core.FieldEvSoc].Value)
}

func TestRefresh(t *testing.T) {
	coord := &stubCoordinator{}
	srv := testServer(t, coord, nil)

	resp, err := http.Post(srv.URL+"/api/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(1), atomic.LoadInt32(&coord.refreshed))
}

func TestOAuthCallback(t *testing.T) {
	identity := bluelink.NewIdentity(util.NewLogger("test"), bluelink.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost:7070" + OAuthCallbackPath,
	})
	flow := bluelink.NewAuthFlow(util.NewLogger("test"), identity)

	srv := testServer(t, &stubCoordinator{}, flow)

	// missing parameters
	resp, err := http.Get(srv.URL + OAuthCallbackPath)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// unknown state
	resp, err = http.Get(srv.URL + OAuthCallbackPath + "?code=the-code&state=bogus")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// armed handshake
	u, err := url.Parse(flow.AuthorizeURL())
	require.NoError(t, err)
	state := u.Query().Get("state")

	resp, err = http.Get(srv.URL + OAuthCallbackPath + "?code=the-code&state=" + state)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTermsCallback(t *testing.T) {
	identity := bluelink.NewIdentity(util.NewLogger("test"), bluelink.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost:7070" + OAuthCallbackPath,
	})
	flow := bluelink.NewAuthFlow(util.NewLogger("test"), identity)

	srv := testServer(t, &stubCoordinator{}, flow)

	resp, err := http.Get(srv.URL + TermsCallbackPath + "?userId=terms-user")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCallbackRouterServesOnlyCallbacks(t *testing.T) {
	identity := bluelink.NewIdentity(util.NewLogger("test"), bluelink.Config{})
	flow := bluelink.NewAuthFlow(util.NewLogger("test"), identity)

	srv := httptest.NewServer(CallbackRouter(flow))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
