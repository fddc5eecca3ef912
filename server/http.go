package server

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/bluelink-kr/bluelinkd/api"
	"github.com/bluelink-kr/bluelinkd/core"
	"github.com/bluelink-kr/bluelinkd/util"
	"github.com/bluelink-kr/bluelinkd/vehicle/bluelink"
)

var log = util.NewLogger("http")

// vendor redirect targets registered with the developer application
const (
	OAuthCallbackPath = "/api/bluelink/oauth/callback"
	TermsCallbackPath = "/api/bluelink/terms/callback"
)

// CoordinatorAPI is the coordinator surface exposed over HTTP
type CoordinatorAPI interface {
	RefreshAll()
	Status() []core.JobStatus
	ReauthRequired() bool
	Vehicle() api.Vehicle
}

type route struct {
	Methods     []string
	Pattern     string
	HandlerFunc http.HandlerFunc
}

// HTTPd wraps an http.Server and adds the root router
type HTTPd struct {
	*http.Server
}

// NewHTTPd creates an HTTP server with the daemon api routes
func NewHTTPd(uri string, coord CoordinatorAPI, snapshot *core.Snapshot, flow *bluelink.AuthFlow) *HTTPd {
	router := mux.NewRouter().StrictSlash(true)

	// vendor callbacks - plain text, registered ahead of the api subrouter
	registerCallbacks(router, flow)

	router.Methods("GET").Path("/").Handler(indexHandler())

	// api
	api := router.PathPrefix("/api").Subrouter()
	api.Use(jsonHandler)
	api.Use(handlers.CompressHandler)
	api.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{
			"Accept", "Accept-Language", "Content-Language", "Content-Type", "Origin",
		}),
	))

	routes := map[string]route{
		"health":  {[]string{"GET"}, "/health", healthHandler},
		"state":   {[]string{"GET"}, "/state", stateHandler(coord, snapshot)},
		"refresh": {[]string{"POST", "OPTIONS"}, "/refresh", refreshHandler(coord)},
	}

	for _, r := range routes {
		api.Methods(r.Methods...).Path(r.Pattern).Handler(r.HandlerFunc)
	}

	srv := &HTTPd{
		Server: &http.Server{
			Addr:         uri,
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
			ErrorLog:     log.ERROR,
		},
	}
	srv.SetKeepAlivesEnabled(true)

	return srv
}

// Router returns the main router
func (s *HTTPd) Router() *mux.Router {
	return s.Handler.(*mux.Router)
}

// CallbackRouter creates a router serving only the vendor callbacks. Used by
// the login command, which listens just long enough for the handshake.
func CallbackRouter(flow *bluelink.AuthFlow) *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	registerCallbacks(router, flow)
	return router
}

func registerCallbacks(router *mux.Router, flow *bluelink.AuthFlow) {
	if flow == nil {
		return
	}
	router.HandleFunc(OAuthCallbackPath, oauthCallbackHandler(flow)).Methods("GET")
	router.HandleFunc(TermsCallbackPath, termsCallbackHandler(flow)).Methods("GET")
}
