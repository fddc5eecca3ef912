package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bluelink-kr/bluelinkd/api"
	"github.com/bluelink-kr/bluelinkd/core"
	"github.com/bluelink-kr/bluelinkd/vehicle/bluelink"
)

func indexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=UTF-8")
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprintln(w, "<html><body>bluelinkd</body></html>"); err != nil {
			log.ERROR.Println("httpd:", err)
		}
	}
}

// jsonHandler sets the response content type
func jsonHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=UTF-8")
		h.ServeHTTP(w, r)
	})
}

func jsonResponse(w http.ResponseWriter, r *http.Request, content interface{}) {
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(content); err != nil {
		log.ERROR.Printf("httpd: failed to encode JSON: %v", err)
	}
}

// healthHandler returns 200 while the daemon is up
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type stateResponse struct {
	Vehicle        api.Vehicle           `json:"vehicle"`
	ReauthRequired bool                  `json:"reauthRequired"`
	Fields         map[string]core.Value `json:"fields"`
	Jobs           []core.JobStatus      `json:"jobs"`
}

// stateHandler returns the snapshot and job bookkeeping
func stateHandler(coord CoordinatorAPI, snapshot *core.Snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := stateResponse{
			Vehicle:        coord.Vehicle(),
			ReauthRequired: coord.ReauthRequired(),
			Fields:         snapshot.All(),
			Jobs:           coord.Status(),
		}

		jsonResponse(w, r, res)
	}
}

// refreshHandler runs all polling jobs immediately
func refreshHandler(coord CoordinatorAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		coord.RefreshAll()
		jsonResponse(w, r, map[string]string{"status": "refreshing"})
	}
}

// oauthCallbackHandler receives the authorization redirect
func oauthCallbackHandler(flow *bluelink.AuthFlow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		cb := bluelink.Callback{
			Code:    q.Get("code"),
			State:   q.Get("state"),
			ErrCode: q.Get("errCode"),
			ErrMsg:  q.Get("errMsg"),
		}

		if cb.State == "" || (cb.Code == "" && cb.ErrCode == "") {
			http.Error(w, "missing code or state", http.StatusBadRequest)
			return
		}

		if err := flow.HandleCallback(cb); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
		fmt.Fprintln(w, "Authorization received. You can close this window.")
	}
}

// termsCallbackHandler receives the consent redirect
func termsCallbackHandler(flow *bluelink.AuthFlow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		cb := bluelink.Callback{
			UserID:  q.Get("userId"),
			State:   q.Get("state"),
			ErrCode: q.Get("errCode"),
			ErrMsg:  q.Get("errMsg"),
		}

		if cb.State == "" {
			http.Error(w, "missing state", http.StatusBadRequest)
			return
		}

		if err := flow.HandleCallback(cb); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
		if cb.ErrCode != "" {
			fmt.Fprintln(w, "Terms agreement failed. You can close this window.")
			return
		}
		fmt.Fprintln(w, "Terms agreement received. You can close this window.")
	}
}
