package api

import (
	"errors"
	"strings"
	"time"
)

// Polling error taxonomy. The bluelink client maps HTTP responses onto these;
// the coordinator never retries immediately on any of them.
var (
	// ErrAuthFail indicates an invalid or expired access token
	ErrAuthFail = errors.New("authorization failed")

	// ErrReauthRequired indicates the refresh token has lapsed and the user must log in again
	ErrReauthRequired = errors.New("reauthentication required")

	// ErrRateLimited indicates vendor throttling
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstream indicates a server error or malformed payload
	ErrUpstream = errors.New("upstream failure")

	// ErrVehicleNotFound indicates the referenced vehicle is absent from the account
	ErrVehicleNotFound = errors.New("vehicle not found")
)

// CarType is the vendor's powertrain classification
type CarType string

const (
	CarTypeEV   CarType = "EV"
	CarTypePHEV CarType = "PHEV"
	CarTypeFCEV CarType = "FCEV"
	CarTypeHEV  CarType = "HEV"
	CarTypeICE  CarType = "GN"
)

// NormalizeCarType trims and upper-cases a vendor car type value
func NormalizeCarType(s string) CarType {
	return CarType(strings.ToUpper(strings.TrimSpace(s)))
}

// EvCapable returns true if the car type has a traction battery worth polling.
// Unknown types are treated as capable so that a new vendor type does not
// silently lose its EV sensors.
func (t CarType) EvCapable() bool {
	switch t {
	case CarTypeEV, CarTypePHEV, CarTypeFCEV:
		return true
	case CarTypeHEV, CarTypeICE:
		return false
	}
	return true
}

// Vehicle describes one car of the account. Identity key is CarID, stable
// across re-fetches. A vehicle missing from the vendor's list is flagged
// disabled, never deleted.
type Vehicle struct {
	CarID    string  `json:"carId"`
	Nickname string  `json:"nickname"`
	VIN      string  `json:"vin,omitempty"`
	Type     CarType `json:"type"`
	Disabled bool    `json:"disabled"`
}

// Credentials is the OAuth credential set. Mutated only by the identity,
// persisted by storage. RefreshExpiry is fixed at login and never extended
// by an access-token refresh.
type Credentials struct {
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	AccessToken   string
	RefreshToken  string
	TokenType     string
	AccessExpiry  time.Time
	RefreshExpiry time.Time
	UserID        string
	TermsUserID   string
}

// Valid returns true if the credential set carries a usable refresh token
func (c Credentials) Valid() bool {
	return c.RefreshToken != "" && !c.RefreshExpiry.IsZero()
}
