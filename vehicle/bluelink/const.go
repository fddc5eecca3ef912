package bluelink

import (
	"fmt"
	"net/url"
	"time"
)

// KR-market CCAPI endpoints
var (
	AuthURI    = "https://prd.kr-ccapi.hyundai.com/api/v1/user/oauth2/authorize"
	TokenURI   = "https://prd.kr-ccapi.hyundai.com/api/v1/user/oauth2/token"
	ProfileURI = "https://prd.kr-ccapi.hyundai.com/api/v1/user/profile"
	TermsURI   = "https://dev.kr-ccapi.hyundai.com/api/v1/car-service/terms/agreement"
	CarURI     = "https://dev.kr-ccapi.hyundai.com/api/v1/car"
)

const (
	// AccessTokenExpiry applies when the token response omits expires_in
	AccessTokenExpiry = 24 * time.Hour

	// RefreshTokenExpiry is the fixed refresh token validity. The vendor does
	// not renew it on refresh; after this window the user must log in again.
	RefreshTokenExpiry = 365 * 24 * time.Hour
)

// distance unit codes used by range and odometer payloads
var units = map[int]string{
	1: "km",
	2: "mi",
	3: "m",
}

// Unit maps a vendor distance unit code to its symbol
func Unit(code int) string {
	if u, ok := units[code]; ok {
		return u
	}
	return fmt.Sprintf("unit(%d)", code)
}

// AuthorizeURL builds the browser URL starting the OAuth handshake
func AuthorizeURL(clientID, redirectURI, state string) string {
	q := url.Values{
		"client_id":     {clientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"state":         {state},
	}
	return AuthURI + "?" + q.Encode()
}

// TermsURL builds the browser URL starting the data-sharing consent handshake
func TermsURL(accessToken, state string) string {
	q := url.Values{
		"token": {"Bearer " + accessToken},
		"state": {state},
	}
	return TermsURI + "?" + q.Encode()
}
