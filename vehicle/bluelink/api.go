package bluelink

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bluelink-kr/bluelinkd/api"
	"github.com/bluelink-kr/bluelinkd/util"
	"github.com/bluelink-kr/bluelinkd/util/request"
	"github.com/bluelink-kr/bluelinkd/util/transport"
)

// API implements the KR-market Hyundai Bluelink api.
// One operation per vendor endpoint, no retries, no shared state.
type API struct {
	*request.Helper
	identity Requester
}

// Requester decorates outgoing requests with a valid access token
type Requester interface {
	Request(*http.Request) error
}

// NewAPI creates a new Bluelink API
func NewAPI(log *util.Logger, identity Requester) *API {
	v := &API{
		Helper:   request.NewHelper(log),
		identity: identity,
	}

	// api is unbelievably slow when retrieving status
	v.Client.Timeout = 120 * time.Second

	v.Client.Transport = &transport.Decorator{
		Decorator: identity.Request,
		Base:      v.Client.Transport,
	}

	return v
}

// getJSON executes the request and maps failures onto the error taxonomy
func (v *API) getJSON(uri string, res response) error {
	err := v.GetJSON(uri, res)

	var se request.StatusError
	if errors.As(err, &se) {
		switch {
		case se.HasStatus(http.StatusUnauthorized, http.StatusForbidden):
			return fmt.Errorf("%w: %v", api.ErrAuthFail, err)
		case se.HasStatus(http.StatusNotFound):
			return fmt.Errorf("%w: %v", api.ErrVehicleNotFound, err)
		case se.HasStatus(http.StatusTooManyRequests):
			return fmt.Errorf("%w: %v", api.ErrRateLimited, err)
		default:
			return fmt.Errorf("%w: %v", api.ErrUpstream, err)
		}
	}

	// the request decorator surfaces token failures before the call is made
	if err != nil {
		if errors.Is(err, api.ErrReauthRequired) || errors.Is(err, api.ErrAuthFail) {
			return err
		}
		return fmt.Errorf("%w: %v", api.ErrUpstream, err)
	}

	if e := res.vendorError(); e.ErrCode != "" {
		return fmt.Errorf("%w: %v", api.ErrUpstream, e)
	}

	return nil
}

// Profile returns the authenticated user's profile
func (v *API) Profile() (Profile, error) {
	var res Profile
	err := v.getJSON(ProfileURI, &res)
	return res, err
}

// Vehicles returns the account's registered cars
func (v *API) Vehicles() ([]Car, error) {
	var res CarsResponse

	uri := fmt.Sprintf("%s/profile/carlist", CarURI)
	err := v.getJSON(uri, &res)

	return res.Cars, err
}

// DrivingRange returns the remaining driving range
func (v *API) DrivingRange(carID string) (DrivingRange, error) {
	var res DrivingRange

	uri := fmt.Sprintf("%s/status/%s/dte", CarURI, url.PathEscape(carID))
	err := v.getJSON(uri, &res)

	return res, err
}

// Odometer returns the odometer history
func (v *API) Odometer(carID string) (OdometerList, error) {
	var res OdometerList

	uri := fmt.Sprintf("%s/status/%s/odometer", CarURI, url.PathEscape(carID))
	err := v.getJSON(uri, &res)

	return res, err
}

// EvBattery returns the traction battery state of charge
func (v *API) EvBattery(carID string) (EvBattery, error) {
	var res EvBattery

	uri := fmt.Sprintf("%s/status/%s/ev/battery", CarURI, url.PathEscape(carID))
	err := v.getJSON(uri, &res)

	return res, err
}

// EvCharging returns the charging session state
func (v *API) EvCharging(carID string) (EvCharging, error) {
	var res EvCharging

	uri := fmt.Sprintf("%s/status/%s/ev/charging", CarURI, url.PathEscape(carID))
	err := v.getJSON(uri, &res)

	return res, err
}

// Warnings returns the warning lamp state
func (v *API) Warnings(carID string) (Warnings, error) {
	var res Warnings

	uri := fmt.Sprintf("%s/status/%s/warning", CarURI, url.PathEscape(carID))
	err := v.getJSON(uri, &res)

	return res, err
}
