package request

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bluelink-kr/bluelinkd/util"
)

// Timeout is the default request timeout used by the Helper
var Timeout = 10 * time.Second

var (
	// JSONEncoding specifies application/json
	JSONEncoding = map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}

	// AcceptJSON accepts application/json
	AcceptJSON = map[string]string{
		"Accept": "application/json",
	}

	// URLEncoding specifies application/x-www-form-urlencoded
	URLEncoding = map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	}
)

// New builds and executes HTTP request and returns the response
func New(method, uri string, body io.Reader, headers ...map[string]string) (*http.Request, error) {
	req, err := http.NewRequest(method, uri, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	for _, headers := range headers {
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	return req, nil
}

// MarshalJSON marshals JSON body for request
func MarshalJSON(data interface{}) (io.Reader, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return strings.NewReader(string(body)), nil
}

// StatusError indicates a non-2xx response
type StatusError struct {
	resp *http.Response
}

// NewStatusError creates a status error for the given response
func NewStatusError(resp *http.Response) StatusError {
	return StatusError{resp: resp}
}

func (e StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d (%s)", e.resp.StatusCode, http.StatusText(e.resp.StatusCode))
}

// Response returns the response with the unexpected error
func (e StatusError) Response() *http.Response {
	return e.resp
}

// StatusCode returns the response's status code
func (e StatusError) StatusCode() int {
	return e.resp.StatusCode
}

// HasStatus returns true if the response's status code matches any of the given codes
func (e StatusError) HasStatus(codes ...int) bool {
	for _, code := range codes {
		if e.resp.StatusCode == code {
			return true
		}
	}
	return false
}

// ReadBody reads HTTP response and returns its body
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return b, NewStatusError(resp)
	}

	return b, nil
}

// DecodeJSON reads HTTP response and decodes JSON body if error is nil
func DecodeJSON(resp *http.Response, res interface{}) error {
	b, err := ReadBody(resp)
	if err == nil {
		err = json.Unmarshal(b, &res)
	}
	return err
}

// Helper provides utility primitives
type Helper struct {
	*http.Client
}

// NewHelper creates http helper for simplified GET logic
func NewHelper(log *util.Logger) *Helper {
	return &Helper{
		Client: &http.Client{Timeout: Timeout},
	}
}

// DoBody executes HTTP request and returns the response body
func (r *Helper) DoBody(req *http.Request) ([]byte, error) {
	resp, err := r.Do(req)
	var body []byte
	if err == nil {
		body, err = ReadBody(resp)
	}
	return body, err
}

// GetBody executes HTTP GET request and returns the response body
func (r *Helper) GetBody(uri string) ([]byte, error) {
	resp, err := r.Get(uri)
	var body []byte
	if err == nil {
		body, err = ReadBody(resp)
	}
	return body, err
}

// DoJSON executes HTTP request and decodes JSON response
func (r *Helper) DoJSON(req *http.Request, res interface{}) error {
	resp, err := r.Do(req)
	if err == nil {
		err = DecodeJSON(resp, &res)
	}
	return err
}

// GetJSON executes HTTP GET request and decodes JSON response
func (r *Helper) GetJSON(uri string, res interface{}) error {
	req, err := New(http.MethodGet, uri, nil, AcceptJSON)
	if err == nil {
		err = r.DoJSON(req, &res)
	}
	return err
}
