package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Response is the fully read result of a single request attempt.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Endpoint   string
}

func newResponse(resp *http.Response, body []byte, endpoint string) *Response {
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Endpoint:   endpoint,
	}
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// HasFailed reports whether the status code is outside the 2xx range.
func (r *Response) HasFailed() bool {
	return !r.OK()
}

// IsUnauthorized reports whether the server rejected the credentials.
func (r *Response) IsUnauthorized() bool {
	return r.StatusCode == http.StatusUnauthorized
}

// IsCredentialRejection reports whether the status means the presented
// token is no longer accepted (401 or 403), as opposed to a transient failure.
func (r *Response) IsCredentialRejection() bool {
	err := classifyStatus(r.StatusCode)

	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// JSON parses the body as a JSON object. A body that is not a JSON object
// returns nil without an error so callers can treat it as absent.
func (r *Response) JSON() map[string]any {
	if len(r.Body) == 0 {
		return nil
	}

	var parsed map[string]any
	if err := json.Unmarshal(r.Body, &parsed); err != nil {
		return nil
	}

	return parsed
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", ErrValidation, r.Endpoint, err)
	}

	return nil
}

// Get looks up a value in the JSON body by gjson path, e.g. "data.0.id".
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}
