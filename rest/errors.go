package rest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status   int
	Code     string
	Message  string
	Errors   []FieldError
	Method   string
	Endpoint string
}

// FieldError is one validation failure of an INVALID_FORM_BODY response.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fluxer: %s %s: %d %s: %s", e.Method, e.Endpoint, e.Status, e.Code, e.Message)
}

// newAPIError decodes an error body. Bodies that are not JSON, or JSON of an
// unexpected shape, still produce an error with the default code and message.
func newAPIError(req *Request, resp *Response) *APIError {
	e := &APIError{
		Status:   resp.Status,
		Code:     "UNKNOWN_ERROR",
		Message:  fmt.Sprintf("Request failed with status %d", resp.Status),
		Method:   req.method(),
		Endpoint: req.Endpoint,
	}

	var body struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
		Errors  json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return e
	}
	if code := rawCode(body.Code); code != "" {
		e.Code = code
	}
	if body.Message != "" {
		e.Message = body.Message
	}
	if len(body.Errors) > 0 {
		var fields []FieldError
		if json.Unmarshal(body.Errors, &fields) == nil {
			e.Errors = fields
		}
	}
	return e
}

// rawCode accepts both string and numeric error codes.
func rawCode(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

// RateLimitError is returned once a request was rate limited more times
// than the retry budget allows.
type RateLimitError struct {
	RetryAfter time.Duration
	Global     bool
	Bucket     string
	Method     string
	Endpoint   string
}

func (e *RateLimitError) Error() string {
	scope := "bucket " + strconv.Quote(e.Bucket)
	if e.Global {
		scope = "global limit"
	}
	return fmt.Sprintf("fluxer: %s %s: rate limited on %s, retry after %v", e.Method, e.Endpoint, scope, e.RetryAfter)
}

// RequestError is a transport failure: no response was received.
type RequestError struct {
	Method   string
	Endpoint string
	Err      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("fluxer: %s %s: %v", e.Method, e.Endpoint, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
