// Package testing provides helpers shared by the package tests.
package testing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// WKBContentType is the media type of geometry request bodies.
const WKBContentType = "application/wkb"

// Context returns a context cancelled after timeout or when the test ends.
func Context(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// Request builds an httptest request.
type Request struct {
	method string
	path   string
	body   []byte
	json   any
	header http.Header
}

// NewRequest starts a request for method and path.
func NewRequest(method, path string) *Request {
	return &Request{method: method, path: path, header: make(http.Header)}
}

// JSON sets a body marshalled from v.
func (r *Request) JSON(v any) *Request {
	r.json = v
	return r
}

// Raw sets a literal body with its content type.
func (r *Request) Raw(body []byte, contentType string) *Request {
	r.body = body
	return r.Header("Content-Type", contentType)
}

// WKB sets a geometry body.
func (r *Request) WKB(body []byte) *Request {
	return r.Raw(body, WKBContentType)
}

// Header sets a request header.
func (r *Request) Header(key, value string) *Request {
	r.header.Set(key, value)
	return r
}

// Bearer authenticates the request with token.
func (r *Request) Bearer(token string) *Request {
	return r.Header("Authorization", "Bearer "+token)
}

// Build returns the *http.Request.
func (r *Request) Build(t *testing.T) *http.Request {
	t.Helper()
	var body io.Reader
	switch {
	case r.body != nil:
		body = bytes.NewReader(r.body)
	case r.json != nil:
		data, err := json.Marshal(r.json)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		body = bytes.NewReader(data)
		if r.header.Get("Content-Type") == "" {
			r.header.Set("Content-Type", "application/json")
		}
	}

	req := httptest.NewRequest(r.method, r.path, body)
	for k, v := range r.header {
		req.Header[k] = v
	}
	return req
}

// Do serves the request with h.
func (r *Request) Do(t *testing.T, h http.Handler) *Response {
	t.Helper()
	resp := &Response{ResponseRecorder: httptest.NewRecorder(), t: t}
	h.ServeHTTP(resp, r.Build(t))
	return resp
}

// Response wraps httptest.ResponseRecorder with assertions.
type Response struct {
	*httptest.ResponseRecorder
	t *testing.T
}

// Status fails the test unless the response has status code.
func (r *Response) Status(code int) *Response {
	r.t.Helper()
	if r.Code != code {
		r.t.Errorf("status = %d, want %d; body: %s", r.Code, code, r.Body.String())
	}
	return r
}

// OK asserts status 200.
func (r *Response) OK() *Response {
	r.t.Helper()
	return r.Status(http.StatusOK)
}

// Decode unmarshals the body into v. The body can be decoded only once.
func (r *Response) Decode(v any) *Response {
	r.t.Helper()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		r.t.Fatalf("failed to decode JSON: %v", err)
	}
	return r
}

// ErrorCode returns error.code of an error response body.
func (r *Response) ErrorCode() string {
	r.t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	r.Decode(&body)
	return body.Error.Code
}
