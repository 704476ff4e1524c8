// Package testutil provides shared HTTP test helpers.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// LoopbackAddr is the RemoteAddr given to test requests. tsweb only serves
// /debug/ routes to loopback callers.
const LoopbackAddr = "127.0.0.1:12345"

// NewRequest builds a request from a loopback address. A non-nil body is
// encoded as JSON.
func NewRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = LoopbackAddr
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// Serve runs req against h and returns the recorded response.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// DecodeJSON fails the test unless rec has status want and a body that
// decodes into v.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, want int, v interface{}) {
	t.Helper()
	require.Equal(t, want, rec.Code, "body: %s", rec.Body.String())
	if v != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
	}
}

// ErrorMessage returns the "error" field of a JSON error response.
func ErrorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return body["error"]
}
