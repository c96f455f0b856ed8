package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgeene/parallel-appium/internal/huberrors"
)

func TestForwardRelaysStatusHeadersAndBody(t *testing.T) {
	var gotPath, gotMethod string
	var gotHeaders http.Header
	var gotBody []byte

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("X-Backend", "appium")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer backend.Close()

	req := httptest.NewRequest(http.MethodPost, "/session/abc/status", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Host", "client-host")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Content-Length", "7")

	rec := httptest.NewRecorder()

	p := New()
	err := p.Forward(rec, req, backend.URL, "abc/status")
	require.NoError(t, err)

	assert.Equal(t, "/session/abc/status", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, `{"a":1}`, string(gotBody))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "appium", rec.Header().Get("X-Backend"))
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	for h := range gotHeaders {
		lower := strings.ToLower(h)
		assert.NotContains(t, []string{"host", "content-length", "connection", "upgrade"}, lower)
	}
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
}

func TestForwardMapsTransportErrorsToTransportType(t *testing.T) {
	// An address nothing listens on: connection refused.
	unreachable, err := url.Parse("http://127.0.0.1:1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/session/abc/status", nil)
	rec := httptest.NewRecorder()

	p := New()
	err = p.Forward(rec, req, unreachable.String(), "abc/status")
	require.Error(t, err)
	assert.True(t, huberrors.IsTransport(err))
}
