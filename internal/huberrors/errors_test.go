package huberrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	withCause := &Error{Type: ErrTransport, Message: "dial failed", Cause: errors.New("connection refused")}
	assert.Equal(t, "transport: dial failed: connection refused", withCause.Error())

	withoutCause := &Error{Type: ErrNotFound, Message: "no such session"}
	assert.Equal(t, "not_found: no such session", withoutCause.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewInternalError("failed", cause)
	assert.Equal(t, cause, err.Unwrap())

	noCause := NewInternalError("failed", nil)
	assert.Nil(t, noCause.Unwrap())
}

func TestConstructorsSetType(t *testing.T) {
	cause := errors.New("cause")

	require.Equal(t, ErrCapacityExhausted, NewCapacityExhaustedError("m", cause).Type)
	require.Equal(t, ErrBackendStartTimeout, NewBackendStartTimeoutError("m", cause).Type)
	require.Equal(t, ErrTransport, NewTransportError("m", cause).Type)
	require.Equal(t, ErrNotFound, NewNotFoundError("m", cause).Type)
	require.Equal(t, ErrInternal, NewInternalError("m", cause).Type)

	rejected := NewBackendCreateRejectedError("upstream rejected", http.StatusConflict, []byte(`{"error":"bad caps"}`), cause)
	require.Equal(t, ErrBackendRejected, rejected.Type)
	require.Equal(t, http.StatusConflict, rejected.Status)
	require.Equal(t, []byte(`{"error":"bad caps"}`), rejected.Body)
}

func TestCheckers(t *testing.T) {
	assert.True(t, IsCapacityExhausted(NewCapacityExhaustedError("m", nil)))
	assert.False(t, IsCapacityExhausted(NewInternalError("m", nil)))
	assert.False(t, IsCapacityExhausted(errors.New("plain")))

	assert.True(t, IsBackendStartTimeout(NewBackendStartTimeoutError("m", nil)))
	assert.True(t, IsBackendRejected(NewBackendCreateRejectedError("m", 409, nil, nil)))
	assert.True(t, IsTransport(NewTransportError("m", nil)))
	assert.True(t, IsNotFound(NewNotFoundError("m", nil)))
	assert.True(t, IsInternal(NewInternalError("m", nil)))
	assert.False(t, IsInternal(nil))
}

func TestCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"capacity exhausted", NewCapacityExhaustedError("m", nil), http.StatusServiceUnavailable},
		{"backend start timeout", NewBackendStartTimeoutError("m", nil), http.StatusServiceUnavailable},
		{"transport", NewTransportError("m", nil), http.StatusServiceUnavailable},
		{"not found", NewNotFoundError("m", nil), http.StatusNotFound},
		{"internal", NewInternalError("m", nil), http.StatusInternalServerError},
		{"backend rejected with status", NewBackendCreateRejectedError("m", http.StatusTeapot, nil, nil), http.StatusTeapot},
		{"backend rejected no status", &Error{Type: ErrBackendRejected, Message: "m"}, http.StatusBadGateway},
		{"plain error", errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}
