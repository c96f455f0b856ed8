package gateway

import (
	"net/http"

	"github.com/dgeene/parallel-appium/internal/huberrors"
	"github.com/dgeene/parallel-appium/internal/logger"
)

// HandlerWithError is an HTTP handler that may fail; ErrorHandler maps the
// failure to a status code instead of every handler doing it by hand.
// Mirrors the HandlerWithError / ErrorHandler decorator pair common to
// chi-based HTTP services.
type HandlerWithError func(http.ResponseWriter, *http.Request) error

// ErrorHandler adapts a HandlerWithError into a plain http.HandlerFunc. 5xx
// errors are logged server-side with full detail before a generic status
// text is sent to the client; 4xx (and the upstream-status 3xx/4xx surfaced
// by BackendCreateRejected) are sent to the client verbatim. A
// BackendCreateRejected error carrying a Body writes that body byte-for-byte
// instead of wrapping it in a JSON error envelope, since it is already the
// backend's own JSON response.
func ErrorHandler(fn HandlerWithError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}
		code := huberrors.Code(err)
		if he, ok := err.(*huberrors.Error); ok && he.Body != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_, _ = w.Write(he.Body)
			return
		}
		if code >= http.StatusInternalServerError {
			logger.Errorf("gateway: internal error handling %s %s: %v", r.Method, r.URL.Path, err)
			writeJSONError(w, code, http.StatusText(code))
			return
		}
		writeJSONError(w, code, err.Error())
	}
}
