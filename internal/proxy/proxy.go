// Package proxy implements the stateless, session-affinity reverse proxy:
// given a backend base URL and an already-routed request, it forwards the
// method, headers (minus the hop-by-hop set), and body, then relays the
// response verbatim.
//
// Forwarding is done with a plain *http.Client rather than
// httputil.ReverseProxy so the hop-by-hop header set stays exactly these
// four headers instead of the library's own (larger) default list.
package proxy

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dgeene/parallel-appium/internal/huberrors"
)

const defaultTimeout = 60 * time.Second

// hopByHop headers must never cross the hop between client and backend.
var hopByHop = map[string]struct{}{
	"host":           {},
	"content-length": {},
	"connection":     {},
	"upgrade":        {},
}

// Proxy forwards requests to a backend base URL. The zero value is not
// usable; construct with New.
type Proxy struct {
	client *http.Client
}

// New builds a Proxy with the default outbound timeout.
func New() *Proxy {
	return &Proxy{client: &http.Client{Timeout: defaultTimeout}}
}

// Forward builds `baseURL + "/session/" + tail`, copies method/headers/body
// from r, issues the request, and writes the backend's status/headers/body
// to w verbatim. On success it returns nil having already written the
// response; on failure it returns a *huberrors.Error and writes nothing,
// leaving status-code mapping to the caller's error handler.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, baseURL, tail string) error {
	target := strings.TrimRight(baseURL, "/") + "/session/" + strings.TrimLeft(tail, "/")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return huberrors.NewInternalError("reading request body", err)
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(body))
	if err != nil {
		return huberrors.NewInternalError("constructing proxied request", err)
	}
	copyHeaders(outReq.Header, r.Header)

	resp, err := p.client.Do(outReq)
	if err != nil {
		return huberrors.NewTransportError("backend request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return huberrors.NewTransportError("reading backend response", err)
	}

	dst := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
	return nil
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if _, skip := hopByHop[strings.ToLower(k)]; skip {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
