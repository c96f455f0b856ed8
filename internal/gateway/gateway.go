// Package gateway terminates client HTTP, implements the session
// create/delete/list/health/info endpoints, and dispatches already-routed
// proxied paths to internal/proxy.
//
// Assembled as a chi router with middleware.RequestID/middleware.Timeout and
// one ErrorHandler-decorated handler per route. The http.Server and its
// graceful shutdown live in internal/cli's serve command, not here.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgeene/parallel-appium/internal/huberrors"
	"github.com/dgeene/parallel-appium/internal/logger"
	"github.com/dgeene/parallel-appium/internal/registry"
)

const (
	requestTimeout       = 60 * time.Second
	backendCreateTimeout = 60 * time.Second
	backendDeleteTimeout = 30 * time.Second
	defaultLogTailLines  = 200
)

// Forwarder is the subset of proxy.Proxy the gateway depends on.
type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request, baseURL, tail string) error
}

// Gateway wires the registry and reverse proxy into an HTTP surface.
type Gateway struct {
	registry *registry.Registry
	proxy    Forwarder
	version  string
	started  time.Time

	httpClient *http.Client
}

// New constructs a Gateway.
func New(reg *registry.Registry, prox Forwarder, version string) *Gateway {
	return &Gateway{
		registry:   reg,
		proxy:      prox,
		version:    version,
		started:    time.Now(),
		httpClient: &http.Client{},
	}
}

// Router builds the chi router implementing every gateway endpoint, plus
// the supplemented /version and /session/{id}/logs endpoints.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Timeout(requestTimeout))

	r.Get("/", ErrorHandler(g.index))
	r.Get("/health", ErrorHandler(g.health))
	r.Get("/version", ErrorHandler(g.versionInfo))
	r.Get("/sessions", ErrorHandler(g.listSessions))
	r.Post("/session", ErrorHandler(g.createSession))
	r.Delete("/session/{id}", ErrorHandler(g.deleteSession))
	r.Get("/session/{id}/info", ErrorHandler(g.sessionInfo))
	r.Get("/session/{id}/logs", ErrorHandler(g.sessionLogs))
	r.HandleFunc("/session/{id}/*", ErrorHandler(g.proxySession))

	return r
}

// SessionView is the public projection of a registry.Record.
type SessionView struct {
	SessionID  string `json:"session_id"`
	Port       int    `json:"port"`
	ServiceURL string `json:"service_url"`
	CreatedAt  string `json:"created_at"`
	LastUsed   string `json:"last_used"`
	DeviceUDID string `json:"device_udid"`
	DeviceName string `json:"device_name"`
	IsAlive    bool   `json:"is_alive"`
	LogFile    string `json:"log_file"`
}

func toSessionView(ctx context.Context, rec registry.Record) SessionView {
	return SessionView{
		SessionID:  rec.ID,
		Port:       rec.Port,
		ServiceURL: rec.Backend.BaseURL(),
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
		LastUsed:   rec.LastUsed.Format(time.RFC3339),
		DeviceUDID: rec.DeviceUDID,
		DeviceName: rec.DeviceName,
		IsAlive:    rec.Backend.IsAlive(ctx),
		LogFile:    rec.Backend.LogPath(),
	}
}

func (g *Gateway) index(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":     "apiumhubd",
		"version":  g.version,
		"status":   "running",
		"sessions": g.registry.Count(),
	})
	return nil
}

func (g *Gateway) health(w http.ResponseWriter, r *http.Request) error {
	h := g.registry.Health(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"total_sessions":     h.Total,
		"healthy_sessions":   h.Healthy,
		"unhealthy_sessions": nonNilStrings(h.UnhealthyIDs),
		"available_ports":    h.AvailablePorts,
		"used_ports":         nonNilInts(h.UsedPorts),
	})
	return nil
}

func (g *Gateway) versionInfo(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]string{"version": g.version})
	return nil
}

func (g *Gateway) listSessions(w http.ResponseWriter, r *http.Request) error {
	recs := g.registry.List()
	views := make([]SessionView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, toSessionView(r.Context(), rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
	return nil
}

// createSessionRequest is the POST /session body.
type createSessionRequest struct {
	Capabilities json.RawMessage `json:"capabilities"`
	DeviceUDID   string          `json:"device_udid"`
	DeviceName   string          `json:"device_name"`
}

// createSession implements the two-step session-creation choreography:
// reserve+spawn via the registry, then forward the create payload to the
// backend, compensating (deleting the just-created session) on any failure.
func (g *Gateway) createSession(w http.ResponseWriter, r *http.Request) error {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return huberrors.NewInternalError("decoding request body", err)
	}

	id, err := g.registry.Create(r.Context(), req.DeviceUDID, req.DeviceName)
	if err != nil {
		return err
	}

	rec, ok := g.registry.Get(id)
	if !ok {
		// The session vanished between Create and Get (e.g. concurrent
		// eviction firing immediately); treat as an internal inconsistency.
		return huberrors.NewInternalError("session disappeared immediately after creation", nil)
	}

	backendPayload := map[string]json.RawMessage{"capabilities": req.Capabilities}
	payloadBytes, err := json.Marshal(backendPayload)
	if err != nil {
		g.registry.Delete(r.Context(), id)
		return huberrors.NewInternalError("encoding backend create payload", err)
	}

	ctx, cancel := context.WithTimeout(r.Context(), backendCreateTimeout)
	defer cancel()

	backendReq, err := http.NewRequestWithContext(ctx, http.MethodPost, rec.Backend.BaseURL()+"/session", bytes.NewReader(payloadBytes))
	if err != nil {
		g.registry.Delete(r.Context(), id)
		return huberrors.NewInternalError("constructing backend create request", err)
	}
	backendReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(backendReq)
	if err != nil {
		g.registry.Delete(r.Context(), id)
		return huberrors.NewTransportError("backend create request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		g.registry.Delete(r.Context(), id)
		return huberrors.NewTransportError("reading backend create response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.registry.Delete(r.Context(), id)
		// ErrorHandler surfaces Body verbatim with this status instead of
		// wrapping it in a generic JSON error envelope.
		return huberrors.NewBackendCreateRejectedError(
			fmt.Sprintf("backend rejected session create with status %d", resp.StatusCode),
			resp.StatusCode, respBody, nil)
	}

	var appiumSession json.RawMessage
	if err := json.Unmarshal(respBody, &appiumSession); err != nil {
		appiumSession = respBody
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"hub_session_id": id,
		"appium_session": appiumSession,
		"service_url":    rec.Backend.BaseURL(),
	})
	return nil
}

func (g *Gateway) deleteSession(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")

	rec, ok := g.registry.Get(id)
	if !ok {
		return huberrors.NewNotFoundError("no such session: "+id, nil)
	}

	ctx, cancel := context.WithTimeout(r.Context(), backendDeleteTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, rec.Backend.BaseURL()+"/session", nil)
	if err == nil {
		if resp, err := g.httpClient.Do(req); err != nil {
			logger.Warnf("gateway: best-effort backend delete failed for session %s: %v", id, err)
		} else {
			_ = resp.Body.Close()
		}
	}

	if !g.registry.Delete(r.Context(), id) {
		return huberrors.NewInternalError("failed to remove session bookkeeping for "+id, nil)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "session " + id + " deleted"})
	return nil
}

func (g *Gateway) sessionInfo(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	rec, ok := g.registry.Get(id)
	if !ok {
		return huberrors.NewNotFoundError("no such session: "+id, nil)
	}
	writeJSON(w, http.StatusOK, toSessionView(r.Context(), rec))
	return nil
}

// sessionLogs tails the session's backend log file, since the hub writes
// per-session logs but otherwise exposes no way to read them back.
func (g *Gateway) sessionLogs(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	rec, ok := g.registry.Get(id)
	if !ok {
		return huberrors.NewNotFoundError("no such session: "+id, nil)
	}

	n := defaultLogTailLines
	if raw := r.URL.Query().Get("lines"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}

	lines, err := tailLines(rec.Backend.LogPath(), n)
	if err != nil {
		return huberrors.NewInternalError("reading session log file", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "lines": lines})
	return nil
}

func (g *Gateway) proxySession(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	tail := chi.URLParam(r, "*")

	rec, ok := g.registry.Get(id)
	if !ok {
		return huberrors.NewNotFoundError("no such session: "+id, nil)
	}
	return g.proxy.Forward(w, r, rec.Backend.BaseURL(), tail)
}

func tailLines(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := splitNonEmptyLines(string(data))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func splitNonEmptyLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilInts(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}
