// Package registry is the authoritative map from hub session id to session
// record. It enforces the concurrency ceiling, timestamps last use, and runs
// background eviction of idle sessions: a lock-guarded map, a factory
// function that builds the thing the map stores, a ticker-driven cleanup
// goroutine, and a Stop() that disables it.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgeene/parallel-appium/internal/huberrors"
	"github.com/dgeene/parallel-appium/internal/logger"
	"github.com/dgeene/parallel-appium/internal/portpool"
)

// Supervisor is the subset of backend.Supervisor the registry depends on.
// Defined here (rather than imported) so tests can substitute a fake without
// spawning real processes.
type Supervisor interface {
	Start(ctx context.Context, timeout time.Duration) error
	Stop(ctx context.Context) error
	IsAlive(ctx context.Context) bool
	BaseURL() string
	LogPath() string
}

// Factory builds the Supervisor for a newly reserved session id and port.
// Callers close over shared configuration such as the backend binary path,
// log directory, and host.
type Factory func(sessionID string, port int) Supervisor

// Record is a snapshot of one session's bookkeeping state.
type Record struct {
	ID         string
	Port       int
	Backend    Supervisor
	CreatedAt  time.Time
	LastUsed   time.Time
	DeviceUDID string
	DeviceName string
}

// Config configures a new Registry.
type Config struct {
	Pool             *portpool.Pool
	MaxSessions      int
	SessionTimeout   time.Duration
	StartTimeout     time.Duration
	EvictionInterval time.Duration
	Factory          Factory
}

// Registry is the process-wide session map. The zero value is not usable;
// construct with New.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
	pool    *portpool.Pool

	maxSessions    int
	sessionTimeout time.Duration
	startTimeout   time.Duration
	factory        Factory

	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a Registry and starts its background eviction goroutine.
func New(cfg Config) *Registry {
	r := &Registry{
		records:        make(map[string]*Record),
		pool:           cfg.Pool,
		maxSessions:    cfg.MaxSessions,
		sessionTimeout: cfg.SessionTimeout,
		startTimeout:   cfg.StartTimeout,
		factory:        cfg.Factory,
		ticker:         time.NewTicker(cfg.EvictionInterval),
		stopCh:         make(chan struct{}),
	}
	go r.evictionLoop()
	return r
}

// Stop disables the background eviction goroutine. Existing records are left
// untouched; call ShutdownAll first if a full teardown is wanted.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		r.ticker.Stop()
		close(r.stopCh)
	})
}

func (r *Registry) evictionLoop() {
	for {
		select {
		case <-r.stopCh:
			return
		case <-r.ticker.C:
			r.evictExpiredOnce()
		}
	}
}

// evictExpiredOnce is the body of one eviction tick, factored out so tests
// can trigger it deterministically instead of waiting on a real ticker.
func (r *Registry) evictExpiredOnce() {
	now := time.Now()

	r.mu.Lock()
	var expired []string
	for id, rec := range r.records {
		if now.Sub(rec.LastUsed) > r.sessionTimeout {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		if r.Delete(context.Background(), id) {
			logger.Infof("registry: evicted idle session %s", id)
		}
	}
}

// Create reserves a port and spawns a backend, returning the new session id.
// Port reservation and the map-size check happen under the registry lock;
// spawning the backend (which may block on process start and a readiness
// poll) happens without it held, so a slow backend never wedges other
// callers.
func (r *Registry) Create(ctx context.Context, deviceUDID, deviceName string) (string, error) {
	r.mu.Lock()
	// Reserved ports count live records plus creates still starting their
	// backend, so concurrent creates cannot overshoot the ceiling.
	if r.pool.Used() >= r.maxSessions {
		r.mu.Unlock()
		return "", huberrors.NewCapacityExhaustedError("max_sessions reached", nil)
	}
	port, err := r.pool.Reserve()
	if err != nil {
		r.mu.Unlock()
		return "", huberrors.NewCapacityExhaustedError("no free port", err)
	}
	r.mu.Unlock()

	id := uuid.NewString()
	sup := r.factory(id, port)

	if err := sup.Start(ctx, r.startTimeout); err != nil {
		r.mu.Lock()
		r.pool.Release(port)
		r.mu.Unlock()
		return "", huberrors.NewBackendStartTimeoutError("backend failed to become ready", err)
	}

	now := time.Now()
	rec := &Record{
		ID:         id,
		Port:       port,
		Backend:    sup,
		CreatedAt:  now,
		LastUsed:   now,
		DeviceUDID: deviceUDID,
		DeviceName: deviceName,
	}

	r.mu.Lock()
	r.records[id] = rec
	r.mu.Unlock()

	return id, nil
}

// Get looks up a record by id, refreshing its last-used timestamp on a hit.
// The returned Record is a value copy safe for the caller to read without
// holding any lock.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	rec.LastUsed = time.Now()
	return *rec, true
}

// Delete removes a record, releasing its port before stopping its backend.
// Freeing the port happens under the lock; stopping the backend (I/O) does
// not. A backend-stop failure is logged but does not change the return
// value: once bookkeeping succeeds, deletion is considered successful.
func (r *Registry) Delete(ctx context.Context, id string) bool {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.records, id)
	r.pool.Release(rec.Port)
	r.mu.Unlock()

	if err := rec.Backend.Stop(ctx); err != nil {
		logger.Warnf("registry: backend stop failed for session %s: %v", id, err)
	}
	return true
}

// List returns a snapshot of every live record.
func (r *Registry) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out
}

// Count returns the number of live records.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// ShutdownAll tears down every live session. Go's sync.Mutex is not
// reentrant, so this cannot simply call Delete while holding the lock;
// instead it snapshots ids under the lock, releases it, then calls Delete
// per id.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Delete(ctx, id)
	}
}

// Health is the aggregate health view returned by GET /health.
type Health struct {
	Total         int
	Healthy       int
	UnhealthyIDs  []string
	AvailablePorts int
	UsedPorts     []int
}

// Health probes every live backend's liveness. The probes (outbound HTTP)
// happen after the records are snapshotted, never while the lock is held.
func (r *Registry) Health(ctx context.Context) Health {
	r.mu.Lock()
	recs := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	availablePorts := r.pool.Available()
	usedPorts := r.pool.UsedPorts()
	r.mu.Unlock()

	h := Health{
		Total:          len(recs),
		AvailablePorts: availablePorts,
		UsedPorts:      usedPorts,
	}
	for _, rec := range recs {
		if rec.Backend.IsAlive(ctx) {
			h.Healthy++
		} else {
			h.UnhealthyIDs = append(h.UnhealthyIDs, rec.ID)
		}
	}
	sort.Strings(h.UnhealthyIDs)
	return h
}
