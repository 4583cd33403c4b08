// Package registry maintains the catalog of known MCP servers and routes
// JSON-RPC requests to the right transport, wrapping every call in circuit
// breaker admission control.
package registry

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dev.helix.router/internal/breaker"
	"dev.helix.router/internal/concurrency"
	"dev.helix.router/internal/jsonrpc"
	"dev.helix.router/internal/requestlog"
	"dev.helix.router/internal/transport"
)

// maxInFlight bounds the number of requests dispatched to backends at once,
// regardless of how many servers are registered.
const maxInFlight = 64

// HealthStatus reports the health of a single registered server.
type HealthStatus struct {
	Name           string         `json:"name"`
	Status         string         `json:"status"` // healthy, degraded, down, unknown
	Transport      string         `json:"transport,omitempty"`
	StatusCode     int            `json:"status_code,omitempty"`
	Error          string         `json:"error,omitempty"`
	CircuitBreaker breaker.Status `json:"circuit_breaker"`
}

// Registry owns server configuration, transport backends, and per-server
// circuit breakers.
type Registry struct {
	mu         sync.RWMutex
	configs    map[string]ServerConfig
	order      []string
	backends   *transport.Registry
	breakers   *breaker.Registry
	inflight   *concurrency.Semaphore
	healthHTTP *http.Client
	log        *logrus.Entry
	requests   *requestlog.Log
}

// New builds a registry from a loaded server catalog. order should list the
// catalog's declared server names in their original (e.g. file) order, as
// returned by LoadServerConfigs; it is used only to make "first server"
// fallbacks stable. A nil or incomplete order is filled out with the
// remaining config names in sorted order, so callers that build a Registry
// directly from a map literal (tests) still get a deterministic ordering.
// Call Initialize to actually start STDIO subprocesses and register HTTP
// backends.
func New(configs map[string]ServerConfig, order []string, log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.New()
	}
	return &Registry{
		configs:    configs,
		order:      buildOrder(configs, order),
		backends:   transport.NewRegistry(),
		breakers:   breaker.NewRegistry(breaker.DefaultConfig()),
		inflight:   concurrency.NewSemaphore(maxInFlight),
		healthHTTP: &http.Client{Timeout: 5 * time.Second},
		log:        log.WithField("component", "registry"),
		requests:   requestlog.New(100),
	}
}

// buildOrder returns every name in configs, preferring the declared order
// and appending any names order missed (sorted, for determinism) at the end.
func buildOrder(configs map[string]ServerConfig, order []string) []string {
	seen := make(map[string]bool, len(configs))
	out := make([]string, 0, len(configs))
	for _, name := range order {
		if _, ok := configs[name]; ok && !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	if len(out) < len(configs) {
		rest := make([]string, 0, len(configs)-len(out))
		for name := range configs {
			if !seen[name] {
				rest = append(rest, name)
			}
		}
		sort.Strings(rest)
		out = append(out, rest...)
	}
	return out
}

// Initialize starts every STDIO server's subprocess and registers every
// HTTP server's adapter. A STDIO server that fails to start is recorded as
// a circuit-breaker failure rather than aborting startup, so one broken
// backend never prevents the router from serving the rest.
func (r *Registry) Initialize(ctx context.Context) {
	r.mu.RLock()
	configs := make(map[string]ServerConfig, len(r.configs))
	for k, v := range r.configs {
		configs[k] = v
	}
	r.mu.RUnlock()

	for name, cfg := range configs {
		switch cfg.Transport {
		case "stdio":
			stdioCfg := transport.DefaultStdioConfig(name, cfg.Command)
			stdioCfg.Env = cfg.Env
			adapter := transport.NewStdioAdapter(stdioCfg, r.log.Logger)
			if err := adapter.Start(); err != nil {
				r.log.Errorf("failed to start %s: %v", name, err)
				r.breakers.Get(name).RecordFailure()
			}
			r.backends.Register(name, adapter)
		case "http":
			adapter := transport.NewHTTPAdapter(transport.DefaultHTTPConfig(name, cfg.URL), r.log.Logger)
			r.backends.Register(name, adapter)
		default:
			r.log.Warnf("server %s has unknown transport %q", name, cfg.Transport)
		}
	}
}

// Shutdown stops every backend (terminating STDIO subprocesses).
func (r *Registry) Shutdown() error {
	return r.backends.CloseAll()
}

// ListServers returns every registered server name in stable catalog order,
// so callers that fall back to "the first server" (e.g. the SSE lenient
// default) get a consistent answer across calls.
func (r *Registry) ListServers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// GetConfig returns the configuration for a named server.
func (r *Registry) GetConfig(name string) (ServerConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[name]
	return cfg, ok
}

// RegisterBackend directly attaches a backend to a server name, bypassing
// Initialize's config-driven construction. Used by tests that substitute a
// fake transport.Backend in place of a real subprocess or HTTP client.
func (r *Registry) RegisterBackend(name string, b transport.Backend) {
	r.backends.Register(name, b)
}

// Call routes a JSON-RPC request to the named server, honoring its circuit
// breaker. The returned response always carries a properly-shaped
// JSON-RPC error when the server is unknown, its breaker is open, or the
// upstream call itself fails - callers never need to handle a separate Go
// error for those cases.
func (r *Registry) Call(ctx context.Context, server string, req *jsonrpc.Request) *jsonrpc.Response {
	r.mu.RLock()
	_, known := r.configs[server]
	r.mu.RUnlock()

	if !known {
		return jsonrpc.NewError(req.ID, jsonrpc.InvalidRequest, "unknown server: "+server, map[string]any{
			"available": r.ListServers(),
		})
	}

	cb := r.breakers.Get(server)
	if !cb.CanExecute() {
		return jsonrpc.NewError(req.ID, jsonrpc.ServerError, "server "+server+" circuit breaker open", map[string]any{
			"state": cb.Status(),
		})
	}

	if err := r.inflight.Acquire(ctx); err != nil {
		return jsonrpc.NewError(req.ID, jsonrpc.UpstreamError, "router at capacity: "+err.Error(), nil)
	}
	defer r.inflight.Release()

	backend, ok := r.backends.Get(server)
	if !ok {
		cb.RecordFailure()
		r.requests.Record(requestlog.Entry{Timestamp: time.Now(), Server: server, Method: req.Method, Success: false, Error: "no active backend"})
		return jsonrpc.NewError(req.ID, jsonrpc.UpstreamError, "server "+server+" has no active backend", nil)
	}

	start := time.Now()
	resp, err := backend.Call(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		r.log.Errorf("request to %s failed: %v", server, err)
		cb.RecordFailure()
		r.requests.Record(requestlog.Entry{Timestamp: start, Server: server, Method: req.Method, Duration: elapsed, Success: false, Error: err.Error()})
		return jsonrpc.NewError(req.ID, jsonrpc.UpstreamError, err.Error(), nil)
	}

	cb.RecordSuccess()
	r.requests.Record(requestlog.Entry{Timestamp: start, Server: server, Method: req.Method, Duration: elapsed, Success: true})
	if resp != nil && resp.ID == nil {
		resp.ID = req.ID
	}
	return resp
}

// RecentRequests returns up to n of the most recently routed requests,
// newest first.
func (r *Registry) RecentRequests(n int) []requestlog.Entry {
	return r.requests.Recent(n)
}

// HealthCheck reports the health of a single server: for STDIO backends
// this reflects whether the subprocess is alive; for HTTP backends it
// performs a live GET against the server's health endpoint.
func (r *Registry) HealthCheck(ctx context.Context, server string) HealthStatus {
	cfg, ok := r.GetConfig(server)
	if !ok {
		return HealthStatus{Name: server, Status: "unknown", Error: "not registered"}
	}

	cb := r.breakers.Get(server)

	if cfg.Transport == "stdio" {
		backend, ok := r.backends.Get(server)
		healthy := ok && backend.Status().Healthy
		status := "down"
		if healthy {
			status = "healthy"
		}
		return HealthStatus{
			Name:           server,
			Status:         status,
			Transport:      "stdio",
			CircuitBreaker: cb.Status(),
		}
	}

	if cfg.URL == "" {
		return HealthStatus{Name: server, Status: "unknown", Error: "no URL configured"}
	}

	healthURL := cfg.URL
	if cfg.HealthEndpoint != "" {
		healthURL = strings.TrimRight(cfg.URL, "/") + cfg.HealthEndpoint
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return HealthStatus{Name: server, Status: "down", Transport: "http", Error: err.Error(), CircuitBreaker: cb.Status()}
	}

	resp, err := r.healthHTTP.Do(httpReq)
	if err != nil {
		return HealthStatus{Name: server, Status: "down", Transport: "http", Error: err.Error(), CircuitBreaker: cb.Status()}
	}
	defer resp.Body.Close()

	status := "degraded"
	if resp.StatusCode == http.StatusOK {
		status = "healthy"
	}
	return HealthStatus{
		Name:           server,
		Status:         status,
		Transport:      "http",
		StatusCode:     resp.StatusCode,
		CircuitBreaker: cb.Status(),
	}
}

// AllHealth checks every registered server concurrently, one errgroup
// goroutine per server with no concurrency limit, and returns results in a
// stable order.
func (r *Registry) AllHealth(ctx context.Context) []HealthStatus {
	names := r.ListServers()
	results := make([]HealthStatus, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			results[i] = r.HealthCheck(gctx, name)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// AllBreakerStatus returns a status snapshot for every circuit breaker.
func (r *Registry) AllBreakerStatus() []breaker.Status {
	return r.breakers.AllStatus()
}

// ResetBreaker resets a single named breaker.
func (r *Registry) ResetBreaker(name string) bool {
	return r.breakers.ResetOne(name)
}

// ResetAllBreakers resets every circuit breaker to CLOSED.
func (r *Registry) ResetAllBreakers() {
	r.breakers.ResetAll()
}
