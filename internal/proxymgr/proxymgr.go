// Package proxymgr rotates the proxies handed to yt-dlp and keeps failing ones
// out of rotation for a while.
package proxymgr

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/url"
	"sync"
	"time"

	"batchdl/internal/config"
	"batchdl/internal/observability"
)

const (
	dialTimeout = 10 * time.Second
	maxBackoff  = time.Hour
)

type proxyState struct {
	failures     int
	coolingUntil time.Time
}

// Manager hands out proxies and tracks their failures.
type Manager struct {
	log         *slog.Logger
	metrics     *observability.Metrics
	maxFailures int
	backoff     time.Duration
	now         func() time.Time

	mu     sync.Mutex
	states map[string]*proxyState
	order  []string
}

// New creates a proxy manager for cfg.Proxy.Proxies.
func New(log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) *Manager {
	mgr := &Manager{
		log:         log.With(slog.String("package", "proxymgr")),
		metrics:     metrics,
		maxFailures: max(cfg.Proxy.MaxFailures, 1),
		backoff:     cfg.Proxy.FailureBackoff,
		now:         time.Now,
		states:      make(map[string]*proxyState, len(cfg.Proxy.Proxies)),
	}

	for _, proxy := range cfg.Proxy.Proxies {
		if _, dup := mgr.states[proxy]; dup {
			continue
		}

		mgr.states[proxy] = &proxyState{}
		mgr.order = append(mgr.order, proxy)
	}

	mgr.publishAvailable()

	return mgr
}

// HasProxies reports whether any proxy is configured.
func (m *Manager) HasProxies() bool {
	return len(m.order) > 0
}

// GetRandomProxy returns a random proxy that is not cooling down, or "" when none is.
func (m *Manager) GetRandomProxy() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	available := m.available()
	if len(available) == 0 {
		return ""
	}

	proxy := available[rand.IntN(len(available))]

	if m.metrics != nil {
		m.metrics.RecordProxyRequest(proxy)
	}

	return proxy
}

// MarkFailed counts a failure. From MaxFailures on, the proxy cools down for
// FailureBackoff doubled per extra failure, capped at one hour.
func (m *Manager) MarkFailed(proxy string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[proxy]
	if !ok {
		return
	}

	state.failures++

	if m.metrics != nil {
		m.metrics.RecordProxyFailure(proxy)
	}

	if state.failures < m.maxFailures {
		return
	}

	backoff := m.backoff << min(state.failures-m.maxFailures, 16)
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}

	state.coolingUntil = m.now().Add(backoff)

	m.log.Warn("proxy cooling down",
		slog.String("proxy", proxy),
		slog.Int("failures", state.failures),
		slog.Duration("backoff", backoff))

	m.publishAvailableLocked()
}

// MarkSuccess resets the failure count of a proxy.
func (m *Manager) MarkSuccess(proxy string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[proxy]
	if !ok {
		return
	}

	state.failures = 0
	state.coolingUntil = time.Time{}

	m.publishAvailableLocked()
}

// AvailableCount returns the number of proxies not cooling down.
func (m *Manager) AvailableCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.available())
}

// CheckAll dials every configured proxy once and marks unreachable ones failed.
// It returns the number of reachable proxies.
func (m *Manager) CheckAll(ctx context.Context) int {
	reachable := 0

	for _, proxy := range m.order {
		if ctx.Err() != nil {
			break
		}

		if err := m.dial(ctx, proxy); err != nil {
			m.log.WarnContext(ctx, "proxy unreachable", slog.String("proxy", proxy), slog.Any("error", err))
			m.MarkFailed(proxy)

			continue
		}

		reachable++
	}

	return reachable
}

func (m *Manager) dial(ctx context.Context, proxy string) error {
	u, err := url.Parse(proxy)
	if err != nil {
		return fmt.Errorf("parse proxy url: %w", err)
	}

	dialer := &net.Dialer{Timeout: dialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return fmt.Errorf("dial proxy: %w", err)
	}

	return conn.Close()
}

func (m *Manager) available() []string {
	now := m.now()
	out := make([]string, 0, len(m.order))

	for _, proxy := range m.order {
		if !now.Before(m.states[proxy].coolingUntil) {
			out = append(out, proxy)
		}
	}

	return out
}

func (m *Manager) publishAvailable() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.publishAvailableLocked()
}

func (m *Manager) publishAvailableLocked() {
	if m.metrics != nil {
		m.metrics.SetProxiesAvailable(len(m.available()))
	}
}
