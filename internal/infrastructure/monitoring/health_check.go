package monitoring

import (
	"context"
	"errors"
	"sync"
	"time"

	"sfulink/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

var errChannelNotOpen = errors.New("signaling channel not open")

// HealthChecker runs named dependency checks. Background checks cache their
// latest result; CheckAll runs every check inline.
type HealthChecker struct {
	checks []HealthCheck
	mu     sync.RWMutex
	last   map[string]string
}

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Interval time.Duration
	Timeout  time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks: make([]HealthCheck, 0),
		last:   make(map[string]string),
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error, interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:     name,
		Check:    check,
		Interval: interval,
		Timeout:  timeout,
	})
}

// AddChannelCheck reports unhealthy while the signaling channel is not open
func (h *HealthChecker) AddChannelCheck(state func() domain.ChannelState, interval time.Duration) {
	h.AddCheck("signaling", func(context.Context) error {
		if state() != domain.ChannelOpen {
			return errChannelNotOpen
		}
		return nil
	}, interval, time.Second)
}

// AddRedisCheck pings the redis server backing the stream provider
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, interval, timeout)
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}

	for _, check := range checks {
		result := h.run(ctx, check)
		status.Checks[check.Name] = result
		if result != "healthy" {
			status.Status = "unhealthy"
		}
	}

	return status
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}

// Last returns the results cached by background checks
func (h *HealthChecker) Last() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]string, len(h.last))
	for k, v := range h.last {
		out[k] = v
	}
	return out
}

func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, check := range h.checks {
		go h.runCheckPeriodically(ctx, check)
	}
}

func (h *HealthChecker) runCheckPeriodically(ctx context.Context, check HealthCheck) {
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := h.run(ctx, check)
			h.mu.Lock()
			h.last[check.Name] = result
			h.mu.Unlock()
		}
	}
}

func (h *HealthChecker) run(ctx context.Context, check HealthCheck) string {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := check.Check(checkCtx); err != nil {
		return err.Error()
	}
	return "healthy"
}
