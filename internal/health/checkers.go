package health

import (
	"context"
	"time"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/circuitbreaker"
)

const highLatency = 100 * time.Millisecond

// DatabaseHealthChecker checks the interaction store
type DatabaseHealthChecker struct {
	wrapper *circuitbreaker.DatabaseWrapper
	timeout time.Duration
}

// NewDatabaseHealthChecker creates a database health checker
func NewDatabaseHealthChecker(wrapper *circuitbreaker.DatabaseWrapper) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{wrapper: wrapper, timeout: 5 * time.Second}
}

func (d *DatabaseHealthChecker) Name() string           { return "database" }
func (d *DatabaseHealthChecker) IsCritical() bool       { return false }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return d.timeout }

// Check pings the database. Persistence is best-effort, so failures degrade
// the service rather than take it down.
func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	if d.wrapper.IsCircuitBreakerOpen() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "circuit breaker open",
			Message: "Database circuit breaker is open",
		}
	}

	start := time.Now()
	err := d.wrapper.PingContext(ctx)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: "Database ping failed",
			Details: map[string]interface{}{"latency_ms": latency.Milliseconds()},
		}
	}

	stats := d.wrapper.GetDB().Stats()
	result := CheckResult{
		Status:  StatusHealthy,
		Message: "Database healthy",
		Details: map[string]interface{}{
			"latency_ms":           latency.Milliseconds(),
			"open_connections":     stats.OpenConnections,
			"max_open_connections": stats.MaxOpenConnections,
			"in_use_connections":   stats.InUse,
		},
	}
	switch {
	case stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections:
		result.Status = StatusDegraded
		result.Message = "Database connection pool exhausted"
	case latency > highLatency:
		result.Status = StatusDegraded
		result.Message = "Database responding but with high latency"
	}
	return result
}

// RedisHealthChecker checks the Redis instance behind the archive and knowledge cache
type RedisHealthChecker struct {
	wrapper *circuitbreaker.RedisWrapper
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker
func NewRedisHealthChecker(wrapper *circuitbreaker.RedisWrapper) *RedisHealthChecker {
	return &RedisHealthChecker{wrapper: wrapper, timeout: 5 * time.Second}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return false }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	if r.wrapper.IsCircuitBreakerOpen() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "circuit breaker open",
			Message: "Redis circuit breaker is open",
		}
	}

	start := time.Now()
	err := r.wrapper.Ping(ctx).Err()
	latency := time.Since(start)
	details := map[string]interface{}{"latency_ms": latency.Milliseconds()}
	switch {
	case err != nil:
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "Redis ping failed", Details: details}
	case latency > highLatency:
		return CheckResult{Status: StatusDegraded, Message: "Redis responding but with high latency", Details: details}
	default:
		return CheckResult{Status: StatusHealthy, Message: "Redis healthy", Details: details}
	}
}

// BreakerHealthChecker reports the state of a circuit breaker, typically the
// LLM gateway's. An open breaker degrades the service.
type BreakerHealthChecker struct {
	name    string
	breaker *circuitbreaker.CircuitBreaker
}

// NewBreakerHealthChecker creates a checker named after the guarded dependency.
func NewBreakerHealthChecker(name string, breaker *circuitbreaker.CircuitBreaker) *BreakerHealthChecker {
	return &BreakerHealthChecker{name: name, breaker: breaker}
}

func (b *BreakerHealthChecker) Name() string           { return b.name }
func (b *BreakerHealthChecker) IsCritical() bool       { return false }
func (b *BreakerHealthChecker) Timeout() time.Duration { return time.Second }

func (b *BreakerHealthChecker) Check(context.Context) CheckResult {
	state := b.breaker.State()
	counts := b.breaker.Counts()
	result := CheckResult{
		Details: map[string]interface{}{
			"state":                state.String(),
			"consecutive_failures": counts.ConsecutiveFailures,
			"total_failures":       counts.TotalFailures,
		},
	}
	switch state {
	case circuitbreaker.StateClosed:
		result.Status = StatusHealthy
		result.Message = "Circuit closed"
	case circuitbreaker.StateHalfOpen:
		result.Status = StatusDegraded
		result.Message = "Circuit half-open, probing"
	default:
		result.Status = StatusUnhealthy
		result.Message = "Circuit open, deterministic analysis in use"
	}
	return result
}

// CustomHealthChecker adapts a function into a Checker
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{name: name, critical: critical, timeout: timeout, checkFn: checkFn}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
