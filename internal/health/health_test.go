package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/circuitbreaker"
)

func static(name string, critical bool, status CheckStatus) Checker {
	return NewCustomHealthChecker(name, critical, time.Second, func(context.Context) CheckResult {
		return CheckResult{Status: status}
	})
}

func TestManagerAggregatesStatus(t *testing.T) {
	cases := []struct {
		name     string
		checkers []Checker
		status   CheckStatus
		ready    bool
	}{
		{"no checkers", nil, StatusHealthy, true},
		{"all healthy", []Checker{static("a", true, StatusHealthy), static("b", false, StatusHealthy)}, StatusHealthy, true},
		{"non-critical failure", []Checker{static("a", true, StatusHealthy), static("llm", false, StatusUnhealthy)}, StatusDegraded, true},
		{"degraded component", []Checker{static("a", true, StatusDegraded)}, StatusDegraded, true},
		{"critical failure", []Checker{static("a", true, StatusUnhealthy), static("b", false, StatusHealthy)}, StatusUnhealthy, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(time.Minute, zaptest.NewLogger(t))
			for _, c := range tc.checkers {
				require.NoError(t, m.RegisterChecker(c))
			}
			overall := m.GetOverallHealth(context.Background())
			assert.Equal(t, tc.status, overall.Status)
			assert.Equal(t, tc.ready, overall.Ready)
			assert.True(t, m.IsLive(context.Background()))
		})
	}
}

func TestManagerRegistration(t *testing.T) {
	m := NewManager(0, nil)
	require.NoError(t, m.RegisterChecker(static("redis", false, StatusHealthy)))
	assert.Error(t, m.RegisterChecker(static("redis", false, StatusHealthy)))
	assert.Error(t, m.RegisterChecker(static("", false, StatusHealthy)))

	detailed := m.GetDetailedHealth(context.Background())
	assert.Equal(t, 1, detailed.Summary.Total)
	assert.Equal(t, "redis", detailed.Components["redis"].Component)
	assert.Contains(t, m.GetLastResults(), "redis")

	require.NoError(t, m.UnregisterChecker("redis"))
	assert.Error(t, m.UnregisterChecker("redis"))
	assert.Empty(t, m.GetLastResults())
}

func TestCheckTimeoutIsApplied(t *testing.T) {
	m := NewManager(0, nil)
	require.NoError(t, m.RegisterChecker(NewCustomHealthChecker("slow", true, 20*time.Millisecond,
		func(ctx context.Context) CheckResult {
			<-ctx.Done()
			return CheckResult{Status: StatusUnhealthy, Error: ctx.Err().Error()}
		})))
	start := time.Now()
	assert.False(t, m.IsReady(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestBreakerHealthChecker(t *testing.T) {
	cfg := circuitbreaker.DefaultConfig()
	cfg.MaxRequests = 1
	cfg.Timeout = time.Hour
	cfg.FailureThreshold = 1
	cb := circuitbreaker.NewCircuitBreaker("llm-gateway", cfg, zaptest.NewLogger(t))
	checker := NewBreakerHealthChecker("llm", cb)

	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)

	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })
	res := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "open", res.Details["state"])
	assert.False(t, checker.IsCritical())
}

func TestRedisHealthChecker(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	checker := NewRedisHealthChecker(circuitbreaker.NewRedisWrapper(client, "test", zaptest.NewLogger(t)))

	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)

	mr.Close()
	res := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestDatabaseHealthChecker(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	checker := NewDatabaseHealthChecker(circuitbreaker.NewDatabaseWrapper(db, zaptest.NewLogger(t)))

	mock.ExpectPing()
	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	res := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "connection refused", res.Error)
}

func TestHTTPEndpoints(t *testing.T) {
	m := NewManager(0, nil)
	require.NoError(t, m.RegisterChecker(static("database", true, StatusUnhealthy)))
	mux := http.NewServeMux()
	NewHTTPHandler(m, zaptest.NewLogger(t)).RegisterRoutes(mux)

	get := func(path string) (*httptest.ResponseRecorder, map[string]interface{}) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec, body
	}

	rec, body := get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])

	rec, body = get("/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["ready"])

	rec, body = get("/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", body["status"])

	rec, body = get("/health/detailed")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	components := body["components"].(map[string]interface{})
	assert.Equal(t, "unhealthy", components["database"].(map[string]interface{})["status"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
