package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func resetHealthChecker() {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

func TestRegisterComponentRecordsHealthAndMessage(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("engine", true, "bootstrapped")
	RegisterComponent("lattice", false, "dialing seeds")

	healthChecker.mu.RLock()
	engine := healthChecker.components["engine"]
	lattice := healthChecker.components["lattice"]
	healthChecker.mu.RUnlock()

	require.True(t, engine.Healthy)
	require.Equal(t, "bootstrapped", engine.Message)
	require.False(t, lattice.Healthy)
	require.Equal(t, "dialing seeds", lattice.Message)
}

func TestGetHealthAllHealthyReportsHealthy(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("engine", true, "ready")
	RegisterComponent("lattice", true, "ready")
	RegisterComponent("control", true, "ready")

	health := GetHealth()
	require.Equal(t, "healthy", health.Status)
	require.Equal(t, "healthy", health.Components["engine"])
	require.Equal(t, "healthy", health.Components["lattice"])
	require.Equal(t, "healthy", health.Components["control"])
}

func TestGetHealthOneUnhealthyReportsUnhealthy(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("engine", true, "ready")
	RegisterComponent("lattice", false, "raft leader unreachable")
	RegisterComponent("control", true, "ready")

	health := GetHealth()
	require.Equal(t, "unhealthy", health.Status)
	require.Equal(t, "healthy", health.Components["engine"])
	require.Contains(t, health.Components["lattice"], "unhealthy")
	require.Contains(t, health.Components["lattice"], "raft leader unreachable")
}

func TestGetReadinessAllReadyReportsReady(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("engine", true, "ready")
	RegisterComponent("lattice", true, "ready")
	RegisterComponent("control", true, "ready")

	readiness := GetReadiness()
	require.Equal(t, "ready", readiness.Status)
	require.Empty(t, readiness.Message)
}

func TestGetReadinessMissingCriticalComponentReportsNotReady(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("engine", true, "ready")
	RegisterComponent("control", true, "ready")
	// lattice never registered

	readiness := GetReadiness()
	require.Equal(t, "not_ready", readiness.Status)
	require.Contains(t, readiness.Message, "lattice")
	require.Equal(t, "not registered", readiness.Components["lattice"])
}

func TestGetReadinessCriticalComponentUnhealthyReportsNotReady(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("engine", true, "ready")
	RegisterComponent("lattice", true, "ready")
	RegisterComponent("control", false, "waiting for link table seed")

	readiness := GetReadiness()
	require.Equal(t, "not_ready", readiness.Status)
	require.Contains(t, readiness.Components["control"], "waiting for link table seed")
}

func TestHealthHandlerHealthyReturns200(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("engine", true, "ready")
	RegisterComponent("lattice", true, "ready")
	RegisterComponent("control", true, "ready")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	HealthHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"healthy"`)
}

func TestHealthHandlerUnhealthyReturns503(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("engine", false, "panic during instantiate")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	HealthHandler()(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyHandlerReadyReturns200(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("engine", true, "ready")
	RegisterComponent("lattice", true, "ready")
	RegisterComponent("control", true, "ready")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	ReadyHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyHandlerNotReadyReturns503(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("engine", true, "ready")
	// lattice and control never registered

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	ReadyHandler()(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLivenessHandlerAlwaysReturns200(t *testing.T) {
	resetHealthChecker()
	RegisterComponent("engine", false, "crashed")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	LivenessHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"alive"`)
}
