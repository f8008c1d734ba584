package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	r := prometheus.NewRegistry()
	require.NoError(t, Register(r))
	require.NoError(t, Register(r))
	// A later nil registerer call is a no-op once registered.
	require.NoError(t, Register(nil))
}

func TestCountersRecordAfterRegister(t *testing.T) {
	r := prometheus.NewRegistry()
	require.NoError(t, Register(r))

	IncServerStart("/ws/a")
	IncServerStop("/ws/a")
	IncStartFailure("/ws/a", StageHealth)
	ObserveHealthCheckDuration("/ws/a", 0.25)
	SetRunningServers(3)

	families, err := r.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"codehydra_workspace_server_starts_total",
		"codehydra_workspace_server_stops_total",
		"codehydra_workspace_start_failures_total",
		"codehydra_workspace_health_check_duration_seconds",
		"codehydra_workspace_running_servers",
	} {
		assert.True(t, names[want], "missing metric family %s", want)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
