package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func healthy(context.Context) (bool, error)   { return true, nil }
func unhealthy(context.Context) (bool, error) { return false, errors.New("circuit open") }

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, serviceName, status.Service)
}

func TestReadinessHandler_AllHealthy(t *testing.T) {
	rec := httptest.NewRecorder()
	handler := ReadinessHandler(map[string]HealthCheckFunc{
		"synthesizer": healthy,
		"viewer":      healthy,
	})
	handler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "ready", status.Status)
	assert.Len(t, status.Dependencies, 2)
}

func TestReadinessHandler_Unhealthy(t *testing.T) {
	rec := httptest.NewRecorder()
	handler := ReadinessHandler(map[string]HealthCheckFunc{
		"synthesizer": unhealthy,
		"viewer":      healthy,
	})
	handler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "not_ready", status.Status)
	assert.Equal(t, "unhealthy", status.Dependencies["synthesizer"].Status)
	assert.Equal(t, "circuit open", status.Dependencies["synthesizer"].Message)
	assert.Equal(t, "healthy", status.Dependencies["viewer"].Status)
}

func TestGRPCHealthServer_ReflectsChecks(t *testing.T) {
	ready := make(chan bool, 1)
	ready <- false
	current := false
	check := func(context.Context) (bool, error) {
		select {
		case v := <-ready:
			current = v
		default:
		}
		return current, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewGRPCHealthServer(map[string]HealthCheckFunc{"viewer": check}, 20*time.Millisecond)
	go srv.Serve(ctx, lis)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	statusOf := func() healthpb.HealthCheckResponse_ServingStatus {
		callCtx, callCancel := context.WithTimeout(ctx, time.Second)
		defer callCancel()
		resp, err := client.Check(callCtx, &healthpb.HealthCheckRequest{Service: serviceName})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	assert.Eventually(t, func() bool {
		return statusOf() == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	ready <- true
	assert.Eventually(t, func() bool {
		return statusOf() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}
