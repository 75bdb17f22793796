package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Config"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
)

func testConfig(url string) *config.IngestorConfig {
	return &config.IngestorConfig{
		ApiServiceURL:     url,
		InternalAPISecret: "s3cret",
		CircuitBreaker:    config.CircuitBreakerConfig{MaxFailures: 3, OpenTimeout: time.Minute},
		Retry:             config.RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
	}
}

var batch = sfmmodels.InboundBatch{Messages: []sfmmodels.InboundMessage{
	{ExternalID: "esp32-01", Payload: json.RawMessage(`{"temperature":21}`), ReceivedAt: time.Now()},
}}

func TestForward_PostsToKindPathWithSecret(t *testing.T) {
	var gotPath, gotAuth string
	var got sfmmodels.InboundBatch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"received":1,"processed":1,"dropped":0}`))
	}))
	defer srv.Close()

	c := NewAPIClient(testConfig(srv.URL), logger.NewNopLogger())
	result, err := c.Forward(context.Background(), sfmmodels.InboundAck, batch)
	require.NoError(t, err)

	assert.Equal(t, "/internal/commands/ack", gotPath)
	assert.Equal(t, "Bearer s3cret", gotAuth)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "esp32-01", got.Messages[0].ExternalID)
	assert.Equal(t, 1, result.Processed)
}

func TestForward_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"received":1,"processed":1}`))
	}))
	defer srv.Close()

	c := NewAPIClient(testConfig(srv.URL), logger.NewNopLogger())
	_, err := c.Forward(context.Background(), sfmmodels.InboundTelemetry, batch)
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestForward_RejectionIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewAPIClient(testConfig(srv.URL), logger.NewNopLogger())
	for n := 0; n < 5; n++ {
		_, err := c.Forward(context.Background(), sfmmodels.InboundStatus, batch)
		assert.ErrorIs(t, err, ErrRejected)
	}
	assert.EqualValues(t, 5, atomic.LoadInt32(&calls))
	assert.Equal(t, "closed", c.BreakerStatus()["state"])
}

func TestForward_BreakerOpensOnOutage(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewAPIClient(testConfig(srv.URL), logger.NewNopLogger())
	_, err := c.Forward(context.Background(), sfmmodels.InboundTelemetry, batch)
	require.Error(t, err)
	assert.Equal(t, "open", c.BreakerStatus()["state"])

	// open breaker fails fast without reaching the server
	before := atomic.LoadInt32(&calls)
	_, err = c.Forward(context.Background(), sfmmodels.InboundTelemetry, batch)
	require.Error(t, err)
	assert.Equal(t, before, atomic.LoadInt32(&calls))
}

func TestForward_UnknownKind(t *testing.T) {
	c := NewAPIClient(testConfig("http://127.0.0.1:1"), logger.NewNopLogger())
	_, err := c.Forward(context.Background(), sfmmodels.InboundKind("bogus"), batch)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health/live" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.NoError(t, NewAPIClient(testConfig(srv.URL), logger.NewNopLogger()).Health(context.Background()))
	srv.Close()
	assert.Error(t, NewAPIClient(testConfig(srv.URL), logger.NewNopLogger()).Health(context.Background()))
}
