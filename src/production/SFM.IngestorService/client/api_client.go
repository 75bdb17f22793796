package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	config "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Config"
	logger "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Logger"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
)

// ErrRejected is returned when the API service refuses a batch with a 4xx.
// Rejected batches are not retried.
var ErrRejected = errors.New("api service rejected batch")

var internalPaths = map[sfmmodels.InboundKind]string{
	sfmmodels.InboundTelemetry: "/internal/telemetry",
	sfmmodels.InboundStatus:    "/internal/status",
	sfmmodels.InboundAck:       "/internal/commands/ack",
}

// APIClient forwards device messages to the API service
type APIClient struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	retry   config.RetryConfig
	logger  *logger.Logger
}

// NewAPIClient creates a client for the API service's internal endpoints
func NewAPIClient(cfg *config.IngestorConfig, log *logger.Logger) *APIClient {
	log = log.WithComponent("api-client")

	maxFailures := cfg.CircuitBreaker.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}

	return &APIClient{
		http: resty.New().
			SetBaseURL(cfg.ApiServiceURL).
			SetTimeout(30*time.Second).
			SetAuthToken(cfg.InternalAPISecret).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", "farm-ingestor"),
		retry:  cfg.Retry,
		logger: log,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "api-forward",
			Interval: cfg.CircuitBreaker.Interval,
			Timeout:  cfg.CircuitBreaker.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= uint32(maxFailures)
			},
			// a rejected batch says nothing about API availability
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrRejected)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
		}),
	}
}

func (c *APIClient) backOff(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	if c.retry.InitialInterval > 0 {
		bo.InitialInterval = c.retry.InitialInterval
	}
	if c.retry.MaxInterval > 0 {
		bo.MaxInterval = c.retry.MaxInterval
	}
	bo.MaxElapsedTime = 0

	attempts := c.retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx)
}

// Forward posts one batch of a single kind and returns the API's counts.
// Transport errors and 5xx responses are retried with exponential backoff
// through the circuit breaker.
func (c *APIClient) Forward(ctx context.Context, kind sfmmodels.InboundKind, batch sfmmodels.InboundBatch) (*sfmmodels.BatchResult, error) {
	path, ok := internalPaths[kind]
	if !ok {
		return nil, fmt.Errorf("unknown inbound kind %q", kind)
	}

	var result sfmmodels.BatchResult
	operation := func() error {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			resp, err := c.http.R().
				SetContext(ctx).
				SetBody(batch).
				SetResult(&result).
				Post(path)
			if err != nil {
				return nil, fmt.Errorf("post %s: %w", path, err)
			}
			switch {
			case resp.StatusCode() >= http.StatusInternalServerError:
				return nil, fmt.Errorf("post %s: status %d", path, resp.StatusCode())
			case resp.IsError():
				return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode(), resp.String())
			}
			return nil, nil
		})
		if errors.Is(err, ErrRejected) || errors.Is(err, gobreaker.ErrOpenState) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.RetryNotify(operation, c.backOff(ctx), func(err error, next time.Duration) {
		c.logger.Logger.Warn().Err(err).Str("kind", string(kind)).Dur("retry_in", next).Msg("forward failed, retrying")
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Health checks that the API service answers its liveness probe
func (c *APIClient) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/health/live")
	if err != nil {
		return fmt.Errorf("failed to check API health: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("API health check failed with status %d", resp.StatusCode())
	}
	return nil
}

// BreakerStatus reports the forward breaker for health output
func (c *APIClient) BreakerStatus() map[string]interface{} {
	counts := c.breaker.Counts()
	return map[string]interface{}{
		"state":                c.breaker.State().String(),
		"consecutive_failures": counts.ConsecutiveFailures,
		"total_failures":       counts.TotalFailures,
	}
}
