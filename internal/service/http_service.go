// Package service provides backend adapters implementing the gateway's
// Service contract.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fundview/gateway/internal/domain"
	"github.com/fundview/gateway/pkg/logger"
)

// HTTPService adapts an HTTP upstream to the gateway's Service contract.
// Every call is bounded by the configured timeout; a timeout or transport
// error surfaces as an upstream failure.
type HTTPService struct {
	name            string
	baseURL         string
	healthCheckPath string
	client          *http.Client
	logger          *logger.Logger
}

// HTTPServiceConfig configures an HTTP-backed service
type HTTPServiceConfig struct {
	Name            string        `yaml:"name"`
	BaseURL         string        `yaml:"base_url"`
	HealthCheckPath string        `yaml:"health_check_path"`
	Timeout         time.Duration `yaml:"timeout"`
}

// NewHTTPService creates an HTTP-backed service instance
func NewHTTPService(config HTTPServiceConfig, log *logger.Logger) (*HTTPService, error) {
	if config.BaseURL == "" {
		return nil, domain.NewConfiguration("http service %q requires a base URL", config.Name)
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, domain.NewConfiguration("http service %q has invalid base URL: %v", config.Name, err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HealthCheckPath == "" {
		config.HealthCheckPath = "/health"
	}

	return &HTTPService{
		name:            config.Name,
		baseURL:         strings.TrimSuffix(config.BaseURL, "/"),
		healthCheckPath: config.HealthCheckPath,
		client: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
		logger: log.ServiceLogger(config.Name),
	}, nil
}

// Invoke forwards the request to the upstream and converts the reply to the
// uniform response shape. Upstream 5xx replies are reported as errors so the
// circuit breaker sees them as failures.
func (s *HTTPService) Invoke(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	target, err := s.buildURL(req)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	s.logger.WithField("status_code", resp.StatusCode).
		WithField("duration_ms", time.Since(start).Milliseconds()).
		Debug("Upstream request completed")

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	return &domain.Response{
		StatusCode: resp.StatusCode,
		Data:       decodePayload(resp.Header.Get("Content-Type"), payload),
	}, nil
}

// HealthCheck probes the upstream's health endpoint.
func (s *HTTPService) HealthCheck(ctx context.Context) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+s.healthCheckPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build health check request: %w", err)
	}
	req.Header.Set("User-Agent", "gateway-health-monitor/1.0")
	req.Header.Set("Accept", "application/json, text/plain, */*")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}, nil
}

func (s *HTTPService) buildURL(req *domain.Request) (string, error) {
	target, err := url.Parse(s.baseURL + req.Path)
	if err != nil {
		return "", fmt.Errorf("failed to build upstream URL: %w", err)
	}

	if len(req.QueryParams) > 0 {
		query := target.Query()
		for key, value := range req.QueryParams {
			query.Set(key, value)
		}
		target.RawQuery = query.Encode()
	}
	return target.String(), nil
}

// decodePayload keeps JSON payloads structured and everything else as a string.
func decodePayload(contentType string, payload []byte) interface{} {
	if len(payload) == 0 {
		return nil
	}
	if strings.Contains(contentType, "application/json") {
		var decoded interface{}
		if err := json.Unmarshal(payload, &decoded); err == nil {
			return decoded
		}
	}
	return string(payload)
}
