package client

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	config "github.com/kode-sdk/kode-chat/config"
	logger "github.com/kode-sdk/kode-chat/internal/logger"
)

// RetryableHTTPClient wraps http.Client with retry logic
type RetryableHTTPClient struct {
	client *http.Client
	config config.RetryConfig
}

// NewRetryableHTTPClient creates a new retryable HTTP client
func NewRetryableHTTPClient(timeout time.Duration, cfg config.RetryConfig) *RetryableHTTPClient {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryableHTTPClient{
		client: &http.Client{Timeout: timeout},
		config: cfg,
	}
}

// Do executes an HTTP request with retry logic. Requests with a body are
// only retried when the body can be rewound through GetBody.
func (r *RetryableHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if !r.config.Enabled {
		return r.client.Do(req)
	}

	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		reqClone, err := r.cloneRequest(req, attempt)
		if err != nil {
			return nil, err
		}

		logger.Debug("HTTP request attempt",
			"attempt", attempt,
			"max_attempts", r.config.MaxAttempts,
			"url", req.URL.String(),
			"method", req.Method)

		resp, err := r.client.Do(reqClone)

		if err == nil {
			if !r.isRetryableStatusCode(resp.StatusCode) || attempt >= r.config.MaxAttempts {
				return resp, nil
			}
			_ = resp.Body.Close()
			logger.Debug("Received retryable status code",
				"status_code", resp.StatusCode,
				"attempt", attempt)
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
		} else if !r.isRetryableError(err) {
			return nil, err
		} else {
			logger.Debug("Retryable error encountered",
				"error", err.Error(),
				"attempt", attempt)
			lastErr = err
		}

		if attempt < r.config.MaxAttempts {
			backoff := r.calculateBackoff(attempt)
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(time.Duration(backoff) * time.Second):
			}
		}
	}

	return nil, fmt.Errorf("max retry attempts (%d) exceeded, last error: %w", r.config.MaxAttempts, lastErr)
}

func (r *RetryableHTTPClient) cloneRequest(req *http.Request, attempt int) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if attempt == 1 || req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body cannot be replayed for retry")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	clone.Body = body
	return clone, nil
}

// isRetryableError determines if an error should trigger a retry
func (r *RetryableHTTPClient) isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "EOF")
}

// isRetryableStatusCode determines if an HTTP status code should trigger a retry
func (r *RetryableHTTPClient) isRetryableStatusCode(statusCode int) bool {
	if len(r.config.RetryableStatusCodes) > 0 {
		for _, code := range r.config.RetryableStatusCodes {
			if code == statusCode {
				return true
			}
		}
		return false
	}

	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// calculateBackoff returns the delay in seconds before the next attempt
func (r *RetryableHTTPClient) calculateBackoff(attempt int) int {
	backoff := r.config.InitialBackoffSec
	for i := 1; i < attempt; i++ {
		backoff *= r.config.BackoffMultiplier
	}

	if backoff > r.config.MaxBackoffSec {
		backoff = r.config.MaxBackoffSec
	}

	return backoff
}
