package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/TheMichaelB/fieldsync/internal/config"
	"github.com/TheMichaelB/fieldsync/internal/events"
	"github.com/TheMichaelB/fieldsync/internal/models"
)

// HTTPClient handles HTTP communication with the backend.
type HTTPClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
	apiKey    string
	logger    *events.Logger

	// Retry configuration
	maxRetries int
	retryDelay time.Duration
}

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(cfg *config.RemoteConfig, logger *events.Logger) *HTTPClient {
	// Create transport with HTTP/2 support
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	// Configure HTTP/2
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Second,
		logger:     logger.WithField("component", "http_client"),
	}
}

// Request describes one call to the backend.
type Request struct {
	Method  string
	Path    string
	Body    []byte
	Headers map[string]string
}

// Do sends req, retrying transport failures and retryable statuses. Any other
// non-2xx response is returned as *models.APIError without retrying.
func (c *HTTPClient) Do(ctx context.Context, req Request) ([]byte, error) {
	url := c.baseURL + req.Path

	c.logger.WithFields(map[string]interface{}{
		"method": req.Method,
		"url":    url,
		"size":   len(req.Body),
	}).Debug("Sending request")

	var respBody []byte
	err := c.retry(ctx, func() error {
		var body io.Reader
		if req.Body != nil {
			body = bytes.NewReader(req.Body)
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
		if err != nil {
			return permanent(fmt.Errorf("create request: %w", err))
		}

		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set("User-Agent", c.userAgent)
		if c.apiKey != "" {
			httpReq.Header.Set("apikey", c.apiKey)
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := c.client.Do(httpReq)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		c.logger.WithFields(map[string]interface{}{
			"status": resp.StatusCode,
			"size":   len(data),
		}).Debug("Received response")

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			respBody = data
			return nil
		}

		apiErr := parseAPIError(resp.StatusCode, data)
		if c.isRetryable(resp.StatusCode) {
			return apiErr
		}
		return permanent(apiErr)
	})

	if err != nil {
		return nil, err
	}
	return respBody, nil
}

// parseAPIError decodes an error body. Backends disagree on the field
// carrying the text, so message, error and msg are all tried.
func parseAPIError(status int, body []byte) *models.APIError {
	apiErr := &models.APIError{StatusCode: status}

	var fields struct {
		Code    interface{} `json:"code"`
		Message string      `json:"message"`
		Error   string      `json:"error"`
		Msg     string      `json:"msg"`
	}
	if err := json.Unmarshal(body, &fields); err == nil {
		if fields.Code != nil {
			apiErr.Code = fmt.Sprint(fields.Code)
		}
		for _, text := range []string{fields.Message, fields.Error, fields.Msg} {
			if text != "" {
				apiErr.Message = text
				break
			}
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = string(body)
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	if apiErr.Code == "" {
		apiErr.Code = models.ErrCodeRemote
	}
	return apiErr
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

// retry executes a function with exponential backoff.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying request")

			select {
			case <-time.After(delay):
				delay *= 2 // Exponential backoff
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !c.isRetryableError(err) {
			var perm *permanentError
			if errors.As(err, &perm) {
				return perm.err
			}
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable checks if an HTTP status code is retryable.
func (c *HTTPClient) isRetryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		(status >= 500 && status < 600)
}

// isRetryableError checks if an error is retryable. Network errors are.
func (c *HTTPClient) isRetryableError(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
