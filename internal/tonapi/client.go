// Package tonapi talks to a TonAPI-compatible chain indexer.
package tonapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tonboost/pkg/faults"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL        = "https://tonapi.io"
	defaultTimeout        = 10 * time.Second
	defaultRequestsPerSec = 4
	maxErrorBodyBytes     = 512
)

var errNotFound = fmt.Errorf("%w: indexer resource", faults.ErrNotFound)

// Client is a TonAPI HTTP client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithTimeout bounds every request.
func WithTimeout(timeout time.Duration) Option {
	return func(client *Client) {
		if timeout > 0 {
			client.httpClient.Timeout = timeout
		}
	}
}

// WithRateLimit sets the sustained request rate. Zero disables limiting.
func WithRateLimit(requestsPerSecond float64) Option {
	return func(client *Client) {
		if requestsPerSecond <= 0 {
			client.limiter = nil
			return
		}
		client.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
}

// NewClient creates a TonAPI client. An empty baseURL selects the public endpoint.
func NewClient(baseURL string, apiKey string, options ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	client := &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRequestsPerSec), 1),
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client
}

// getJSON decodes a GET response into target. A 404 yields errNotFound.
func (client *Client) getJSON(ctx context.Context, path string, target any) error {
	if client.limiter != nil {
		if err := client.limiter.Wait(ctx); err != nil {
			return faults.Infrastructure(fmt.Errorf("rate limit: %w", err))
		}
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+path, nil)
	if err != nil {
		return faults.Infrastructure(fmt.Errorf("create request: %w", err))
	}
	request.Header.Set("Accept", "application/json")
	if client.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+client.apiKey)
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return faults.Infrastructure(fmt.Errorf("do request: %w", err))
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, response.Body)
		return errNotFound
	}
	if response.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return faults.Infrastructure(fmt.Errorf("indexer error %d: %s", response.StatusCode, strings.TrimSpace(string(body))))
	}

	decoder := json.NewDecoder(response.Body)
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		return faults.Infrastructure(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}
