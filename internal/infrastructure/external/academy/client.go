// Package academy is the client of the academy directory service, the system
// of record for practitioner profiles and staff permissions.
package academy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dojo-hub/progression-engine/internal/domain/progression"
	"github.com/dojo-hub/progression-engine/internal/domain/shared"
	"github.com/dojo-hub/progression-engine/pkg/circuitbreaker"
	"github.com/dojo-hub/progression-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the directory client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	BreakerThreshold int
	BreakerTimeout   time.Duration

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:          baseURL,
		Timeout:          5 * time.Second,
		MaxRetries:       3,
		RetryBaseDelay:   200 * time.Millisecond,
		RetryMaxDelay:    3 * time.Second,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client implements progression.Directory and progression.Authorizer over HTTP.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	retrier    *retry.Retrier
	breaker    *circuitbreaker.CircuitBreaker
}

var (
	_ progression.Directory  = (*Client)(nil)
	_ progression.Authorizer = (*Client)(nil)
)

// NewClient creates a new directory client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	c := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     config.Logger,
		retrier:    retry.DirectoryRetrier(config.MaxRetries, config.RetryBaseDelay, config.RetryMaxDelay),
	}
	c.breaker = circuitbreaker.DirectoryBreaker(config.BreakerThreshold, config.BreakerTimeout,
		func(name string, from, to circuitbreaker.State) {
			c.logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
		isOutage,
	)
	return c
}

// profileDTO is the directory representation of a practitioner.
type profileDTO struct {
	ID          string `json:"id"`
	AcademyID   string `json:"academy_id"`
	DateOfBirth string `json:"date_of_birth"` // YYYY-MM-DD, may be empty
	Active      bool   `json:"active"`
}

type permissionDTO struct {
	Allowed bool `json:"allowed"`
}

// Profile implements progression.Directory.
func (c *Client) Profile(ctx context.Context, practitionerID string) (progression.Profile, error) {
	var dto profileDTO
	path := "/practitioners/" + url.PathEscape(practitionerID)
	if err := c.get(ctx, path, &dto); err != nil {
		if errors.Is(err, errNotFound) {
			return progression.Profile{}, shared.ErrPractitionerNotFound.
				WithMessage(fmt.Sprintf("practitioner %s not found in directory", practitionerID))
		}
		return progression.Profile{}, fmt.Errorf("directory profile %s: %w", practitionerID, err)
	}

	profile := progression.Profile{AcademyID: dto.AcademyID, Active: dto.Active}
	if dto.DateOfBirth != "" {
		dob, err := time.Parse("2006-01-02", dto.DateOfBirth)
		if err != nil {
			return progression.Profile{}, fmt.Errorf("directory profile %s: bad date_of_birth %q", practitionerID, dto.DateOfBirth)
		}
		profile.DateOfBirth = dob
	}
	return profile, nil
}

// CanGrantPromotion implements progression.Authorizer.
func (c *Client) CanGrantPromotion(ctx context.Context, actorID, practitionerID string) (bool, error) {
	var dto permissionDTO
	path := fmt.Sprintf("/staff/%s/can-grant?practitioner_id=%s", url.PathEscape(actorID), url.QueryEscape(practitionerID))
	if err := c.get(ctx, path, &dto); err != nil {
		if errors.Is(err, errNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("directory permission %s: %w", actorID, err)
	}
	return dto.Allowed, nil
}

// HealthCheck reports whether the directory answers. An open breaker counts
// as unhealthy without a network call.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.breaker.State() == circuitbreaker.StateOpen {
		return fmt.Errorf("%w: directory circuit open", shared.ErrServiceUnavailable)
	}
	var ignored json.RawMessage
	return c.doSingleRequest(ctx, "/health", &ignored)
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP
// ══════════════════════════════════════════════════════════════════════════════

var errNotFound = errors.New("directory: not found")

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("directory: status %d: %s", e.StatusCode, e.Body)
}

// isOutage tells the breaker which errors mean the directory is unhealthy.
func isOutage(err error) bool {
	if errors.Is(err, errNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.doSingleRequest(ctx, path, out)
		})
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	return err
}

func (c *Client) doSingleRequest(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(err)
		}
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return retry.Permanent(errNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return retry.Retryable(&StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	case resp.StatusCode >= 400:
		return retry.Permanent(&StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	if err := json.Unmarshal(body, out); err != nil {
		return retry.Permanent(fmt.Errorf("unmarshal response: %w", err))
	}
	return nil
}
