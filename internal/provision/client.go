// Package provision wraps the remote anti-detect browser service: creating
// fingerprinted remote profiles, starting and stopping their browsers, and
// deleting them again.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/terracebot/terrace/internal/logging"
)

// StartResult reports the outcome of starting a remote profile's browser.
type StartResult struct {
	Status   string `json:"status"`
	Endpoint string `json:"wsUrl"`
}

// Success reports whether the service accepted the start request.
func (r *StartResult) Success() bool {
	return r != nil && strings.EqualFold(r.Status, "success")
}

// Service is the provisioning surface the lifecycle manager consumes.
type Service interface {
	// CreateProfile creates a remote profile and returns its id.
	CreateProfile(ctx context.Context, opts FingerprintOptions) (string, error)

	// ValidateProfile checks that a previously recorded id still resolves.
	ValidateProfile(ctx context.Context, remoteID string) error

	// StartProfile starts the remote profile's browser and reports the
	// protocol endpoint to connect to.
	StartProfile(ctx context.Context, remoteID string) (*StartResult, error)

	// StopProfile stops the remote profile's browser.
	StopProfile(ctx context.Context, remoteID string) error

	// DeleteProfile deletes the remote profile.
	DeleteProfile(ctx context.Context, remoteID string) error
}

// LocalCleanupMarker is an optional Service capability: marking a profile so
// subsequent cleanup is handled locally instead of server-mediated.
// Services without it are simply skipped during shutdown.
type LocalCleanupMarker interface {
	MarkLocalCleanup(ctx context.Context, remoteID string) error
}

// Client talks to the provisioning HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *slog.Logger
}

// NewClient creates a provisioning API client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     logging.Component("provision"),
	}
}

// CreateProfile creates a remote profile with the given fingerprint.
func (c *Client) CreateProfile(ctx context.Context, opts FingerprintOptions) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/browser", opts, &created); err != nil {
		return "", fmt.Errorf("create profile: %w", err)
	}
	return created.ID, nil
}

// ValidateProfile checks a remote profile id still exists.
func (c *Client) ValidateProfile(ctx context.Context, remoteID string) error {
	if err := c.do(ctx, http.MethodGet, "/browser/"+remoteID, nil, nil); err != nil {
		return fmt.Errorf("validate profile %s: %w", remoteID, err)
	}
	return nil
}

// StartProfile starts the remote profile's browser.
func (c *Client) StartProfile(ctx context.Context, remoteID string) (*StartResult, error) {
	var result StartResult
	if err := c.do(ctx, http.MethodPost, "/browser/"+remoteID+"/start", nil, &result); err != nil {
		return nil, fmt.Errorf("start profile %s: %w", remoteID, err)
	}
	return &result, nil
}

// StopProfile stops the remote profile's browser.
func (c *Client) StopProfile(ctx context.Context, remoteID string) error {
	if err := c.do(ctx, http.MethodPost, "/browser/"+remoteID+"/stop", nil, nil); err != nil {
		return fmt.Errorf("stop profile %s: %w", remoteID, err)
	}
	return nil
}

// DeleteProfile deletes the remote profile. Deleting an already-deleted
// profile is treated as success so abandoned-then-completed deletes stay
// idempotent.
func (c *Client) DeleteProfile(ctx context.Context, remoteID string) error {
	err := c.do(ctx, http.MethodDelete, "/browser/"+remoteID, nil, nil)
	if err != nil && strings.Contains(err.Error(), "status 404") {
		c.log.Debug("delete of missing remote profile ignored", "remote_id", remoteID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete profile %s: %w", remoteID, err)
	}
	return nil
}

// MarkLocalCleanup flags a profile for local-mode cleanup.
func (c *Client) MarkLocalCleanup(ctx context.Context, remoteID string) error {
	body := map[string]bool{"isLocal": true}
	if err := c.do(ctx, http.MethodPatch, "/browser/"+remoteID+"/web", body, nil); err != nil {
		return fmt.Errorf("mark local cleanup %s: %w", remoteID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}
