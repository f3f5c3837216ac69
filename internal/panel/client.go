package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"krypton/internal/domain"

	"go.uber.org/zap"
)

const (
	configTimeout   = 10 * time.Second
	validateTimeout = 5 * time.Second
	configAttempts  = 3
)

// Client talks to the two panel endpoints the daemon consumes.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(baseURL string, log *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		log:        log.Named("panel"),
	}
}

// FetchConfig pulls the authoritative server configuration. Transient
// panel trouble is retried with linear backoff before giving up.
func (c *Client) FetchConfig(ctx context.Context, serverID string) (*domain.ServerConfig, error) {
	url := fmt.Sprintf("%s/api/servers/%s/config", c.baseURL, serverID)

	var lastErr error
	for attempt := 1; attempt <= configAttempts; attempt++ {
		cfg, err := c.fetchConfigOnce(ctx, url)
		if err == nil {
			return cfg, nil
		}
		lastErr = err
		c.log.Warn("config fetch attempt failed",
			zap.String("server", serverID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < configAttempts {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("%w: %v", domain.ErrPanelUnavailable, lastErr)
}

func (c *Client) fetchConfigOnce(ctx context.Context, url string) (*domain.ServerConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, configTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("panel returned %d", resp.StatusCode)
	}

	var cfg domain.ServerConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("could not decode server config: %w", err)
	}
	return &cfg, nil
}

// Validate asks the panel whether a session token may attach to a
// server. Failures are reported as unvalidated, never as an error;
// the caller's only recourse either way is to close the socket.
func (c *Client) Validate(ctx context.Context, serverID string, token string) *domain.ValidateResponse {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/servers/%s/validate/%s", c.baseURL, serverID, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &domain.ValidateResponse{Validated: false}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("token validation request failed",
			zap.String("server", serverID), zap.Error(err))
		return &domain.ValidateResponse{Validated: false}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.ValidateResponse{Validated: false}
	}

	var verdict domain.ValidateResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		c.log.Warn("could not decode validation response",
			zap.String("server", serverID), zap.Error(err))
		return &domain.ValidateResponse{Validated: false}
	}
	return &verdict
}
