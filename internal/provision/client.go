package provision

import (
	"bytes"
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

	"github.com/JacobWarners/New-Chaos-Web/internal/domain"
	apiTypes "github.com/JacobWarners/New-Chaos-Web/pkg/api"
)

// ScenariosPath is the provisioning endpoint relative to the server URL.
const ScenariosPath = "/api/scenarios"

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

var (
	ErrProvisioning = errors.New("provisioning failed")
	// ErrCoolingDown is returned without contacting the server while the
	// breaker is open.
	ErrCoolingDown = errors.New("provisioning paused after repeated failures")
)

type Client struct {
	base    *url.URL
	http    *http.Client
	logger  *slog.Logger
	breaker *Breaker
}

// NewClient returns a client for the server at baseURL. A nil httpClient gets
// one with a 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("server url %q: missing host", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:    base,
		http:    httpClient,
		logger:  logger.With("component", "provision"),
		breaker: NewBreaker(DefaultFailureThreshold, DefaultCooldown, nil),
	}, nil
}

// SetBreaker replaces the breaker guarding CreateSession. A nil breaker
// disables it.
func (c *Client) SetBreaker(b *Breaker) {
	c.breaker = b
}

// CreateSession asks the server to provision scenarioID. The returned response
// always carries a session id and a websocket path.
func (c *Client) CreateSession(ctx context.Context, scenarioID string) (apiTypes.ScenarioResponse, error) {
	if strings.TrimSpace(scenarioID) == "" {
		return apiTypes.ScenarioResponse{}, fmt.Errorf("%w: scenario id is required", ErrProvisioning)
	}
	if c.breaker != nil {
		if wait := c.breaker.Remaining(); wait > 0 {
			return apiTypes.ScenarioResponse{}, fmt.Errorf("%w: retry in %s", ErrCoolingDown, wait.Round(time.Second))
		}
	}
	resp, err := c.createSession(ctx, scenarioID)
	if c.breaker != nil {
		switch {
		case err == nil:
			c.breaker.RecordSuccess()
		case ctx.Err() == nil:
			if c.breaker.RecordFailure() {
				c.logger.Warn("provisioning paused", "cooldown", c.breaker.Remaining())
			}
		}
	}
	return resp, err
}

func (c *Client) createSession(ctx context.Context, scenarioID string) (apiTypes.ScenarioResponse, error) {
	body, err := json.Marshal(apiTypes.ScenarioRequest{Repo: scenarioID})
	if err != nil {
		return apiTypes.ScenarioResponse{}, fmt.Errorf("encode request: %w", err)
	}

	endpoint := c.base.JoinPath(ScenariosPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return apiTypes.ScenarioResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Info("requesting scenario", "scenario", scenarioID, "url", endpoint.String())
	resp, err := c.http.Do(req)
	if err != nil {
		return apiTypes.ScenarioResponse{}, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return apiTypes.ScenarioResponse{}, fmt.Errorf("%w: read response: %v", ErrProvisioning, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiTypes.ScenarioResponse{}, fmt.Errorf("%w: %s", ErrProvisioning, errorText(resp, raw))
	}

	var out apiTypes.ScenarioResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return apiTypes.ScenarioResponse{}, fmt.Errorf("%w: decode response: %v", ErrProvisioning, err)
	}
	if out.SessionID == "" || out.WebsocketPath == "" {
		return apiTypes.ScenarioResponse{}, fmt.Errorf("%w: response is missing session id or websocket path", ErrProvisioning)
	}
	c.logger.Info("scenario provisioned", "scenario", scenarioID, "session_id", out.SessionID)
	return out, nil
}

// Lease converts a provisioning response into the pair a session is started
// with.
func Lease(resp apiTypes.ScenarioResponse) domain.Lease {
	return domain.Lease{SessionID: resp.SessionID, WebsocketPath: resp.WebsocketPath}
}

func errorText(resp *http.Response, raw []byte) string {
	var errResp apiTypes.ErrorResponse
	if err := json.Unmarshal(raw, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	return fmt.Sprintf("server returned %s", resp.Status)
}
