package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"solar-telemetry/internal/apperr"
)

// HTTPGateway talks to a DTU-style device endpoint.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (g *HTTPGateway) Live(ctx context.Context) (*Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/live", nil)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, apperr.DeviceUnreachable(err, "gateway %s unreachable", g.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.DeviceUnreachable(nil, "gateway %s bad status: %s", g.baseURL, resp.Status)
	}

	var reading Reading
	if err := json.NewDecoder(resp.Body).Decode(&reading); err != nil {
		return nil, apperr.DeviceUnreachable(err, "gateway %s returned malformed reading", g.baseURL)
	}
	return &reading, nil
}

func (g *HTTPGateway) Control(ctx context.Context, action Action) error {
	if err := action.Validate(); err != nil {
		return err
	}
	return g.post(ctx, "/control", map[string]string{"action": string(action)})
}

func (g *HTTPGateway) SetLimit(ctx context.Context, limit Limit) error {
	if err := limit.Validate(); err != nil {
		return err
	}
	return g.post(ctx, "/limit", limit)
}

func (g *HTTPGateway) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("gateway encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return apperr.DeviceUnreachable(err, "gateway %s unreachable", g.baseURL)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.DeviceUnreachable(nil, "gateway %s rejected %s: %s", g.baseURL, path, resp.Status)
	}
	return nil
}

func (g *HTTPGateway) Close() error {
	g.client.CloseIdleConnections()
	return nil
}
