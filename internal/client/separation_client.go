package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SeparationClient calls an external source-separation microservice that
// isolates the percussive signal from a full mix. It satisfies the
// pipeline's Separator contract; when the service is unreachable the caller
// should fall back to pass-through separation.
type SeparationClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewSeparationClient creates a client for the separation service.
func NewSeparationClient(baseURL string, timeout time.Duration) *SeparationClient {
	return &SeparationClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// Separate posts the mixed audio and returns the isolated drum stem.
func (c *SeparationClient) Separate(ctx context.Context, audio []byte) ([]byte, error) {
	url := c.baseURL + "/separate/drums"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("failed to create separation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("separation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("separation service returned %d: %s", resp.StatusCode, string(body))
	}

	separated, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read separated audio: %w", err)
	}
	return separated, nil
}

// HealthCheck probes the service's health endpoint.
func (c *SeparationClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("separation service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("separation service unhealthy: %d", resp.StatusCode)
	}
	return nil
}
