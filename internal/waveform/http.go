package waveform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPSourceConfig configures the waveform-service client.
type HTTPSourceConfig struct {
	BaseURL    string
	Path       string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPSource fetches waveform segments from the acquisition service.
// The response maps stream IDs to record lists; requested streams
// without data are simply absent.
type HTTPSource struct {
	baseURL string
	path    string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPSource builds an acquisition client.
func NewHTTPSource(cfg HTTPSourceConfig) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("waveform: acquisition url required")
	}
	path := cfg.Path
	if path == "" {
		path = "/waveforms"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		path:    path,
		client:  client,
		timeout: timeout,
	}, nil
}

func (s *HTTPSource) Fetch(ctx context.Context, reqs []Request) (map[string][]Record, error) {
	body, err := json.Marshal(map[string][]Request{"requests": reqs})
	if err != nil {
		return nil, fmt.Errorf("waveform: marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.baseURL+s.path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("waveform: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("waveform: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("waveform: acquisition returned %s", resp.Status)
	}
	var out map[string][]Record
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("waveform: decode response: %w", err)
	}
	return out, nil
}
