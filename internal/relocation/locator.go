// Package relocation turns refined pick sets into stabilized
// hypocenters: it drives the external locator, trims outliers and
// gates candidate solutions against the previously published one.
package relocation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/seisworks/dlrepick/internal/model"
)

// Locator is the opaque hypocenter-solving primitive. Relocate returns
// a new origin candidate with residuals and distances filled in on its
// arrivals.
type Locator interface {
	Relocate(ctx context.Context, origin model.Origin) (model.Origin, error)
	UseFixedDepth(fixed bool)
	SetFixedDepth(km float64)
}

// HTTPLocatorConfig configures the locator-service client.
type HTTPLocatorConfig struct {
	BaseURL    string
	Path       string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPLocator talks to the locator process over HTTP. Depth-fix state
// is carried per request, mirroring the stateful setter contract.
type HTTPLocator struct {
	baseURL string
	path    string
	client  *http.Client
	timeout time.Duration

	fixedDepth   bool
	fixedDepthKm float64
}

// NewHTTPLocator builds a locator-service client.
func NewHTTPLocator(cfg HTTPLocatorConfig) (*HTTPLocator, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("relocation: locator url required")
	}
	path := cfg.Path
	if path == "" {
		path = "/relocate"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &HTTPLocator{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		path:    path,
		client:  client,
		timeout: timeout,
	}, nil
}

func (l *HTTPLocator) UseFixedDepth(fixed bool) { l.fixedDepth = fixed }

func (l *HTTPLocator) SetFixedDepth(km float64) { l.fixedDepthKm = km }

type relocateRequest struct {
	Origin       model.Origin `json:"origin"`
	FixedDepth   bool         `json:"fixedDepth,omitempty"`
	FixedDepthKm float64      `json:"fixedDepthKm,omitempty"`
}

func (l *HTTPLocator) Relocate(ctx context.Context, origin model.Origin) (model.Origin, error) {
	body, err := json.Marshal(relocateRequest{
		Origin:       origin,
		FixedDepth:   l.fixedDepth,
		FixedDepthKm: l.fixedDepthKm,
	})
	if err != nil {
		return model.Origin{}, fmt.Errorf("relocation: marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, l.baseURL+l.path, bytes.NewReader(body))
	if err != nil {
		return model.Origin{}, fmt.Errorf("relocation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return model.Origin{}, fmt.Errorf("relocation: locator call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.Origin{}, fmt.Errorf("relocation: locator returned %s", resp.Status)
	}
	var out model.Origin
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.Origin{}, fmt.Errorf("relocation: decode response: %w", err)
	}
	return out, nil
}
