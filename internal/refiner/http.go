package refiner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/seisworks/dlrepick/internal/config"
)

// Model parameters mirror the published pretrained checkpoints. The
// EQTransformer window is 60 s at 100 Hz; PhaseNet accepts 30 s.
var modelParams = map[string]struct {
	path     string
	minInput float64
}{
	"eqtransformer": {path: "/annotate/eqtransformer", minInput: 60},
	"phasenet":      {path: "/annotate/phasenet", minInput: 30},
}

// HTTPClientConfig configures the annotation-service client.
type HTTPClientConfig struct {
	BaseURL    string
	Model      string
	Dataset    string
	Timeout    time.Duration
	Retries    int
	HTTPClient *http.Client
}

// HTTPClient talks to the model-serving process over HTTP. The service
// hosts the pretrained weights; this client only ships waveforms and
// reads confidence traces back.
type HTTPClient struct {
	baseURL  string
	path     string
	model    string
	dataset  string
	minInput float64
	client   *http.Client
	timeout  time.Duration
	retries  int
}

// NewHTTPClient builds a client for one of the known model variants.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("refiner: model service url required")
	}
	params, ok := modelParams[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("refiner: unknown model %q", cfg.Model)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &HTTPClient{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		path:     params.path,
		model:    cfg.Model,
		dataset:  cfg.Dataset,
		minInput: params.minInput,
		client:   client,
		timeout:  timeout,
		retries:  retries,
	}, nil
}

// New builds the refiner selected by the repicking configuration.
func New(cfg *config.Repicking) (Refiner, error) {
	return NewHTTPClient(HTTPClientConfig{
		BaseURL: cfg.ModelURL,
		Model:   cfg.ModelName,
		Dataset: cfg.Dataset,
		Timeout: cfg.AnnotateTimeout,
		Retries: 1,
	})
}

func (c *HTTPClient) Name() string { return c.model }

func (c *HTTPClient) MinInputSeconds() float64 { return c.minInput }

type annotateRequest struct {
	Dataset  string            `json:"dataset,omitempty"`
	Stations []StationWaveform `json:"stations"`
}

type annotateResponse struct {
	Annotations []Annotation `json:"annotations"`
}

func (c *HTTPClient) Annotate(ctx context.Context, batch []StationWaveform) ([]Annotation, error) {
	body, err := json.Marshal(annotateRequest{Dataset: c.dataset, Stations: batch})
	if err != nil {
		return nil, fmt.Errorf("refiner: marshal request: %w", err)
	}

	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("refiner: build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := c.client.Do(httpReq)
		cancel()
		if err != nil {
			lastErr = err
		} else {
			out, parseErr := decodeAnnotations(resp)
			resp.Body.Close()
			if parseErr == nil {
				return out, nil
			}
			lastErr = parseErr
		}
		if i < attempts-1 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return nil, fmt.Errorf("refiner: annotate failed: %w", lastErr)
}

func decodeAnnotations(resp *http.Response) ([]Annotation, error) {
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("refiner: model service unavailable: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refiner: model service rejected request: %s", resp.Status)
	}
	var out annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("refiner: decode response: %w", err)
	}
	return out.Annotations, nil
}
