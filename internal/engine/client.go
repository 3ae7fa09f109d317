/*
PURPOSE:
  HTTP client for a single Ollama server.
  Handles the availability probe, model discovery and generate calls in
  both buffered and streaming delivery.

REQUIREMENTS:
  User-specified:
  - Probe /api/version before a sweep starts (fatal when exhausted).
  - Issue /api/generate calls with per-combination options, optional
    base64 images, and a streaming flag.

  Implementation-discovered:
  - Needs http.Client with split timeouts: ResponseHeaderTimeout covers
    model loading (time to first byte), the overall timeout covers the
    whole generation.
  - The response shape must be resolved once per call into a tagged
    Buffered/Streamed payload; parsing lives in parse.go.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine/runner.go, internal/cli
  - Uses: internal/config

ERROR HANDLING:
  - Transport errors are returned as-is for the runner to classify.
  - Non-200 statuses are returned as *APIError carrying the status code.
  - No retries here; retry policy belongs to the sweep controller.

IMPLEMENTATION RULES:
  - Use net/http.
  - Enforce timeouts through the request context.
  - Never buffer a streaming body; hand the reader to the parser.

USAGE:
  c := engine.NewClient(cfg)
  err := c.WaitAvailable(ctx)
  payload, err := c.Generate(ctx, req)

SELF-HEALING INSTRUCTIONS:
  - If the Ollama API changes, update endpoints (/api/version, /api/tags,
    /api/generate).

RELATED FILES:
  - internal/engine/parse.go
  - internal/engine/runner.go

MAINTENANCE:
  - Update for new Ollama API features.
*/

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mcabrer/ollama-sweep/internal/config"
	"github.com/mcabrer/ollama-sweep/internal/output"
)

// APIError is a non-200 response from the server.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Body)
}

// Client talks to one Ollama server.
type Client struct {
	cfg    *config.Config
	client *http.Client
	base   string
}

// NewClient creates a client for the configured host.
func NewClient(cfg *config.Config) *Client {
	// Custom transport to differentiate between connection timeout and the
	// server hanging during headers (model loading happens there).
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.LoadTimeout

	return &Client{
		cfg:  cfg,
		base: strings.TrimRight(cfg.Host, "/"),
		client: &http.Client{
			Transport: transport,
			// The overall timeout must cover Loading + Generation.
			Timeout: cfg.LoadTimeout + cfg.CallTimeout,
		},
	}
}

// Host returns the normalized base URL of the server.
func (c *Client) Host() string {
	return c.base
}

// Ping checks server reachability via /api/version.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/version", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Body: resp.Status}
	}
	return nil
}

// WaitAvailable probes the server until it responds or the configured
// tries are exhausted. Used at INIT; failure here is fatal for the sweep.
func (c *Client) WaitAvailable(ctx context.Context) error {
	var lastErr error
	for i := 0; i < c.cfg.ProbeTries; i++ {
		if err := c.Ping(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ProbeDelay):
		}
	}
	return fmt.Errorf("server %s unreachable after %d tries: %w", c.base, c.cfg.ProbeTries, lastErr)
}

// ListModels returns the models available on the server (/api/tags).
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: resp.Status}
	}

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	var names []string
	for _, m := range payload.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// GenerateRequest is one /api/generate call.
type GenerateRequest struct {
	Model   string
	Prompt  string
	Images  []string // base64-encoded
	Options map[string]interface{}
	Stream  bool
}

// Generate issues one generate call and resolves the delivery shape once:
// a streaming call hands back the live body, a buffered call the read
// payload. The caller consumes either through Payload.Counters().
func (c *Client) Generate(ctx context.Context, greq GenerateRequest) (*Payload, error) {
	body := map[string]interface{}{
		"model":  greq.Model,
		"prompt": greq.Prompt,
		"stream": greq.Stream,
	}
	if len(greq.Options) > 0 {
		body["options"] = greq.Options
	}
	if len(greq.Images) > 0 {
		body["images"] = greq.Images
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	output.Logger.Debug("Request sent, waiting for model", "model", greq.Model, "stream", greq.Stream)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b := new(bytes.Buffer)
		if _, err := b.ReadFrom(resp.Body); err != nil {
			output.Logger.Debug("Failed to read error response body", "err", err)
		}
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(b.String())}
	}

	if greq.Stream {
		return newStreamedPayload(resp.Body), nil
	}

	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return newBufferedPayload(buf.Bytes()), nil
}
