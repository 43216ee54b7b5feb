package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/livecanvas/internal/toolspec"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 1 << 20
)

// ClientConfig configures a Client.
type ClientConfig struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *Metrics
}

// Client calls a generate-tools endpoint.
type Client struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	http     *http.Client
	logger   *slog.Logger
	metrics  *Metrics
}

// NewClient validates cfg and returns a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("generate: endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		http:     httpClient,
		logger:   logger.With("component", "generate-client"),
		metrics:  cfg.Metrics,
	}, nil
}

// Generate sends one request. History is trimmed to HistoryWindow. Every
// failure, including a timeout, wraps ErrUnavailable.
func (c *Client) Generate(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := c.generate(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "unavailable"
	}
	c.metrics.observeClient(outcome, time.Since(start))
	return resp, err
}

func (c *Client) generate(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req.ConversationHistory = TrimHistory(req.ConversationHistory)
	if req.ConversationHistory == nil {
		req.ConversationHistory = []Turn{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("%w: encode request: %v", ErrUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return Response{}, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	var wire wireResponse
	decodeErr := json.Unmarshal(raw, &wire)
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		if decodeErr == nil && wire.Error != "" {
			return Response{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, httpResp.StatusCode, wire.Error)
		}
		return Response{}, fmt.Errorf("%w: status %d", ErrUnavailable, httpResp.StatusCode)
	}
	if decodeErr != nil {
		return Response{}, fmt.Errorf("%w: malformed body: %v", ErrUnavailable, decodeErr)
	}

	out := Response{Message: wire.Message}
	for i, rawTool := range wire.Tools {
		spec, err := decodeTool(rawTool, func(t toolspec.Type) string {
			return string(t) + "-" + uuid.NewString()
		})
		if err != nil {
			out.Dropped++
			c.logger.Warn("dropping invalid tool from generation response", "index", i, "error", err)
			continue
		}
		out.Tools = append(out.Tools, spec)
	}
	return out, nil
}
