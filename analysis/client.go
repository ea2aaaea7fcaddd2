package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ci-medic/logger"
)

// Endpoint defaults. The endpoint speaks the Anthropic messages protocol.
const (
	DefaultEndpoint = "https://api.minimaxi.com/anthropic/v1/messages"
	DefaultModel    = "MiniMax-M2.5-highspeed"
	MaxOutputTokens = 2048
	APIVersion      = "2023-06-01"
)

// ClientConfig configures the analysis endpoint client.
type ClientConfig struct {
	Endpoint string        // default DefaultEndpoint
	Model    string        // default DefaultModel
	Timeout  time.Duration // 0 leaves the request bounded only by ctx
}

// Client sends diagnosis prompts to a language-model endpoint.
// It holds no credentials; the API key is supplied on every call.
type Client struct {
	endpoint string
	model    string
	http     *http.Client
	log      logger.Logger
}

// NewClient creates an analysis client.
func NewClient(cfg ClientConfig, log logger.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Client{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		http:     &http.Client{Timeout: cfg.Timeout},
		log:      log,
	}
}

// Model returns the model identifier sent with each request.
func (c *Client) Model() string { return c.model }

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Analyze runs the whole pipeline for one failed job: truncate the log,
// build the prompt, call the endpoint and extract the diagnosis text.
func (c *Client) Analyze(ctx context.Context, jobName, rawLog, apiKey string) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", ErrMissingCredential
	}
	truncated := TruncateLog(rawLog)
	c.log.Debug("analysis.prompt_built",
		logger.String("job", jobName),
		logger.Int("log_bytes", len(rawLog)),
		logger.Bool("truncated", len(truncated) != len(rawLog)),
	)
	return c.Complete(ctx, BuildPrompt(jobName, truncated), apiKey)
}

// Complete sends prompt as a single user message and returns the answer text.
func (c *Client) Complete(ctx context.Context, prompt, apiKey string) (string, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "", ErrMissingCredential
	}

	var payload bytes.Buffer
	enc := json.NewEncoder(&payload)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(messageRequest{
		Model:     c.model,
		MaxTokens: MaxOutputTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	}); err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &payload)
	if err != nil {
		return "", &RequestError{Err: err}
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("anthropic-version", APIVersion)
	req.Header.Set("content-type", "application/json")

	start := time.Now()
	c.log.Info("analysis.request",
		logger.String("model", c.model),
		logger.Int("prompt_len", len(prompt)),
		logger.Secret("api_key", apiKey),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("analysis.request_failed", logger.Err(err), logger.Duration("elapsed", time.Since(start)))
		return "", &RequestError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &RequestError{Err: fmt.Errorf("read response: %w", err)}
	}
	body := string(raw)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("analysis.http_error",
			logger.Int("status", resp.StatusCode),
			logger.Int("body_len", len(body)),
			logger.Duration("elapsed", time.Since(start)),
		)
		return "", &HTTPError{Status: resp.StatusCode, Body: prefix(body, httpErrorBodyLimit)}
	}

	text, matched, err := extract(body)
	if err != nil {
		c.log.Warn("analysis.extract_failed", logger.Err(err), logger.Int("body_len", len(body)))
		return "", err
	}
	c.log.Info("analysis.completed",
		logger.String("shape", matched),
		logger.Int("answer_len", len(text)),
		logger.Duration("elapsed", time.Since(start)),
	)
	return text, nil
}
