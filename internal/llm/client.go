// Package llm talks to an Ollama-compatible local inference server for
// structured extraction and summarization of page content.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapekit/internal/crawler"
)

const (
	defaultBaseURL  = "http://localhost:11434"
	defaultModel    = "llama3.2"
	defaultTimeout  = 2 * time.Minute
	maxContentRunes = 24000
)

// jsonFormat asks the server for any well-formed JSON value.
var jsonFormat = json.RawMessage(`"json"`)

// Config controls the client.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client implements crawler.Extractor on top of the Ollama API client.
type Client struct {
	cfg    Config
	ollama *api.Client
	logger *zap.Logger
}

// NewClient builds a client. Zero values fall back to a local Ollama default;
// an unparsable BaseURL does too, with a warning.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		logger.Warn("invalid llm base url, using default", zap.String("base_url", cfg.BaseURL))
		cfg.BaseURL = defaultBaseURL
		base, _ = url.Parse(defaultBaseURL)
	}
	return &Client{
		cfg:    cfg,
		ollama: api.NewClient(base, &http.Client{Timeout: cfg.Timeout}),
		logger: logger,
	}
}

// Extract runs req against content. Extract mode returns decoded JSON;
// summarize mode returns the summary text.
func (c *Client) Extract(ctx context.Context, req crawler.ExtractRequest, content string) (any, error) {
	stream := false
	gen := &api.GenerateRequest{
		Model:  c.cfg.Model,
		Prompt: buildPrompt(req, content),
		System: systemPrompt(req.Mode),
		Stream: &stream,
	}
	if req.Model != "" {
		gen.Model = req.Model
	}
	if req.Mode != crawler.ExtractModeSummarize {
		gen.Format = jsonFormat
		if len(req.Schema) > 0 {
			schema, err := json.Marshal(req.Schema)
			if err != nil {
				return nil, fmt.Errorf("encode schema: %w", err)
			}
			gen.Format = schema
		}
	}

	out, err := c.generate(ctx, gen)
	if err != nil {
		return nil, err
	}
	if req.Mode == crawler.ExtractModeSummarize {
		return strings.TrimSpace(out), nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		return nil, fmt.Errorf("decode model json: %w", err)
	}
	return decoded, nil
}

func (c *Client) generate(ctx context.Context, req *api.GenerateRequest) (string, error) {
	start := time.Now()
	var out strings.Builder
	err := c.ollama.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			msg := statusErr.ErrorMessage
			if msg == "" {
				msg = http.StatusText(statusErr.StatusCode)
			}
			return "", fmt.Errorf("model returned status %d: %s", statusErr.StatusCode, msg)
		}
		return "", fmt.Errorf("call model: %w", err)
	}
	c.logger.Debug("model call finished",
		zap.String("model", req.Model),
		zap.Duration("duration", time.Since(start)),
	)
	return out.String(), nil
}

func systemPrompt(mode crawler.ExtractMode) string {
	if mode == crawler.ExtractModeSummarize {
		return "You summarize web pages. Reply with a concise plain-text summary."
	}
	return "You extract structured data from web pages. Reply with JSON only."
}

func buildPrompt(req crawler.ExtractRequest, content string) string {
	if r := []rune(content); len(r) > maxContentRunes {
		content = string(r[:maxContentRunes])
	}
	var b strings.Builder
	if req.Prompt != "" {
		b.WriteString(req.Prompt)
	} else if req.Mode == crawler.ExtractModeSummarize {
		b.WriteString("Summarize the following page.")
	} else {
		b.WriteString("Extract the key facts from the following page as JSON.")
	}
	b.WriteString("\n\n---\n")
	b.WriteString(content)
	return b.String()
}
