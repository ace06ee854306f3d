// Package llm talks to an OpenAI-compatible chat endpoint to score items and
// write their summaries.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/yangchao228/ScoutX/internal/config"
	"github.com/yangchao228/ScoutX/internal/fault"
	"github.com/yangchao228/ScoutX/internal/models"
	"github.com/yangchao228/ScoutX/internal/retry"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Client scores items and generates summaries.
type Client struct {
	cfg        config.LLMConfig
	httpClient *http.Client
	policy     retry.Policy
	logger     zerolog.Logger
}

// NewClient creates a Client. The API key is read from cfg.APIKeyEnv on every call.
func NewClient(cfg config.LLMConfig, policy retry.Policy, logger zerolog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultLLMTimeoutSec) * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		policy:     policy,
		logger:     logger.With().Str("component", "llm").Logger(),
	}
}

// Ready reports a Config fault when the API key or endpoint is missing, so a
// run can stop before any item is consumed.
func (c *Client) Ready() error {
	if strings.TrimSpace(c.cfg.APIBase) == "" {
		return fault.Errorf(fault.Config, "llm.Ready", "llm api_base is not configured")
	}
	if _, err := config.RequireEnv(c.cfg.APIKeyEnv); err != nil {
		return fault.New(fault.Config, "llm.Ready", err)
	}
	return nil
}

// Evaluate asks the filter prompt about item and parses the verdict.
func (c *Client) Evaluate(ctx context.Context, item models.Item) (models.Verdict, error) {
	text, err := c.Complete(ctx, c.cfg.FilterSystemPrompt, RenderPrompt(c.cfg.FilterUserPrompt, item))
	if err != nil {
		return models.Verdict{}, err
	}
	return ParseVerdict(text), nil
}

// Generate asks the creator prompt for a summary of item. Paragraphs of the
// reply become the summary segments.
func (c *Client) Generate(ctx context.Context, item models.Item) (models.Summary, error) {
	text, err := c.Complete(ctx, c.cfg.CreatorSystemPrompt, RenderPrompt(c.cfg.CreatorUserPrompt, item))
	if err != nil {
		return nil, err
	}
	summary := SplitSegments(text)
	if len(summary) == 0 {
		return nil, fault.Errorf(fault.Validation, "llm.Generate", "empty generation for %s", item.URL)
	}
	return summary, nil
}

// Complete sends one system and user message pair and returns the reply text.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	apiKey, err := config.RequireEnv(c.cfg.APIKeyEnv)
	if err != nil {
		return "", fault.New(fault.Config, "llm.Complete", err)
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fault.New(fault.Validation, "llm.Complete", err)
	}

	var text string
	err = retry.Do(ctx, c.policy, c.logger, "llm completion", func(ctx context.Context) error {
		var callErr error
		text, callErr = c.post(ctx, apiKey, body)
		return callErr
	})
	return text, err
}

func (c *Client) post(ctx context.Context, apiKey string, body []byte) (string, error) {
	const op = "llm.Complete"

	endpoint := strings.TrimRight(c.cfg.APIBase, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fault.New(fault.Config, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fault.ClassifyTransport(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fault.ClassifyTransport(op, err)
	}
	if kind := fault.ClassifyStatus(resp.StatusCode); kind != fault.Unknown {
		snippet := string(raw)
		if len(snippet) > 500 {
			snippet = snippet[:500]
		}
		return "", fault.Errorf(kind, op, "llm request failed %d: %s", resp.StatusCode, strings.TrimSpace(snippet))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fault.Errorf(fault.Validation, op, "decode completion: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fault.Errorf(fault.Validation, op, "completion has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
