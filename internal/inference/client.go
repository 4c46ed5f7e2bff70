// Package inference calls the hosted language-model endpoint used for
// narrative analysis in the premium intelligence tier. Calls are
// billable, rate limited, and fused behind a circuit breaker.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/grantscope/grantscope/internal/budget"
	"github.com/grantscope/grantscope/internal/fault"
)

// Config tunes the inference client.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	// CostMicros is the per-call reservation the invoker charges.
	CostMicros budget.Micros
	RPS        float64
	Burst      int
	Timeout    time.Duration
}

func (c *Config) withDefaults() {
	if c.Model == "" {
		c.Model = "analyst-small"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.CostMicros <= 0 {
		c.CostMicros = budget.FromDollars(0.02)
	}
	if c.RPS <= 0 {
		c.RPS = 2
	}
	if c.Burst <= 0 {
		c.Burst = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 45 * time.Second
	}
}

// Client is a thin completion client. Responses are coerced to valid
// JSON: models occasionally emit trailing commas or unquoted keys, and
// repair beats a retry at full price.
type Client struct {
	cfg     Config
	hc      *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// New builds a client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) *Client {
	cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:     cfg,
		hc:      httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "inference",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).
					Str("from", from.String()).Str("to", to.String()).
					Msg("inference breaker state change")
			},
		}),
	}
}

// CostMicros reports the per-call reservation for tool metadata.
func (c *Client) CostMicros() budget.Micros { return c.cfg.CostMicros }

type completionRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
	// The endpoint is asked for JSON output; repair handles the rest.
	ResponseFormat string `json:"response_format"`
}

type completionResponse struct {
	Content string `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends prompt and returns the model's answer as valid JSON.
func (c *Client) Complete(ctx context.Context, prompt string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fault.Wrap(fault.KindOf(err), err, "inference pacing")
	}

	out, err := c.breaker.Execute(func() (any, error) {
		return c.doRequest(ctx, prompt)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fault.Wrap(fault.KindTransient, err, "inference breaker open")
		}
		return nil, err
	}
	return out.(json.RawMessage), nil
}

func (c *Client) doRequest(ctx context.Context, prompt string) (json.RawMessage, error) {
	body, err := json.Marshal(completionRequest{
		Model:          c.cfg.Model,
		Prompt:         prompt,
		MaxTokens:      c.cfg.MaxTokens,
		ResponseFormat: "json",
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidArguments, err, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/complete", bytes.NewReader(body))
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidArguments, err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fault.Wrap(fault.KindOf(ctx.Err()), ctx.Err(), "inference call")
		}
		return nil, fault.Wrap(fault.KindTransient, err, "inference call")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fault.New(fault.KindRateLimited, "inference rate limited")
	case resp.StatusCode >= 500:
		return nil, fault.New(fault.KindTransient, "inference returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fault.New(fault.KindUnknown, "inference returned %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, err, "read response")
	}
	var cr completionResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fault.Wrap(fault.KindTransient, err, "decode response envelope")
	}

	content := cr.Content
	if !json.Valid([]byte(content)) {
		repaired, rerr := jsonrepair.RepairJSON(content)
		if rerr != nil {
			return nil, fault.Wrap(fault.KindUnknown, rerr, "model output unrepairable")
		}
		log.Debug().Int("output_tokens", cr.Usage.OutputTokens).Msg("repaired model JSON output")
		content = repaired
	}
	return json.RawMessage(content), nil
}

// Prompt renders a named analysis prompt with a JSON context block.
func Prompt(task string, contextDoc any) (string, error) {
	doc, err := json.MarshalIndent(contextDoc, "", "  ")
	if err != nil {
		return "", fault.Wrap(fault.KindInvalidArguments, err, "encode prompt context")
	}
	return fmt.Sprintf("Task: %s\nRespond with a single JSON object.\nContext:\n%s\n", task, doc), nil
}
