package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/stewnight/cropsteer/internal/model"
)

const systemPrompt = `You are an irrigation advisor for crop steering in soilless substrate.
Given the zone snapshot and phase context, answer with a JSON object:
{"action":"irrigate"|"wait","confidence":0.0-1.0,"reasoning":"one sentence"}.
Be conservative: prefer "wait" when uncertain. Never propose anything else.`

// OpenAIOracle consults an OpenAI-compatible chat-completions endpoint. All
// failures (timeouts, bad status, malformed replies, open breaker) surface
// as ErrAdvisoryUnavailable; the adapter falls back to the rule path.
type OpenAIOracle struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewOpenAIOracle(baseURL, apiKey, mdl string, timeout time.Duration) *OpenAIOracle {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "advisory-oracle",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})
	return &OpenAIOracle{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   mdl,
		http:    &http.Client{Timeout: timeout},
		breaker: cb,
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
	Temperature    float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *OpenAIOracle) Consult(ctx context.Context, q Query) (Advice, error) {
	if o.apiKey == "" {
		return Advice{}, fmt.Errorf("missing api key: %w", model.ErrAdvisoryUnavailable)
	}

	qb, err := json.Marshal(q)
	if err != nil {
		return Advice{}, fmt.Errorf("encode query: %w", err)
	}
	body, err := json.Marshal(chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(qb)},
		},
		ResponseFormat: &respFormat{Type: "json_object"},
		Temperature:    0,
	})
	if err != nil {
		return Advice{}, fmt.Errorf("encode request: %w", err)
	}

	out, err := o.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+o.apiKey)

		resp, err := o.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			return nil, fmt.Errorf("oracle status %d: %s", resp.StatusCode, string(b))
		}
		var cr chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return nil, err
		}
		return cr, nil
	})
	if err != nil {
		return Advice{}, fmt.Errorf("%v: %w", err, model.ErrAdvisoryUnavailable)
	}

	cr := out.(chatResponse)
	if len(cr.Choices) == 0 {
		return Advice{}, fmt.Errorf("empty oracle response: %w", model.ErrAdvisoryUnavailable)
	}

	var advice Advice
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &advice); err != nil {
		return Advice{}, fmt.Errorf("malformed oracle reply: %v: %w", err, model.ErrAdvisoryUnavailable)
	}
	if advice.Action != model.ActionIrrigate && advice.Action != model.ActionWait {
		return Advice{}, fmt.Errorf("oracle proposed unknown action %q: %w", advice.Action, model.ErrAdvisoryUnavailable)
	}
	if advice.Confidence < 0 || advice.Confidence > 1 {
		return Advice{}, fmt.Errorf("oracle confidence %.2f out of range: %w", advice.Confidence, model.ErrAdvisoryUnavailable)
	}
	return advice, nil
}
