package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/chat2carpool/internal/models"
	"github.com/example/chat2carpool/internal/observability"
)

// LLMClient talks to an OpenAI-compatible chat-completions endpoint. The
// model's output is treated as hostile input: fenced, prefixed or otherwise
// decorated JSON is tolerated, anything unparsable is an error for the
// Chain to absorb.
type LLMClient struct {
	Endpoint string
	APIKey   string
	Model    string
	Client   *http.Client
}

// NewLLMClient builds a client with a bounded request timeout.
func NewLLMClient(endpoint, apiKey, model string, timeout time.Duration) *LLMClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &LLMClient{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Model:    model,
		Client:   &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *LLMClient) complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oracle status %d", resp.StatusCode)
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("oracle returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// isolateJSON strips markdown code fences and surrounding prose, leaving
// the outermost JSON object.
func isolateJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```json"); i >= 0 {
		text = text[i+len("```json"):]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	} else if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+3:]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in oracle output")
	}
	return text[start : end+1], nil
}

const classifySystemPrompt = `You classify carpool chat messages. The user is either a DRIVER offering
seats ("ride_offer"), a PASSENGER asking for a ride ("ride_request"), or
neither ("other"). Respond with JSON only:
{"intent": "ride_request"|"ride_offer"|"other", "confidence": 0.0-1.0, "reasoning": "..."}`

// Classify asks the oracle for the message intent.
func (c *LLMClient) Classify(ctx context.Context, message string) (Classification, error) {
	timer := time.Now()
	defer func() {
		observability.ExtractorLatency.WithLabelValues("classify").Observe(time.Since(timer).Seconds())
	}()

	raw, err := c.complete(ctx, classifySystemPrompt, message)
	if err != nil {
		return Classification{}, err
	}
	jsonText, err := isolateJSON(raw)
	if err != nil {
		return Classification{}, err
	}
	var out Classification
	if err := json.Unmarshal([]byte(jsonText), &out); err != nil {
		return Classification{}, fmt.Errorf("malformed classification: %w", err)
	}
	switch out.Intent {
	case models.IntentRideRequest, models.IntentRideOffer, models.IntentOther:
	default:
		return Classification{}, fmt.Errorf("malformed classification: unknown intent %q", out.Intent)
	}
	return out, nil
}

const extractSystemPrompt = `You extract ride details from carpool chat messages. Fields:
pickup_location, drop_location, route (ordered list of stops or null),
date, time, passengers (integer), available_seats (integer),
additional_info. Extract only what the current message states; use null for
anything not mentioned. If a route is listed ("A -> B -> C", "A – B – C"),
return it as a list of stop names. Respond with JSON only:
{"details": {...}}`

// Extract asks the oracle for the details present in the current message,
// giving it the transcript and accumulated fields as context.
func (c *LLMClient) Extract(ctx context.Context, req Request) (models.RideDetails, error) {
	timer := time.Now()
	defer func() {
		observability.ExtractorLatency.WithLabelValues("extract").Observe(time.Since(timer).Seconds())
	}()

	existing, err := json.Marshal(req.Existing)
	if err != nil {
		return models.RideDetails{}, err
	}
	var history strings.Builder
	for _, m := range req.History {
		who := "User"
		if m.Role != "user" {
			who = "Bot"
		}
		fmt.Fprintf(&history, "%s: %s\n", who, m.Content)
	}
	user := fmt.Sprintf("INTENT: %s\nCONVERSATION SO FAR:\n%s\nKNOWN DETAILS: %s\nCURRENT MESSAGE: %q",
		req.Intent, history.String(), existing, req.Message)

	raw, err := c.complete(ctx, extractSystemPrompt, user)
	if err != nil {
		return models.RideDetails{}, err
	}
	jsonText, err := isolateJSON(raw)
	if err != nil {
		return models.RideDetails{}, err
	}
	var out struct {
		Details *models.RideDetails `json:"details"`
	}
	if err := json.Unmarshal([]byte(jsonText), &out); err != nil {
		return models.RideDetails{}, fmt.Errorf("malformed extraction: %w", err)
	}
	if out.Details == nil {
		return models.RideDetails{}, fmt.Errorf("malformed extraction: missing details")
	}
	return *out.Details, nil
}
