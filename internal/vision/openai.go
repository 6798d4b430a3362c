package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
)

const (
	defaultEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultModel    = "gpt-4.1-mini"
)

// Config configures the vision model and the batcher that calls it.
type Config struct {
	Endpoint          string `yaml:"endpoint" env:"VISION_ENDPOINT" env-default:"https://api.openai.com/v1/chat/completions"`
	Model             string `yaml:"model" env:"VISION_MODEL" env-default:"gpt-4.1-mini"`
	APIKey            string `yaml:"api_key" env:"VISION_API_KEY"`
	RequestsPerMinute int    `yaml:"requests_per_minute" env-default:"60"`
	Burst             int    `yaml:"burst"`
	MaxConcurrency    int    `yaml:"max_concurrency" env-default:"4"`
	TimeoutMS         int    `yaml:"timeout_ms" env-default:"30000"`
	Retries           int    `yaml:"retries" env-default:"2"`
	RetryWaitMS       int    `yaml:"retry_wait_ms" env-default:"1000"`
}

// OpenAIModel talks to an OpenAI compatible chat completions endpoint
// that accepts image content.
type OpenAIModel struct {
	endpoint string
	model    string
	apiKey   string
	client   *retryablehttp.Client
}

// NewOpenAIModel returns a model for the configured endpoint. Transport
// errors and 5xx responses are retried c.Retries times.
func NewOpenAIModel(c Config, logger *slog.Logger) (*OpenAIModel, error) {
	apiKey := strings.TrimSpace(c.APIKey)
	if apiKey == "" {
		return nil, errors.New("vision verification requires an API key (set vision.api_key or VISION_API_KEY)")
	}
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	model := strings.TrimSpace(c.Model)
	if model == "" {
		model = defaultModel
	}

	client := retryablehttp.NewClient()
	client.RetryMax = max(0, c.Retries)
	if c.RetryWaitMS > 0 {
		client.RetryWaitMin = time.Duration(c.RetryWaitMS) * time.Millisecond
		client.RetryWaitMax = 4 * client.RetryWaitMin
	}
	if logger != nil {
		client.Logger = logger.With(slog.String("component", "vision-http"))
	} else {
		client.Logger = nil
	}

	return &OpenAIModel{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		client:   client,
	}, nil
}

const systemPrompt = `You check website screenshots for user interface elements.

For every event in the request decide whether the screenshot shows the UI element
named in "required_ui", so that a visitor could trigger the event on this page.

Return ONLY JSON following this schema:
{
  "events": [
    {"event": "name", "present": true, "confidence": 0-100, "reason": "short explanation"}
  ]
}

Every requested event must appear exactly once.`

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type responseFormat struct {
	Type string `json:"type"`
}

func dataURL(image []byte) string {
	mime := http.DetectContentType(image)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)
}

// Verify sends the screenshot and the request to the model and parses
// its answer.
func (m *OpenAIModel) Verify(ctx context.Context, image []byte, request RequestSpec) ([]EventAnswer, error) {
	requestJSON, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(chatRequest{
		Model: m.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: string(requestJSON)},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL(image)}},
			}},
		},
		Temperature:    0,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		if msg := gjson.GetBytes(respBody, "error.message").String(); msg != "" {
			return nil, fmt.Errorf("vision model: %s", msg)
		}
		return nil, fmt.Errorf("vision request failed with HTTP %d", resp.StatusCode)
	}
	return parseAnswers(respBody)
}

func parseAnswers(respBody []byte) ([]EventAnswer, error) {
	content := strings.TrimSpace(gjson.GetBytes(respBody, "choices.0.message.content").String())
	if content == "" {
		return nil, errors.New("vision model returned an empty response")
	}
	content = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(content, "```json"), "```"), "```")
	if !gjson.Valid(content) {
		return nil, fmt.Errorf("unable to parse vision response: %s", content)
	}
	events := gjson.Get(content, "events")
	if !events.IsArray() {
		return nil, errors.New("vision response has no events array")
	}

	answers := []EventAnswer{}
	for _, e := range events.Array() {
		name := e.Get("event").String()
		if name == "" {
			continue
		}
		conf := e.Get("confidence").Float()
		if conf > 0 && conf <= 1 {
			conf *= 100
		}
		answers = append(answers, EventAnswer{
			Event:      name,
			Present:    e.Get("present").Bool(),
			Confidence: int(conf + 0.5),
			Reason:     e.Get("reason").String(),
		})
	}
	return answers, nil
}
