package vision

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tidwall/gjson"
)

func chatResponse(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
	})
	return string(b)
}

func TestNewOpenAIModelRequiresKey(t *testing.T) {
	if _, err := NewOpenAIModel(Config{}, nil); err == nil {
		t.Errorf("expected an error without api key")
	}
}

func TestOpenAIModelVerify(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if m := gjson.GetBytes(body, "model").String(); m != "vision-test" {
			t.Errorf("unexpected model %q", m)
		}
		if f := gjson.GetBytes(body, "response_format.type").String(); f != "json_object" {
			t.Errorf("unexpected response format %q", f)
		}
		url := gjson.GetBytes(body, "messages.1.content.1.image_url.url").String()
		if !strings.HasPrefix(url, "data:image/png;base64,") {
			t.Errorf("unexpected image url %q", url)
		}
		request := gjson.GetBytes(body, "messages.1.content.0.text").String()
		if gjson.Get(request, "events.0.required_ui").String() != "add to cart button" {
			t.Errorf("unexpected request %s", request)
		}
		io.WriteString(w, chatResponse(`{"events":[{"event":"add_to_cart","present":true,"confidence":0.85,"reason":"button visible"},{"event":"login","present":false,"confidence":70}]}`))
	}))
	defer server.Close()

	m, err := NewOpenAIModel(Config{Endpoint: server.URL, Model: "vision-test", APIKey: "secret"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	answers, err := m.Verify(context.Background(), png, RequestSpec{PageID: "p", Events: []EventRequest{{Event: "add_to_cart", RequiredUI: "add to cart button"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []EventAnswer{
		{Event: "add_to_cart", Present: true, Confidence: 85, Reason: "button visible"},
		{Event: "login", Present: false, Confidence: 70},
	}
	if len(answers) != len(expected) {
		t.Fatalf("expected %d answers, got %d", len(expected), len(answers))
	}
	for i := range expected {
		if answers[i] != expected[i] {
			t.Errorf("expected %+v, got %+v", expected[i], answers[i])
		}
	}
}

func TestOpenAIModelErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		errPart string
	}{
		{name: "api error", status: http.StatusBadRequest, body: `{"error":{"message":"image too large"}}`, errPart: "image too large"},
		{name: "plain status", status: http.StatusForbidden, body: `nope`, errPart: "HTTP 403"},
		{name: "empty content", status: http.StatusOK, body: chatResponse(""), errPart: "empty response"},
		{name: "invalid json", status: http.StatusOK, body: chatResponse("the button is there"), errPart: "unable to parse"},
		{name: "no events", status: http.StatusOK, body: chatResponse(`{"answer":true}`), errPart: "no events"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()
			m, err := NewOpenAIModel(Config{Endpoint: server.URL, APIKey: "k"}, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			_, err = m.Verify(context.Background(), []byte("img"), RequestSpec{})
			if err == nil || !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("expected error containing %q, got %v", tt.errPart, err)
			}
		})
	}
}

func TestOpenAIModelRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, chatResponse("```json\n{\"events\":[{\"event\":\"login\",\"present\":true,\"confidence\":60}]}\n```"))
	}))
	defer server.Close()

	m, err := NewOpenAIModel(Config{Endpoint: server.URL, APIKey: "k", Retries: 2, RetryWaitMS: 1}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	answers, err := m.Verify(context.Background(), []byte("img"), RequestSpec{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
	if len(answers) != 1 || !answers[0].Present {
		t.Errorf("unexpected answers %+v", answers)
	}
}
