package llm

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/tutor/internal/model"
)

// fakeAPI serves the two OpenAI endpoints the client uses and records the
// last chat request body.
func fakeAPI(t *testing.T, reply string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var last map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			_ = json.Unmarshal(body, &last)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":     "chatcmpl-1",
				"object": "chat.completion",
				"choices": []map[string]any{{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": reply},
					"finish_reason": "stop",
				}},
			})
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"data": []map[string]any{{
					"object":    "embedding",
					"index":     0,
					"embedding": []float32{0.1, 0.2, 0.3},
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

func TestComplete(t *testing.T) {
	srv, last := fakeAPI(t, "NO")
	c := New(Config{BaseURL: srv.URL, APIKey: "test", Model: "big", FastModel: "small", Timeout: 5 * time.Second})

	got, err := c.Complete(context.Background(), Request{
		Purpose:  "guard",
		System:   "system prompt",
		Messages: []Message{{Role: model.RoleUser, Content: "hi"}, {Role: model.RoleAssistant, Content: "hello"}},
		Fast:     true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "NO" {
		t.Errorf("expected NO, got %q", got)
	}

	req := *last
	if req["model"] != "small" {
		t.Errorf("expected fast model, got %v", req["model"])
	}
	msgs, _ := req["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages (system + 2), got %d", len(msgs))
	}
	if role := msgs[2].(map[string]any)["role"]; role != "assistant" {
		t.Errorf("expected assistant role for history reply, got %v", role)
	}
	if _, ok := req["temperature"]; !ok {
		t.Error("zero temperature must still be sent")
	}
}

func TestEmbed(t *testing.T) {
	srv, _ := fakeAPI(t, "")
	c := New(Config{BaseURL: srv.URL, APIKey: "test", EmbeddingModel: "text-embedding-3-large"})

	vec, err := c.Embed(context.Background(), "đạo hàm")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected 3 dims, got %d", len(vec))
	}
}

func TestExtractText(t *testing.T) {
	srv, last := fakeAPI(t, "  Tính đạo hàm của y = x^3  ")
	c := New(Config{BaseURL: srv.URL, APIKey: "test", Model: "big", VisionModel: "eyes"})

	png := []byte("\x89PNG\r\n\x1a\n0000")
	got, err := c.ExtractText(context.Background(), png)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if got != "Tính đạo hàm của y = x^3" {
		t.Errorf("expected trimmed text, got %q", got)
	}

	req := *last
	if req["model"] != "eyes" {
		t.Errorf("expected vision model, got %v", req["model"])
	}
	msgs := req["messages"].([]any)
	parts := msgs[0].(map[string]any)["content"].([]any)
	image := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(image, "data:image/png;base64,") {
		t.Errorf("expected a PNG data URL, got %.40s", image)
	}
}

func TestCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := New(Config{BaseURL: srv.URL, APIKey: "test", Model: "m"})

	if _, err := c.Complete(context.Background(), Request{Purpose: "chat"}); err == nil {
		t.Error("expected error from failing API")
	}
}

func TestRateLimiterHonoursContext(t *testing.T) {
	srv, _ := fakeAPI(t, "ok")
	c := New(Config{BaseURL: srv.URL, APIKey: "test", Model: "m", RequestsPerSecond: 0.001})

	// The first call consumes the single burst token.
	if _, err := c.Complete(context.Background(), Request{}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Complete(ctx, Request{}); err == nil {
		t.Error("expected rate limit error when context expires first")
	}
}

func TestTemperature(t *testing.T) {
	if temperature(0) != math.SmallestNonzeroFloat32 {
		t.Error("zero temperature should map to the smallest positive float")
	}
	if temperature(0.7) != 0.7 {
		t.Error("non-zero temperature should pass through")
	}
}
