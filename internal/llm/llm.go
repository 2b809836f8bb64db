package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/pavelanni/tutor/internal/metrics"
	"github.com/pavelanni/tutor/internal/model"
)

// Message is one turn of chat context sent to the model.
type Message struct {
	Role    model.Role
	Content string
}

// Request describes a single chat completion.
type Request struct {
	// Purpose labels the call site in logs and metrics ("guard", "quiz", ...).
	Purpose     string
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
	// Fast selects the cheaper model used for classification and extraction.
	Fast bool
	JSON bool
}

// Completer is the chat completion service.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Embedder is the embedding service.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds connection and model settings.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	FastModel      string
	VisionModel    string
	EmbeddingModel string
	Timeout        time.Duration
	// RequestsPerSecond caps outgoing calls; zero disables limiting.
	RequestsPerSecond float64
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	cfg     Config
	limiter *rate.Limiter
}

// New creates a new LLM client.
func New(cfg Config) *Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		config.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.FastModel == "" {
		cfg.FastModel = cfg.Model
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.Model
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := int(math.Ceil(cfg.RequestsPerSecond))
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		cfg:     cfg,
		limiter: limiter,
	}
}

// Ping checks that the endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Complete sends a chat completion and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	chatMsgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == model.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	modelName := c.cfg.Model
	if req.Fast {
		modelName = c.cfg.FastModel
	}
	chatReq := openai.ChatCompletionRequest{
		Model:       modelName,
		Messages:    chatMsgs,
		Temperature: temperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return c.chat(ctx, req.Purpose, chatReq)
}

// ExtractText reads the text of a photographed exercise with the vision model.
func (c *Client) ExtractText(ctx context.Context, image []byte) (string, error) {
	mime := http.DetectContentType(image)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	url := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)

	chatReq := openai.ChatCompletionRequest{
		Model: c.cfg.VisionModel,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: ocrInstruction},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    url,
					Detail: openai.ImageURLDetailHigh,
				}},
			},
		}},
		Temperature: temperature(0),
		MaxTokens:   2000,
	}
	text, err := c.chat(ctx, "ocr", chatReq)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
	})
	metrics.ObserveLLM("embedding", start, err)
	if err != nil {
		return nil, fmt.Errorf("embedding API call: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding API returned no data")
	}
	return resp.Data[0].Embedding, nil
}

func (c *Client) chat(ctx context.Context, purpose string, chatReq openai.ChatCompletionRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	metrics.ObserveLLM(purpose, start, err)
	if err != nil {
		return "", fmt.Errorf("LLM API call (%s): %w", purpose, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices (%s)", purpose)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "purpose", purpose, "model", chatReq.Model, "raw", raw)
	return raw, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

// temperature keeps an explicit zero from being dropped by the request's
// omitempty tag, which would make the server fall back to its default of 1.
func temperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

const ocrInstruction = `Đọc và chép lại chính xác toàn bộ nội dung văn bản trong ảnh (đề bài, công thức, các lựa chọn A, B, C, D nếu có).
Giữ nguyên tiếng Việt có dấu. Viết công thức toán dạng văn bản thường. Chỉ trả về nội dung, không giải thích.`
