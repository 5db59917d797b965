package llm

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hpungsan/medcase/internal/config"
	"github.com/hpungsan/medcase/internal/errors"
	"github.com/hpungsan/medcase/internal/logger"
)

// Request is one generation: Instructions go in as the system message and
// Input as the user message.
type Request struct {
	Instructions string
	Input        string
	MaxTokens    int
}

// Client generates text from a prompt.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// chatCompleter is the part of *openai.Client that OpenAIClient uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// unavailableMarkers are substrings of errors that mean the requested model
// cannot be used with this key, so the fallback model is worth a try.
var unavailableMarkers = []string{
	"not found",
	"unsupported",
	"permission",
	"does not exist",
	"unknown model",
}

// OpenAIClient calls the chat completion API, retrying once with the fallback
// model when the primary model is unavailable.
type OpenAIClient struct {
	client        chatCompleter
	primaryModel  string
	fallbackModel string
	log           *logger.Logger
}

// NewOpenAIClient builds a client from config. A missing API key is a
// configuration error.
func NewOpenAIClient(cfg *config.Config, log *logger.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return nil, errors.NewConfiguration("OPENAI_API_KEY is not set")
	}
	oaCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		oaCfg.BaseURL = cfg.OpenAIBaseURL
	}
	return newOpenAIClient(openai.NewClientWithConfig(oaCfg), cfg.PrimaryModel, cfg.FallbackModel, log), nil
}

func newOpenAIClient(c chatCompleter, primary, fallback string, log *logger.Logger) *OpenAIClient {
	if log == nil {
		log = logger.Nop()
	}
	return &OpenAIClient{client: c, primaryModel: primary, fallbackModel: fallback, log: log}
}

// Generate returns the reply text. Errors are *errors.MedcaseError with code
// LLM_AUTH, LLM_SERVICE or CANCELLED.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	text, err := c.complete(ctx, c.primaryModel, req)
	if err == nil {
		return text, nil
	}
	if ctx.Err() == nil && c.fallbackModel != "" && c.fallbackModel != c.primaryModel && isModelUnavailable(err) {
		c.log.Warn("primary model unavailable, using fallback",
			"primary", c.primaryModel, "fallback", c.fallbackModel, "error", err.Error())
		text, err = c.complete(ctx, c.fallbackModel, req)
		if err == nil {
			return text, nil
		}
	}
	return "", classify(ctx, err)
}

func (c *OpenAIClient) complete(ctx context.Context, model string, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.Instructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.Instructions})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Input})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// isModelUnavailable reports whether err means the model cannot be used, as
// opposed to a bad key, a network fault or a malformed request.
func isModelUnavailable(err error) bool {
	if statusOf(err) == http.StatusNotFound {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range unavailableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classify maps a client error onto the error taxonomy.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil || stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewCancelled(err)
	}
	if statusOf(err) == http.StatusUnauthorized {
		return errors.NewLLMAuth(err)
	}
	return errors.NewLLMService(err)
}

// statusOf extracts the HTTP status from go-openai errors, or 0.
func statusOf(err error) int {
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if stderrors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
