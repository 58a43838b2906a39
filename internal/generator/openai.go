package generator

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/iliyamo/dental-clinic-admin/internal/config"
)

// OpenAIGenerator runs the dental assistant prompt in-process against an
// OpenAI compatible chat completion endpoint.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	maxHistory  int
	logger      *zap.Logger
}

func NewOpenAI(cfg config.GeneratorConfig, logger *zap.Logger) *OpenAIGenerator {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger.Info("initializing OpenAI generator", zap.String("model", cfg.Model))
	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxHistory:  cfg.MaxHistory,
		logger:      logger,
	}
}

func (g *OpenAIGenerator) Name() string { return "openai" }

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	if DetectEmergency(req.Message) {
		return &Response{
			Response:          EmergencyResponse,
			Metadata:          map[string]any{"emergency_detected": true},
			EmergencyDetected: true,
		}, nil
	}

	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(req.PatientName, req.MedicalNotes)},
	}
	for _, h := range lastN(req.ChatHistory, g.maxHistory) {
		role := openai.ChatMessageRoleUser
		if h.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: h.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Message})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    msgs,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		g.logger.Error("OpenAI API call failed", zap.Error(err))
		return nil, classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, &RemoteError{Detail: "model returned no choices"}
	}

	choice := resp.Choices[0]
	g.logger.Debug("received OpenAI response", zap.String("finish_reason", string(choice.FinishReason)))
	model := resp.Model
	if model == "" {
		model = g.model
	}
	return &Response{
		Response: strings.TrimSpace(choice.Message.Content),
		Metadata: map[string]any{
			"model":             model,
			"finish_reason":     string(choice.FinishReason),
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
	}, nil
}

func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return classifyStatus(reqErr.HTTPStatusCode, reqErr.Error())
	}
	return classifyTransport(err)
}
