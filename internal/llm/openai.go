package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/homer-dev/homer/internal/homer/herrors"
)

// promptTemplates maps each Request.Kind to the system prompt that asks
// the model for that kind's structured shape — the "prompt_template"
// spec §6 names, versioned by Request.PromptTemplateVersion on the
// caller's side (the template text itself lives here, per version, rather
// than being loaded from disk, matching the teacher's preference for
// code-embedded constants over external template files).
var promptTemplates = map[string]string{
	"summary":               "Summarize the purpose of the following code or document in one or two sentences. Respond as JSON: {\"summary\": \"...\"}.",
	"design_rationale":      "Explain the likely design rationale behind the following code in one or two sentences. Respond as JSON: {\"rationale\": \"...\"}.",
	"invariant_description": "Identify the key invariant the following code enforces, in one sentence. Respond as JSON: {\"invariant\": \"...\"}.",
}

// OpenAISummarizer implements Summarizer against an OpenAI-compatible chat
// completions endpoint (grounded on the teacher pack's
// jinterlante1206-AleutianLocal/services/llm/openai_llm.go shape).
type OpenAISummarizer struct {
	client *openai.Client
	model  string
}

// NewOpenAISummarizer constructs an OpenAISummarizer. baseURL may be empty
// to use OpenAI's own endpoint, or set to point at an OpenAI-compatible
// server (local model runners, proxies).
func NewOpenAISummarizer(apiKey, model, baseURL string) *OpenAISummarizer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAISummarizer{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAISummarizer) Summarize(ctx context.Context, req Request) (*Response, error) {
	system, ok := promptTemplates[req.Kind]
	if !ok {
		return nil, herrors.New(herrors.Input, fmt.Sprintf("unknown summarizer kind %q", req.Kind))
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.Content},
		},
	})
	if err != nil {
		return nil, herrors.Wrap(herrors.Transient, "openai chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, herrors.New(herrors.Transient, "openai returned no choices")
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &data); err != nil {
		return nil, herrors.Wrap(herrors.Input, "parsing summarizer JSON response", err)
	}
	return &Response{Data: data}, nil
}
