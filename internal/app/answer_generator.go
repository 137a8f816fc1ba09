package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Chandra1295/multi-modal-rag/internal/ai"
)

// ErrGeneration marks language-model backend failures. The question survives
// in the UI so the user can retry; no retry happens here.
var ErrGeneration = errors.New("answer generation failed")

const answerSystemPrompt = "You are a helpful document assistant. Answer based only on the supplied context. " +
	"Answer concisely and accurately. If the context does not contain enough information, say \"I don't know\"."

// LLMClient is the slice of the chat backend the generator needs.
type LLMClient interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (string, error)
}

// AnswerGenerator binds the fixed instruction template to a language model.
type AnswerGenerator struct {
	client          LLMClient
	cfg             ai.ChatConfig
	maxContextChars int
	timeout         time.Duration
}

func NewAnswerGenerator(client LLMClient, cfg ai.ChatConfig, maxContextChars int, timeout time.Duration) *AnswerGenerator {
	if maxContextChars <= 0 {
		maxContextChars = 3000
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &AnswerGenerator{
		client:          client,
		cfg:             cfg,
		maxContextChars: maxContextChars,
		timeout:         timeout,
	}
}

// Generate substitutes question and context into the template and invokes
// the model. Context is capped at the configured limit up front; a
// temperature in [0,1] overrides the configured default.
func (g *AnswerGenerator) Generate(ctx context.Context, question, contextText string, temperature float64) (string, error) {
	contextText = capRunes(contextText, g.maxContextChars)

	cfg := g.cfg
	if temperature >= 0 && temperature <= 1 {
		cfg.Temperature = temperature
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	messages := []ai.ChatMessage{
		{Role: "system", Content: answerSystemPrompt},
		{Role: "user", Content: "Context:\n" + contextText + "\n\nQuestion: " + question + "\n\nAnswer:"},
	}
	answer, err := g.client.Complete(callCtx, cfg, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("%w: model returned an empty response", ErrGeneration)
	}
	return answer, nil
}

func capRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
