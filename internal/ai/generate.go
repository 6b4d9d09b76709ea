package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const chatSystemPrompt = "You are a friendly assistant inside the goftego messenger. Keep answers short and conversational."

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one chat completion request to the configured
// OpenAI-compatible endpoint and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage, maxTokens int, temperature float64) (string, error) {
	if !c.GeneratorConfigured() {
		return "", fmt.Errorf("%w: text generator not configured", ErrUpstreamUnavailable)
	}

	req := completionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	var resp completionResponse
	if err := c.postJSON(ctx, "llm", c.cfg.BaseURL+"/chat/completions", c.cfg.APIKey, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: llm: no choices", ErrUpstreamUnavailable)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: llm: empty reply", ErrUpstreamUnavailable)
	}
	return text, nil
}

// Chat continues userID's conversation with the text generator. The
// exchange is appended to the user's history only on success.
func (c *Client) Chat(ctx context.Context, userID, message string) (string, error) {
	messages := []ChatMessage{{Role: RoleSystem, Content: chatSystemPrompt}}
	messages = append(messages, c.history.Get(userID)...)
	messages = append(messages, ChatMessage{Role: RoleUser, Content: message})

	reply, err := c.Complete(ctx, messages, 500, 0.7)
	if err != nil {
		return "", err
	}

	c.history.Append(userID,
		ChatMessage{Role: RoleUser, Content: message},
		ChatMessage{Role: RoleAssistant, Content: reply},
	)
	return reply, nil
}

// ChatReply is Chat with every failure turned into a short notice for
// the user.
func (c *Client) ChatReply(ctx context.Context, userID, message string) string {
	reply, err := c.Chat(ctx, userID, message)
	if err == nil {
		return reply
	}

	log.Printf("AI chat failed for user %s: %v", userID, err)
	if !c.GeneratorConfigured() {
		return "⚠️ AI is not configured. Please set LLM_BASE_URL and LLM_API_KEY."
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		switch upstream.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "⚠️ Invalid AI API key. Please check your configuration."
		case http.StatusTooManyRequests:
			return "⏳ AI quota exceeded. Please try again later."
		}
	}
	return "🤖 I'm having trouble connecting right now. Please try again!"
}

// ClearHistory forgets userID's chat history.
func (c *Client) ClearHistory(userID string) {
	c.history.Clear(userID)
}
