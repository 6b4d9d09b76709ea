package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
)

const smartReplyPrompt = `You are a smart reply generator. Generate exactly 3 short, casual reply suggestions for the given message.
Each reply should be 2-8 words maximum.
Return ONLY a JSON array of 3 strings, nothing else.
Example: ["Sure!", "Let me check", "Sounds good 👍"]`

var quoted = regexp.MustCompile(`"([^"]+)"`)

// SmartReplies returns exactly three reply suggestions for message.
// history is optional conversation context.
func (c *Client) SmartReplies(ctx context.Context, message, history string) []string {
	prompt := fmt.Sprintf("Message to reply to: %q", message)
	if history != "" {
		prompt = "Context: " + history + "\n\n" + prompt
	}

	content, err := c.Complete(ctx, []ChatMessage{
		{Role: RoleSystem, Content: smartReplyPrompt},
		{Role: RoleUser, Content: prompt},
	}, 100, 0.7)
	if err != nil {
		if c.GeneratorConfigured() {
			log.Printf("Smart reply fallback: %v", err)
		}
		return TemplateReplies(message)
	}

	if replies := parseReplies(content); replies != nil {
		return replies
	}
	return TemplateReplies(message)
}

// parseReplies reads a JSON array of strings, or failing that the first
// three double-quoted strings in content.
func parseReplies(content string) []string {
	var replies []string
	if err := json.Unmarshal([]byte(content), &replies); err == nil {
		if len(replies) >= 3 {
			return replies[:3]
		}
		return nil
	}

	matches := quoted.FindAllStringSubmatch(content, -1)
	if len(matches) < 3 {
		return nil
	}
	out := make([]string, 3)
	for i := range out {
		out[i] = matches[i][1]
	}
	return out
}

// TemplateReplies picks canned suggestions by keyword.
func TemplateReplies(message string) []string {
	lower := strings.ToLower(message)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}

	switch {
	case has("?", "how", "what"):
		return []string{"Let me check", "I'll get back to you", "Good question!"}
	case has("hi", "hello", "hey"):
		return []string{"Hey! 👋", "Hi there!", "Hello!"}
	case has("thank"):
		return []string{"You're welcome!", "No problem!", "Anytime! 😊"}
	case has("meet", "plan", "tomorrow"):
		return []string{"Sounds good!", "I'm in!", "Let me check my schedule"}
	}
	return []string{"Got it!", "Okay 👍", "Sure!"}
}
