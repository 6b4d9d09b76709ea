package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func completionServer(t *testing.T, status int, replies ...string) (*httptest.Server, *[]completionRequest) {
	t.Helper()
	var seen []completionRequest
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		seen = append(seen, req)

		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"nope"}}`))
			return
		}
		reply := replies[calls%len(replies)]
		calls++
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": reply}}},
		})
	}))
	t.Cleanup(server.Close)
	return server, &seen
}

func newTestClient(url string) *Client {
	return New(Config{BaseURL: url + "/v1/", APIKey: "test-key", Model: "test-model"}, nil)
}

func TestEmoji(t *testing.T) {
	tests := []struct {
		label string
		score float64
		want  string
	}{
		{LabelPositive, 0.95, "🤩"},
		{LabelPositive, 0.8, "😊"},
		{LabelPositive, 0.7, "🙂"},
		{LabelNegative, 0.91, "😭"},
		{LabelNegative, 0.75, "😢"},
		{LabelNegative, 0.2, "😕"},
		{LabelNeutral, 0.99, "😐"},
		{"LABEL_9", 0.99, "😐"},
	}

	for _, tt := range tests {
		if got := Emoji(tt.label, tt.score); got != tt.want {
			t.Errorf("Emoji(%s, %v) = %s, want %s", tt.label, tt.score, got, tt.want)
		}
	}
}

func TestKeywordSentiment(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"This is AWESOME, thanks!", LabelPositive},
		{"I hate this problem", LabelNegative},
		{"good but sad", LabelNeutral},
		{"the meeting is at noon", LabelNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := KeywordSentiment(tt.text); got.Label != tt.want {
				t.Errorf("KeywordSentiment() = %+v, want %s", got, tt.want)
			}
		})
	}
}

func TestAnalyzeSentimentRemote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["inputs"] != "what a day" {
			t.Errorf("inputs = %q", body["inputs"])
		}
		w.Write([]byte(`[[{"label":"Neutral","score":0.05},{"label":"Positive","score":0.93},{"label":"Negative","score":0.02}]]`))
	}))
	defer server.Close()

	c := New(Config{SentimentURL: server.URL, SentimentToken: "hf"}, nil)
	got := c.AnalyzeSentiment(context.Background(), "what a day")
	if got.Label != LabelPositive || got.Score != 0.93 || got.Emoji != "🤩" {
		t.Errorf("AnalyzeSentiment() = %+v", got)
	}
}

func TestAnalyzeSentimentFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	for _, c := range []*Client{
		New(Config{}, nil),
		New(Config{SentimentURL: server.URL, SentimentToken: "hf"}, nil),
	} {
		got := c.AnalyzeSentiment(context.Background(), "I love it")
		if got != (Sentiment{Label: LabelPositive, Score: 0.7, Emoji: "😊"}) {
			t.Errorf("AnalyzeSentiment() = %+v", got)
		}
	}

	if _, err := New(Config{}, nil).Classify(context.Background(), "x"); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("Classify() unconfigured error = %v", err)
	}
}

func TestChatKeepsBoundedHistory(t *testing.T) {
	server, seen := completionServer(t, http.StatusOK, "reply")
	c := newTestClient(server.URL)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		if _, err := c.Chat(ctx, "alice", "hello"); err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
	}

	if got := len(c.history.Get("alice")); got != maxHistory {
		t.Errorf("history length = %d, want %d", got, maxHistory)
	}
	last := (*seen)[len(*seen)-1]
	// system prompt + 20 history entries + the new message
	if len(last.Messages) != maxHistory+2 {
		t.Errorf("last request carried %d messages", len(last.Messages))
	}
	if last.Model != "test-model" || last.Messages[0].Role != RoleSystem {
		t.Errorf("unexpected request: %+v", last)
	}

	c.ClearHistory("alice")
	if len(c.history.Get("alice")) != 0 {
		t.Error("ClearHistory() left entries behind")
	}
}

func TestChatReplyMapsFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   string
	}{
		{name: "quota", status: http.StatusTooManyRequests, want: "quota"},
		{name: "bad key", status: http.StatusUnauthorized, want: "Invalid AI API key"},
		{name: "server error", status: http.StatusBadGateway, want: "trouble connecting"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := completionServer(t, tt.status)
			c := newTestClient(server.URL)

			got := c.ChatReply(context.Background(), "alice", "hi")
			if !strings.Contains(got, tt.want) {
				t.Errorf("ChatReply() = %q, want it to mention %q", got, tt.want)
			}
			if len(c.history.Get("alice")) != 0 {
				t.Error("failed exchange was recorded in history")
			}
		})
	}

	if got := New(Config{}, nil).ChatReply(context.Background(), "alice", "hi"); !strings.Contains(got, "not configured") {
		t.Errorf("unconfigured ChatReply() = %q", got)
	}
}

func TestSmartReplies(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{name: "json array", reply: `["Sure!", "Why not", "Later", "Extra"]`, want: []string{"Sure!", "Why not", "Later"}},
		{name: "quoted text", reply: `Here you go: "Yes" "No" "Maybe"`, want: []string{"Yes", "No", "Maybe"}},
		{name: "short array", reply: `["Only one"]`, want: []string{"Hey! 👋", "Hi there!", "Hello!"}},
		{name: "prose", reply: `I cannot help with that`, want: []string{"Hey! 👋", "Hi there!", "Hello!"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := completionServer(t, http.StatusOK, tt.reply)
			got := newTestClient(server.URL).SmartReplies(context.Background(), "hello there", "")
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("SmartReplies() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTemplateReplies(t *testing.T) {
	tests := []struct {
		message string
		first   string
	}{
		{"Are you coming?", "Let me check"},
		{"hey you", "Hey! 👋"},
		{"Thanks a lot", "You're welcome!"},
		{"see you tomorrow", "Sounds good!"},
		{"ok", "Got it!"},
	}

	for _, tt := range tests {
		got := TemplateReplies(tt.message)
		if len(got) != 3 || got[0] != tt.first {
			t.Errorf("TemplateReplies(%q) = %q", tt.message, got)
		}
	}
}
