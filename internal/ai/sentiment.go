package ai

import (
	"context"
	"fmt"
	"log"
	"strings"
)

const (
	LabelPositive = "positive"
	LabelNegative = "negative"
	LabelNeutral  = "neutral"
)

type Sentiment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
	Emoji string  `json:"emoji"`
}

var (
	positiveWords = []string{"happy", "great", "awesome", "love", "amazing", "good", "excellent", "wonderful", "thanks", "thank", "lol", "haha", "😊", "😄", "❤️", "👍"}
	negativeWords = []string{"sad", "bad", "hate", "terrible", "awful", "angry", "upset", "sorry", "unfortunately", "problem", "😢", "😭", "😠", "👎"}
)

// Emoji maps a label and its confidence to a face.
func Emoji(label string, score float64) string {
	switch label {
	case LabelPositive:
		switch {
		case score > 0.9:
			return "🤩"
		case score > 0.7:
			return "😊"
		}
		return "🙂"
	case LabelNegative:
		switch {
		case score > 0.9:
			return "😭"
		case score > 0.7:
			return "😢"
		}
		return "😕"
	}
	return "😐"
}

// KeywordSentiment classifies text by counting known positive and
// negative words.
func KeywordSentiment(text string) Sentiment {
	lower := strings.ToLower(text)
	positive := countContained(lower, positiveWords)
	negative := countContained(lower, negativeWords)

	switch {
	case positive > negative:
		return Sentiment{Label: LabelPositive, Score: 0.7, Emoji: "😊"}
	case negative > positive:
		return Sentiment{Label: LabelNegative, Score: 0.7, Emoji: "😢"}
	}
	return Sentiment{Label: LabelNeutral, Score: 0.5, Emoji: "😐"}
}

func countContained(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}

// Classify asks the remote classifier. The response is the
// text-classification shape [[{label, score}, ...]]; the top score wins.
func (c *Client) Classify(ctx context.Context, text string) (Sentiment, error) {
	if !c.sentimentConfigured() {
		return Sentiment{}, fmt.Errorf("%w: sentiment service not configured", ErrUpstreamUnavailable)
	}

	var scores [][]struct {
		Label string  `json:"label"`
		Score float64 `json:"score"`
	}
	err := c.postJSON(ctx, "sentiment", c.cfg.SentimentURL, c.cfg.SentimentToken,
		map[string]string{"inputs": text}, &scores)
	if err != nil {
		return Sentiment{}, err
	}
	if len(scores) == 0 || len(scores[0]) == 0 {
		return Sentiment{}, fmt.Errorf("%w: sentiment: empty result", ErrUpstreamUnavailable)
	}

	top := scores[0][0]
	for _, s := range scores[0][1:] {
		if s.Score > top.Score {
			top = s
		}
	}
	label := strings.ToLower(top.Label)
	return Sentiment{Label: label, Score: top.Score, Emoji: Emoji(label, top.Score)}, nil
}

// AnalyzeSentiment classifies text remotely and falls back to
// KeywordSentiment when the classifier is unavailable.
func (c *Client) AnalyzeSentiment(ctx context.Context, text string) Sentiment {
	s, err := c.Classify(ctx, text)
	if err != nil {
		if c.sentimentConfigured() {
			log.Printf("Sentiment fallback: %v", err)
		}
		return KeywordSentiment(text)
	}
	return s
}
