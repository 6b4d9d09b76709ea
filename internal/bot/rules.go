package bot

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Rule replies with Reply when the lowercased message contains any of
// Match.
type Rule struct {
	Match []string `yaml:"match"`
	Reply string   `yaml:"reply"`
}

// Rules is the offline reply table used when no text generator is
// available. Rules are tried in order.
type Rules struct {
	Rules   []Rule `yaml:"rules"`
	Default string `yaml:"default"`
}

// DefaultRules returns the built-in table.
func DefaultRules() *Rules {
	rules, err := ParseRules(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("bot: built-in rules: %v", err))
	}
	return rules
}

// LoadRules reads a YAML rule file. An empty path returns the built-in
// table.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

func ParseRules(data []byte) (*Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if strings.TrimSpace(rules.Default) == "" {
		return nil, fmt.Errorf("rules: default reply is required")
	}
	for i, r := range rules.Rules {
		if len(r.Match) == 0 || strings.TrimSpace(r.Reply) == "" {
			return nil, fmt.Errorf("rules: rule %d needs match and reply", i)
		}
		for j, m := range r.Match {
			rules.Rules[i].Match[j] = strings.ToLower(m)
		}
	}
	return &rules, nil
}

func (r *Rules) Reply(text string) string {
	lower := strings.ToLower(text)
	for _, rule := range r.Rules {
		for _, m := range rule.Match {
			if strings.Contains(lower, m) {
				return rule.Reply
			}
		}
	}
	return r.Default
}
