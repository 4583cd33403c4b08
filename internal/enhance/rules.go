package enhance

import (
	"encoding/json"
	"os"
)

// Rule configures how a single client's prompts are enhanced.
type Rule struct {
	Enabled      bool   `json:"enabled"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
}

// RuleSet is the full enhancement configuration: a default rule, per-client
// overrides, and a model fallback chain tried when a client's chosen model
// fails or cannot fit the prompt.
type RuleSet struct {
	Default       Rule            `json:"default"`
	Clients       map[string]Rule `json:"clients"`
	FallbackChain []string        `json:"fallback_chain"`
}

func defaultRuleSet() *RuleSet {
	return &RuleSet{
		Default: Rule{
			Enabled:      true,
			Model:        "llama3.2:3b",
			SystemPrompt: "Improve clarity and structure. Preserve intent.",
		},
		Clients: map[string]Rule{},
	}
}

// LoadRuleSet reads enhancement rules from a JSON file at path. A missing
// file is not an error: it falls back to a sensible built-in default so the
// router can start without operator-supplied configuration.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultRuleSet(), nil
		}
		return nil, err
	}

	var raw struct {
		Default       Rule            `json:"default"`
		Clients       map[string]Rule `json:"clients"`
		FallbackChain []string        `json:"fallback_chain"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	rs := &RuleSet{
		Default:       raw.Default,
		Clients:       raw.Clients,
		FallbackChain: raw.FallbackChain,
	}
	if rs.Clients == nil {
		rs.Clients = map[string]Rule{}
	}
	return rs, nil
}

// RuleFor returns the rule for the named client, falling back to the
// default rule when the client is unknown or unspecified.
func (rs *RuleSet) RuleFor(client string) Rule {
	if client != "" {
		if r, ok := rs.Clients[client]; ok {
			return r
		}
	}
	return rs.Default
}
