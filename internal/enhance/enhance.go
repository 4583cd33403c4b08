// Package enhance implements the prompt-enhancement middleware: it looks up
// a per-client rule, consults the prompt cache, and otherwise calls out to
// an Ollama-compatible model server, falling back through a chain of
// alternate models when the primary one fails or cannot fit the prompt.
package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dev.helix.router/internal/promptcache"
)

// ModelLimits gives the approximate context window, in tokens, for each
// model the router knows how to call. Unlisted models fall back to a
// conservative 8k budget.
var ModelLimits = map[string]int{
	"llama3.2:3b":      128_000,
	"llama3":           8_000,
	"deepseek-r1:14b":  64_000,
	"deepseek-r1":      64_000,
	"qwen2.5-coder:7b": 128_000,
	"phi3:mini":        128_000,
	"nomic-embed-text": 8_000,
}

const defaultModelLimit = 8_000

// Result is the outcome of an enhancement attempt.
type Result struct {
	Original string `json:"original"`
	Enhanced string `json:"enhanced"`
	Model    string `json:"model,omitempty"`
	Cached   bool   `json:"cached"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Middleware enhances prompts on behalf of MCP clients.
type Middleware struct {
	ollamaURL string
	client    *http.Client
	cache     *promptcache.Cache
	rules     *RuleSet
	log       *logrus.Entry
}

// New builds enhancement middleware around an Ollama-compatible base URL.
func New(ollamaURL string, rules *RuleSet, cache *promptcache.Cache, log *logrus.Logger) *Middleware {
	if log == nil {
		log = logrus.New()
	}
	if rules == nil {
		rules = defaultRuleSet()
	}
	return &Middleware{
		ollamaURL: strings.TrimRight(ollamaURL, "/"),
		client:    &http.Client{Timeout: 60 * time.Second},
		cache:     cache,
		rules:     rules,
		log:       log.WithField("component", "enhance"),
	}
}

// Enhance applies the client's enhancement rule to prompt. It never returns
// an error: failures degrade gracefully to the original prompt, with the
// failure recorded in Result.Error, so a flaky model server never breaks a
// client's request.
func (m *Middleware) Enhance(ctx context.Context, prompt, client string) Result {
	rule := m.rules.RuleFor(client)

	if !rule.Enabled {
		return Result{Original: prompt, Enhanced: prompt, Skipped: true}
	}

	if m.cache != nil {
		if entry, ok := m.cache.Get(ctx, prompt, nil); ok {
			return Result{
				Original: prompt,
				Enhanced: entry.Response,
				Model:    entry.Model,
				Cached:   true,
			}
		}
	}

	enhanced, err := m.callOllama(ctx, prompt, rule)
	if err != nil {
		m.log.Errorf("enhancement failed: %v", err)
		return Result{
			Original: prompt,
			Enhanced: prompt,
			Model:    rule.Model,
			Error:    err.Error(),
		}
	}

	if m.cache != nil {
		m.cache.Put(ctx, prompt, enhanced, rule.Model, nil)
	}

	return Result{Original: prompt, Enhanced: enhanced, Model: rule.Model}
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

// callOllama tries rule.Model first, then each model in the configured
// fallback chain, skipping any model the prompt does not fit within.
func (m *Middleware) callOllama(ctx context.Context, prompt string, rule Rule) (string, error) {
	models := []string{rule.Model}
	for _, fb := range m.rules.FallbackChain {
		if fb != "" && fb != rule.Model {
			models = append(models, fb)
		}
	}

	var lastErr error
	for _, model := range models {
		if !fitsContextLimit(prompt, model) {
			m.log.Warnf("prompt too large for %s, trying next", model)
			continue
		}

		reqBody := ollamaGenerateRequest{
			Model:  model,
			Prompt: fmt.Sprintf("Enhance this prompt:\n\n%s", prompt),
			System: rule.SystemPrompt,
			Stream: false,
		}
		body, err := json.Marshal(reqBody)
		if err != nil {
			lastErr = err
			continue
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.ollamaURL+"/api/generate", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := m.client.Do(httpReq)
		if err != nil {
			m.log.Warnf("ollama %s failed: %v", model, err)
			lastErr = err
			continue
		}

		if resp.StatusCode >= 400 {
			resp.Body.Close()
			lastErr = fmt.Errorf("ollama %s returned status %d", model, resp.StatusCode)
			m.log.Warnf("%v", lastErr)
			continue
		}

		var out ollamaGenerateResponse
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		return strings.TrimSpace(out.Response), nil
	}

	if lastErr != nil {
		return "", lastErr
	}
	return prompt, nil
}

// fitsContextLimit estimates token count at 4 characters per token and
// leaves a 10% safety margin below the model's published context window.
func fitsContextLimit(prompt, model string) bool {
	limit, ok := ModelLimits[model]
	if !ok {
		limit = defaultModelLimit
	}
	estimatedTokens := len(prompt) / 4
	return float64(estimatedTokens) < float64(limit)*0.9
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// GetEmbedding fetches an embedding vector for text from Ollama's
// embeddings endpoint, returning nil if the call fails.
func (m *Middleware) GetEmbedding(ctx context.Context, text, model string) []float32 {
	if model == "" {
		model = "nomic-embed-text"
	}

	body, err := json.Marshal(ollamaEmbeddingRequest{Model: model, Prompt: text})
	if err != nil {
		return nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.ollamaURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		m.log.Errorf("embedding request failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	var out ollamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		m.log.Errorf("embedding decode failed: %v", err)
		return nil
	}
	return out.Embedding
}

// CacheStats proxies to the underlying prompt cache's statistics.
func (m *Middleware) CacheStats(ctx context.Context) promptcache.Snapshot {
	if m.cache == nil {
		return promptcache.Snapshot{}
	}
	return m.cache.Stats(ctx)
}

// ClearCache empties the underlying prompt cache.
func (m *Middleware) ClearCache(ctx context.Context) {
	if m.cache != nil {
		m.cache.Clear(ctx)
	}
}
