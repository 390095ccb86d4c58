// Package pricing turns token counts into USD for configured backends.
package pricing

import (
	"sort"
	"strings"
	"sync"
)

// ModelPricing is a per-1K price pair. Model may end in "*" to match a prefix.
type ModelPricing struct {
	Model           string  `json:"model" yaml:"model"`
	InputCostPer1K  float64 `json:"input_cost_per_1k" yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `json:"output_cost_per_1k" yaml:"output_cost_per_1k"`
}

// Cost returns the price of the given token counts.
func (p ModelPricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000.0*p.InputCostPer1K + float64(outputTokens)/1000.0*p.OutputCostPer1K
}

// IsZero reports whether both prices are zero.
func (p ModelPricing) IsZero() bool {
	return p.InputCostPer1K == 0 && p.OutputCostPer1K == 0
}

// DefaultPricing is used for backends configured without explicit prices.
// Prices are USD per 1000 tokens.
var DefaultPricing = []ModelPricing{
	{Model: "gpt-4o", InputCostPer1K: 0.005, OutputCostPer1K: 0.015},
	{Model: "gpt-4o-mini", InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006},
	{Model: "gpt-4-turbo*", InputCostPer1K: 0.01, OutputCostPer1K: 0.03},
	{Model: "gpt-4*", InputCostPer1K: 0.03, OutputCostPer1K: 0.06},
	{Model: "gpt-3.5-turbo*", InputCostPer1K: 0.0005, OutputCostPer1K: 0.0015},
	{Model: "claude-3-5-sonnet*", InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
	{Model: "claude-3-opus*", InputCostPer1K: 0.015, OutputCostPer1K: 0.075},
	{Model: "claude-3-haiku*", InputCostPer1K: 0.00025, OutputCostPer1K: 0.00125},
	{Model: "gemini-1.5-pro*", InputCostPer1K: 0.00125, OutputCostPer1K: 0.005},
	{Model: "mistral-large*", InputCostPer1K: 0.004, OutputCostPer1K: 0.012},
}

// Calculator prices requests per backend. Backends registered without prices
// fall back to the model table.
type Calculator struct {
	mu       sync.RWMutex
	models   []ModelPricing
	backends map[string]ModelPricing
	order    []string
}

// NewCalculator creates a calculator. A nil table selects DefaultPricing.
func NewCalculator(models []ModelPricing) *Calculator {
	if models == nil {
		models = DefaultPricing
	}
	return &Calculator{
		models:   append([]ModelPricing(nil), models...),
		backends: make(map[string]ModelPricing),
	}
}

// Register sets the pricing for a backend and returns what was stored. If p
// has no prices, the model table is consulted by p.Model. A backend whose model
// is unknown is priced at zero.
func (c *Calculator) Register(backendID string, p ModelPricing) ModelPricing {
	if p.IsZero() {
		if found, ok := c.Lookup(p.Model); ok {
			p.InputCostPer1K = found.InputCostPer1K
			p.OutputCostPer1K = found.OutputCostPer1K
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.backends[backendID]; !exists {
		c.order = append(c.order, backendID)
	}
	c.backends[backendID] = p
	return p
}

// Backend returns the registered pricing for backendID.
func (c *Calculator) Backend(backendID string) (ModelPricing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.backends[backendID]
	return p, ok
}

// Calculate returns the cost of a request served by backendID. Unknown
// backends cost 0.
func (c *Calculator) Calculate(backendID string, inputTokens, outputTokens int) float64 {
	p, ok := c.Backend(backendID)
	if !ok {
		return 0
	}
	return p.Cost(inputTokens, outputTokens)
}

// Blended returns the arithmetic mean of input and output prices across all
// registered backends.
func (c *Calculator) Blended() ModelPricing {
	c.mu.RLock()
	defer c.mu.RUnlock()

	blended := ModelPricing{Model: "blended"}
	if len(c.order) == 0 {
		return blended
	}
	for _, id := range c.order {
		p := c.backends[id]
		blended.InputCostPer1K += p.InputCostPer1K
		blended.OutputCostPer1K += p.OutputCostPer1K
	}
	n := float64(len(c.order))
	blended.InputCostPer1K /= n
	blended.OutputCostPer1K /= n
	return blended
}

// Estimate prices token counts at the blended rate.
func (c *Calculator) Estimate(inputTokens, outputTokens int) float64 {
	return c.Blended().Cost(inputTokens, outputTokens)
}

// Lookup finds the model table entry for model. Exact (case-insensitive)
// matches win; otherwise the longest matching wildcard prefix is used.
func (c *Calculator) Lookup(model string) (ModelPricing, bool) {
	if model == "" {
		return ModelPricing{}, false
	}
	lower := strings.ToLower(model)

	for _, p := range c.models {
		if strings.EqualFold(p.Model, model) {
			return p, true
		}
	}

	candidates := make([]ModelPricing, 0, 4)
	for _, p := range c.models {
		prefix, ok := strings.CutSuffix(p.Model, "*")
		if ok && strings.HasPrefix(lower, strings.ToLower(prefix)) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return ModelPricing{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].Model) > len(candidates[j].Model)
	})
	return candidates[0], true
}
