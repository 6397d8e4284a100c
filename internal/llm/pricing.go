package llm

import "strings"

// Price per one million tokens, USD.
type Price struct {
	Input  float64
	Output float64
}

var pricing = map[string]Price{
	"gpt-4o-mini": {Input: 0.15, Output: 0.60},
	"gpt-4o":      {Input: 2.50, Output: 10.00},
}

const defaultModel = "gpt-4o-mini"

func PriceFor(model string) Price {
	if p, ok := pricing[model]; ok {
		return p
	}
	// dated snapshots such as gpt-4o-2024-08-06
	if strings.HasPrefix(model, "gpt-4o-mini") {
		return pricing["gpt-4o-mini"]
	}
	if strings.HasPrefix(model, "gpt-4o") {
		return pricing["gpt-4o"]
	}
	return pricing[defaultModel]
}

func EstimateCost(model string, usage Usage) float64 {
	p := PriceFor(model)
	return float64(usage.PromptTokens)/1_000_000*p.Input +
		float64(usage.CompletionTokens)/1_000_000*p.Output
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}
