package llm

// Pricing is USD per million tokens.
type Pricing struct {
	Input  float64
	Output float64
}

// modelPricing maps model identifiers to their published rates. Unknown
// models fall back to the default entry so estimates never come back
// zero.
var modelPricing = map[string]Pricing{
	"gemini-2.5-flash":     {Input: 0.30, Output: 2.50},
	"gemini-2.5-pro":       {Input: 1.25, Output: 10.00},
	"gemini-3-pro-preview": {Input: 2.00, Output: 12.00},
	"gpt-4o":               {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":          {Input: 0.15, Output: 0.60},
	"o1":                   {Input: 15.00, Output: 60.00},
	"o3-mini":              {Input: 1.10, Output: 4.40},
	"claude-sonnet-4-5":    {Input: 3.00, Output: 15.00},
	"claude-haiku-4-5":     {Input: 1.00, Output: 5.00},
	"deep-research-pro":    {Input: 2.00, Output: 12.00},
	"default":              {Input: 2.00, Output: 10.00},
}

// PricingFor returns the rate card for a model.
func PricingFor(model string) Pricing {
	if p, ok := modelPricing[model]; ok {
		return p
	}
	return modelPricing["default"]
}

// EstimateCost computes the USD cost of an invocation from its token
// counts.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	p := PricingFor(model)
	return float64(promptTokens)/1_000_000*p.Input + float64(completionTokens)/1_000_000*p.Output
}

// TokensPerChunk approximates the size of one retrieved chunk when
// estimating rag-mode cost before execution.
const TokensPerChunk = 500

// EstimateRAGInputTokens predicts prompt size for rag mode given the
// configured chunk budget and the non-document prompt tokens.
func EstimateRAGInputTokens(topK, promptTokens int) int {
	return topK*TokensPerChunk + promptTokens
}
