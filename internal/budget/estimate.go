// Package budget implements the token-budget admission and progressive
// truncation engine. Everything here is a pure function over its inputs:
// the engine never performs IO and never returns an error — an unfittable
// diff set is reported through Decision.Success.
package budget

import "strings"

// modelCoefficients maps a model-name prefix to its characters-per-token
// ratio. Estimation is a cheap proxy for true tokenization and deliberately
// conservative: code-heavy text tokenizes denser than prose, so the ratios
// sit below the vendor-advertised averages.
var modelCoefficients = []struct {
	prefix        string
	charsPerToken float64
}{
	{"claude", 3.4},
	{"gpt", 3.6},
	{"gemini", 3.8},
}

const defaultCharsPerToken = 3.0

// charsPerTokenFor resolves the coefficient for a model identifier.
func charsPerTokenFor(model string) float64 {
	m := strings.ToLower(model)
	for _, c := range modelCoefficients {
		if strings.HasPrefix(m, c.prefix) {
			return c.charsPerToken
		}
	}
	return defaultCharsPerToken
}

// EstimateTokens approximates the token count of text for the given model.
// The estimate rounds up so admission decisions err toward truncating.
func EstimateTokens(text string, model string) int {
	if text == "" {
		return 0
	}
	coeff := charsPerTokenFor(model)
	return int(float64(len(text))/coeff) + 1
}
