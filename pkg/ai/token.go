package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const fallbackEncoding = "cl100k_base"

var encodings sync.Map // model -> *tiktoken.Tiktoken

func encodingFor(model string) (*tiktoken.Tiktoken, error) {
	if tkm, ok := encodings.Load(model); ok {
		return tkm.(*tiktoken.Tiktoken), nil
	}

	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Unknown model: gpt-4 family encoding is close enough for budgeting.
		tkm, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, err
		}
	}
	encodings.Store(model, tkm)
	return tkm, nil
}

// CountTokens returns the number of tokens in a string for a specific model.
// When no encoding can be loaded it falls back to the usual four-characters-per-token estimate.
func CountTokens(model string, text string) int {
	tkm, err := encodingFor(model)
	if err != nil {
		return approxTokens(text)
	}
	return len(tkm.Encode(text, nil, nil))
}

// CountMessageTokens counts the prompt tokens of a chat request, including the
// per-message framing overhead the chat format adds.
func CountMessageTokens(model string, msgs []Message) int {
	const perMessage = 3
	total := 3 // every reply is primed with <|start|>assistant<|message|>
	for _, m := range msgs {
		total += perMessage + CountTokens(model, m.Role) + CountTokens(model, m.Content)
	}
	return total
}

func approxTokens(text string) int {
	return (len(text) + 3) / 4
}

// DefaultPricePer1K is used for models missing from the pricing table (USD per 1k tokens).
const DefaultPricePer1K = 0.0005

// EstimateCost calculates price based on tokens and a per-1k pricing table.
func EstimateCost(tokens int, model string, pricing map[string]float64) float64 {
	pricePer1k := DefaultPricePer1K
	if p, ok := pricing[model]; ok && p > 0 {
		pricePer1k = p
	}
	return (float64(tokens) / 1000.0) * pricePer1k
}
