// Package ledger - pricing.go estimates the credit cost of an operation
// before it is dispatched.
//
// DESIGN: Flat per-operation credits from the config cost table, plus a
// per-1K-token component for text operations. Token counts come from the
// cl100k_base tokenizer; when the encoding cannot be loaded the estimate
// falls back to bytes/4. Estimates are pre-reservation only - the ledger
// adjusts to the backend-reported actual cost on commit.
package ledger

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// FallbackOpCost is charged for operations missing from the cost table.
const FallbackOpCost = 1.0

// fallbackCharsPerToken approximates tokens when the tokenizer is unavailable.
const fallbackCharsPerToken = 4

// Pricing estimates credit costs from the static cost table.
type Pricing struct {
	perOp     map[string]float64
	tokenRate map[string]float64

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// NewPricing builds a pricing table. costTable maps operation to flat
// credits; tokenRate maps operation to credits per 1K input tokens.
func NewPricing(costTable, tokenRate map[string]float64) *Pricing {
	return &Pricing{
		perOp:     costTable,
		tokenRate: tokenRate,
	}
}

// Estimate returns the pre-reservation cost for op with the given input text.
func (p *Pricing) Estimate(op, text string) float64 {
	cost, ok := p.perOp[op]
	if !ok {
		cost = FallbackOpCost
	}

	if rate := p.tokenRate[op]; rate > 0 && text != "" {
		cost += rate * float64(p.countTokens(text)) / 1000
	}
	return cost
}

func (p *Pricing) countTokens(text string) int {
	p.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warn().Err(err).Msg("tokenizer unavailable, estimating tokens from length")
			return
		}
		p.enc = enc
	})

	if p.enc == nil {
		n := len(text) / fallbackCharsPerToken
		if n < 1 {
			n = 1
		}
		return n
	}
	return len(p.enc.Encode(text, nil, nil))
}
