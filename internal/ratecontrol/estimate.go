package ratecontrol

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encoderMu    sync.Mutex
	encoderCache = map[string]*tiktoken.Tiktoken{}
)

// EstimateTokens estimates the token count of the given texts for a model.
// Unknown models fall back to a bytes/4 heuristic, which overestimates for
// dense code but errs on the safe side for rate budgeting.
func EstimateTokens(model string, texts ...string) int {
	enc := encoderFor(model)
	total := 0
	for _, text := range texts {
		if enc != nil {
			total += len(enc.Encode(text, nil, nil))
			continue
		}
		total += (len(text) + 3) / 4
	}
	return total
}

func encoderFor(model string) *tiktoken.Tiktoken {
	encoderMu.Lock()
	defer encoderMu.Unlock()

	if enc, ok := encoderCache[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			enc = nil
		}
	}
	encoderCache[model] = enc
	return enc
}
