// Package tokenizer counts tokens for the conversation window budget.
package tokenizer

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Counter uses the cl100k_base BPE when available. Loading the encoding can
// require a network fetch, so it is attempted lazily and the counter degrades
// to a character heuristic when the encoding cannot be loaded.
type Counter struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
}

func New() *Counter {
	return &Counter{}
}

func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}

	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			c.encoding = enc
		}
	})

	if c.encoding != nil {
		return len(c.encoding.Encode(text, nil, nil))
	}
	return approximateCount(text)
}

// approximateCount assumes ~4 characters per token, which tracks BPE output
// closely enough for budget enforcement.
func approximateCount(text string) int {
	n := utf8.RuneCountInString(text)
	count := (n + 3) / 4
	if count == 0 {
		count = 1
	}
	return count
}
