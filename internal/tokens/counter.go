// Package tokens provides token counting for trimming conversation memory
// to a prompt budget.
package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens with tiktoken's cl100k_base encoding. All supported
// providers are close enough to this encoding for budgeting purposes; when
// the codec cannot be loaded the counter falls back to a character estimate.
type Counter struct {
	once  sync.Once
	codec tokenizer.Codec
	err   error
}

func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) getCodec() (tokenizer.Codec, error) {
	c.once.Do(func() {
		c.codec, c.err = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return c.codec, c.err
}

// Count returns the token count of text, or an estimate when the codec is
// unavailable.
func (c *Counter) Count(text string) int {
	codec, err := c.getCodec()
	if err != nil {
		return Estimate(text)
	}
	n, err := codec.Count(text)
	if err != nil {
		return Estimate(text)
	}
	return n
}

// Estimate approximates token count as one token per four characters,
// rounded up. Matches the common heuristic for English text.
func Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}
