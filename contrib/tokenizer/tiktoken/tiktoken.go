// Package tiktoken adapts the tiktoken-go encoder to the conversation
// window's TokenCounter, so history budgets line up with what OpenAI
// models actually bill.
package tiktoken

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/stallwart/switchboard/conversation"
)

var _ conversation.TokenCounter = (*Tokenizer)(nil)

// Tokenizer counts tokens using a tiktoken encoding.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New resolves name first as a model (for example gpt-4o), then as an
// encoding name (cl100k_base, o200k_base).
func New(name string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, err
		}
	}
	return &Tokenizer{enc: enc}, nil
}

// Encode returns the token ids for text.
func (t *Tokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// CountTokens reports how many tokens text encodes to.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// Decode reassembles text from token ids.
func (t *Tokenizer) Decode(ids []int) string {
	return t.enc.Decode(ids)
}
