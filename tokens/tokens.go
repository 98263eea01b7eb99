// Package tokens counts tokens for chunk sizing and prompt accounting.
package tokens

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Counter reports how many tokens a text encodes to.
type Counter interface {
	Count(text string) int
}

const encodingName = "cl100k_base"

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken returns a Counter backed by the cl100k_base BPE encoding.
func NewTiktoken() (Counter, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", encodingName, err)
	}
	return &tiktokenCounter{enc: enc}, nil
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Approximate estimates token counts from word counts when no BPE encoding is
// available. English prose averages roughly three tokens per four words.
type Approximate struct{}

func (Approximate) Count(text string) int {
	words := len(strings.Fields(text))
	return words * 4 / 3
}
