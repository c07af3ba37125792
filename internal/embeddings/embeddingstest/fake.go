// Package embeddingstest provides an in-process Embedder for tests.
package embeddingstest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/streed/project-notes/internal/embeddings"
	interrors "github.com/streed/project-notes/internal/errors"
)

// Fake returns canned vectors. Text without a canned vector is embedded by
// keyword: each registered keyword found in the text adds its vector.
type Fake struct {
	mu       sync.Mutex
	dims     int
	exact    map[string][]float32
	keywords map[string][]float32
	err      error
	calls    int
}

func New(dims int) *Fake {
	return &Fake{
		dims:     dims,
		exact:    make(map[string][]float32),
		keywords: make(map[string][]float32),
	}
}

// Set registers the vector returned for exactly text.
func (f *Fake) Set(text string, vec []float32) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exact[text] = vec
	return f
}

// Keyword registers a vector contributed by every text containing word.
func (f *Fake) Keyword(word string, vec []float32) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keywords[strings.ToLower(word)] = vec
	return f
}

// Fail makes every following call return err. Pass nil to recover.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) Dimensions() int {
	return f.dims
}

func (f *Fake) Embed(ctx context.Context, text string, _ embeddings.EmbeddingType) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if strings.TrimSpace(text) == "" {
		return nil, interrors.ErrEmptyContent
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", interrors.ErrProvider, err)
	}
	if f.err != nil {
		return nil, f.err
	}
	if vec, ok := f.exact[text]; ok {
		return append([]float32(nil), vec...), nil
	}

	out := make([]float32, f.dims)
	lower := strings.ToLower(text)
	matched := false
	for word, vec := range f.keywords {
		if strings.Contains(lower, word) {
			matched = true
			for i := range out {
				out[i] += vec[i]
			}
		}
	}
	if !matched {
		out[len(out)-1] = 1
	}
	return out, nil
}

var _ embeddings.Embedder = (*Fake)(nil)
