package client

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/operon-dev/operon/pkg/schema"
)

// Extractor evaluates jq selectors against parsed response bodies.
// Thread-safe: compiled *Code objects are cached and reused across goroutines.
type Extractor struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewExtractor creates a new Extractor with an empty compilation cache.
func NewExtractor() *Extractor {
	return &Extractor{
		cache: make(map[string]*gojq.Code),
	}
}

// Apply compiles (or retrieves from cache) a jq selector and evaluates it
// against the parsed body. When the selector produces exactly one output it is
// returned directly; multiple outputs are collected into a []any.
func (e *Extractor) Apply(ctx context.Context, selector string, body any) (any, error) {
	if selector == "" {
		return body, nil
	}

	code, err := e.getOrCompile(selector)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, body)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if evalErr, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"jq selector %q failed: %s", selector, evalErr.Error()).WithCause(evalErr)
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (e *Extractor) getOrCompile(selector string) (*gojq.Code, error) {
	e.mu.RLock()
	code, ok := e.cache[selector]
	e.mu.RUnlock()
	if ok {
		return code, nil
	}

	query, err := gojq.Parse(selector)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"parse jq selector %q: %s", selector, err.Error()).WithCause(err)
	}
	compiled, err := gojq.Compile(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"compile jq selector %q: %s", selector, err.Error()).WithCause(err)
	}

	e.mu.Lock()
	e.cache[selector] = compiled
	e.mu.Unlock()
	return compiled, nil
}
