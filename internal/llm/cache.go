package llm

import (
	"context"
	"sync"
)

// CachingSummarizer memoizes Summarize calls by CacheKey, making repeated
// calls over unchanged content free — the referential-transparency
// contract spec §6 asks for (same key, same result, at temperature 0) means
// a cache is always correct, never just a performance optimization.
type CachingSummarizer struct {
	next Summarizer

	mu    sync.Mutex
	cache map[CacheKey]*Response
}

// NewCachingSummarizer wraps next with an in-memory cache keyed by
// (model_id, prompt_template_version, input_hash).
func NewCachingSummarizer(next Summarizer) *CachingSummarizer {
	return &CachingSummarizer{next: next, cache: make(map[CacheKey]*Response)}
}

func (c *CachingSummarizer) Summarize(ctx context.Context, req Request) (*Response, error) {
	key := req.cacheKey()

	c.mu.Lock()
	if resp, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return resp, nil
	}
	c.mu.Unlock()

	resp, err := c.next.Summarize(ctx, req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = resp
	c.mu.Unlock()
	return resp, nil
}
