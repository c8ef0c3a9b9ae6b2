// Package llm provides the Summarizer capability (spec §6): given a model,
// prompt template version, and input content, return a structured summary,
// cache-keyed so repeated runs over unchanged content never re-call the
// model.
package llm

import (
	"context"
	"encoding/binary"

	"lukechampine.com/blake3"

	"github.com/homer-dev/homer/internal/homer/herrors"
)

var errCapabilityDisabled = herrors.New(herrors.Capability, "llm summarization is disabled")

// Request is everything a Summarizer call needs to be referentially
// transparent: the same (ModelID, PromptTemplateVersion, Content) must
// always produce the same Response at temperature 0 (spec §6).
type Request struct {
	ModelID               string
	PromptTemplateVersion string
	Kind                  string // "summary", "design_rationale", "invariant_description"
	Content               string
}

// CacheKey is the triple callers use to memoize a Summarizer call:
// (model_id, prompt_template_version, input_hash).
type CacheKey struct {
	ModelID               string
	PromptTemplateVersion string
	InputHash             uint64
}

func (r Request) cacheKey() CacheKey {
	return CacheKey{ModelID: r.ModelID, PromptTemplateVersion: r.PromptTemplateVersion, InputHash: inputHash(r.Kind + "\x00" + r.Content)}
}

// Response is the structured result of one Summarizer call.
type Response struct {
	Data map[string]any
}

// Summarizer is the LLM-backed summarization capability (spec §6). It is
// optional: a disabled or uncredentialed backend should be represented by
// NoopSummarizer rather than by callers special-casing nil.
type Summarizer interface {
	Summarize(ctx context.Context, req Request) (*Response, error)
}

// NoopSummarizer satisfies Summarizer without calling out, for when the LLM
// capability is disabled in config — spec §7's Capability error kind covers
// "disabled subsystem", so callers can skip gracefully rather than treating
// a missing API key as fatal.
type NoopSummarizer struct{}

func (NoopSummarizer) Summarize(context.Context, Request) (*Response, error) {
	return nil, errCapabilityDisabled
}

// inputHash reduces a blake3-256 digest to the 64-bit hash CacheKey
// carries, matching the hashing scheme the extract package uses for file
// content hashes.
func inputHash(content string) uint64 {
	sum := blake3.Sum256([]byte(content))
	return binary.BigEndian.Uint64(sum[:8])
}
