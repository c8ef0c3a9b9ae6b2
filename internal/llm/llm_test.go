package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/homer-dev/homer/internal/homer/herrors"
)

type stubSummarizer struct {
	calls int
	resp  *Response
	err   error
}

func (s *stubSummarizer) Summarize(context.Context, Request) (*Response, error) {
	s.calls++
	return s.resp, s.err
}

func TestCachingSummarizerMemoizesByKey(t *testing.T) {
	stub := &stubSummarizer{resp: &Response{Data: map[string]any{"summary": "does a thing"}}}
	cache := NewCachingSummarizer(stub)

	req := Request{ModelID: "gpt-4o-mini", PromptTemplateVersion: "v1", Kind: "summary", Content: "package widgets"}

	first, err := cache.Summarize(context.Background(), req)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	second, err := cache.Summarize(context.Background(), req)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if stub.calls != 1 {
		t.Errorf("expected one underlying call for a repeated key, got %d", stub.calls)
	}
	if first != second {
		t.Errorf("expected the cached response to be returned verbatim")
	}
}

func TestCachingSummarizerDistinguishesContent(t *testing.T) {
	stub := &stubSummarizer{resp: &Response{Data: map[string]any{"summary": "x"}}}
	cache := NewCachingSummarizer(stub)

	base := Request{ModelID: "gpt-4o-mini", PromptTemplateVersion: "v1", Kind: "summary"}
	a := base
	a.Content = "package widgets"
	b := base
	b.Content = "package gadgets"

	if _, err := cache.Summarize(context.Background(), a); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if _, err := cache.Summarize(context.Background(), b); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if stub.calls != 2 {
		t.Errorf("expected two underlying calls for two distinct contents, got %d", stub.calls)
	}
}

func TestNoopSummarizerReturnsCapabilityError(t *testing.T) {
	_, err := (NoopSummarizer{}).Summarize(context.Background(), Request{})
	var herr *herrors.Error
	if !errors.As(err, &herr) || herr.Kind != herrors.Capability {
		t.Errorf("expected a Capability error, got %v", err)
	}
}
