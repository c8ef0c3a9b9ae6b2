// Package pipeline sequences Homer's five stages — extract, snapshot,
// invalidate, analyze, render — against a single store, aggregating their
// results into one PipelineResult and honoring cooperative cancellation at
// each stage boundary (spec §5, §7).
package pipeline

import (
	"context"
	"fmt"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/analyze"
	"github.com/homer-dev/homer/internal/homer/extract"
	"github.com/homer-dev/homer/internal/homer/herrors"
	"github.com/homer-dev/homer/internal/homer/invalidate"
	"github.com/homer-dev/homer/internal/homer/render"
	"github.com/homer-dev/homer/internal/homer/snapshot"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

// ComponentError is one non-fatal failure surfaced by any pipeline stage,
// named by the component and subject that produced it (spec §7's
// PipelineResult contract).
type ComponentError struct {
	Component string
	Subject   string
	Kind      herrors.Kind
	Err       error
}

func (e ComponentError) Error() string {
	return fmt.Sprintf("%s/%s (%s): %v", e.Component, e.Subject, e.Kind, e.Err)
}

// Result aggregates everything one pipeline run did, across every stage it
// reached before completing or being cancelled.
type Result struct {
	ExtractStats map[string]*extract.ExtractStats
	Snapshots    []types.SnapshotInfo
	Invalidation *invalidate.Result
	AnalyzeStats map[string]*analyze.Stats
	Diagnostics  []analyze.Diagnostic
	Rendered     map[string]*render.WriteResult
	Errors       []ComponentError
	Cancelled    bool
}

func (r *Result) addError(component, subject string, err error) {
	r.Errors = append(r.Errors, ComponentError{Component: component, Subject: subject, Kind: herrors.KindOf(err), Err: err})
}

// ExitCode implements spec §6/§7's process exit code contract: 0 on a clean
// run, 10 if the run completed but accumulated non-fatal errors, and 1 if
// it was cancelled before completing every stage. Invariant failures never
// reach here — Run returns them as a Go error instead.
func (r *Result) ExitCode() int {
	if r.Cancelled {
		return 1
	}
	if len(r.Errors) > 0 {
		return 10
	}
	return 0
}

// Options configures one pipeline run.
type Options struct {
	// RepoRoot is the repository root renderers write relative to.
	RepoRoot string
	// DryRun, when true, has renderers compute their output without
	// writing it to disk.
	DryRun bool
}

// Run executes extract -> snapshot -> invalidate -> analyze -> render in
// order against st. Cancellation is checked at each stage boundary — spec
// §5's "no cross-stage interleaving" means a stage already underway runs to
// completion, but Run will not begin the next one once ctx is done.
func Run(ctx context.Context, st *store.Store, cfg *config.Config, opts Options, extractors []extract.Extractor, analyzers []analyze.Analyzer, renderers []render.Renderer) (*Result, error) {
	res := &Result{}

	if ctx.Err() != nil {
		res.Cancelled = true
		return res, nil
	}
	extractStats, err := extract.RunAll(st, cfg, extractors)
	res.ExtractStats = extractStats
	if err != nil {
		return res, err
	}
	for name, stats := range extractStats {
		for _, e := range stats.Errors {
			res.addError("extract:"+name, e.Subject, e.Err)
		}
	}

	if ctx.Err() != nil {
		res.Cancelled = true
		return res, nil
	}
	snapResult, err := snapshot.Run(st, cfg)
	if err != nil {
		return res, err
	}
	res.Snapshots = snapResult.Created

	if ctx.Err() != nil {
		res.Cancelled = true
		return res, nil
	}
	invalidation, err := invalidate.New(st).Apply(topologyChanges(extractStats), contentChanges(extractStats))
	if err != nil {
		return res, err
	}
	res.Invalidation = invalidation

	if ctx.Err() != nil {
		res.Cancelled = true
		return res, nil
	}
	analyzeResult, err := analyze.RunAll(st, cfg, analyzers)
	if err != nil {
		return res, err
	}
	res.AnalyzeStats = analyzeResult.Stats
	res.Diagnostics = analyzeResult.Diagnostics
	for name, stats := range analyzeResult.Stats {
		for _, e := range stats.Errors {
			res.addError("analyze:"+name, e.Subject, e.Err)
		}
	}

	if ctx.Err() != nil {
		res.Cancelled = true
		return res, nil
	}
	res.Rendered = make(map[string]*render.WriteResult, len(renderers))
	for _, r := range renderers {
		out, err := render.Write(r, st, opts.RepoRoot, opts.DryRun)
		if err != nil {
			res.addError("render:"+r.Name(), r.OutputPath(), err)
			continue
		}
		res.Rendered[r.Name()] = out
	}

	return res, nil
}

// topologyChanges reports one synthetic change per topology-bearing edge
// kind whenever the graph extractor — the only extractor that writes
// Calls/Imports/Inherits edges — created any new edge this pass. DependsOn
// edges come from the structure extractor's go.mod parse and do not trigger
// this on their own.
// invalidate.Engine.Apply only needs to know *that* a topology kind
// changed, not which instance, to trigger its wholesale centrality clear,
// so reporting every kind together is behaviorally identical to tracking
// them individually (spec §4.2).
func topologyChanges(stats map[string]*extract.ExtractStats) []invalidate.TopologyChange {
	graphStats, ok := stats["graph"]
	if !ok || graphStats.EdgesCreated == 0 {
		return nil
	}
	return []invalidate.TopologyChange{
		{Kind: types.EdgeCalls},
		{Kind: types.EdgeImports},
		{Kind: types.EdgeInherits},
		{Kind: types.EdgeDependsOn},
	}
}

// contentChanges collects every node whose own content hash changed across
// every extractor this pass, for conservative semantic invalidation.
func contentChanges(stats map[string]*extract.ExtractStats) []invalidate.ContentChange {
	var out []invalidate.ContentChange
	for _, s := range stats {
		for _, id := range s.ContentChangedNodes {
			out = append(out, invalidate.ContentChange{NodeID: id})
		}
	}
	return out
}
