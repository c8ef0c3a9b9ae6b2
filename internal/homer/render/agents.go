package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

// AgentsRenderer renders AGENTS.md: a repository overview an agent can read
// before making changes — node, hyperedge and analysis totals, the current active-hotspot files
// (high centrality, high churn), and files with a thin bus factor (spec §1,
// "notably an AGENTS.md file").
type AgentsRenderer struct{}

// NewAgentsRenderer constructs the AGENTS.md renderer.
func NewAgentsRenderer() *AgentsRenderer { return &AgentsRenderer{} }

func (a *AgentsRenderer) Name() string       { return "agents" }
func (a *AgentsRenderer) OutputPath() string { return "AGENTS.md" }

func (a *AgentsRenderer) Render(st *store.Store) (string, error) {
	stats, err := st.Stats()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# AGENTS.md\n\n")
	b.WriteString("Generated by Homer from the repository's commit history, source structure, and behavioral metrics. ")
	b.WriteString("Read this before making changes; it reflects the current state of the graph, not a fixed design doc.\n\n")

	b.WriteString(preserveStart + "\n")
	b.WriteString("<!-- Add project-specific conventions here; this block is preserved across re-renders. -->\n")
	b.WriteString(preserveEnd + "\n\n")

	b.WriteString("## Overview\n\n")
	b.WriteString(fmt.Sprintf("- %s nodes, %s hyperedges, %s analysis results\n",
		humanize.Comma(stats.TotalNodes), humanize.Comma(stats.TotalEdges), humanize.Comma(stats.TotalAnalyses)))
	b.WriteString(fmt.Sprintf("- store size on disk: %s\n\n", humanize.Bytes(uint64(stats.DBSizeBytes))))

	if err := a.writeHotspots(&b, st); err != nil {
		return "", err
	}
	if err := a.writeBusFactorWarnings(&b, st); err != nil {
		return "", err
	}

	return b.String(), nil
}

func (a *AgentsRenderer) writeHotspots(b *strings.Builder, st *store.Store) error {
	files, err := st.FindNodes(types.NodeFilter{Kind: types.NodeFile})
	if err != nil {
		return err
	}

	type hotspot struct {
		name  string
		score float64
	}
	var hotspots []hotspot
	for _, f := range files {
		sal, err := st.GetAnalysis(f.ID, types.AnalysisCompositeSalience)
		if err != nil {
			continue
		}
		class, _ := sal.Data["classification"].(string)
		if class != string(types.SalienceActiveHotspot) {
			continue
		}
		score, _ := sal.Data["score"].(float64)
		hotspots = append(hotspots, hotspot{name: f.Name, score: score})
	}
	sort.Slice(hotspots, func(i, j int) bool { return hotspots[i].score > hotspots[j].score })

	b.WriteString("## Active hotspots\n\n")
	if len(hotspots) == 0 {
		b.WriteString("No files currently combine high structural centrality with high change frequency.\n\n")
		return nil
	}
	b.WriteString("Files that are both structurally central and frequently changed — review changes here carefully.\n\n")
	limit := len(hotspots)
	if limit > 15 {
		limit = 15
	}
	for _, h := range hotspots[:limit] {
		b.WriteString(fmt.Sprintf("- `%s` (salience %.2f)\n", h.name, h.score))
	}
	b.WriteString("\n")
	return nil
}

func (a *AgentsRenderer) writeBusFactorWarnings(b *strings.Builder, st *store.Store) error {
	files, err := st.FindNodes(types.NodeFilter{Kind: types.NodeFile})
	if err != nil {
		return err
	}

	type warning struct {
		name      string
		busFactor int
	}
	var warnings []warning
	for _, f := range files {
		cc, err := st.GetAnalysis(f.ID, types.AnalysisContributorConcentration)
		if err != nil {
			continue
		}
		bf, ok := cc.Data["bus_factor"].(float64)
		if !ok {
			continue
		}
		if bf <= 1 {
			warnings = append(warnings, warning{name: f.Name, busFactor: int(bf)})
		}
	}
	sort.Slice(warnings, func(i, j int) bool { return warnings[i].name < warnings[j].name })

	b.WriteString("## Single-owner files\n\n")
	if len(warnings) == 0 {
		b.WriteString("No file currently has a bus factor of 1.\n\n")
		return nil
	}
	b.WriteString("A single author accounts for most of the changes in these files; loop in a second reviewer.\n\n")
	for _, w := range warnings {
		b.WriteString(fmt.Sprintf("- `%s`\n", w.name))
	}
	b.WriteString("\n")
	return nil
}
