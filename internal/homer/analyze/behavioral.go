package analyze

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/homer-dev/homer/internal/config"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

// BehavioralAnalyzer computes per-file change frequency, churn velocity,
// contributor concentration, and co-change clusters from Modifies/Authored
// hyperedges and commit timestamps (spec §4.6).
type BehavioralAnalyzer struct{}

// NewBehavioralAnalyzer constructs the behavioral analyzer.
func NewBehavioralAnalyzer() *BehavioralAnalyzer { return &BehavioralAnalyzer{} }

func (b *BehavioralAnalyzer) Name() string { return "behavioral" }

func (b *BehavioralAnalyzer) Produces() []types.AnalysisKind {
	return []types.AnalysisKind{
		types.AnalysisChangeFrequency,
		types.AnalysisChurnVelocity,
		types.AnalysisContributorConcentration,
		types.AnalysisDocumentationCoverage,
		types.AnalysisDocumentationFreshness,
		types.AnalysisPromptHotspot,
		types.AnalysisCorrectionHotspot,
	}
}

func (b *BehavioralAnalyzer) Requires() []types.AnalysisKind { return nil }

// NeedsRerun always reports true; the behavioral analyzer has no cheaper
// input-hash gate of its own (spec §4.5's default).
func (b *BehavioralAnalyzer) NeedsRerun(st *store.Store) (bool, error) { return true, nil }

// fileChange is one commit's touch of one file, carrying enough to compute
// every behavioral metric without re-querying the store per file.
type fileChange struct {
	commitID     types.NodeID
	timestamp    time.Time
	authorEmail  string
	linesAdded   int
	linesDeleted int
}

func (b *BehavioralAnalyzer) Run(st *store.Store, cfg *config.Config) (*Stats, error) {
	start := time.Now()
	stats := &Stats{}

	modifies, err := st.EdgesOfKind(types.EdgeModifies)
	if err != nil {
		return stats, err
	}
	authored, err := st.EdgesOfKind(types.EdgeAuthored)
	if err != nil {
		return stats, err
	}

	commitAuthor := map[types.NodeID]string{}
	authorNode := map[string]types.NodeID{}
	for _, e := range authored {
		var author, commit *types.HyperedgeMember
		for i := range e.Members {
			switch e.Members[i].Role {
			case "author":
				author = &e.Members[i]
			case "commit":
				commit = &e.Members[i]
			}
		}
		if author == nil || commit == nil {
			continue
		}
		if n, err := st.GetNode(author.NodeID); err == nil {
			commitAuthor[commit.NodeID] = n.Name
			authorNode[n.Name] = author.NodeID
		}
	}

	fileChanges := map[types.NodeID][]fileChange{}
	var latest time.Time

	for _, e := range modifies {
		var commitID types.NodeID
		for _, m := range e.Members {
			if m.Role == "commit" {
				commitID = m.NodeID
				break
			}
		}
		if commitID == 0 {
			continue
		}
		if e.LastUpdated.After(latest) {
			latest = e.LastUpdated
		}

		filesMeta, _ := e.Metadata["files"].([]any)
		pathStats := map[string][2]int{} // path -> [added, deleted]
		for _, raw := range filesMeta {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			path, _ := m["path"].(string)
			added, _ := toInt(m["lines_added"])
			deleted, _ := toInt(m["lines_deleted"])
			pathStats[path] = [2]int{added, deleted}
		}

		for _, m := range e.Members {
			if m.Role != "file" {
				continue
			}
			n, err := st.GetNode(m.NodeID)
			if err != nil {
				continue
			}
			ld := pathStats[n.Name]
			fileChanges[m.NodeID] = append(fileChanges[m.NodeID], fileChange{
				commitID:     commitID,
				timestamp:    e.LastUpdated,
				authorEmail:  commitAuthor[commitID],
				linesAdded:   ld[0],
				linesDeleted: ld[1],
			})
		}
	}

	totals := make(map[types.NodeID]int, len(fileChanges))
	for fileID, changes := range fileChanges {
		totals[fileID] = len(changes)
	}
	sortedTotals := make([]int, 0, len(totals))
	for _, t := range totals {
		sortedTotals = append(sortedTotals, t)
	}
	sort.Ints(sortedTotals)

	for fileID, changes := range fileChanges {
		if err := b.writeChangeFrequency(st, fileID, changes, sortedTotals, latest); err != nil {
			stats.recordError(fmt.Sprintf("file#%d change_frequency", fileID), err)
			continue
		}
		if err := b.writeChurnVelocity(st, fileID, changes, latest); err != nil {
			stats.recordError(fmt.Sprintf("file#%d churn_velocity", fileID), err)
			continue
		}
		if err := b.writeContributorConcentration(st, fileID, changes); err != nil {
			stats.recordError(fmt.Sprintf("file#%d contributor_concentration", fileID), err)
			continue
		}
		stats.NodesAnalyzed++
		stats.ResultsWritten += 3
	}

	if err := b.writeDocumentation(st, stats, totals, sortedTotals); err != nil {
		stats.recordError("documentation", err)
	}

	if err := b.writePromptHotspots(st, stats); err != nil {
		stats.recordError("prompt_hotspots", err)
	}

	cc := CoChangeConfig{
		SeedThreshold:   cfg.Analysis.CoChange.SeedThreshold,
		MinConfidence:   cfg.Analysis.CoChange.MinConfidence,
		MinMarginalGain: cfg.Analysis.CoChange.MinMarginalGain,
		MaxGroupSize:    cfg.Analysis.CoChange.MaxGroupSize,
		MinClusterSize:  cfg.Analysis.CoChange.MinClusterSize,
	}
	if err := computeCoChangesWithConfig(st, stats, fileChanges, cc); err != nil {
		stats.recordError("co_change", err)
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}

func (b *BehavioralAnalyzer) writeChangeFrequency(st *store.Store, fileID types.NodeID, changes []fileChange, sortedTotals []int, ref time.Time) error {
	total := len(changes)
	var d30, d90, d365 int
	for _, c := range changes {
		age := ref.Sub(c.timestamp)
		switch {
		case age <= 30*24*time.Hour:
			d30++
			d90++
			d365++
		case age <= 90*24*time.Hour:
			d90++
			d365++
		case age <= 365*24*time.Hour:
			d365++
		}
	}

	percentile := percentileRank(sortedTotals, total)

	return st.WriteAnalysis(&types.AnalysisResult{
		NodeID: fileID,
		Kind:   types.AnalysisChangeFrequency,
		Data: map[string]any{
			"total":           total,
			"last_30_days":    d30,
			"last_90_days":    d90,
			"last_365_days":   d365,
			"percentile_rank": percentile,
		},
		InputHash: inputHashOfCount(total),
	})
}

// percentileRank returns the fraction of values in sorted (ascending) that
// are <= v, i.e. v's rank as a percentile of the population.
func percentileRank(sorted []int, v int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	count := 0
	for _, s := range sorted {
		if s <= v {
			count++
		}
	}
	return float64(count) / float64(len(sorted))
}

func (b *BehavioralAnalyzer) writeChurnVelocity(st *store.Store, fileID types.NodeID, changes []fileChange, ref time.Time) error {
	// Bucket changes into calendar months relative to ref, most recent
	// first, and compute the slope of a simple linear regression over the
	// monthly counts — a positive slope means change frequency is
	// accelerating.
	monthly := map[int]int{} // months-ago -> count
	netLOC := map[int]int{}
	maxMonthsAgo := 0
	for _, c := range changes {
		monthsAgo := monthsBetween(c.timestamp, ref)
		monthly[monthsAgo]++
		netLOC[monthsAgo] += c.linesAdded - c.linesDeleted
		if monthsAgo > maxMonthsAgo {
			maxMonthsAgo = monthsAgo
		}
	}

	xs := make([]float64, 0, maxMonthsAgo+1)
	ys := make([]float64, 0, maxMonthsAgo+1)
	for m := maxMonthsAgo; m >= 0; m-- {
		xs = append(xs, float64(maxMonthsAgo-m)) // time increasing forward
		ys = append(ys, float64(monthly[m]))
	}
	slope := linearSlope(xs, ys)

	netLOC30 := 0
	netLOC90 := 0
	for monthsAgo, v := range netLOC {
		if monthsAgo == 0 {
			netLOC30 += v
		}
		if monthsAgo <= 2 {
			netLOC90 += v
		}
	}

	return st.WriteAnalysis(&types.AnalysisResult{
		NodeID: fileID,
		Kind:   types.AnalysisChurnVelocity,
		Data: map[string]any{
			"monthly_slope":  slope,
			"net_loc_30_day": netLOC30,
			"net_loc_90_day": netLOC90,
		},
		InputHash: inputHashOfCount(len(changes)),
	})
}

func monthsBetween(t, ref time.Time) int {
	months := (ref.Year()-t.Year())*12 + int(ref.Month()) - int(t.Month())
	if months < 0 {
		return 0
	}
	return months
}

// linearSlope computes the ordinary least squares slope of ys over xs.
func linearSlope(xs, ys []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func (b *BehavioralAnalyzer) writeContributorConcentration(st *store.Store, fileID types.NodeID, changes []fileChange) error {
	byAuthor := map[string]int{}
	for _, c := range changes {
		if c.authorEmail == "" {
			continue
		}
		byAuthor[c.authorEmail]++
	}

	counts := make([]int, 0, len(byAuthor))
	for _, c := range byAuthor {
		counts = append(counts, c)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(counts)))

	total := 0
	for _, c := range counts {
		total += c
	}

	busFactor := 0
	topShare := 0.0
	if total > 0 {
		cumulative := 0
		for _, c := range counts {
			cumulative += c
			busFactor++
			if float64(cumulative)/float64(total) >= 0.8 {
				break
			}
		}
		topShare = float64(counts[0]) / float64(total)
	}

	return st.WriteAnalysis(&types.AnalysisResult{
		NodeID: fileID,
		Kind:   types.AnalysisContributorConcentration,
		Data: map[string]any{
			"unique_authors": len(byAuthor),
			"bus_factor":     busFactor,
			"top_author_share": topShare,
		},
		InputHash: inputHashOfCount(len(changes)),
	})
}

// defCounts tracks, for one file, how many definitions it holds and how many
// of those carry a doc comment.
type defCounts struct {
	total, documented int
}

// writeDocumentation computes per-file DocumentationCoverage (documented vs.
// undocumented definitions, plus any external Documents cross-reference) and
// DocumentationFreshness (a staleness risk blending coverage with how often
// the file changes — an undocumented file that churns often is the riskiest
// case). totals/sortedTotals are the per-file change counts already
// collected by Run, reused here instead of re-querying Modifies edges.
func (b *BehavioralAnalyzer) writeDocumentation(st *store.Store, stats *Stats, totals map[types.NodeID]int, sortedTotals []int) error {
	files, err := st.FindNodes(types.NodeFilter{Kind: types.NodeFile})
	if err != nil {
		return err
	}

	externallyDocumented := map[types.NodeID]bool{}
	docEdges, err := st.EdgesOfKind(types.EdgeDocuments)
	if err != nil {
		return err
	}
	for _, e := range docEdges {
		for _, m := range e.Members {
			if m.Role == "subject" {
				externallyDocumented[m.NodeID] = true
			}
		}
	}

	funcs, err := st.FindNodes(types.NodeFilter{Kind: types.NodeFunction})
	if err != nil {
		return err
	}
	typeDefs, err := st.FindNodes(types.NodeFilter{Kind: types.NodeType})
	if err != nil {
		return err
	}

	byFile := map[string]defCounts{}
	for _, d := range append(funcs, typeDefs...) {
		path, _ := d.Metadata["file"].(string)
		if path == "" {
			continue
		}
		c := byFile[path]
		c.total++
		if _, ok := d.Metadata["doc_text"]; ok {
			c.documented++
		}
		byFile[path] = c
	}

	for _, f := range files {
		c := byFile[f.Name]
		ratio := 0.0
		if c.total > 0 {
			ratio = float64(c.documented) / float64(c.total)
		}
		status := "no_definitions"
		switch {
		case c.total == 0:
		case c.documented == c.total:
			status = "documented"
		case c.documented > 0:
			status = "partial"
		default:
			status = "undocumented"
		}

		if err := st.WriteAnalysis(&types.AnalysisResult{
			NodeID: f.ID,
			Kind:   types.AnalysisDocumentationCoverage,
			Data: map[string]any{
				"status":                 status,
				"total_definitions":      c.total,
				"documented_definitions": c.documented,
				"coverage_ratio":         ratio,
				"has_external_docs":      externallyDocumented[f.ID],
			},
			InputHash: inputHashOfCount(c.total*1000 + c.documented),
		}); err != nil {
			stats.recordError(fmt.Sprintf("file#%d documentation_coverage", f.ID), err)
			continue
		}
		stats.ResultsWritten++

		changeRate := percentileRank(sortedTotals, totals[f.ID])
		staleness := (1 - ratio) * changeRate

		if err := st.WriteAnalysis(&types.AnalysisResult{
			NodeID: f.ID,
			Kind:   types.AnalysisDocumentationFreshness,
			Data: map[string]any{
				"staleness_risk": staleness,
				"stale":          staleness >= 0.5,
			},
			InputHash: inputHashOfCount(c.total*1000 + totals[f.ID]),
		}); err != nil {
			stats.recordError(fmt.Sprintf("file#%d documentation_freshness", f.ID), err)
			continue
		}
		stats.ResultsWritten++
	}

	return nil
}

// writePromptHotspots computes per-file PromptHotspot (how often agent
// sessions and rule files reference or modify it) and CorrectionHotspot
// (how often those sessions needed a correction while touching it) from
// PromptReferences/PromptModifiedFiles hyperedges and AgentSession
// metadata. A file with no session interaction gets neither result.
func (b *BehavioralAnalyzer) writePromptHotspots(st *store.Store, stats *Stats) error {
	refEdges, err := st.EdgesOfKind(types.EdgePromptReferences)
	if err != nil {
		return err
	}
	modEdges, err := st.EdgesOfKind(types.EdgePromptModifiedFiles)
	if err != nil {
		return err
	}
	sessions, err := st.FindNodes(types.NodeFilter{Kind: types.NodeAgentSession})
	if err != nil {
		return err
	}

	refCount := map[types.NodeID]int{}
	modCount := map[types.NodeID]int{}
	correctionCount := map[types.NodeID]int{}
	interactionCount := map[types.NodeID]int{}

	for _, e := range refEdges {
		var file types.NodeID
		var hasSource, hasFile bool
		for _, m := range e.Members {
			switch m.Role {
			case "session", "rule":
				hasSource = true
			case "file":
				file, hasFile = m.NodeID, true
			}
		}
		if hasSource && hasFile {
			refCount[file]++
		}
	}

	sessionByID := make(map[types.NodeID]types.Node, len(sessions))
	for _, s := range sessions {
		sessionByID[s.ID] = s
	}

	for _, e := range modEdges {
		var session types.NodeID
		var file types.NodeID
		var hasSession, hasFile bool
		for _, m := range e.Members {
			switch m.Role {
			case "session":
				session, hasSession = m.NodeID, true
			case "file":
				file, hasFile = m.NodeID, true
			}
		}
		if !hasSession || !hasFile {
			continue
		}
		modCount[file]++

		s, ok := sessionByID[session]
		if !ok {
			continue
		}
		corrections := intMetadata(s.Metadata, "correction_count")
		interactions := intMetadata(s.Metadata, "interaction_count")
		interactionCount[file] += interactions
		if corrections > 0 {
			correctionCount[file] += corrections
		}
	}

	for fileID, refs := range refCount {
		if err := st.WriteAnalysis(&types.AnalysisResult{
			NodeID: fileID,
			Kind:   types.AnalysisPromptHotspot,
			Data: map[string]any{
				"reference_count":    refs,
				"modification_count": modCount[fileID],
				"session_count":      refs,
			},
			InputHash: inputHashOfCount(refs*1000 + modCount[fileID]),
		}); err != nil {
			stats.recordError(fmt.Sprintf("file#%d prompt_hotspot", fileID), err)
			continue
		}
		stats.ResultsWritten++
	}

	for fileID, corrections := range correctionCount {
		interactions := interactionCount[fileID]
		if interactions == 0 {
			interactions = 1
		}
		rate := float64(corrections) / float64(interactions)
		confusionZone := rate > 0.2 && corrections >= 2

		if err := st.WriteAnalysis(&types.AnalysisResult{
			NodeID: fileID,
			Kind:   types.AnalysisCorrectionHotspot,
			Data: map[string]any{
				"correction_count":  corrections,
				"interaction_count": interactions,
				"correction_rate":   rate,
				"is_confusion_zone": confusionZone,
			},
			InputHash: inputHashOfCount(corrections*1000 + interactions),
		}); err != nil {
			stats.recordError(fmt.Sprintf("file#%d correction_hotspot", fileID), err)
			continue
		}
		stats.ResultsWritten++
	}

	return nil
}

// intMetadata reads an int-valued metadata field, tolerating the
// float64/int mix JSON round-tripping can introduce.
func intMetadata(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func inputHashOfCount(n int) uint64 {
	return uint64(n) * 2654435761 % math.MaxUint32
}

// CoChangeConfig mirrors internal/config's CoChangeConfig but lives here to
// keep the clustering algorithm free of a hard dependency on the config
// package's own defaults when called from tests.
type CoChangeConfig struct {
	SeedThreshold   float64
	MinConfidence   float64
	MinMarginalGain float64
	MaxGroupSize    int
	MinClusterSize  int
}

var defaultCoChangeConfig = CoChangeConfig{
	SeedThreshold:   0.5,
	MinConfidence:   0.3,
	MinMarginalGain: 0.05,
	MaxGroupSize:    8,
	MinClusterSize:  3,
}

func computeCoChangesWithConfig(st *store.Store, stats *Stats, fileChanges map[types.NodeID][]fileChange, cc CoChangeConfig) error {
	if err := st.DeleteEdgesOfKind(types.EdgeCoChanges); err != nil {
		return err
	}

	commitSets := make(map[types.NodeID]map[types.NodeID]bool, len(fileChanges))
	files := make([]types.NodeID, 0, len(fileChanges))
	for fileID, changes := range fileChanges {
		set := make(map[types.NodeID]bool, len(changes))
		for _, c := range changes {
			set[c.commitID] = true
		}
		if len(set) == 0 {
			continue
		}
		commitSets[fileID] = set
		files = append(files, fileID)
	}
	sort.Slice(files, func(i, j int) bool { return files[i] < files[j] })

	type pairScore struct {
		a, b       types.NodeID
		confidence float64
	}
	jaccard := func(a, b types.NodeID) float64 {
		return jaccardSimilarity(commitSets[a], commitSets[b])
	}

	var seeds []pairScore
	for i := 0; i < len(files); i++ {
		for j := i + 1; j < len(files); j++ {
			conf := jaccard(files[i], files[j])
			if conf > cc.SeedThreshold {
				seeds = append(seeds, pairScore{a: files[i], b: files[j], confidence: conf})
			}
		}
	}
	sort.Slice(seeds, func(i, j int) bool {
		if seeds[i].confidence != seeds[j].confidence {
			return seeds[i].confidence > seeds[j].confidence
		}
		if seeds[i].a != seeds[j].a {
			return seeds[i].a < seeds[j].a
		}
		return seeds[i].b < seeds[j].b
	})

	claimed := map[types.NodeID]bool{}
	processedPair := map[[2]types.NodeID]bool{}

	for _, seed := range seeds {
		key := [2]types.NodeID{seed.a, seed.b}
		if processedPair[key] {
			continue
		}
		processedPair[key] = true
		if claimed[seed.a] || claimed[seed.b] {
			continue
		}

		members := []types.NodeID{seed.a, seed.b}
		meanConf := seed.confidence

		for len(members) < cc.MaxGroupSize {
			bestCandidate := types.NodeID(0)
			bestGain := 0.0
			found := false

			for _, cand := range files {
				if claimed[cand] || containsNode(members, cand) {
					continue
				}
				minConf := 1.0
				sum := 0.0
				ok := true
				for _, m := range members {
					c := jaccard(m, cand)
					if c < cc.MinConfidence {
						ok = false
						break
					}
					sum += c
					if c < minConf {
						minConf = c
					}
				}
				if !ok {
					continue
				}
				avgToMembers := sum / float64(len(members))
				gain := avgToMembers
				if gain > bestGain {
					bestGain = gain
					bestCandidate = cand
					found = true
				}
			}

			if !found || bestGain <= cc.MinMarginalGain {
				break
			}

			members = append(members, bestCandidate)
			meanConf = meanPairwiseConfidence(members, jaccard)
		}

		if len(members) >= cc.MinClusterSize && meanConf >= cc.MinConfidence {
			for _, m := range members {
				claimed[m] = true
			}
			if err := emitCoChangeEdge(st, stats, members, meanConf); err != nil {
				return err
			}
		} else {
			if err := emitCoChangeEdge(st, stats, []types.NodeID{seed.a, seed.b}, seed.confidence); err != nil {
				return err
			}
		}
	}

	return nil
}

func containsNode(members []types.NodeID, id types.NodeID) bool {
	for _, m := range members {
		if m == id {
			return true
		}
	}
	return false
}

func meanPairwiseConfidence(members []types.NodeID, jaccard func(a, b types.NodeID) float64) float64 {
	if len(members) < 2 {
		return 0
	}
	sum := 0.0
	count := 0
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			sum += jaccard(members[i], members[j])
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func jaccardSimilarity(a, b map[types.NodeID]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for c := range a {
		if b[c] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func emitCoChangeEdge(st *store.Store, stats *Stats, members []types.NodeID, confidence float64) error {
	sorted := make([]types.NodeID, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	hyperMembers := make([]types.HyperedgeMember, len(sorted))
	for i, id := range sorted {
		hyperMembers[i] = types.HyperedgeMember{NodeID: id, Role: "member", Position: i}
	}

	_, created, err := st.UpsertHyperedge(&types.Hyperedge{
		Kind:       types.EdgeCoChanges,
		Members:    hyperMembers,
		Confidence: confidence,
		Metadata:   map[string]any{"size": len(sorted)},
	})
	if err != nil {
		return err
	}
	if created {
		stats.ResultsWritten++
	}
	return nil
}
