package render

import (
	"encoding/json"
	"sort"

	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

// RiskLevel classifies a file's risk_score into the four buckets spec §6
// names without giving thresholds for; this renderer divides [0,1] into
// equal quartiles, the simplest scheme consistent with "four ordered
// buckets over a normalized score" (documented as an open-question
// decision).
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func classifyRisk(score float64) RiskLevel {
	switch {
	case score < 0.25:
		return RiskLow
	case score < 0.5:
		return RiskMedium
	case score < 0.75:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// riskEntry is one row of the risk-map JSON (spec §6).
type riskEntry struct {
	FilePath       string    `json:"file_path"`
	Salience       float64   `json:"salience"`
	BusFactor      int       `json:"bus_factor"`
	ChangeFrequency int      `json:"change_frequency"`
	RiskLevel      RiskLevel `json:"risk_level"`
	RiskScore      float64   `json:"risk_score"`
}

// RiskMapRenderer renders a JSON array of per-file risk scores from
// composite salience, bus factor, and change frequency (spec §6).
type RiskMapRenderer struct{}

// NewRiskMapRenderer constructs the risk-map renderer.
func NewRiskMapRenderer() *RiskMapRenderer { return &RiskMapRenderer{} }

func (r *RiskMapRenderer) Name() string       { return "risk_map" }
func (r *RiskMapRenderer) OutputPath() string { return ".homer/risk_map.json" }

func (r *RiskMapRenderer) Render(st *store.Store) (string, error) {
	files, err := st.FindNodes(types.NodeFilter{Kind: types.NodeFile})
	if err != nil {
		return "", err
	}

	entries := make([]riskEntry, 0, len(files))
	for _, f := range files {
		sal, err := st.GetAnalysis(f.ID, types.AnalysisCompositeSalience)
		if err != nil {
			continue
		}
		salience, _ := sal.Data["score"].(float64)

		busFactor := 1
		changeFrequency := 0
		if cc, err := st.GetAnalysis(f.ID, types.AnalysisContributorConcentration); err == nil {
			if bf, ok := cc.Data["bus_factor"].(float64); ok {
				busFactor = int(bf)
			}
		}
		if cf, err := st.GetAnalysis(f.ID, types.AnalysisChangeFrequency); err == nil {
			if total, ok := cf.Data["total"].(float64); ok {
				changeFrequency = int(total)
			}
		}

		score := riskScore(salience, busFactor, changeFrequency)
		entries = append(entries, riskEntry{
			FilePath:        f.Name,
			Salience:        salience,
			BusFactor:       busFactor,
			ChangeFrequency: changeFrequency,
			RiskLevel:       classifyRisk(score),
			RiskScore:       score,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].RiskScore != entries[j].RiskScore {
			return entries[i].RiskScore > entries[j].RiskScore
		}
		return entries[i].FilePath < entries[j].FilePath
	})

	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out) + "\n", nil
}

// riskScore implements spec §6's formula exactly:
// clamp(0.4*salience + bus_factor_penalty + churn_penalty, 0, 1).
func riskScore(salience float64, busFactor, changes int) float64 {
	score := 0.4 * salience

	switch {
	case busFactor <= 1:
		score += 0.30
	case busFactor <= 2:
		score += 0.15
	}

	switch {
	case changes > 20:
		score += 0.30
	case changes > 10:
		score += 0.20
	case changes > 5:
		score += 0.10
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
