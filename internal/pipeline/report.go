package pipeline

import (
	"math"

	"github.com/jakopako/tagprobe/internal/types"
)

// Phase names the pipeline step in which a unit was excluded.
type Phase string

const (
	PhaseInput   Phase = "input"
	PhaseCapture Phase = "capture"
)

// AnalysisResult is the final row for one analysed unit.
type AnalysisResult struct {
	ID                 string         `json:"id"`
	URL                string         `json:"url"`
	PageType           types.PageType `json:"pageType"`
	PageTypeConfidence int            `json:"pageTypeConfidence"`
	HasConflict        bool           `json:"hasConflict"`
	Predicted          []string       `json:"predicted"`
	GroundTruthActual  []string       `json:"groundTruthActual"`
	Correct            []string       `json:"correct"`
	Missed             []string       `json:"missed"`
	Wrong              []string       `json:"wrong"`
	Accuracy           float64        `json:"accuracy"`
	ProcessingTimeMS   int64          `json:"processingTimeMs"`
}

// Exclusion records a unit that has no result row.
type Exclusion struct {
	UnitID string `json:"id"`
	URL    string `json:"url"`
	Phase  Phase  `json:"phase"`
	Reason string `json:"reason"`
}

// Report is the outcome of a run. Every input unit is either in Results
// or in Exclusions.
type Report struct {
	Results    []AnalysisResult `json:"results"`
	Exclusions []Exclusion      `json:"exclusions"`
	Total      int              `json:"total"`
}

// MeanAccuracy averages the accuracy over all result rows.
func (r *Report) MeanAccuracy() float64 {
	if len(r.Results) == 0 {
		return 0
	}
	sum := 0.0
	for _, res := range r.Results {
		sum += res.Accuracy
	}
	return math.Round(sum/float64(len(r.Results))*10) / 10
}
