// Package classify determines the page type of a loaded page by fusing
// independent signals into a single classification with a confidence.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/jakopako/tagprobe/internal/log"
	"github.com/jakopako/tagprobe/internal/types"
)

const (
	// AgreementConfidence is reported when the url and a global variable
	// independently name the same page type.
	AgreementConfidence = 95
	// globalVariableWeight boosts the most authoritative source during
	// score accumulation.
	globalVariableWeight = 1.5
	// minScoreDenominator keeps a single weak signal from reading as certain.
	minScoreDenominator = 100.0
)

// ClassificationResult is the fused outcome for one page visit.
type ClassificationResult struct {
	PageType    types.PageType `json:"pageType"`
	Confidence  int            `json:"confidence"`
	Signals     []Signal       `json:"signals"`
	HasConflict bool           `json:"hasConflict"`
}

// Classifier runs its detectors in registration order and fuses their
// signals. It holds no per-page state and is safe for concurrent use.
type Classifier struct {
	detectors   []Detector
	globalNames []string
	needsHTML   bool
}

// NewClassifier builds the detectors from the rules. Empty rule sections
// use the built-in defaults.
func NewClassifier(rules Rules) (*Classifier, error) {
	rules = rules.withDefaults()
	urlDetector, err := NewURLPatternDetector(rules.URLPatterns)
	if err != nil {
		return nil, err
	}
	queryDetector, err := NewQueryParamDetector(rules.QueryParams)
	if err != nil {
		return nil, err
	}
	globalDetector := NewGlobalVariableDetector(rules.GlobalVariables)
	return &Classifier{
		detectors: []Detector{
			urlDetector,
			queryDetector,
			globalDetector,
			NewPlatformEventDetector(rules.PlatformEvents),
			NewDOMHintDetector(rules.DOMHints),
		},
		globalNames: globalDetector.Names(),
		needsHTML:   len(rules.DOMHints) > 0,
	}, nil
}

// GlobalNames returns the global variables that have to be read from a
// page before classifying it.
func (c *Classifier) GlobalNames() []string {
	return c.globalNames
}

// NeedsHTML reports whether any detector looks at the document.
func (c *Classifier) NeedsHTML() bool {
	return c.needsHTML
}

// Classify collects all signals for the page and fuses them.
func (c *Classifier) Classify(ctx context.Context, pc *PageContext) ClassificationResult {
	logger := log.LoggerFromContext(ctx).With(slog.String("component", "classifier"))
	signals := []Signal{}
	for _, d := range c.detectors {
		s := d.Detect(pc, logger)
		for _, sig := range s {
			logger.Debug(fmt.Sprintf("signal %s -> %s (%d): %s", sig.Source, sig.PageType, sig.Confidence, sig.Detail))
		}
		signals = append(signals, s...)
	}
	result := Fuse(signals)
	if result.HasConflict {
		logger.Info(fmt.Sprintf("conflicting url and global variable signals, going with %s", result.PageType))
	}
	return result
}

// Fuse combines signals into a classification. The result only depends on
// the signals and their order: on equal scores the page type that was
// signalled first wins, so earlier registered detectors take precedence.
// Any url signal agreeing with any global variable signal counts as
// agreement, a conflict is only reported when no such pair exists.
func Fuse(signals []Signal) ClassificationResult {
	if len(signals) == 0 {
		return ClassificationResult{
			PageType:   types.PageTypeOthers,
			Confidence: 0,
			Signals:    []Signal{},
		}
	}

	hasURL := hasSource(signals, SourceURLPattern)
	hasGlobal := hasSource(signals, SourceGlobalVariable)
	if agreed, ok := agreement(signals); ok {
		return ClassificationResult{
			PageType:   agreed,
			Confidence: AgreementConfidence,
			Signals:    signals,
		}
	}

	scores := map[types.PageType]float64{}
	order := []types.PageType{}
	total := 0.0
	for _, s := range signals {
		w := 1.0
		if s.Source == SourceGlobalVariable {
			w = globalVariableWeight
		}
		if _, seen := scores[s.PageType]; !seen {
			order = append(order, s.PageType)
		}
		scores[s.PageType] += float64(s.Confidence) * w
		total += float64(s.Confidence) * w
	}

	top := order[0]
	for _, pt := range order[1:] {
		if scores[pt] > scores[top] {
			top = pt
		}
	}

	confidence := int(math.Round(scores[top] / math.Max(total, minScoreDenominator) * 100))
	confidence = min(confidence, 100)
	hasConflict := hasURL && hasGlobal
	if hasConflict && confidence >= AgreementConfidence {
		// a disagreement must never look as certain as an agreement
		confidence = AgreementConfidence - 1
	}
	return ClassificationResult{
		PageType:    top,
		Confidence:  confidence,
		Signals:     signals,
		HasConflict: hasConflict,
	}
}

func hasSource(signals []Signal, source Source) bool {
	for _, s := range signals {
		if s.Source == source {
			return true
		}
	}
	return false
}

// agreement returns the page type of the first url signal that some
// global variable signal confirms.
func agreement(signals []Signal) (types.PageType, bool) {
	for _, u := range signals {
		if u.Source != SourceURLPattern {
			continue
		}
		for _, g := range signals {
			if g.Source == SourceGlobalVariable && g.PageType == u.PageType {
				return u.PageType, true
			}
		}
	}
	return "", false
}
