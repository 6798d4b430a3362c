// Package pipeline runs the analysis: pages are captured and evaluated in
// parallel, the candidate events are verified visually and the merged
// predictions are scored against the ground truth.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jakopako/tagprobe/internal/browser"
	"github.com/jakopako/tagprobe/internal/classify"
	"github.com/jakopako/tagprobe/internal/feasibility"
	"github.com/jakopako/tagprobe/internal/groundtruth"
	"github.com/jakopako/tagprobe/internal/log"
	"github.com/jakopako/tagprobe/internal/tagconfig"
	"github.com/jakopako/tagprobe/internal/types"
	"github.com/jakopako/tagprobe/internal/utils"
	"github.com/jakopako/tagprobe/internal/vision"
	"golang.org/x/sync/errgroup"
)

// Options tune a run.
type Options struct {
	// NavigationTimeout bounds loading and reading one page.
	NavigationTimeout time.Duration
	// SkipVerification keeps the static candidates without asking the
	// vision model.
	SkipVerification bool
	// ExcludedEvents are removed from predictions and ground truth.
	ExcludedEvents []string
	DateRange      groundtruth.DateRange
	// Parallelism limits the number of capture tasks in flight, 0 means
	// one per unit. The pool bounds the number of open sessions anyway.
	Parallelism int
}

// Deps are the collaborators of the orchestrator. Batcher and Truth are
// optional: without a batcher verification is skipped, without a truth
// source each unit is scored against its own expected events.
type Deps struct {
	Pool       *browser.Pool
	Classifier *classify.Classifier
	Tags       tagconfig.Provider
	Policy     feasibility.Policy
	Batcher    *vision.Batcher
	Truth      groundtruth.Source
}

// Orchestrator owns the browser pool for its lifetime.
type Orchestrator struct {
	deps      Deps
	opts      Options
	evaluator *feasibility.Evaluator
	events    []tagconfig.EventDefinition
	byName    map[string]tagconfig.EventDefinition
}

func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Pool == nil || deps.Classifier == nil || deps.Tags == nil {
		return nil, errors.New("pipeline needs a browser pool, a classifier and a tag configuration")
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.ExcludedEvents == nil {
		opts.ExcludedEvents = DefaultExcludedEvents
	}
	events := deps.Tags.Events()
	byName := make(map[string]tagconfig.EventDefinition, len(events))
	for _, e := range events {
		byName[e.Name] = e
	}
	return &Orchestrator{
		deps:      deps,
		opts:      opts,
		evaluator: feasibility.NewEvaluator(deps.Tags.Scope(), deps.Policy),
		events:    events,
		byName:    byName,
	}, nil
}

// Outcome is the result of one task: a value or the reason it failed.
type Outcome[T any] struct {
	Value T
	Err   error
}

// CapturedPage is a loaded, classified and statically evaluated unit.
type CapturedPage struct {
	Unit           types.AnalysisUnit
	Screenshot     []byte
	Classification classify.ClassificationResult
	Verdicts       []feasibility.Verdict
	Candidates     []string
	started        time.Time
}

// Run analyses the units. It never fails as a whole: units that cannot be
// captured are reported as exclusions.
func (o *Orchestrator) Run(ctx context.Context, units []types.AnalysisUnit) *Report {
	logger := log.LoggerFromContext(ctx)
	report := &Report{Results: []AnalysisResult{}, Exclusions: []Exclusion{}, Total: len(units)}

	valid := make([]types.AnalysisUnit, 0, len(units))
	seen := map[string]bool{}
	for _, u := range units {
		reason := ""
		switch {
		case u.ID == "":
			reason = "unit has no id"
		case seen[u.ID]:
			reason = "duplicate unit id"
		case u.URL == "":
			reason = "unit has no url"
		}
		if reason != "" {
			logger.Warn(fmt.Sprintf("excluding unit %q: %s", u.ID, reason))
			report.Exclusions = append(report.Exclusions, Exclusion{UnitID: u.ID, URL: u.URL, Phase: PhaseInput, Reason: reason})
			continue
		}
		seen[u.ID] = true
		valid = append(valid, u)
	}

	// capture
	logger.Info(fmt.Sprintf("capturing %d pages", len(valid)))
	outcomes := o.captureAll(ctx, valid)
	captured := []*CapturedPage{}
	for i, out := range outcomes {
		if out.Err != nil {
			u := valid[i]
			logger.Warn(fmt.Sprintf("excluding unit %s: %v", u.ID, out.Err), slog.String("unit", u.ID))
			report.Exclusions = append(report.Exclusions, Exclusion{UnitID: u.ID, URL: u.URL, Phase: PhaseCapture, Reason: out.Err.Error()})
			continue
		}
		captured = append(captured, out.Value)
	}

	// verify
	var verification map[string][]vision.VerificationResult
	if o.deps.Batcher != nil && !o.opts.SkipVerification && len(captured) > 0 {
		items := make([]vision.BatchItem, 0, len(captured))
		for _, p := range captured {
			item := vision.BatchItem{PageID: p.Unit.ID, Screenshot: p.Screenshot, PageType: p.Classification.PageType}
			for _, name := range p.Candidates {
				item.Candidates = append(item.Candidates, o.byName[name])
			}
			items = append(items, item)
		}
		verification = o.deps.Batcher.Verify(ctx, items)
	} else {
		logger.Info("skipping vision verification")
	}

	// merge
	for _, p := range captured {
		report.Results = append(report.Results, o.merge(ctx, p, verification))
	}
	logger.Info(fmt.Sprintf("analysed %d of %d units, mean accuracy %.1f%%", len(report.Results), report.Total, report.MeanAccuracy()))
	return report
}

func (o *Orchestrator) captureAll(ctx context.Context, units []types.AnalysisUnit) []Outcome[*CapturedPage] {
	outcomes := make([]Outcome[*CapturedPage], len(units))
	g := new(errgroup.Group)
	if o.opts.Parallelism > 0 {
		g.SetLimit(o.opts.Parallelism)
	}
	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = Outcome[*CapturedPage]{Err: fmt.Errorf("capture panicked: %v", r)}
				}
			}()
			page, err := o.capture(ctx, u)
			outcomes[i] = Outcome[*CapturedPage]{Value: page, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (o *Orchestrator) capture(ctx context.Context, u types.AnalysisUnit) (*CapturedPage, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("unit", u.ID))
	ctx = log.ContextWithLogger(ctx, logger)
	started := time.Now()

	pc, screenshot, err := o.load(ctx, u.URL)
	if err != nil {
		return nil, err
	}
	classification := o.deps.Classifier.Classify(ctx, pc)
	verdicts := o.evaluator.EvaluateAll(ctx, o.events, classification.PageType)
	candidates := feasibility.Candidates(verdicts)
	logger.Info(fmt.Sprintf("classified %s as %s (%d%%), %d of %d events can fire", u.URL, classification.PageType, classification.Confidence, len(candidates), len(verdicts)))
	return &CapturedPage{
		Unit:           u,
		Screenshot:     screenshot,
		Classification: classification,
		Verdicts:       verdicts,
		Candidates:     candidates,
		started:        started,
	}, nil
}

// load acquires a session, loads the page and reads what the classifier
// needs. The session is released on every path.
func (o *Orchestrator) load(ctx context.Context, rawURL string) (*classify.PageContext, []byte, error) {
	logger := log.LoggerFromContext(ctx)
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid url %s: %w", rawURL, err)
	}

	session, release, err := o.deps.Pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("no browser context: %w", err)
	}
	defer release()

	navCtx, cancel := context.WithTimeout(ctx, o.opts.NavigationTimeout)
	defer cancel()
	if err := session.Navigate(navCtx, rawURL); err != nil {
		return nil, nil, err
	}

	pc := &classify.PageContext{URL: u}
	screenshot, err := session.Screenshot(navCtx)
	if err != nil {
		logger.Warn(fmt.Sprintf("could not take screenshot: %v", err))
	}
	if pc.Globals, err = session.ReadGlobalState(navCtx, o.deps.Classifier.GlobalNames()); err != nil {
		logger.Warn(fmt.Sprintf("could not read global state: %v", err))
	}
	if pc.Events, err = session.RecentPlatformEvents(navCtx); err != nil {
		logger.Warn(fmt.Sprintf("could not read platform events: %v", err))
	}
	if o.deps.Classifier.NeedsHTML() {
		if pc.HTML, err = session.HTML(navCtx); err != nil {
			logger.Warn(fmt.Sprintf("could not read html: %v", err))
		}
	}
	return pc, screenshot, nil
}

// Classify loads a single url and classifies it.
func (o *Orchestrator) Classify(ctx context.Context, rawURL string) (classify.ClassificationResult, error) {
	pc, _, err := o.load(ctx, rawURL)
	if err != nil {
		return classify.ClassificationResult{}, err
	}
	return o.deps.Classifier.Classify(ctx, pc), nil
}

func (o *Orchestrator) merge(ctx context.Context, p *CapturedPage, verification map[string][]vision.VerificationResult) AnalysisResult {
	logger := log.LoggerFromContext(ctx).With(slog.String("unit", p.Unit.ID))

	predicted := p.Candidates
	if results, ok := verification[p.Unit.ID]; ok {
		present := map[string]bool{}
		for _, r := range results {
			present[r.EventName] = r.HasRequiredUI
		}
		predicted = []string{}
		for _, name := range p.Candidates {
			if present[name] {
				predicted = append(predicted, name)
			} else {
				logger.Debug(fmt.Sprintf("event %s dropped, required ui not visible", name))
			}
		}
	}
	predicted = exclude(predicted, o.opts.ExcludedEvents)

	actual := []string{}
	counts, err := o.groundTruth(ctx, p.Unit)
	if err != nil {
		logger.Warn(fmt.Sprintf("no ground truth, scoring against an empty set: %v", err))
	} else {
		actual = exclude(groundtruth.Actual(counts), o.opts.ExcludedEvents)
	}

	s := ComputeScore(predicted, actual)
	return AnalysisResult{
		ID:                 p.Unit.ID,
		URL:                p.Unit.URL,
		PageType:           p.Classification.PageType,
		PageTypeConfidence: p.Classification.Confidence,
		HasConflict:        p.Classification.HasConflict,
		Predicted:          utils.SortedSet(predicted),
		GroundTruthActual:  actual,
		Correct:            s.Correct,
		Missed:             s.Missed,
		Wrong:              s.Wrong,
		Accuracy:           s.Accuracy,
		ProcessingTimeMS:   time.Since(p.started).Milliseconds(),
	}
}

// groundTruth looks the unit's page up in the truth source. Without a
// source every unit is scored against its own expected events.
func (o *Orchestrator) groundTruth(ctx context.Context, u types.AnalysisUnit) (map[string]int, error) {
	if o.deps.Truth == nil {
		return groundtruth.ExpectedCounts(u), nil
	}
	return o.deps.Truth.OccurrenceCounts(ctx, groundtruth.PagePath(u.URL), o.opts.DateRange)
}

// Close shuts the browser pool down. It is safe to call more than once.
func (o *Orchestrator) Close() error {
	return o.deps.Pool.Close()
}
