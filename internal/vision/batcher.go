package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jakopako/tagprobe/internal/limit"
	"github.com/jakopako/tagprobe/internal/log"
	"github.com/jakopako/tagprobe/internal/tagconfig"
	"github.com/jakopako/tagprobe/internal/types"
	"golang.org/x/sync/errgroup"
)

// Fallback and local answer confidences.
const (
	AutoFireConfidence         = 90
	FallbackAutoFireConfidence = 50
	FallbackAbsentConfidence   = 20
)

// VerificationResult tells whether the UI an event needs is on the page.
type VerificationResult struct {
	EventName     string `json:"eventName"`
	HasRequiredUI bool   `json:"hasRequiredUI"`
	Confidence    int    `json:"confidence"`
	Reason        string `json:"reason"`
	// Fallback is set when the result is a default and not an answer of
	// the model.
	Fallback bool `json:"fallback"`
}

// BatchItem is one page to verify.
type BatchItem struct {
	PageID     string
	Screenshot []byte
	Candidates []tagconfig.EventDefinition
	PageType   types.PageType
}

// Batcher verifies many pages concurrently. Model calls are bounded by a
// semaphore and throttled by a rate limiter. A page never fails, errors
// are turned into fallback results.
type Batcher struct {
	model   Model
	sem     *limit.Semaphore
	limiter *limit.RateLimiter
	timeout time.Duration
}

func NewBatcher(model Model, c Config) *Batcher {
	timeout := time.Duration(c.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rpm := c.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	return &Batcher{
		model:   model,
		sem:     limit.NewSemaphore(max(1, c.MaxConcurrency)),
		limiter: limit.NewRateLimiter(rpm, c.Burst),
		timeout: timeout,
	}
}

// Fallback returns the default result for an event whose verification
// failed: automatic events are assumed present, everything else absent.
func Fallback(ev tagconfig.EventDefinition, reason string) VerificationResult {
	if ev.FiresAutomatically() {
		return VerificationResult{EventName: ev.Name, HasRequiredUI: true, Confidence: FallbackAutoFireConfidence, Reason: reason, Fallback: true}
	}
	return VerificationResult{EventName: ev.Name, HasRequiredUI: false, Confidence: FallbackAbsentConfidence, Reason: reason, Fallback: true}
}

// Verify verifies all items and returns the results keyed by page id, in
// the candidate order of each page.
func (b *Batcher) Verify(ctx context.Context, items []BatchItem) map[string][]VerificationResult {
	logger := log.LoggerFromContext(ctx).With(slog.String("component", "vision"))
	logger.Info(fmt.Sprintf("verifying %d pages", len(items)))

	var mu sync.Mutex
	results := make(map[string][]VerificationResult, len(items))
	g := new(errgroup.Group)
	for _, item := range items {
		item := item
		g.Go(func() error {
			r := b.verifyPage(ctx, item, logger.With(slog.String("unit", item.PageID)))
			mu.Lock()
			results[item.PageID] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (b *Batcher) verifyPage(ctx context.Context, item BatchItem, logger *slog.Logger) (results []VerificationResult) {
	results = make([]VerificationResult, len(item.Candidates))
	pending := map[string]int{}
	request := RequestSpec{PageID: item.PageID, PageType: item.PageType, Events: []EventRequest{}}
	for i, ev := range item.Candidates {
		if ev.FiresAutomatically() {
			results[i] = VerificationResult{EventName: ev.Name, HasRequiredUI: true, Confidence: AutoFireConfidence, Reason: "fires automatically"}
			continue
		}
		pending[ev.Name] = i
		request.Events = append(request.Events, EventRequest{Event: ev.Name, RequiredUI: requiredUI(ev)})
	}
	if len(request.Events) == 0 {
		return results
	}

	fallbackPending := func(reason string) {
		for _, i := range pending {
			results[i] = Fallback(item.Candidates[i], reason)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Warn(fmt.Sprintf("vision verification panicked: %v", r))
			fallbackPending(fmt.Sprintf("verification panicked: %v", r))
		}
	}()

	answers, err := b.call(ctx, item.Screenshot, request)
	if err != nil {
		logger.Warn(fmt.Sprintf("vision verification failed, using fallback: %v", err))
		fallbackPending(err.Error())
		return results
	}

	answered := map[string]bool{}
	for _, a := range answers {
		i, ok := pending[a.Event]
		if !ok || answered[a.Event] {
			continue
		}
		answered[a.Event] = true
		results[i] = VerificationResult{
			EventName:     a.Event,
			HasRequiredUI: a.Present,
			Confidence:    min(100, max(0, a.Confidence)),
			Reason:        a.Reason,
		}
	}
	for name, i := range pending {
		if !answered[name] {
			logger.Debug(fmt.Sprintf("event %s missing from model answer", name))
			results[i] = Fallback(item.Candidates[i], "missing from model answer")
		}
	}
	return results
}

func (b *Batcher) call(ctx context.Context, screenshot []byte, request RequestSpec) ([]EventAnswer, error) {
	if len(screenshot) == 0 {
		return nil, errors.New("no screenshot")
	}
	if err := b.sem.Acquire(ctx); err != nil {
		return nil, err
	}
	defer b.sem.Release()
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.model.Verify(callCtx, screenshot, request)
}

func requiredUI(ev tagconfig.EventDefinition) string {
	if ev.RequiredUI != "" {
		return ev.RequiredUI
	}
	return "any element that lets the visitor trigger " + ev.Name
}
