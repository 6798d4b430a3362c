// Package feasibility decides statically, from the tag configuration
// alone, which events can fire on a page of a given type.
package feasibility

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/jakopako/tagprobe/internal/log"
	"github.com/jakopako/tagprobe/internal/tagconfig"
	"github.com/jakopako/tagprobe/internal/types"
)

// Outcome is the result of evaluating one filter condition.
type Outcome string

const (
	OutcomePass            Outcome = "PASS"
	OutcomePassConditional Outcome = "PASS_CONDITIONAL"
	OutcomeUnknown         Outcome = "UNKNOWN"
	OutcomeFail            Outcome = "FAIL"
)

// Blocking reports whether the outcome prevents the trigger from firing.
func (o Outcome) Blocking() bool {
	return o == OutcomeFail
}

// FilterResult is the evaluation of a single filter condition.
type FilterResult struct {
	Condition      tagconfig.FilterCondition `json:"condition"`
	Outcome        Outcome                   `json:"outcome"`
	Reason         string                    `json:"reason"`
	ScopeViolation bool                      `json:"scopeViolation"`
	Confidence     types.Confidence          `json:"confidence"`
}

// TriggerVerdict is the evaluation of one trigger.
type TriggerVerdict struct {
	TriggerID      string                `json:"triggerId"`
	Kind           tagconfig.TriggerKind `json:"kind"`
	Fires          bool                  `json:"fires"`
	ScopeViolation bool                  `json:"scopeViolation"`
	Confidence     types.Confidence      `json:"confidence"`
	Reasons        []string              `json:"reasons"`
	Filters        []FilterResult        `json:"filters"`
}

// Verdict tells whether an event can fire on a page type.
type Verdict struct {
	EventName string `json:"eventName"`
	CanFire   bool   `json:"canFire"`
	// BlockedByScopeViolation is set when every trigger is blocked by a
	// variable that is not declared on the page type. Such events can be
	// ruled out with near certainty, other blocks depend on run time values.
	BlockedByScopeViolation bool             `json:"blockedByScopeViolation"`
	Confidence              types.Confidence `json:"confidence"`
	AutoFire                bool             `json:"autoFire"`
	Triggers                []TriggerVerdict `json:"triggers"`
}

// PerTriggerReasons returns the diagnostic reasons keyed by trigger id.
func (v Verdict) PerTriggerReasons() map[string][]string {
	out := make(map[string][]string, len(v.Triggers))
	for _, t := range v.Triggers {
		out[t.TriggerID] = t.Reasons
	}
	return out
}

// Evaluator applies the feasibility rules against a declaration scope.
// It keeps no state between calls.
type Evaluator struct {
	scope  tagconfig.VariableScope
	policy Policy
}

func NewEvaluator(scope tagconfig.VariableScope, policy Policy) *Evaluator {
	if scope == nil {
		scope = tagconfig.VariableScope{}
	}
	policy.Labels = normalizeLabels(policy.Labels)
	return &Evaluator{scope: scope, policy: policy}
}

// EvaluateFilter evaluates one condition against the target page type.
// The first matching rule decides.
func (e *Evaluator) EvaluateFilter(f tagconfig.FilterCondition, target types.PageType) FilterResult {
	r := FilterResult{Condition: f}
	declared, scopeKnown := e.scope.Lookup(f.VariableRef)

	switch {
	case scopeKnown && !declared.Contains(target):
		r.Outcome = OutcomeFail
		r.ScopeViolation = true
		r.Confidence = types.ConfidenceHigh
		r.Reason = fmt.Sprintf("variable %s not available on this page type (declared on %s)", f.VariableRef, declared)

	case f.Operator == tagconfig.OpCSSSelector:
		r.Outcome = OutcomePassConditional
		r.Confidence = types.ConfidenceMedium
		r.Reason = fmt.Sprintf("depends on presence of element %s", f.Value)

	case f.Operator == tagconfig.OpNegatedExistence && !scopeKnown:
		hint, ok := inferPageTypeHint(f.VariableRef)
		if ok && hint != target {
			r.Outcome = OutcomeFail
			r.Confidence = types.ConfidenceLow
			r.Reason = fmt.Sprintf("variable %s looks specific to %s pages", f.VariableRef, hint)
		} else {
			r.Outcome = OutcomeUnknown
			r.Confidence = types.ConfidenceLow
			r.Reason = fmt.Sprintf("declaration scope of variable %s unknown", f.VariableRef)
		}

	case e.isContentGroup(f.VariableRef) && isSetOperator(f.Operator):
		set, err := parseAlternation(f.Value, e.policy.Labels)
		if err != nil && f.Operator == tagconfig.OpRegex && errors.Is(err, ErrNotAlternation) {
			// an arbitrary expression, not a page type list
			r.Outcome = OutcomePass
			r.Confidence = types.ConfidenceHigh
			r.Reason = "condition does not depend on the page type"
			break
		}
		if err != nil {
			r.Outcome = OutcomeUnknown
			r.Confidence = types.ConfidenceLow
			r.Reason = err.Error()
			break
		}
		covered := e.policy.covers(set, target)
		if f.Operator == tagconfig.OpNotEquals {
			covered = !covered
		}
		if covered {
			r.Outcome = OutcomePass
			r.Confidence = types.ConfidenceHigh
			r.Reason = fmt.Sprintf("page type %s matches %s %s", target, f.Operator, set)
		} else {
			r.Outcome = OutcomeFail
			r.Confidence = types.ConfidenceHigh
			r.Reason = fmt.Sprintf("page type %s does not match %s %s", target, f.Operator, set)
		}

	default:
		r.Outcome = OutcomePass
		r.Confidence = types.ConfidenceHigh
		r.Reason = "condition does not depend on the page type"
	}
	return r
}

func isSetOperator(op tagconfig.Operator) bool {
	switch op {
	case tagconfig.OpRegexAlternation, tagconfig.OpRegex, tagconfig.OpEquals, tagconfig.OpNotEquals:
		return true
	}
	return false
}

func squash(s string) string {
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(s))
}

func (e *Evaluator) isContentGroup(variableRef string) bool {
	name := squash(variableRef)
	if strings.Contains(name, "contentgroup") || strings.Contains(name, "pagetype") {
		return true
	}
	return slices.ContainsFunc(e.policy.ContentGroupVariables, func(v string) bool {
		return squash(tagconfig.NormalizeVariableRef(v)) == name
	})
}

// pageTypeHints is checked in order, more specific keywords first.
var pageTypeHints = []struct {
	keywords []string
	pageType types.PageType
}{
	{[]string{"transaction", "purchase", "ordercomplete", "orderid"}, types.PageTypeOrderComplete},
	{[]string{"checkout", "order"}, types.PageTypeCheckout},
	{[]string{"cart", "basket"}, types.PageTypeCart},
	{[]string{"search", "keyword"}, types.PageTypeSearchResult},
	{[]string{"brand"}, types.PageTypeBrandMain},
	{[]string{"category", "itemlist", "productlist"}, types.PageTypeProductList},
	{[]string{"product", "item", "goods", "sku"}, types.PageTypeProductDetail},
	{[]string{"login", "signin"}, types.PageTypeLogin},
}

// inferPageTypeHint guesses from a variable's name on which page type
// it is populated.
func inferPageTypeHint(variableRef string) (types.PageType, bool) {
	name := squash(variableRef)
	for _, h := range pageTypeHints {
		for _, k := range h.keywords {
			if strings.Contains(name, k) {
				return h.pageType, true
			}
		}
	}
	return "", false
}

// EvaluateTrigger evaluates all filters of the trigger. It fires unless a
// filter fails. Conditional and unknown outcomes lower the confidence.
func (e *Evaluator) EvaluateTrigger(t tagconfig.TriggerDefinition, target types.PageType) TriggerVerdict {
	v := TriggerVerdict{
		TriggerID:  t.ID,
		Kind:       t.Kind,
		Fires:      true,
		Confidence: types.ConfidenceHigh,
		Reasons:    []string{},
		Filters:    make([]FilterResult, 0, len(t.Filters)),
	}
	if len(t.Filters) == 0 {
		v.Reasons = append(v.Reasons, "no filters")
		return v
	}
	for _, f := range t.Filters {
		r := e.EvaluateFilter(f, target)
		v.Filters = append(v.Filters, r)
		switch {
		case r.Outcome.Blocking():
			v.Fires = false
			v.ScopeViolation = v.ScopeViolation || r.ScopeViolation
			v.Reasons = append(v.Reasons, r.Reason)
		case r.Outcome == OutcomePassConditional:
			v.Confidence = v.Confidence.Lower(types.ConfidenceMedium)
			v.Reasons = append(v.Reasons, r.Reason)
		case r.Outcome == OutcomeUnknown:
			v.Confidence = v.Confidence.Lower(types.ConfidenceLow)
			v.Reasons = append(v.Reasons, r.Reason)
		}
	}
	return v
}

// EvaluateEvent computes the verdict of one event. The event can fire if
// any of its triggers fires, so adding a firing trigger never turns a
// positive verdict negative.
func (e *Evaluator) EvaluateEvent(ev tagconfig.EventDefinition, target types.PageType) Verdict {
	v := Verdict{
		EventName: ev.Name,
		AutoFire:  ev.FiresAutomatically(),
		Triggers:  make([]TriggerVerdict, 0, len(ev.Triggers)),
	}
	allScope := len(ev.Triggers) > 0
	for _, t := range ev.Triggers {
		tv := e.EvaluateTrigger(t, target)
		v.Triggers = append(v.Triggers, tv)
		if tv.Fires {
			if !v.CanFire {
				v.Confidence = tv.Confidence
			} else {
				v.Confidence = v.Confidence.Higher(tv.Confidence)
			}
			v.CanFire = true
		}
		allScope = allScope && tv.ScopeViolation
	}
	if !v.CanFire {
		v.BlockedByScopeViolation = allScope
		v.Confidence = types.ConfidenceMedium
		if v.BlockedByScopeViolation {
			v.Confidence = types.ConfidenceHigh
		}
	}
	return v
}

// EvaluateAll evaluates every event against the page type, in the order
// of the given events.
func (e *Evaluator) EvaluateAll(ctx context.Context, events []tagconfig.EventDefinition, target types.PageType) []Verdict {
	logger := log.LoggerFromContext(ctx).With(slog.String("component", "evaluator"), slog.String("page_type", string(target)))
	verdicts := make([]Verdict, 0, len(events))
	for _, ev := range events {
		v := e.EvaluateEvent(ev, target)
		if !v.CanFire {
			kind := "filter mismatch"
			if v.BlockedByScopeViolation {
				kind = "scope violation"
			}
			logger.Debug(fmt.Sprintf("event %s blocked by %s: %v", ev.Name, kind, v.PerTriggerReasons()))
		}
		verdicts = append(verdicts, v)
	}
	return verdicts
}

// Candidates returns the names of the events that can fire.
func Candidates(verdicts []Verdict) []string {
	names := []string{}
	for _, v := range verdicts {
		if v.CanFire {
			names = append(names, v.EventName)
		}
	}
	return names
}
