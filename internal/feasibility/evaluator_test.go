package feasibility

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/jakopako/tagprobe/internal/tagconfig"
	"github.com/jakopako/tagprobe/internal/types"
)

func cond(op tagconfig.Operator, variable, value string) tagconfig.FilterCondition {
	return tagconfig.FilterCondition{Operator: op, VariableRef: variable, Value: value}
}

func testScope() tagconfig.VariableScope {
	return tagconfig.VariableScope{
		"Product ID":  types.NewPageTypeSet(types.PageTypeProductDetail),
		"Cart Items":  types.NewPageTypeSet(types.PageTypeCart, types.PageTypeCheckout),
		"Search Term": types.NewPageTypeSet(types.PageTypeSearchResult),
	}
}

func TestParseAlternation(t *testing.T) {
	tests := []struct {
		pattern  string
		expected []types.PageType
		err      bool
	}{
		{pattern: "MAIN|PRODUCT_DETAIL", expected: []types.PageType{types.PageTypeMain, types.PageTypeProductDetail}},
		{pattern: "^(PRODUCT_DETAIL|product list)$", expected: []types.PageType{types.PageTypeProductDetail, types.PageTypeProductList}},
		{pattern: "(?i)^(?:cart|checkout)$", expected: []types.PageType{types.PageTypeCart, types.PageTypeCheckout}},
		{pattern: "PDP", expected: []types.PageType{types.PageTypeProductDetail}},
		{pattern: "MAIN|PRODCT_DETAIL", err: true},
		{pattern: "PRODUCT.*", err: true},
		{pattern: "", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			set, err := ParseAlternation(tt.pattern, nil)
			if tt.err {
				if err == nil {
					t.Fatalf("expected an error, got %v", set)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := set.Sorted(); !slices.Equal(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestParseAlternationErrors(t *testing.T) {
	_, err := ParseAlternation("^PRODUCT_[A-Z]+$", nil)
	if !errors.Is(err, ErrNotAlternation) {
		t.Errorf("expected ErrNotAlternation, got %v", err)
	}
	_, err = ParseAlternation("MAIN|NOPE", nil)
	if !errors.Is(err, types.ErrUnknownPageType) {
		t.Errorf("expected ErrUnknownPageType, got %v", err)
	}
}

func TestParseAlternationLabels(t *testing.T) {
	labels := map[string]types.PageType{"Goods View": types.PageTypeProductDetail}
	set, err := ParseAlternation("goods view|MAIN", labels)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !set.Contains(types.PageTypeProductDetail) || !set.Contains(types.PageTypeMain) {
		t.Errorf("expected PRODUCT_DETAIL and MAIN, got %s", set)
	}
}

func TestParseAlternationLabelCase(t *testing.T) {
	labels := map[string]types.PageType{
		"shop": types.PageTypeProductDetail,
		"Shop": types.PageTypeProductList,
	}
	for _i := 0; _i < 20; _i++ {
		set, err := ParseAlternation("SHOP", labels)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !set.Contains(types.PageTypeProductList) || len(set) != 1 {
			t.Fatalf("expected PRODUCT_LIST, got %s", set)
		}
	}
}

func TestOutcomeBlocking(t *testing.T) {
	for _, o := range []Outcome{OutcomePass, OutcomePassConditional, OutcomeUnknown, OutcomeFail} {
		if o.Blocking() != (o == OutcomeFail) {
			t.Errorf("unexpected blocking %t for %s", o.Blocking(), o)
		}
	}
}

func TestEvaluateFilter(t *testing.T) {
	e := NewEvaluator(testScope(), DefaultPolicy())

	tests := []struct {
		name           string
		condition      tagconfig.FilterCondition
		target         types.PageType
		outcome        Outcome
		scopeViolation bool
		confidence     types.Confidence
	}{
		{
			name:           "declared on other page type",
			condition:      cond(tagconfig.OpNegatedExistence, "{{Product ID}}", "undefined"),
			target:         types.PageTypeCart,
			outcome:        OutcomeFail,
			scopeViolation: true,
			confidence:     types.ConfidenceHigh,
		},
		{
			name:       "declared on target",
			condition:  cond(tagconfig.OpNegatedExistence, "Product ID", "undefined"),
			target:     types.PageTypeProductDetail,
			outcome:    OutcomePass,
			confidence: types.ConfidenceHigh,
		},
		{
			name:       "css selector",
			condition:  cond(tagconfig.OpCSSSelector, "Click Element", "button.add-to-cart"),
			target:     types.PageTypeMain,
			outcome:    OutcomePassConditional,
			confidence: types.ConfidenceMedium,
		},
		{
			name:       "negated existence hint differs",
			condition:  cond(tagconfig.OpNegatedExistence, "dlv - transaction_id", "undefined"),
			target:     types.PageTypeProductDetail,
			outcome:    OutcomeFail,
			confidence: types.ConfidenceLow,
		},
		{
			name:       "negated existence hint matches",
			condition:  cond(tagconfig.OpNegatedExistence, "dlv - transaction_id", "undefined"),
			target:     types.PageTypeOrderComplete,
			outcome:    OutcomeUnknown,
			confidence: types.ConfidenceLow,
		},
		{
			name:       "negated existence without hint",
			condition:  cond(tagconfig.OpNegatedExistence, "dlv - user_tier", "null"),
			target:     types.PageTypeMain,
			outcome:    OutcomeUnknown,
			confidence: types.ConfidenceLow,
		},
		{
			name:       "alternation member",
			condition:  cond(tagconfig.OpRegexAlternation, "Content Group", "^(MAIN|CART)$"),
			target:     types.PageTypeCart,
			outcome:    OutcomePass,
			confidence: types.ConfidenceHigh,
		},
		{
			name:       "alternation non member",
			condition:  cond(tagconfig.OpRegexAlternation, "Content Group", "MAIN|CART"),
			target:     types.PageTypeSearchResult,
			outcome:    OutcomeFail,
			confidence: types.ConfidenceHigh,
		},
		{
			name:       "brand main inherits product detail",
			condition:  cond(tagconfig.OpRegexAlternation, "page_type", "PRODUCT_DETAIL|CART"),
			target:     types.PageTypeBrandMain,
			outcome:    OutcomePass,
			confidence: types.ConfidenceHigh,
		},
		{
			name:       "brand main inherits product list",
			condition:  cond(tagconfig.OpEquals, "Page Type", "PRODUCT_LIST"),
			target:     types.PageTypeBrandMain,
			outcome:    OutcomePass,
			confidence: types.ConfidenceHigh,
		},
		{
			name:       "no inheritance the other way",
			condition:  cond(tagconfig.OpEquals, "Page Type", "BRAND_MAIN"),
			target:     types.PageTypeProductDetail,
			outcome:    OutcomeFail,
			confidence: types.ConfidenceHigh,
		},
		{
			name:       "not equals inverts",
			condition:  cond(tagconfig.OpNotEquals, "Content Group", "MAIN"),
			target:     types.PageTypeMain,
			outcome:    OutcomeFail,
			confidence: types.ConfidenceHigh,
		},
		{
			name:       "regex alternation on content group",
			condition:  cond(tagconfig.OpRegex, "Content Group", "^(CART|CHECKOUT)$"),
			target:     types.PageTypeProductDetail,
			outcome:    OutcomeFail,
			confidence: types.ConfidenceHigh,
		},
		{
			name:       "regex alternation member",
			condition:  cond(tagconfig.OpRegex, "Content Group", "^(CART|CHECKOUT)$"),
			target:     types.PageTypeCheckout,
			outcome:    OutcomePass,
			confidence: types.ConfidenceHigh,
		},
		{
			name:       "free regex on content group",
			condition:  cond(tagconfig.OpRegex, "Content Group", "^PRODUCT_.*$"),
			target:     types.PageTypeMain,
			outcome:    OutcomePass,
			confidence: types.ConfidenceHigh,
		},
		{
			name:       "unknown alternation token",
			condition:  cond(tagconfig.OpRegexAlternation, "Content Group", "MAIN|LANDING"),
			target:     types.PageTypeMain,
			outcome:    OutcomeUnknown,
			confidence: types.ConfidenceLow,
		},
		{
			name:       "content group with contains",
			condition:  cond(tagconfig.OpContains, "Content Group", "PRODUCT"),
			target:     types.PageTypeMain,
			outcome:    OutcomePass,
			confidence: types.ConfidenceHigh,
		},
		{
			name:       "page independent",
			condition:  cond(tagconfig.OpEquals, "Event", "gtm.click"),
			target:     types.PageTypeMain,
			outcome:    OutcomePass,
			confidence: types.ConfidenceHigh,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := e.EvaluateFilter(tt.condition, tt.target)
			if r.Outcome != tt.outcome {
				t.Errorf("expected outcome %s, got %s (%s)", tt.outcome, r.Outcome, r.Reason)
			}
			if r.ScopeViolation != tt.scopeViolation {
				t.Errorf("expected scope violation %t, got %t", tt.scopeViolation, r.ScopeViolation)
			}
			if r.Confidence != tt.confidence {
				t.Errorf("expected confidence %s, got %s", tt.confidence, r.Confidence)
			}
			if r.Reason == "" {
				t.Errorf("expected a reason")
			}
		})
	}
}

func TestPolicyContentGroupVariables(t *testing.T) {
	p := DefaultPolicy()
	p.ContentGroupVariables = []string{"{{Site Section}}"}
	p.Labels = map[string]types.PageType{"shop": types.PageTypeProductList}
	e := NewEvaluator(nil, p)

	r := e.EvaluateFilter(cond(tagconfig.OpRegexAlternation, "site section", "shop|MAIN"), types.PageTypeCart)
	if r.Outcome != OutcomeFail {
		t.Errorf("expected FAIL, got %s (%s)", r.Outcome, r.Reason)
	}
	r = e.EvaluateFilter(cond(tagconfig.OpRegexAlternation, "site section", "shop|MAIN"), types.PageTypeProductList)
	if r.Outcome != OutcomePass {
		t.Errorf("expected PASS, got %s (%s)", r.Outcome, r.Reason)
	}

	p.InheritedPageTypes = nil
	e = NewEvaluator(nil, p)
	r = e.EvaluateFilter(cond(tagconfig.OpEquals, "Page Type", "PRODUCT_DETAIL"), types.PageTypeBrandMain)
	if r.Outcome != OutcomeFail {
		t.Errorf("expected FAIL without inheritance, got %s", r.Outcome)
	}
}

func TestEvaluateEvent(t *testing.T) {
	e := NewEvaluator(testScope(), DefaultPolicy())

	tests := []struct {
		name       string
		event      tagconfig.EventDefinition
		target     types.PageType
		canFire    bool
		blocked    bool
		confidence types.Confidence
	}{
		{
			name: "trigger without filters",
			event: tagconfig.EventDefinition{Name: "page_view", Triggers: []tagconfig.TriggerDefinition{
				{ID: "all pages", Kind: tagconfig.KindPageLoad},
			}},
			target:     types.PageTypeOthers,
			canFire:    true,
			confidence: types.ConfidenceHigh,
		},
		{
			name: "only filter declared elsewhere",
			event: tagconfig.EventDefinition{Name: "view_item", Triggers: []tagconfig.TriggerDefinition{
				{ID: "pdp", Kind: tagconfig.KindCustomEvent, Filters: []tagconfig.FilterCondition{
					cond(tagconfig.OpNegatedExistence, "Product ID", "undefined"),
				}},
			}},
			target:     types.PageTypeMain,
			canFire:    false,
			blocked:    true,
			confidence: types.ConfidenceHigh,
		},
		{
			name: "ordinary filter mismatch",
			event: tagconfig.EventDefinition{Name: "view_cart", Triggers: []tagconfig.TriggerDefinition{
				{ID: "cart", Kind: tagconfig.KindPageLoad, Filters: []tagconfig.FilterCondition{
					cond(tagconfig.OpEquals, "Content Group", "CART"),
				}},
			}},
			target:     types.PageTypeMain,
			canFire:    false,
			blocked:    false,
			confidence: types.ConfidenceMedium,
		},
		{
			name: "mixed blocks are not a scope violation",
			event: tagconfig.EventDefinition{Name: "view_cart", Triggers: []tagconfig.TriggerDefinition{
				{ID: "scope", Kind: tagconfig.KindCustomEvent, Filters: []tagconfig.FilterCondition{
					cond(tagconfig.OpNegatedExistence, "Cart Items", "undefined"),
				}},
				{ID: "value", Kind: tagconfig.KindPageLoad, Filters: []tagconfig.FilterCondition{
					cond(tagconfig.OpEquals, "Content Group", "CART"),
				}},
			}},
			target:     types.PageTypeMain,
			canFire:    false,
			blocked:    false,
			confidence: types.ConfidenceMedium,
		},
		{
			name: "any trigger fires",
			event: tagconfig.EventDefinition{Name: "add_to_cart", Triggers: []tagconfig.TriggerDefinition{
				{ID: "scope", Kind: tagconfig.KindCustomEvent, Filters: []tagconfig.FilterCondition{
					cond(tagconfig.OpNegatedExistence, "Cart Items", "undefined"),
				}},
				{ID: "button", Kind: tagconfig.KindClick, Filters: []tagconfig.FilterCondition{
					cond(tagconfig.OpCSSSelector, "Click Element", ".btn-cart"),
				}},
			}},
			target:     types.PageTypeProductDetail,
			canFire:    true,
			confidence: types.ConfidenceMedium,
		},
		{
			name: "best firing trigger sets confidence",
			event: tagconfig.EventDefinition{Name: "select_item", Triggers: []tagconfig.TriggerDefinition{
				{ID: "unknown", Kind: tagconfig.KindCustomEvent, Filters: []tagconfig.FilterCondition{
					cond(tagconfig.OpNegatedExistence, "dlv - user_tier", "undefined"),
				}},
				{ID: "plain", Kind: tagconfig.KindClick, Filters: []tagconfig.FilterCondition{
					cond(tagconfig.OpContains, "Click Text", "Buy"),
				}},
			}},
			target:     types.PageTypeMain,
			canFire:    true,
			confidence: types.ConfidenceHigh,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.EvaluateEvent(tt.event, tt.target)
			if v.CanFire != tt.canFire {
				t.Errorf("expected canFire %t, got %t (%v)", tt.canFire, v.CanFire, v.PerTriggerReasons())
			}
			if v.BlockedByScopeViolation != tt.blocked {
				t.Errorf("expected blockedByScopeViolation %t, got %t", tt.blocked, v.BlockedByScopeViolation)
			}
			if v.Confidence != tt.confidence {
				t.Errorf("expected confidence %s, got %s", tt.confidence, v.Confidence)
			}
			if len(v.Triggers) != len(tt.event.Triggers) {
				t.Errorf("expected %d trigger verdicts, got %d", len(tt.event.Triggers), len(v.Triggers))
			}
		})
	}
}

func TestScopeViolationOnEveryOtherPageType(t *testing.T) {
	e := NewEvaluator(testScope(), DefaultPolicy())
	ev := tagconfig.EventDefinition{Name: "view_item", Triggers: []tagconfig.TriggerDefinition{
		{ID: "t", Kind: tagconfig.KindCustomEvent, Filters: []tagconfig.FilterCondition{
			cond(tagconfig.OpEquals, "Product ID", "123"),
		}},
	}}
	for _, pt := range types.AllPageTypes {
		v := e.EvaluateEvent(ev, pt)
		if pt == types.PageTypeProductDetail {
			if !v.CanFire {
				t.Errorf("expected %s to fire on %s", ev.Name, pt)
			}
			continue
		}
		if v.CanFire || !v.BlockedByScopeViolation {
			t.Errorf("%s: expected scope violation, got canFire=%t blocked=%t", pt, v.CanFire, v.BlockedByScopeViolation)
		}
	}
}

func TestAddingFiringTriggerIsMonotonic(t *testing.T) {
	e := NewEvaluator(testScope(), DefaultPolicy())
	triggers := []tagconfig.TriggerDefinition{
		{ID: "a", Kind: tagconfig.KindCustomEvent, Filters: []tagconfig.FilterCondition{cond(tagconfig.OpEquals, "Search Term", "x")}},
		{ID: "b", Kind: tagconfig.KindPageLoad, Filters: []tagconfig.FilterCondition{cond(tagconfig.OpEquals, "Content Group", "CART")}},
		{ID: "c", Kind: tagconfig.KindClick},
		{ID: "d", Kind: tagconfig.KindClick, Filters: []tagconfig.FilterCondition{cond(tagconfig.OpEquals, "Cart Items", "1")}},
	}
	for _, pt := range types.AllPageTypes {
		fired := false
		for i := range triggers {
			v := e.EvaluateEvent(tagconfig.EventDefinition{Name: "ev", Triggers: triggers[:i+1]}, pt)
			if fired && !v.CanFire {
				t.Fatalf("%s: canFire turned false after adding trigger %s", pt, triggers[i].ID)
			}
			fired = v.CanFire
		}
		if !fired {
			t.Errorf("%s: expected the unfiltered trigger to fire", pt)
		}
	}
}

func TestEvaluateAllAndCandidates(t *testing.T) {
	p, err := tagconfig.NewStaticProvider(tagconfig.Document{
		Variables: []tagconfig.VariableDeclaration{{Name: "Product ID", PageTypes: []types.PageType{types.PageTypeProductDetail}}},
		Events: []tagconfig.EventDefinition{
			{Name: "view_item", Triggers: []tagconfig.TriggerDefinition{{Kind: tagconfig.KindCustomEvent, Filters: []tagconfig.FilterCondition{cond(tagconfig.OpNegatedExistence, "{{Product ID}}", "undefined")}}}},
			{Name: "page_view", Triggers: []tagconfig.TriggerDefinition{{Kind: tagconfig.KindPageLoad}}},
			{Name: "view_cart", Triggers: []tagconfig.TriggerDefinition{{Kind: tagconfig.KindPageLoad, Filters: []tagconfig.FilterCondition{cond(tagconfig.OpEquals, "Content Group", "CART")}}}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := NewEvaluator(p.Scope(), DefaultPolicy())
	verdicts := e.EvaluateAll(context.Background(), p.Events(), types.PageTypeProductDetail)
	if len(verdicts) != 3 {
		t.Fatalf("expected 3 verdicts, got %d", len(verdicts))
	}
	if got := Candidates(verdicts); !slices.Equal(got, []string{"view_item", "page_view"}) {
		t.Errorf("unexpected candidates %v", got)
	}
	if !verdicts[1].AutoFire {
		t.Errorf("expected page_view to be auto-fire")
	}
	reasons := verdicts[2].PerTriggerReasons()
	if len(reasons["view_cart#0"]) != 1 {
		t.Errorf("expected one reason for view_cart#0, got %v", reasons)
	}
}
