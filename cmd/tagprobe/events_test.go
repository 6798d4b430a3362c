package main

import (
	"testing"

	"github.com/jakopako/tagprobe/internal/feasibility"
	"github.com/jakopako/tagprobe/internal/tagconfig"
	"github.com/jakopako/tagprobe/internal/types"
)

func TestFeasibilityFilterPolicy(t *testing.T) {
	tags, err := tagconfig.NewStaticProvider(tagconfig.Document{
		Events: []tagconfig.EventDefinition{
			{Name: "view_item_list", Triggers: []tagconfig.TriggerDefinition{{
				Kind:    tagconfig.KindPageLoad,
				Filters: []tagconfig.FilterCondition{{Operator: tagconfig.OpEquals, VariableRef: "Site Section", Value: "shop"}},
			}}},
			{Name: "view_brand", Triggers: []tagconfig.TriggerDefinition{{
				Kind:    tagconfig.KindPageLoad,
				Filters: []tagconfig.FilterCondition{{Operator: tagconfig.OpEquals, VariableRef: "Content Group", Value: "PRODUCT_LIST"}},
			}}},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// without the policy the site section variable is page independent
	got := feasibilityFilter(tags, types.PageTypeCart, feasibility.DefaultPolicy())
	if !got["view_item_list"] {
		t.Errorf("expected view_item_list with the default policy, got %v", got)
	}

	policy := feasibility.DefaultPolicy()
	policy.ContentGroupVariables = []string{"Site Section"}
	policy.Labels = map[string]types.PageType{"Shop": types.PageTypeProductList}
	policy.InheritedPageTypes = map[types.PageType][]types.PageType{}
	got = feasibilityFilter(tags, types.PageTypeCart, policy)
	if got["view_item_list"] {
		t.Errorf("expected view_item_list to be filtered on cart pages, got %v", got)
	}
	got = feasibilityFilter(tags, types.PageTypeProductList, policy)
	if !got["view_item_list"] || !got["view_brand"] {
		t.Errorf("expected both events on product list pages, got %v", got)
	}
	got = feasibilityFilter(tags, types.PageTypeBrandMain, policy)
	if got["view_brand"] {
		t.Errorf("expected no inheritance with an empty inheritance map, got %v", got)
	}
}
