package feasibility

import "github.com/jakopako/tagprobe/internal/types"

// Policy holds the business rules of the evaluator that are site
// specific and can be overridden in the configuration.
type Policy struct {
	// InheritedPageTypes lists, per page type, the page types whose
	// presence in a content group alternation also admits it.
	InheritedPageTypes map[types.PageType][]types.PageType `yaml:"inherited_page_types"`
	// ContentGroupVariables names additional variables that hold the page
	// type of the page.
	ContentGroupVariables []string `yaml:"content_group_variables"`
	// Labels maps site specific content group values to page types.
	Labels map[string]types.PageType `yaml:"labels"`
}

// BrandMainInheritance makes an alternation that names product pages
// also cover brand main pages.
var BrandMainInheritance = map[types.PageType][]types.PageType{
	types.PageTypeBrandMain: {types.PageTypeProductDetail, types.PageTypeProductList},
}

func DefaultPolicy() Policy {
	return Policy{
		InheritedPageTypes: BrandMainInheritance,
	}
}

// covers reports whether the set admits the target page type.
func (p Policy) covers(set types.PageTypeSet, target types.PageType) bool {
	if set.Contains(target) {
		return true
	}
	for _, parent := range p.InheritedPageTypes[target] {
		if set.Contains(parent) {
			return true
		}
	}
	return false
}
