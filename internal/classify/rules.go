package classify

import "github.com/jakopako/tagprobe/internal/types"

// Rules configures the detectors. Every section that is left empty falls
// back to the built-in rules for a typical online shop.
type Rules struct {
	URLPatterns     []URLPatternRule     `yaml:"url_patterns"`
	QueryParams     []QueryParamRule     `yaml:"query_params"`
	GlobalVariables []GlobalVariableRule `yaml:"global_variables"`
	PlatformEvents  []PlatformEventRule  `yaml:"platform_events"`
	DOMHints        []DOMHintRule        `yaml:"dom_hints"`
}

// URLPatternRule matches a regular expression against the url path. The
// first matching rule wins.
type URLPatternRule struct {
	Pattern  string         `yaml:"pattern"`
	PageType types.PageType `yaml:"page_type"`
}

// QueryParamRule fires when the query parameter is present and, if Value
// is set, its value matches the Value expression.
type QueryParamRule struct {
	Param      string         `yaml:"param"`
	Value      string         `yaml:"value"`
	PageType   types.PageType `yaml:"page_type"`
	Confidence int            `yaml:"confidence"`
}

// GlobalVariableRule reads a global variable of the page. Path optionally
// selects a nested field using an xpath like expression, eg. page/pageType.
// The value is looked up in Values (case insensitive) and otherwise parsed
// as a page type label.
type GlobalVariableRule struct {
	Variable string                    `yaml:"variable"`
	Path     string                    `yaml:"path"`
	Values   map[string]types.PageType `yaml:"values"`
}

// PlatformEventRule fires when the named event is among the recently
// emitted platform events.
type PlatformEventRule struct {
	Event      string         `yaml:"event"`
	PageType   types.PageType `yaml:"page_type"`
	Confidence int            `yaml:"confidence"`
}

// DOMHintRule fires when the css selector matches at least one element.
type DOMHintRule struct {
	Selector   string         `yaml:"selector"`
	PageType   types.PageType `yaml:"page_type"`
	Confidence int            `yaml:"confidence"`
}

func (r Rules) withDefaults() Rules {
	d := DefaultRules()
	if len(r.URLPatterns) == 0 {
		r.URLPatterns = d.URLPatterns
	}
	if len(r.QueryParams) == 0 {
		r.QueryParams = d.QueryParams
	}
	if len(r.GlobalVariables) == 0 {
		r.GlobalVariables = d.GlobalVariables
	}
	if len(r.PlatformEvents) == 0 {
		r.PlatformEvents = d.PlatformEvents
	}
	if len(r.DOMHints) == 0 {
		r.DOMHints = d.DOMHints
	}
	return r
}

// DefaultRules returns the built-in rules.
func DefaultRules() Rules {
	return Rules{
		URLPatterns: []URLPatternRule{
			{Pattern: `(?i)/(order|checkout)/(complete|finish|thanks?)`, PageType: types.PageTypeOrderComplete},
			{Pattern: `(?i)/(checkout|order)(/|$)`, PageType: types.PageTypeCheckout},
			{Pattern: `(?i)/(cart|basket)(/|$)`, PageType: types.PageTypeCart},
			{Pattern: `(?i)/search(/|$)`, PageType: types.PageTypeSearchResult},
			{Pattern: `(?i)/brands?/[^/]+`, PageType: types.PageTypeBrandMain},
			{Pattern: `(?i)/(products?|goods|item|p)/[^/]+`, PageType: types.PageTypeProductDetail},
			{Pattern: `(?i)/(categor(y|ies)|list|collections?)(/|$)`, PageType: types.PageTypeProductList},
			{Pattern: `(?i)/(events?|promotions?|exhibitions?)(/|$)`, PageType: types.PageTypeEvent},
			{Pattern: `(?i)/(login|signin)(/|$)`, PageType: types.PageTypeLogin},
			{Pattern: `(?i)/(mypage|account|my)(/|$)`, PageType: types.PageTypeMyPage},
			{Pattern: `^/?(index\.html?)?$`, PageType: types.PageTypeMain},
		},
		QueryParams: []QueryParamRule{
			{Param: "q", PageType: types.PageTypeSearchResult, Confidence: 90},
			{Param: "keyword", PageType: types.PageTypeSearchResult, Confidence: 90},
			{Param: "query", PageType: types.PageTypeSearchResult, Confidence: 90},
			{Param: "productNo", PageType: types.PageTypeProductDetail, Confidence: 85},
			{Param: "product_id", PageType: types.PageTypeProductDetail, Confidence: 85},
			{Param: "goodsNo", PageType: types.PageTypeProductDetail, Confidence: 85},
			{Param: "categoryNo", PageType: types.PageTypeProductList, Confidence: 85},
			{Param: "brandNo", PageType: types.PageTypeBrandMain, Confidence: 85},
		},
		GlobalVariables: []GlobalVariableRule{
			{Variable: "pageType"},
			{Variable: "digitalData", Path: "page/pageInfo/pageType"},
		},
		PlatformEvents: []PlatformEventRule{
			{Event: "purchase", PageType: types.PageTypeOrderComplete, Confidence: 90},
			{Event: "view_item", PageType: types.PageTypeProductDetail, Confidence: 90},
			{Event: "view_cart", PageType: types.PageTypeCart, Confidence: 90},
			{Event: "begin_checkout", PageType: types.PageTypeCheckout, Confidence: 85},
			{Event: "view_search_results", PageType: types.PageTypeSearchResult, Confidence: 85},
			{Event: "view_item_list", PageType: types.PageTypeProductList, Confidence: 75},
		},
		DOMHints: []DOMHintRule{
			{Selector: `[itemtype*="schema.org/Product"]`, PageType: types.PageTypeProductDetail, Confidence: 60},
			{Selector: `.cart-item, #cart-items, .basket-item`, PageType: types.PageTypeCart, Confidence: 55},
			{Selector: `.search-result, .search-results, #searchResult`, PageType: types.PageTypeSearchResult, Confidence: 55},
			{Selector: `.product-list, ul.products, .goods-list`, PageType: types.PageTypeProductList, Confidence: 50},
		},
	}
}
