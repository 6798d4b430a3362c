// Package types defines shared types used across the application.
package types

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"
)

// PageType is the classified category of a visited page.
type PageType string

const (
	PageTypeMain          PageType = "MAIN"
	PageTypeProductDetail PageType = "PRODUCT_DETAIL"
	PageTypeProductList   PageType = "PRODUCT_LIST"
	PageTypeSearchResult  PageType = "SEARCH_RESULT"
	PageTypeCart          PageType = "CART"
	PageTypeCheckout      PageType = "CHECKOUT"
	PageTypeOrderComplete PageType = "ORDER_COMPLETE"
	PageTypeBrandMain     PageType = "BRAND_MAIN"
	PageTypeEvent         PageType = "EVENT"
	PageTypeLogin         PageType = "LOGIN"
	PageTypeMyPage        PageType = "MY_PAGE"
	PageTypeOthers        PageType = "OTHERS"
)

// AllPageTypes lists every page type in declaration order.
var AllPageTypes = []PageType{
	PageTypeMain,
	PageTypeProductDetail,
	PageTypeProductList,
	PageTypeSearchResult,
	PageTypeCart,
	PageTypeCheckout,
	PageTypeOrderComplete,
	PageTypeBrandMain,
	PageTypeEvent,
	PageTypeLogin,
	PageTypeMyPage,
	PageTypeOthers,
}

var pageTypeAliases = map[string]PageType{
	"HOME":           PageTypeMain,
	"INDEX":          PageTypeMain,
	"PDP":            PageTypeProductDetail,
	"PRODUCT":        PageTypeProductDetail,
	"PLP":            PageTypeProductList,
	"CATEGORY":       PageTypeProductList,
	"LIST":           PageTypeProductList,
	"SEARCH":         PageTypeSearchResult,
	"BASKET":         PageTypeCart,
	"ORDER":          PageTypeCheckout,
	"ORDER_FORM":     PageTypeCheckout,
	"PURCHASE":       PageTypeOrderComplete,
	"THANK_YOU":      PageTypeOrderComplete,
	"BRAND":          PageTypeBrandMain,
	"PROMOTION":      PageTypeEvent,
	"MYPAGE":         PageTypeMyPage,
	"ACCOUNT":        PageTypeMyPage,
	"OTHER":          PageTypeOthers,
	"ETC":            PageTypeOthers,
	"SIGN_IN":        PageTypeLogin,
	"SEARCH_RESULTS": PageTypeSearchResult,
}

// ErrUnknownPageType is returned when a token does not name a page type.
var ErrUnknownPageType = errors.New("unknown page type")

func normalizeToken(s string) string {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(s)
	return s
}

// ParsePageType maps a label to a page type. Case, dashes and blanks are
// ignored and a few common aliases are accepted. Unknown labels are rejected
// with an error wrapping ErrUnknownPageType that suggests the closest match.
func ParsePageType(s string) (PageType, error) {
	token := normalizeToken(s)
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrUnknownPageType)
	}
	if slices.Contains(AllPageTypes, PageType(token)) {
		return PageType(token), nil
	}
	if pt, ok := pageTypeAliases[token]; ok {
		return pt, nil
	}
	if suggestion := closestPageType(token); suggestion != "" {
		return "", fmt.Errorf("%w: %q (did you mean %s?)", ErrUnknownPageType, s, suggestion)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPageType, s)
}

func closestPageType(token string) PageType {
	best := PageType("")
	bestDist := 3 // suggestions further away than this are noise
	for _, pt := range AllPageTypes {
		d := levenshtein.ComputeDistance(token, string(pt))
		if d < bestDist {
			best = pt
			bestDist = d
		}
	}
	return best
}

// UnmarshalText makes PageType usable in yaml and json documents.
func (p *PageType) UnmarshalText(text []byte) error {
	pt, err := ParsePageType(string(text))
	if err != nil {
		return err
	}
	*p = pt
	return nil
}

// PageTypeSet is a set of page types.
type PageTypeSet map[PageType]struct{}

func NewPageTypeSet(pts ...PageType) PageTypeSet {
	s := make(PageTypeSet, len(pts))
	for _, pt := range pts {
		s[pt] = struct{}{}
	}
	return s
}

func (s PageTypeSet) Contains(pt PageType) bool {
	_, ok := s[pt]
	return ok
}

// Sorted returns the members in declaration order.
func (s PageTypeSet) Sorted() []PageType {
	out := make([]PageType, 0, len(s))
	for _, pt := range AllPageTypes {
		if s.Contains(pt) {
			out = append(out, pt)
		}
	}
	return out
}

func (s PageTypeSet) String() string {
	parts := []string{}
	for _, pt := range s.Sorted() {
		parts = append(parts, string(pt))
	}
	return strings.Join(parts, "|")
}

// Confidence is a coarse confidence level attached to verdicts.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

// Lower returns the lower of the two confidence levels.
func (c Confidence) Lower(o Confidence) Confidence {
	if o.rank() < c.rank() {
		return o
	}
	return c
}

// Higher returns the higher of the two confidence levels.
func (c Confidence) Higher(o Confidence) Confidence {
	if o.rank() > c.rank() {
		return o
	}
	return c
}

// AnalysisUnit is one page to analyse.
type AnalysisUnit struct {
	ID                 string   `yaml:"id" json:"id"`
	URL                string   `yaml:"url" json:"url"`
	ExpectedEventNames []string `yaml:"expected_events" json:"expectedEventNames"`
}

// PlatformEvent is an event the analytics platform recorded on the page,
// as found in the page's data layer.
type PlatformEvent struct {
	Name   string         `yaml:"event" json:"event"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}
