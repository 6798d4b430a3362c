package classify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/jsonquery"
	"github.com/jakopako/tagprobe/internal/types"
)

// Source identifies the detector a signal comes from.
type Source string

const (
	SourceURLPattern     Source = "url-pattern"
	SourceQueryParam     Source = "query-param"
	SourceGlobalVariable Source = "global-variable"
	SourcePlatformEvent  Source = "platform-event-log"
	SourceDOMHint        Source = "dom-hint"
)

// Fixed confidences and allowed ranges per source.
const (
	urlPatternConfidence     = 70
	globalVariableConfidence = 95
	minQueryParamConfidence  = 85
	maxQueryParamConfidence  = 90
	minPlatformEventConf     = 70
	maxPlatformEventConf     = 90
	minDOMHintConfidence     = 50
	maxDOMHintConfidence     = 60
)

// Signal is one piece of evidence for a page type.
type Signal struct {
	Source     Source         `json:"source"`
	PageType   types.PageType `json:"pageType"`
	Confidence int            `json:"confidence"`
	Detail     string         `json:"detail"`
}

// PageContext is everything the detectors may look at.
type PageContext struct {
	URL     *url.URL
	Globals map[string]any
	Events  []types.PlatformEvent
	HTML    string
}

// A Detector inspects one aspect of a page and emits zero or more signals.
type Detector interface {
	Source() Source
	Detect(pc *PageContext, logger *slog.Logger) []Signal
}

func clamp(v, lo, hi int) int {
	if v == 0 {
		return lo
	}
	return min(max(v, lo), hi)
}

type urlPattern struct {
	re       *regexp.Regexp
	pageType types.PageType
}

// URLPatternDetector matches the url path against an ordered list of
// expressions and emits a signal for the first match.
type URLPatternDetector struct {
	patterns []urlPattern
}

func NewURLPatternDetector(rules []URLPatternRule) (*URLPatternDetector, error) {
	d := &URLPatternDetector{}
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid url pattern %q: %w", r.Pattern, err)
		}
		d.patterns = append(d.patterns, urlPattern{re: re, pageType: r.PageType})
	}
	return d, nil
}

func (d *URLPatternDetector) Source() Source { return SourceURLPattern }

func (d *URLPatternDetector) Detect(pc *PageContext, logger *slog.Logger) []Signal {
	if pc.URL == nil {
		return nil
	}
	for _, p := range d.patterns {
		if p.re.MatchString(pc.URL.Path) {
			return []Signal{{
				Source:     SourceURLPattern,
				PageType:   p.pageType,
				Confidence: urlPatternConfidence,
				Detail:     fmt.Sprintf("path %s matches %s", pc.URL.Path, p.re),
			}}
		}
	}
	return nil
}

type queryParam struct {
	QueryParamRule
	value *regexp.Regexp
}

// QueryParamDetector looks for query parameters that hint at a page type.
type QueryParamDetector struct {
	params []queryParam
}

func NewQueryParamDetector(rules []QueryParamRule) (*QueryParamDetector, error) {
	d := &QueryParamDetector{}
	for _, r := range rules {
		qp := queryParam{QueryParamRule: r}
		if r.Value != "" {
			re, err := regexp.Compile(r.Value)
			if err != nil {
				return nil, fmt.Errorf("invalid value expression for query parameter %s: %w", r.Param, err)
			}
			qp.value = re
		}
		qp.Confidence = clamp(r.Confidence, minQueryParamConfidence, maxQueryParamConfidence)
		d.params = append(d.params, qp)
	}
	return d, nil
}

func (d *QueryParamDetector) Source() Source { return SourceQueryParam }

func (d *QueryParamDetector) Detect(pc *PageContext, logger *slog.Logger) []Signal {
	if pc.URL == nil {
		return nil
	}
	query := pc.URL.Query()
	signals := []Signal{}
	for _, p := range d.params {
		if !query.Has(p.Param) {
			continue
		}
		v := query.Get(p.Param)
		if p.value != nil && !p.value.MatchString(v) {
			continue
		}
		signals = append(signals, Signal{
			Source:     SourceQueryParam,
			PageType:   p.PageType,
			Confidence: p.Confidence,
			Detail:     fmt.Sprintf("query parameter %s=%s", p.Param, v),
		})
	}
	return signals
}

// GlobalVariableDetector reads page type labels the site itself exposes
// in global variables. These are the most authoritative signals.
type GlobalVariableDetector struct {
	rules []GlobalVariableRule
}

func NewGlobalVariableDetector(rules []GlobalVariableRule) *GlobalVariableDetector {
	d := &GlobalVariableDetector{}
	for _, r := range rules {
		values := make(map[string]types.PageType, len(r.Values))
		for k, v := range r.Values {
			values[strings.ToLower(k)] = v
		}
		r.Values = values
		d.rules = append(d.rules, r)
	}
	return d
}

func (d *GlobalVariableDetector) Source() Source { return SourceGlobalVariable }

// Names returns the distinct global variables the detector needs.
func (d *GlobalVariableDetector) Names() []string {
	names := []string{}
	for _, r := range d.rules {
		if !slices.Contains(names, r.Variable) {
			names = append(names, r.Variable)
		}
	}
	return names
}

func (d *GlobalVariableDetector) Detect(pc *PageContext, logger *slog.Logger) []Signal {
	signals := []Signal{}
	for _, r := range d.rules {
		v, ok := pc.Globals[r.Variable]
		if !ok || v == nil {
			continue
		}
		label, err := lookupValue(v, r.Path)
		if err != nil {
			logger.Debug(fmt.Sprintf("could not read %s from global %s: %v", r.Path, r.Variable, err))
			continue
		}
		if label == "" {
			continue
		}
		pt, ok := r.Values[strings.ToLower(label)]
		if !ok {
			pt, err = types.ParsePageType(label)
			if err != nil {
				logger.Debug(fmt.Sprintf("global %s holds unmapped value: %v", r.Variable, err))
				continue
			}
		}
		name := r.Variable
		if r.Path != "" {
			name = r.Variable + "/" + r.Path
		}
		signals = append(signals, Signal{
			Source:     SourceGlobalVariable,
			PageType:   pt,
			Confidence: globalVariableConfidence,
			Detail:     fmt.Sprintf("global %s=%s", name, label),
		})
	}
	return signals
}

func lookupValue(v any, path string) (string, error) {
	if path == "" {
		switch t := v.(type) {
		case string:
			return t, nil
		case float64, int, bool:
			return fmt.Sprint(t), nil
		default:
			return "", fmt.Errorf("value of type %T needs a path", v)
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	doc, err := jsonquery.Parse(strings.NewReader(string(raw)))
	if err != nil {
		return "", err
	}
	node, err := jsonquery.Query(doc, path)
	if err != nil {
		return "", err
	}
	if node == nil {
		return "", nil
	}
	return strings.TrimSpace(node.InnerText()), nil
}

// PlatformEventDetector derives the page type from analytics events the
// page emitted on load.
type PlatformEventDetector struct {
	rules []PlatformEventRule
}

func NewPlatformEventDetector(rules []PlatformEventRule) *PlatformEventDetector {
	d := &PlatformEventDetector{}
	for _, r := range rules {
		r.Confidence = clamp(r.Confidence, minPlatformEventConf, maxPlatformEventConf)
		d.rules = append(d.rules, r)
	}
	return d
}

func (d *PlatformEventDetector) Source() Source { return SourcePlatformEvent }

func (d *PlatformEventDetector) Detect(pc *PageContext, logger *slog.Logger) []Signal {
	signals := []Signal{}
	for _, r := range d.rules {
		if slices.ContainsFunc(pc.Events, func(e types.PlatformEvent) bool { return e.Name == r.Event }) {
			signals = append(signals, Signal{
				Source:     SourcePlatformEvent,
				PageType:   r.PageType,
				Confidence: r.Confidence,
				Detail:     fmt.Sprintf("platform event %s", r.Event),
			})
		}
	}
	return signals
}

// DOMHintDetector looks for structural elements typical of a page type.
type DOMHintDetector struct {
	rules []DOMHintRule
}

func NewDOMHintDetector(rules []DOMHintRule) *DOMHintDetector {
	d := &DOMHintDetector{}
	for _, r := range rules {
		r.Confidence = clamp(r.Confidence, minDOMHintConfidence, maxDOMHintConfidence)
		d.rules = append(d.rules, r)
	}
	return d
}

func (d *DOMHintDetector) Source() Source { return SourceDOMHint }

func (d *DOMHintDetector) Detect(pc *PageContext, logger *slog.Logger) []Signal {
	if pc.HTML == "" || len(d.rules) == 0 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pc.HTML))
	if err != nil {
		logger.Debug(fmt.Sprintf("could not parse html: %v", err))
		return nil
	}
	signals := []Signal{}
	for _, r := range d.rules {
		if n := doc.Find(r.Selector).Length(); n > 0 {
			signals = append(signals, Signal{
				Source:     SourceDOMHint,
				PageType:   r.PageType,
				Confidence: r.Confidence,
				Detail:     fmt.Sprintf("%d element(s) match %s", n, r.Selector),
			})
		}
	}
	return signals
}
