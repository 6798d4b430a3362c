package feasibility

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jakopako/tagprobe/internal/types"
)

// ErrNotAlternation is returned for patterns that are more than a plain
// list of alternatives.
var ErrNotAlternation = errors.New("not a plain alternation")

const regexMeta = `.*+?[]{}\()`

// ParseAlternation parses a pattern such as ^(MAIN|PRODUCT_DETAIL)$ into
// the set of page types it names. Every alternative has to be a known
// page type label, unknown ones are reported rather than skipped. labels
// maps site specific labels (case insensitive) to page types and is
// consulted before the built-in names.
func ParseAlternation(pattern string, labels map[string]types.PageType) (types.PageTypeSet, error) {
	return parseAlternation(pattern, normalizeLabels(labels))
}

// parseAlternation expects labels with lower case keys.
func parseAlternation(pattern string, labels map[string]types.PageType) (types.PageTypeSet, error) {
	p := strings.TrimSpace(pattern)
	p = strings.TrimPrefix(p, "(?i)")
	p = strings.TrimPrefix(p, "^")
	p = strings.TrimSuffix(p, "$")
	if strings.HasPrefix(p, "(") && strings.HasSuffix(p, ")") {
		p = strings.TrimSuffix(strings.TrimPrefix(p, "("), ")")
		p = strings.TrimPrefix(p, "?:")
	}
	if strings.ContainsAny(p, regexMeta) {
		return nil, fmt.Errorf("%w: %q", ErrNotAlternation, pattern)
	}

	set := types.PageTypeSet{}
	errs := []error{}
	for _, token := range strings.Split(p, "|") {
		token = strings.TrimSpace(token)
		if pt, ok := labels[strings.ToLower(token)]; ok {
			set[pt] = struct{}{}
			continue
		}
		pt, err := types.ParsePageType(token)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		set[pt] = struct{}{}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid alternation %q: %w", pattern, errors.Join(errs...))
	}
	return set, nil
}

// normalizeLabels lower cases the label keys. Of labels that only differ
// by case, the one sorting first wins.
func normalizeLabels(labels map[string]types.PageType) map[string]types.PageType {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make(map[string]types.PageType, len(labels))
	for _, k := range keys {
		lk := strings.ToLower(strings.TrimSpace(k))
		if _, ok := out[lk]; !ok {
			out[lk] = labels[k]
		}
	}
	return out
}
