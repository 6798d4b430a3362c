// Package groundtruth provides the observed event counts that analysis
// results are scored against.
package groundtruth

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/jakopako/tagprobe/internal/types"
	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

// DateRange is an inclusive range of days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDateRange parses two YYYY-MM-DD dates. Empty values default to the
// last 30 days ending today.
func ParseDateRange(start, end string, now time.Time) (DateRange, error) {
	r := DateRange{
		Start: now.AddDate(0, 0, -30).Truncate(24 * time.Hour),
		End:   now.Truncate(24 * time.Hour),
	}
	var err error
	if start != "" {
		if r.Start, err = time.Parse(dateLayout, start); err != nil {
			return r, fmt.Errorf("invalid start date %q: %w", start, err)
		}
	}
	if end != "" {
		if r.End, err = time.Parse(dateLayout, end); err != nil {
			return r, fmt.Errorf("invalid end date %q: %w", end, err)
		}
	}
	if r.End.Before(r.Start) {
		return r, fmt.Errorf("date range ends (%s) before it starts (%s)", r.End.Format(dateLayout), r.Start.Format(dateLayout))
	}
	return r, nil
}

func (r DateRange) String() string {
	return r.Start.Format(dateLayout) + ".." + r.End.Format(dateLayout)
}

// A Source reports how often each event occurred on a page path. It is
// only used for scoring.
type Source interface {
	OccurrenceCounts(ctx context.Context, pagePath string, dr DateRange) (map[string]int, error)
}

// PagePath returns the path component used to look up a page.
func PagePath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// Actual returns the sorted names of the events that occurred at least
// once.
func Actual(counts map[string]int) []string {
	out := []string{}
	for name, n := range counts {
		if n > 0 {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// StaticSource serves fixed counts per page path. It ignores the date
// range.
type StaticSource struct {
	counts map[string]map[string]int
}

// ExpectedCounts uses the expected events of a single unit as its ground
// truth, each with a count of one.
func ExpectedCounts(u types.AnalysisUnit) map[string]int {
	counts := map[string]int{}
	for _, e := range u.ExpectedEventNames {
		counts[e] = 1
	}
	return counts
}

// LoadCountsFile reads a yaml document mapping page paths to event
// counts.
func LoadCountsFile(path string) (*StaticSource, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	counts := map[string]map[string]int{}
	if err := yaml.Unmarshal(b, &counts); err != nil {
		return nil, fmt.Errorf("error while reading ground truth %s: %w", path, err)
	}
	return &StaticSource{counts: counts}, nil
}

func (s *StaticSource) OccurrenceCounts(ctx context.Context, pagePath string, dr DateRange) (map[string]int, error) {
	counts, ok := s.counts[pagePath]
	if !ok {
		return nil, fmt.Errorf("no ground truth for page %s", pagePath)
	}
	return maps.Clone(counts), nil
}
