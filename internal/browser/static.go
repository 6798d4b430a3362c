package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/jakopako/tagprobe/internal/log"
	"github.com/jakopako/tagprobe/internal/types"
	"github.com/tidwall/gjson"
)

// ErrNoScreenshot is returned by sessions that cannot render pages.
var ErrNoScreenshot = errors.New("screenshots are not supported without a rendering browser")

// StaticBrowser fetches pages over plain http without running javascript.
// Global state and platform events are read from inline scripts, so only
// values present in the served html are found.
type StaticBrowser struct {
	*Config
	client *retryablehttp.Client
}

func NewStaticBrowser(c *Config) *StaticBrowser {
	c.setDefaults()
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	return &StaticBrowser{Config: c, client: client}
}

func (b *StaticBrowser) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &staticSession{browser: b}, nil
}

func (b *StaticBrowser) Close() error {
	b.client.HTTPClient.CloseIdleConnections()
	return nil
}

type staticSession struct {
	browser *StaticBrowser
	doc     *goquery.Document
	html    string
}

func (s *staticSession) Navigate(ctx context.Context, urlStr string) error {
	logger := log.LoggerFromContext(ctx)
	logger.Debug("fetching page", slog.String("browser", string(STATIC_BROWSER_TYPE)), slog.String("url", urlStr))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return err
	}
	if s.browser.UserAgent != "" {
		req.Header.Set("User-Agent", s.browser.UserAgent)
	}
	req.Header.Set("Accept", "*/*")
	res, err := s.browser.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("status code error: %d %s", res.StatusCode, res.Status)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", urlStr, err)
	}
	s.html, s.doc = string(body), doc
	return nil
}

func (s *staticSession) Screenshot(ctx context.Context) ([]byte, error) {
	return nil, ErrNoScreenshot
}

func (s *staticSession) scripts() (string, error) {
	if s.doc == nil {
		return "", errors.New("no page loaded")
	}
	var sb strings.Builder
	s.doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		if _, external := sel.Attr("src"); !external {
			sb.WriteString(sel.Text())
			sb.WriteString("\n")
		}
	})
	return sb.String(), nil
}

func (s *staticSession) ReadGlobalState(ctx context.Context, names []string) (map[string]any, error) {
	src, err := s.scripts()
	if err != nil {
		return nil, err
	}
	state := map[string]any{}
	for _, name := range names {
		if v, ok := findAssignment(src, name); ok {
			state[name] = v
		}
	}
	return state, nil
}

func (s *staticSession) RecentPlatformEvents(ctx context.Context) ([]types.PlatformEvent, error) {
	src, err := s.scripts()
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(s.browser.DataLayerName) + `\.push\(\s*`)
	events := []types.PlatformEvent{}
	for _, loc := range re.FindAllStringIndex(src, -1) {
		obj := balanced(src, loc[1])
		if obj == "" || !gjson.Valid(obj) {
			continue
		}
		name := gjson.Get(obj, "event").String()
		if name == "" {
			continue
		}
		e := types.PlatformEvent{Name: name}
		var params map[string]any
		if json.Unmarshal([]byte(obj), &params) == nil {
			delete(params, "event")
			if len(params) > 0 {
				e.Params = params
			}
		}
		events = append(events, e)
	}
	if n := s.browser.RecentEvents; len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

func (s *staticSession) HTML(ctx context.Context) (string, error) {
	if s.doc == nil {
		return "", errors.New("no page loaded")
	}
	return s.html, nil
}

func (s *staticSession) Close() error {
	return nil
}

// findAssignment looks for `name = <value>` in javascript source where the
// value is a string literal or a json object or array.
func findAssignment(src, name string) (any, bool) {
	re := regexp.MustCompile(`(?:^|[^\w.$])(?:window\.)?` + regexp.QuoteMeta(name) + `\s*=\s*`)
	for _, loc := range re.FindAllStringIndex(src, -1) {
		rest := src[loc[1]:]
		if rest == "" {
			continue
		}
		switch rest[0] {
		case '"', '\'':
			if end := strings.IndexByte(rest[1:], rest[0]); end >= 0 {
				return rest[1 : end+1], true
			}
		case '{', '[':
			raw := balanced(src, loc[1])
			if raw == "" || !gjson.Valid(raw) {
				continue
			}
			var v any
			if json.Unmarshal([]byte(raw), &v) == nil {
				return v, true
			}
		}
	}
	return nil, false
}

// balanced returns the bracketed expression starting at src[start], or
// the empty string if it is not closed.
func balanced(src string, start int) string {
	if start >= len(src) || (src[start] != '{' && src[start] != '[') {
		return ""
	}
	depth := 0
	var quote byte
	for i := start; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return src[start : i+1]
			}
		}
	}
	return ""
}
