package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"github.com/jakopako/tagprobe/internal/log"
	"github.com/jakopako/tagprobe/internal/types"
)

// ChromeBrowser runs one headless chrome process. Every session lives in
// its own incognito browser context.
type ChromeBrowser struct {
	*Config
	allocContext   context.Context
	cancelAlloc    context.CancelFunc
	browserContext context.Context
	cancelBrowser  context.CancelFunc
}

func NewChromeBrowser(c *Config) (*ChromeBrowser, error) {
	c.setDefaults()
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(c.WindowWidth, c.WindowHeight),
	)
	if c.UserAgent != "" {
		opts = append(opts,
			chromedp.UserAgent(c.UserAgent))
	}
	allocContext, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserContext, cancelBrowser := chromedp.NewContext(allocContext)

	// the first Run on a fresh context starts the browser process
	if err := chromedp.Run(browserContext); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	return &ChromeBrowser{
		Config:         c,
		allocContext:   allocContext,
		cancelAlloc:    cancelAlloc,
		browserContext: browserContext,
		cancelBrowser:  cancelBrowser,
	}, nil
}

func (b *ChromeBrowser) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tabContext, cancel := chromedp.NewContext(b.browserContext, chromedp.WithNewBrowserContext())
	if err := chromedp.Run(tabContext); err != nil {
		cancel()
		return nil, err
	}
	return &chromeSession{
		cfg:        b.Config,
		tabContext: tabContext,
		cancel:     cancel,
	}, nil
}

func (b *ChromeBrowser) Close() error {
	err := chromedp.Cancel(b.browserContext)
	b.cancelBrowser()
	b.cancelAlloc()
	return err
}

type chromeSession struct {
	cfg        *Config
	tabContext context.Context
	cancel     context.CancelFunc
	url        string
}

// run executes the actions in the session's tab while honouring the
// deadline and cancellation of ctx.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runContext, cancel := context.WithCancel(s.tabContext)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runContext, cancelDeadline = context.WithDeadline(runContext, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runContext, actions...)
}

func (s *chromeSession) Navigate(ctx context.Context, urlStr string) error {
	logger := log.LoggerFromContext(ctx).With(slog.String("browser", "chrome"), slog.String("url", urlStr))
	sleepTime := time.Duration(s.cfg.PageLoadWaitMS) * time.Millisecond
	logger.Debug(fmt.Sprintf("navigating, then waiting %v", sleepTime))
	if err := s.run(ctx,
		chromedp.Navigate(urlStr),
		chromedp.Sleep(sleepTime),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", urlStr, err)
	}
	s.url = urlStr
	return nil
}

func (s *chromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	if log.Debug && s.cfg.DebugDir != "" {
		writeScreenshotToFile(ctx, s.url, buf, s.cfg.DebugDir)
	}
	return buf, nil
}

const globalStateScript = `(() => {
	const out = {};
	for (const name of %s) {
		try {
			const v = window[name];
			if (v !== undefined) {
				out[name] = JSON.parse(JSON.stringify(v));
			}
		} catch (e) {}
	}
	return out;
})()`

func (s *chromeSession) ReadGlobalState(ctx context.Context, names []string) (map[string]any, error) {
	state := map[string]any{}
	if len(names) == 0 {
		return state, nil
	}
	namesJSON, err := json.Marshal(names)
	if err != nil {
		return nil, err
	}
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(globalStateScript, namesJSON), &state)); err != nil {
		return nil, fmt.Errorf("reading global state failed: %w", err)
	}
	return state, nil
}

// recentEventsScript understands both plain objects with an event key and
// gtag style ['event', name, params] entries.
const recentEventsScript = `(() => {
	const dl = window[%s];
	if (!Array.isArray(dl)) return [];
	const clone = (v) => { try { return JSON.parse(JSON.stringify(v || {})); } catch (e) { return {}; } };
	const out = [];
	for (const e of dl.slice(-%d)) {
		if (!e || typeof e !== 'object') continue;
		if (e[0] === 'event' && typeof e[1] === 'string') {
			out.push({event: e[1], params: clone(e[2])});
		} else if (typeof e.event === 'string') {
			const params = {};
			for (const k of Object.keys(e)) {
				if (k !== 'event') params[k] = clone(e[k]);
			}
			out.push({event: e.event, params: params});
		}
	}
	return out;
})()`

func (s *chromeSession) RecentPlatformEvents(ctx context.Context) ([]types.PlatformEvent, error) {
	nameJSON, err := json.Marshal(s.cfg.DataLayerName)
	if err != nil {
		return nil, err
	}
	events := []types.PlatformEvent{}
	script := fmt.Sprintf(recentEventsScript, nameJSON, s.cfg.RecentEvents)
	if err := s.run(ctx, chromedp.Evaluate(script, &events)); err != nil {
		return nil, fmt.Errorf("reading data layer failed: %w", err)
	}
	return events, nil
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var body string
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		node, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		body, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
		return err
	}))
	return body, err
}

func (s *chromeSession) Close() error {
	s.cancel()
	return nil
}

func writeScreenshotToFile(ctx context.Context, urlStr string, buf []byte, dir string) {
	logger := log.LoggerFromContext(ctx)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		logger.Warn(fmt.Sprintf("failed to create debug directory: %v", err))
		return
	}
	name := "page"
	if u, err := url.Parse(urlStr); err == nil && u.Host != "" {
		name = strings.ReplaceAll(u.Host+u.Path, "/", "_")
	}
	filename := path.Join(dir, fmt.Sprintf("%s-%d.png", name, time.Now().UnixNano()))
	logger.Debug(fmt.Sprintf("writing screenshot to file %s", filename))
	if err := os.WriteFile(filename, buf, 0644); err != nil {
		logger.Warn(fmt.Sprintf("failed to write screenshot: %v", err))
	}
}
