// Package browser provides isolated browser sessions and the pool that
// bounds how many of them exist at the same time.
package browser

import (
	"context"
	"fmt"

	"github.com/jakopako/tagprobe/internal/types"
)

// A Session is an isolated browsing context (own cookies and cache) that
// can load one page at a time and read state from it.
type Session interface {
	// Navigate loads the url and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// Screenshot captures the currently loaded page as png.
	Screenshot(ctx context.Context) ([]byte, error)
	// ReadGlobalState returns the values of the named global variables
	// that are defined on the page.
	ReadGlobalState(ctx context.Context, names []string) (map[string]any, error)
	// RecentPlatformEvents returns the most recent analytics events pushed
	// to the page's data layer, oldest first.
	RecentPlatformEvents(ctx context.Context) ([]types.PlatformEvent, error)
	// HTML returns the rendered document.
	HTML(ctx context.Context) (string, error)
	// Close tears the session down.
	Close() error
}

// A Browser creates sessions. All sessions share the underlying browser
// process which is shut down by Close.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// Config configures the browser and its sessions.
type Config struct {
	Type           BrowserType `yaml:"type" env:"BROWSER_TYPE"`
	UserAgent      string      `yaml:"user_agent" env:"BROWSER_USER_AGENT"`
	MaxContexts    int         `yaml:"max_contexts"`
	PageLoadWaitMS int         `yaml:"page_load_wait_ms"`
	WindowWidth    int         `yaml:"window_width"`
	WindowHeight   int         `yaml:"window_height"`
	DataLayerName  string      `yaml:"data_layer"`
	RecentEvents   int         `yaml:"recent_events"`
	DebugDir       string      `yaml:"debug_dir"`
	MockPages      []MockPage  `yaml:"mock_pages"`
}

// BrowserType selects the Browser implementation.
type BrowserType string

const (
	CHROME_BROWSER_TYPE BrowserType = "chrome"
	STATIC_BROWSER_TYPE BrowserType = "static"
	MOCK_BROWSER_TYPE   BrowserType = "mock"
)

func DefaultBrowserType() BrowserType {
	return CHROME_BROWSER_TYPE
}

func (c *Config) setDefaults() {
	if c.Type == "" {
		c.Type = DefaultBrowserType()
	}
	if c.MaxContexts <= 0 {
		c.MaxContexts = 4
	}
	if c.PageLoadWaitMS == 0 {
		c.PageLoadWaitMS = 2000
	}
	if c.WindowWidth == 0 || c.WindowHeight == 0 {
		// desktop view, some pages hide elements on mobile
		c.WindowWidth, c.WindowHeight = 1920, 1080
	}
	if c.DataLayerName == "" {
		c.DataLayerName = "dataLayer"
	}
	if c.RecentEvents <= 0 {
		c.RecentEvents = 20
	}
}

// NewBrowser returns a browser depending on the configured type.
func NewBrowser(c *Config) (Browser, error) {
	c.setDefaults()
	switch c.Type {
	case CHROME_BROWSER_TYPE:
		return NewChromeBrowser(c)
	case STATIC_BROWSER_TYPE:
		return NewStaticBrowser(c), nil
	case MOCK_BROWSER_TYPE:
		return NewMockBrowser(c), nil
	default:
		return nil, fmt.Errorf("browser of type '%s' not implemented", c.Type)
	}
}
