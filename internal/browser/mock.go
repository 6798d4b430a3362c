package browser

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/jakopako/tagprobe/internal/types"
)

// MockPage describes a canned page served by the MockBrowser.
type MockPage struct {
	URL        string                `yaml:"url"`
	HTML       string                `yaml:"html"`
	Globals    map[string]any        `yaml:"globals"`
	Events     []types.PlatformEvent `yaml:"events"`
	Screenshot string                `yaml:"screenshot"`
	Error      string                `yaml:"error"`
	DelayMS    int                   `yaml:"delay_ms"`
}

// MockBrowser serves pages from memory. It is used in tests and for
// offline dry runs of a configuration.
type MockBrowser struct {
	*Config
	pagesMap map[string]MockPage

	mu     sync.Mutex
	open   int
	peak   int
	closed int
}

func NewMockBrowser(c *Config) *MockBrowser {
	c.setDefaults()
	mb := &MockBrowser{
		Config:   c,
		pagesMap: map[string]MockPage{},
	}
	for _, p := range c.MockPages {
		mb.pagesMap[p.URL] = p
	}
	return mb
}

func (mb *MockBrowser) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed > 0 {
		return nil, errors.New("browser is closed")
	}
	mb.open++
	mb.peak = max(mb.peak, mb.open)
	return &mockSession{browser: mb}, nil
}

// Close counts how often it was called so tests can check that the
// browser is shut down exactly once.
func (mb *MockBrowser) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.closed++
	return nil
}

// OpenSessions returns the number of sessions not closed yet.
func (mb *MockBrowser) OpenSessions() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.open
}

// PeakSessions returns the highest number of sessions open at once.
func (mb *MockBrowser) PeakSessions() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.peak
}

// Closed returns how many times Close was called.
func (mb *MockBrowser) Closed() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.closed
}

type mockSession struct {
	browser *MockBrowser
	page    *MockPage
	once    sync.Once
}

func (s *mockSession) Navigate(ctx context.Context, urlStr string) error {
	p, ok := s.browser.pagesMap[urlStr]
	if !ok {
		return errors.New("page not found")
	}
	if p.DelayMS > 0 {
		select {
		case <-time.After(time.Duration(p.DelayMS) * time.Millisecond):
		case <-ctx.Done():
			return fmt.Errorf("navigation to %s failed: %w", urlStr, ctx.Err())
		}
	}
	if p.Error != "" {
		return fmt.Errorf("navigation to %s failed: %s", urlStr, p.Error)
	}
	s.page = &p
	return nil
}

func (s *mockSession) loaded() (*MockPage, error) {
	if s.page == nil {
		return nil, errors.New("no page loaded")
	}
	return s.page, nil
}

func (s *mockSession) Screenshot(ctx context.Context) ([]byte, error) {
	p, err := s.loaded()
	if err != nil {
		return nil, err
	}
	if p.Screenshot == "" {
		return []byte("mock screenshot " + p.URL), nil
	}
	return []byte(p.Screenshot), nil
}

func (s *mockSession) ReadGlobalState(ctx context.Context, names []string) (map[string]any, error) {
	p, err := s.loaded()
	if err != nil {
		return nil, err
	}
	state := map[string]any{}
	for _, n := range names {
		if v, ok := p.Globals[n]; ok {
			state[n] = v
		}
	}
	return state, nil
}

func (s *mockSession) RecentPlatformEvents(ctx context.Context) ([]types.PlatformEvent, error) {
	p, err := s.loaded()
	if err != nil {
		return nil, err
	}
	events := p.Events
	if n := s.browser.RecentEvents; n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	out := make([]types.PlatformEvent, 0, len(events))
	for _, e := range events {
		out = append(out, types.PlatformEvent{Name: e.Name, Params: maps.Clone(e.Params)})
	}
	return out, nil
}

func (s *mockSession) HTML(ctx context.Context) (string, error) {
	p, err := s.loaded()
	if err != nil {
		return "", err
	}
	return p.HTML, nil
}

func (s *mockSession) Close() error {
	s.once.Do(func() {
		s.browser.mu.Lock()
		s.browser.open--
		s.browser.mu.Unlock()
	})
	return nil
}
