package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jakopako/tagprobe/internal/limit"
)

// ErrPoolClosed is returned by Acquire once the pool has been closed.
var ErrPoolClosed = errors.New("browser pool is closed")

// Pool hands out exclusive sessions. At most maxContexts sessions exist at
// any time, so the resources of the browser process scale with the
// configured concurrency and not with the amount of work.
type Pool struct {
	browser Browser
	sem     *limit.Semaphore
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	nextID int
	active map[int]Session

	closeOnce sync.Once
	closeErr  error
}

func NewPool(b Browser, maxContexts int) *Pool {
	return &Pool{
		browser: b,
		sem:     limit.NewSemaphore(maxContexts),
		logger:  slog.With(slog.String("component", "pool")),
		active:  map[int]Session{},
	}
}

// Acquire waits for a free slot and opens a fresh session in it. The
// returned release function must be called on every exit path, it is safe
// to call more than once.
func (p *Pool) Acquire(ctx context.Context) (Session, func(), error) {
	if p.isClosed() {
		return nil, nil, ErrPoolClosed
	}
	if err := p.sem.Acquire(ctx); err != nil {
		return nil, nil, fmt.Errorf("waiting for browser context: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release()
		return nil, nil, ErrPoolClosed
	}
	id := p.nextID
	p.nextID++
	p.mu.Unlock()

	s, err := p.browser.NewSession(ctx)
	if err != nil {
		p.sem.Release()
		return nil, nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		s.Close()
		p.sem.Release()
		return nil, nil, ErrPoolClosed
	}
	p.active[id] = s
	p.mu.Unlock()
	p.logger.Debug("acquired browser context", slog.Int("id", id), slog.Int("in_use", p.sem.InUse()))

	var once sync.Once
	release := func() {
		once.Do(func() { p.release(id, s) })
	}
	return s, release, nil
}

func (p *Pool) release(id int, s Session) {
	p.mu.Lock()
	_, tracked := p.active[id]
	delete(p.active, id)
	p.mu.Unlock()

	// sessions still tracked have not been torn down by Close yet
	if tracked {
		if err := s.Close(); err != nil {
			p.logger.Warn(fmt.Sprintf("error while closing browser context %d: %v", id, err))
		}
	}
	p.sem.Release()
	p.logger.Debug("released browser context", slog.Int("id", id))
}

// Active returns the number of sessions currently handed out.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close tears down all outstanding sessions and shuts the browser down.
// Only the first call has an effect.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		sessions := make([]Session, 0, len(p.active))
		for id, s := range p.active {
			sessions = append(sessions, s)
			delete(p.active, id)
		}
		p.mu.Unlock()

		errs := []error{}
		for _, s := range sessions {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := p.browser.Close(); err != nil {
			errs = append(errs, err)
		}
		p.closeErr = errors.Join(errs...)
		p.logger.Debug(fmt.Sprintf("pool closed, drained %d browser contexts", len(sessions)))
	})
	return p.closeErr
}
