package browser

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"snapengine/internal/domain"
)

// Pool owns one renderer engine handle and a bounded set of reusable browsing
// contexts. The engine starts lazily on first use; exactly one engine exists
// per pool. All pool state is guarded by a single mutex, so concurrent
// Context calls are safe and the context count never exceeds the cap.
//
// The process entry point must arrange for Cleanup to run at exit (deferred
// in main, plus the signal handler) so no browser processes leak.
type Pool struct {
	mu          sync.Mutex
	start       func() (Engine, error)
	engine      Engine
	contexts    []Context
	maxContexts int
	ctxOpts     ContextOptions
	log         logrus.FieldLogger
}

// NewPool builds a pool around an engine factory. The factory is invoked at
// most once until Cleanup or Reset.
func NewPool(start func() (Engine, error), ctxOpts ContextOptions, maxContexts int, logger logrus.FieldLogger) *Pool {
	return &Pool{
		start:       start,
		maxContexts: maxContexts,
		ctxOpts:     ctxOpts,
		log:         logger.WithField("component", "pool"),
	}
}

// Engine returns the shared engine handle, starting it on first call.
func (p *Pool) Engine() (Engine, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engineLocked()
}

func (p *Pool) engineLocked() (Engine, error) {
	if p.engine != nil {
		return p.engine, nil
	}
	p.log.Info("Starting renderer engine")
	eng, err := p.start()
	if err != nil {
		return nil, err
	}
	p.engine = eng
	return eng, nil
}

// Context returns a browsing context for one request. Idle contexts (zero
// open pages) are reused; new contexts are created while under the cap; at
// the cap the least-loaded context is shared, first-created winning ties.
// Idle contexts are never destroyed here, only reused.
func (p *Pool) Context() (Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.contexts {
		n, err := c.PageCount()
		if err != nil {
			// Treat an unqueryable context as busy rather than evicting
			// it; Cleanup is the only place contexts are removed.
			continue
		}
		if n == 0 {
			return c, nil
		}
	}

	if len(p.contexts) < p.maxContexts {
		eng, err := p.engineLocked()
		if err != nil {
			return nil, err
		}
		c, err := eng.NewContext(p.ctxOpts)
		if err != nil {
			return nil, err
		}
		p.contexts = append(p.contexts, c)
		p.log.WithField("contexts", len(p.contexts)).Debug("Created browsing context")
		return c, nil
	}

	if len(p.contexts) == 0 {
		return nil, fmt.Errorf("%w: no contexts available", domain.ErrBrowser)
	}

	best := p.contexts[0]
	bestCount := -1
	for _, c := range p.contexts {
		n, err := c.PageCount()
		if err != nil {
			continue
		}
		if bestCount < 0 || n < bestCount {
			best = c
			bestCount = n
		}
	}
	p.log.WithField("open_pages", bestCount).Debug("Context cap reached, sharing least-loaded context")
	return best, nil
}

// Cleanup closes every tracked context and the engine, best-effort. Failures
// are logged, never raised. Safe to call repeatedly and when nothing was
// ever initialized.
func (p *Pool) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanupLocked()
}

func (p *Pool) cleanupLocked() {
	for _, c := range p.contexts {
		if err := c.Close(); err != nil {
			p.log.WithError(err).Warn("Error closing browsing context")
		}
	}
	p.contexts = nil

	if p.engine != nil {
		if err := p.engine.Close(); err != nil {
			p.log.WithError(err).Warn("Error closing renderer engine")
		}
		p.engine = nil
		p.log.Info("Renderer engine stopped")
	}
}

// Reset tears everything down and starts a fresh engine. Used to recover
// from a corrupted engine state.
func (p *Pool) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cleanupLocked()
	_, err := p.engineLocked()
	return err
}

// Size reports the number of tracked contexts.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.contexts)
}
