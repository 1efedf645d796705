package session

import (
	"errors"
	"log/slog"
	"sync"
)

type step struct {
	name string
	fn   func() error
}

// Lifecycle runs registered release steps exactly once, in registration order.
// A failing step never stops the ones after it.
type Lifecycle struct {
	log *slog.Logger

	mu    sync.Mutex
	steps []step

	once sync.Once
	done chan struct{}
	err  error
}

func NewLifecycle(log *slog.Logger) *Lifecycle {
	if log == nil {
		log = slog.Default()
	}
	return &Lifecycle{log: log, done: make(chan struct{})}
}

// Add registers a release step. Steps added after Teardown has started are ignored.
func (l *Lifecycle) Add(name string, fn func() error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, step{name: name, fn: fn})
}

// Teardown runs every step once. Concurrent and repeated callers wait for the
// first run and get its result.
func (l *Lifecycle) Teardown() error {
	l.once.Do(func() {
		l.mu.Lock()
		steps := l.steps
		l.steps = nil
		l.mu.Unlock()

		var errs []error
		for _, s := range steps {
			if err := s.fn(); err != nil {
				l.log.Warn("teardown step failed", "step", s.name, "error", err)
				errs = append(errs, NewError(s.name, err))
				continue
			}
			l.log.Debug("teardown step done", "step", s.name)
		}
		l.err = errors.Join(errs...)
		close(l.done)
	})
	<-l.done
	return l.err
}

// Done is closed once Teardown has finished.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}
