package engine

import "time"

// Option alters the default configuration of an Engine during New.
type Option interface {
	apply(*Engine)
}

type optionFunc func(e *Engine)

func (f optionFunc) apply(e *Engine) { f(e) }

// WithNotifier sets the sink for local alerts. Alerts are dropped without one.
func WithNotifier(n Notifier) Option {
	return optionFunc(func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	})
}

// WithPushPlatform enables the web-push state machine.
func WithPushPlatform(p PushPlatform) Option {
	return optionFunc(func(e *Engine) {
		e.push = p
	})
}

// WithTypingTTL sets how long a typing indicator lives without a refresh.
func WithTypingTTL(d time.Duration) Option {
	return optionFunc(func(e *Engine) {
		if d > 0 {
			e.typingTTL = d
		}
	})
}

// WithPageSize sets the history page size used when callers pass none.
func WithPageSize(n int) Option {
	return optionFunc(func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	})
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(e *Engine) {
		if now != nil {
			e.now = now
		}
	})
}
