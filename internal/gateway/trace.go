package gateway

import (
	"context"
	"sync"
)

// Trace records which backends answered the gateway calls made under a
// context. It is safe for concurrent use.
type Trace struct {
	mu      sync.Mutex
	answers map[Source]int
}

type traceKey struct{}

// WithTrace returns a context under which every gateway call is recorded on t.
func WithTrace(ctx context.Context, t *Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

func traceFrom(ctx context.Context) *Trace {
	t, _ := ctx.Value(traceKey{}).(*Trace)
	return t
}

func (t *Trace) record(src Source) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.answers == nil {
		t.answers = make(map[Source]int)
	}
	t.answers[src]++
}

// Only reports whether at least one call was recorded and src answered all
// of them.
func (t *Trace) Only(src Source) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.answers[src] > 0 && len(t.answers) == 1
}

// Source returns the backend that answered every recorded call, or "" when
// nothing was recorded or the calls were split.
func (t *Trace) Source() Source {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.answers) != 1 {
		return ""
	}
	for src := range t.answers {
		return src
	}
	return ""
}
