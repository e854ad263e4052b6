package render

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/page"
)

// lifecycle records page lifecycle events per loader so a navigation can wait
// for DOMContentLoaded or networkIdle even if the event fired before the
// waiter started listening.
type lifecycle struct {
	mu     sync.Mutex
	seen   map[string]map[string]bool
	notify chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{
		seen:   make(map[string]map[string]bool),
		notify: make(chan struct{}),
	}
}

func (l *lifecycle) capture(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok || e.LoaderID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	names, ok := l.seen[string(e.LoaderID)]
	if !ok {
		names = make(map[string]bool)
		l.seen[string(e.LoaderID)] = names
	}
	names[e.Name] = true
	close(l.notify)
	l.notify = make(chan struct{})
}

// wait blocks until loaderID has emitted name or ctx is done.
func (l *lifecycle) wait(ctx context.Context, loaderID, name string) error {
	for {
		l.mu.Lock()
		done := l.seen[loaderID][name]
		ch := l.notify
		l.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
