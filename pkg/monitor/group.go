package monitor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Group runs one monitor per interface.
type Group struct {
	monitors []*Monitor
}

// NewGroup returns a group over ms.
func NewGroup(ms ...*Monitor) *Group {
	return &Group{monitors: ms}
}

// Monitors returns the monitors in the group.
func (g *Group) Monitors() []*Monitor { return g.monitors }

// Run runs every monitor until ctx is done or Stop is called. It returns
// the first error a monitor failed to start with.
func (g *Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, m := range g.monitors {
		eg.Go(func() error { return m.Run(ctx) })
	}
	return eg.Wait()
}

// Stop stops every monitor, each bounded by timeout, and reports whether
// all of them exited in time.
func (g *Group) Stop(timeout time.Duration) bool {
	results := make(chan bool, len(g.monitors))
	for _, m := range g.monitors {
		go func() { results <- m.Stop(timeout) }()
	}
	all := true
	for range g.monitors {
		if !<-results {
			all = false
		}
	}
	return all
}
