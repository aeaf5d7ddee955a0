package runctx

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

import (
	"golang.org/x/sync/errgroup"
)

// Signals that stop a Group.
var Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// Group runs long-lived components together. The first one to fail, or a
// termination signal, cancels the context passed to all of them.
type Group struct {
	funcs []func(ctx context.Context) error
}

func (g *Group) Add(fn func(ctx context.Context) error) {
	g.funcs = append(g.funcs, fn)
}

// Run blocks until every function returned.
func (g *Group) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, Signals...)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	for _, fn := range g.funcs {
		fn := fn
		eg.Go(func() error { return fn(ctx) })
	}
	return eg.Wait()
}
