// Package groutine starts pprof-labelled goroutines whose exit can be awaited.
package groutine

import (
	"context"
	"runtime/pprof"
)

// NameLabel is the pprof label carrying the goroutine name.
const NameLabel = "goroutine_name"

// Go runs fn on a new goroutine labelled with name plus any extra key/value
// label pairs, and returns a channel closed when fn returns. A nil parent
// means context.Background().
//
//	done := groutine.Go(ctx, "scanner-stream", func(ctx context.Context) {
//	    // work
//	}, "op_id", opID)
//	<-done
func Go(parent context.Context, name string, fn func(ctx context.Context), kv ...string) <-chan struct{} {
	if parent == nil {
		parent = context.Background()
	}

	done := make(chan struct{})
	labels := pprof.Labels(append([]string{NameLabel, name}, kv...)...)

	go pprof.Do(parent, labels, func(ctx context.Context) {
		defer close(done)
		fn(ctx)
	})

	return done
}

// Name returns the name given to the goroutine that owns ctx, or "".
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := pprof.Label(ctx, NameLabel)
	return name
}
