package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/srg/wayble/session"
	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// ProgressPrinter displays the engine state with elapsed time.
//
// Usage:
//
//	p := NewProgressPrinter(w, "Sending route")
//	p.Start()
//	defer p.Stop()
//	engine.SendRoute(ctx, points, p.Callback())
//
// On a terminal one line is redrawn in place; anywhere else each state is
// printed once on its own line so logs and pipes stay readable.
//
// A ProgressPrinter is single-use. Start may be called at most once, and Stop
// should be called exactly once. After Stop, the instance cannot be restarted.
type ProgressPrinter struct {
	w           io.Writer
	prefix      string
	interactive bool

	mu        sync.Mutex // serializes writes to w
	phase     atomic.Value
	startTime time.Time
	ticker    atomic.Pointer[time.Ticker]
	stopChan  chan struct{}
	done      chan struct{} // closed when goroutine exits
	started   atomic.Bool   // ensures Start is called at most once
}

// NewProgressPrinter creates a progress printer writing to w
func NewProgressPrinter(w io.Writer, prefix string) *ProgressPrinter {
	p := &ProgressPrinter{
		w:           w,
		prefix:      prefix,
		interactive: isTerminal(w),
	}
	p.phase.Store(session.StageIdle)
	return p
}

// Start begins displaying progress updates. Panics if called more than once.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()

	if !p.interactive {
		close(p.done)
		return
	}

	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)
	p.redraw()

	go func() {
		defer close(p.done)
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(p.w, "\nprogress printer panic: %v\n", r)
			}
		}()

		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.redraw()
			}
		}
	}()
}

func (p *ProgressPrinter) redraw() {
	stage := p.phase.Load().(session.Stage)
	seconds := int(time.Since(p.startTime).Seconds())

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, color.CyanString(string(stage)), seconds)
}

// Callback returns a session.ProgressFunc that updates the phase. Reaching
// TERMINATED stops the printer.
func (p *ProgressPrinter) Callback() session.ProgressFunc {
	return func(stage session.Stage) {
		p.phase.Store(stage)

		if stage == session.StageTerminated {
			p.Stop()
			return
		}
		if !p.interactive {
			p.mu.Lock()
			fmt.Fprintf(p.w, "%s: %s\n", p.prefix, stage)
			p.mu.Unlock()
		}
	}
}

// Stop stops the progress display and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	if !p.interactive {
		return
	}

	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return // Already stopped
	}

	ticker.Stop()     // Stop ticker before signaling goroutine
	close(p.stopChan) // Wake up goroutine by closing the channel
	<-p.done          // Wait for the goroutine to finish

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.w, clearLineSequence)
}
