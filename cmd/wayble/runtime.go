package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/wayble/internal/devicefactory"
	"github.com/srg/wayble/internal/eventbus"
	"github.com/srg/wayble/pkg/config"
	"github.com/srg/wayble/session"
)

// outcomeWait bounds how long a command waits for the engine notification
// after the operation has returned.
const outcomeWait = time.Second

// runtime is everything one command invocation needs to drive the engine.
type runtime struct {
	cfg      *config.Config
	logger   *logrus.Logger
	engine   *session.Engine
	bus      *eventbus.Bus
	outcomes *eventbus.Subscription
	out      io.Writer
	errOut   io.Writer
}

// newRuntime loads configuration, builds the radio and the engine, and
// subscribes to operation outcomes.
func newRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New(16)
	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
		outcomes: bus.Subscribe(eventbus.TopicOutcome),
		out:      cmd.OutOrStdout(),
		errOut:   cmd.ErrOrStderr(),
	}
	rt.engine = session.NewEngine(devicefactory.NewRadio(logger), cfg.SessionOptions(), bus, logger)
	return rt, nil
}

// loadConfig reads --config, or returns the defaults without it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	return config.Load(configPath)
}

func (rt *runtime) Close() {
	rt.outcomes.Unsubscribe()
	rt.bus.Close()
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// notify prints the engine notification for the operation that just ended.
func (rt *runtime) notify(w io.Writer) {
	select {
	case v, ok := <-rt.outcomes.C:
		if !ok {
			return
		}
		if o, ok := v.(eventbus.Outcome); ok {
			printOutcome(w, o)
		}
	case <-time.After(outcomeWait):
		rt.logger.Warn("No outcome notification received")
	}
}

func printOutcome(w io.Writer, o eventbus.Outcome) {
	if o.Succeeded {
		color.New(color.FgGreen).Fprintf(w, "✓ %s\n", o.Message)
		return
	}
	color.New(color.FgRed).Fprintf(w, "✗ %s\n", o.Message)
}
