// Package daemon runs a set of long-lived tasks as one process and handles
// shutdown signals.
package daemon

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// Task is a long-running unit of work. It must return once ctx is done.
type Task func(ctx context.Context) error

type namedTask struct {
	name string
	run  Task
}

// Daemon coordinates the player, its hub and the catalog watcher
type Daemon struct {
	tasks  []namedTask
	logger zerolog.Logger
	exit   func(code int)
}

// New creates an empty Daemon
func New(logger zerolog.Logger) *Daemon {
	return &Daemon{
		logger: logger.With().Str("component", "daemon").Logger(),
		exit:   os.Exit,
	}
}

// Go adds a task. Tasks start when Run is called.
func (d *Daemon) Go(name string, run Task) {
	d.tasks = append(d.tasks, namedTask{name: name, run: run})
}

// Run starts every task and blocks until a shutdown signal is received or
// a task fails. The first signal cancels the tasks, a second one forces exit.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	done := make(chan struct{})
	defer close(done)
	go d.handleSignals(sigChan, cancel, done)

	return d.run(ctx, cancel)
}

// handleSignals cancels on the first signal and exits on the second. It
// returns once done is closed.
func (d *Daemon) handleSignals(sigChan <-chan os.Signal, cancel context.CancelFunc, done <-chan struct{}) {
	select {
	case <-sigChan:
	case <-done:
		return
	}
	d.logger.Info().Msg("Shutdown signal received, initiating graceful shutdown")
	cancel()

	select {
	case <-sigChan:
	case <-done:
		return
	}
	d.logger.Warn().Msg("Second shutdown signal received, forcing exit")
	d.exit(1)
}

// run starts the tasks and waits for all of them. The first task error
// cancels the rest and is returned.
func (d *Daemon) run(ctx context.Context, cancel context.CancelFunc) error {
	d.logger.Info().Int("tasks", len(d.tasks)).Msg("Starting daemon")

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)

	for _, t := range d.tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := t.run(ctx)
			if err == nil || errors.Is(err, context.Canceled) {
				d.logger.Debug().Str("task", t.name).Msg("Task stopped")
				return
			}

			d.logger.Error().Err(err).Str("task", t.name).Msg("Task failed")
			once.Do(func() {
				firstErr = err
				cancel()
			})
		}()
	}

	wg.Wait()

	d.logger.Info().Msg("Daemon stopped")
	return firstErr
}
