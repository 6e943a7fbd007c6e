// Package queue feeds events into the graph: an at-least-once Source, a
// worker-pool dispatcher, and a cron sweeper that recovers crashed runs.
// Duplicate deliveries are absorbed by the ledger claim, so the dispatcher
// never tracks in-flight ids itself.
package queue

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/shopfloor-ai/recall/core"
	"github.com/shopfloor-ai/recall/graph"
	"github.com/shopfloor-ai/recall/ledger"
)

// ErrClosed is returned by Next when the source is drained and closed.
var ErrClosed = errors.New("event source closed")

// Source delivers inbound events at least once. Next blocks until an event
// is available, the source closes (ErrClosed), or the context ends.
type Source interface {
	Next(ctx context.Context) (core.Event, error)
}

// ChannelSource is an in-memory Source for local runs and tests.
type ChannelSource struct {
	ch chan core.Event
}

// NewChannelSource creates a channel-backed source with the given buffer.
func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{ch: make(chan core.Event, buffer)}
}

// Publish enqueues an event. Blocks when the buffer is full.
func (s *ChannelSource) Publish(ev core.Event) {
	s.ch <- ev
}

// Close marks the source drained; workers exit after the buffer empties.
func (s *ChannelSource) Close() {
	close(s.ch)
}

func (s *ChannelSource) Next(ctx context.Context) (core.Event, error) {
	select {
	case ev, ok := <-s.ch:
		if !ok {
			return core.Event{}, ErrClosed
		}
		return ev, nil
	case <-ctx.Done():
		return core.Event{}, ctx.Err()
	}
}

// Runner executes one event. *graph.Graph is the production runner.
type Runner interface {
	Run(ctx context.Context, ev core.Event) (*graph.Result, error)
}

// Dispatcher pulls events from a source and runs them through the graph
// with a fixed pool of workers.
type Dispatcher struct {
	Source  Source
	Runner  Runner
	Workers int
}

// Run blocks until the source closes or the context ends. Event failures
// are recorded on their run and logged; they never stop the pool.
func (d *Dispatcher) Run(ctx context.Context) error {
	workers := d.Workers
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		worker := i
		g.Go(func() error {
			for {
				ev, err := d.Source.Next(ctx)
				if errors.Is(err, ErrClosed) {
					return nil
				}
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}

				res, err := d.Runner.Run(ctx, ev)
				switch {
				case err != nil:
					log.Printf("[QUEUE] worker=%d event=%s failed: %v", worker, ev.Type, err)
				case res.Skipped:
					log.Printf("[QUEUE] worker=%d event=%s skipped (duplicate)", worker, ev.Type)
				default:
					log.Printf("[QUEUE] worker=%d event=%s run=%s done (replied=%t)", worker, ev.Type, res.RunID, res.Replied)
				}
			}
		})
	}
	return g.Wait()
}

// Sweeper periodically demotes stale RUNNING runs so crashed workers do
// not block redelivery forever.
type Sweeper struct {
	Ledger *ledger.Ledger
	MaxAge time.Duration

	cron *cron.Cron
}

// Start schedules the sweep with the given cron spec (e.g. "@every 5m").
func (s *Sweeper) Start(spec string) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.Ledger.SweepStale(ctx, s.MaxAge); err != nil {
			log.Printf("[QUEUE] Stale-run sweep failed: %v", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
