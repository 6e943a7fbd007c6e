// Command recalld runs the manufacturing-records pipeline: it reads JSON
// events (one per line) from stdin, pushes them through the event graph,
// and sweeps stale runs in the background.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/shopfloor-ai/recall/generate"
	"github.com/shopfloor-ai/recall/graph"
	"github.com/shopfloor-ai/recall/ingest"
	"github.com/shopfloor-ai/recall/ledger"
	"github.com/shopfloor-ai/recall/profile"
	"github.com/shopfloor-ai/recall/queue"
	"github.com/shopfloor-ai/recall/retrieval"
	"github.com/shopfloor-ai/recall/source"
	"github.com/shopfloor-ai/recall/vector"
)

type options struct {
	dataDir   string
	dims      int
	workers   int
	buffer    int
	sweepSpec string
	staleAge  time.Duration
	model     string
	maxTokens int64
	dryRun    bool

	onnxModel     string
	onnxTokenizer string
	onnxLib       string
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:   "recalld",
		Short: "Event-driven ingestion and reply pipeline for shopfloor records",
		Long: `recalld consumes check-in, control-point and dashboard events, keeps the
tenant vector namespaces current, and drafts replies for newly created
check-ins. Events arrive as JSON lines on stdin; the run ledger absorbs
duplicate deliveries.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	fl := root.PersistentFlags()
	fl.StringVar(&opts.dataDir, "data-dir", "./data", "directory for the ledger, vector store, profile cache and source mirror")
	fl.IntVar(&opts.dims, "dims", 384, "embedding dimensionality")
	fl.IntVar(&opts.workers, "workers", 4, "concurrent event workers")
	fl.IntVar(&opts.buffer, "buffer", 64, "inbound event buffer size")
	fl.StringVar(&opts.sweepSpec, "sweep-interval", "@every 5m", "cron spec for the stale-run sweep")
	fl.DurationVar(&opts.staleAge, "stale-age", 30*time.Minute, "age after which a RUNNING run is reclaimed")
	fl.StringVar(&opts.model, "model", "claude-sonnet-4-20250514", "Anthropic model for reply generation")
	fl.Int64Var(&opts.maxTokens, "max-tokens", 2048, "max tokens per generated reply")
	fl.BoolVar(&opts.dryRun, "dry-run", false, "skip the Anthropic call and emit canned replies")
	fl.StringVar(&opts.onnxModel, "onnx-model", "", "ONNX embedding model path (onnx builds only)")
	fl.StringVar(&opts.onnxTokenizer, "onnx-tokenizer", "", "tokenizer.json path (onnx builds only)")
	fl.StringVar(&opts.onnxLib, "onnx-lib", "", "onnxruntime shared library path (onnx builds only)")

	root.AddCommand(&cobra.Command{
		Use:   "backfill",
		Short: "Reconcile knowledge and reference vectors from the source mirror",
		Long: `backfill sweeps the source mirror once: every control point (definition
plus attached document text) and every tenant's knowledge-base rows are
reconciled into the vector store. Run it after seeding or bulk-updating
the mirror; the event feed keeps the families current afterwards.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(cmd.Context(), opts)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	embedder, err := newEmbedder(opts)
	if err != nil {
		return fmt.Errorf("initializing embedder: %w", err)
	}

	led, err := ledger.Open(opts.dataDir)
	if err != nil {
		return fmt.Errorf("opening run ledger: %w", err)
	}
	defer led.Close()

	store, err := vector.NewChromemStore(opts.dataDir, embedder, opts.dims)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}

	profiles, err := profile.Open(opts.dataDir)
	if err != nil {
		return fmt.Errorf("opening profile cache: %w", err)
	}
	defer profiles.Close()

	mirror, err := source.Open(opts.dataDir)
	if err != nil {
		return fmt.Errorf("opening source mirror: %w", err)
	}
	defer mirror.Close()

	var gen generate.Generator = generate.StaticGenerator{}
	if !opts.dryRun {
		client := anthropic.NewClient()
		gen = generate.NewAnthropicGenerator(&client,
			generate.WithModel(opts.model),
			generate.WithMaxTokens(opts.maxTokens),
		)
	}

	g := &graph.Graph{
		Ledger:    led,
		Source:    mirror,
		Resolver:  &graph.SourceResolver{Source: mirror},
		Ingester:  &ingest.Ingester{Store: store},
		Retriever: retrieval.New(store, embedder),
		Generator: gen,
		Sink:      generate.LogSink{},
		Profiles:  profiles,
	}

	src := queue.NewChannelSource(opts.buffer)
	go feedFromStdin(ctx, src)

	sweeper := &queue.Sweeper{Ledger: led, MaxAge: opts.staleAge}
	if err := sweeper.Start(opts.sweepSpec); err != nil {
		return fmt.Errorf("starting stale-run sweeper: %w", err)
	}
	defer sweeper.Stop()

	d := &queue.Dispatcher{Source: src, Runner: g, Workers: opts.workers}
	log.Printf("[RECALLD] Started: workers=%d dims=%d data=%s", opts.workers, opts.dims, opts.dataDir)
	return d.Run(ctx)
}

func runBackfill(ctx context.Context, opts *options) error {
	embedder, err := newEmbedder(opts)
	if err != nil {
		return fmt.Errorf("initializing embedder: %w", err)
	}

	store, err := vector.NewChromemStore(opts.dataDir, embedder, opts.dims)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}

	mirror, err := source.Open(opts.dataDir)
	if err != nil {
		return fmt.Errorf("opening source mirror: %w", err)
	}
	defer mirror.Close()

	b := &graph.Backfill{
		Source:   mirror,
		Resolver: &graph.SourceResolver{Source: mirror},
		Ingester: &ingest.Ingester{Store: store},
	}
	stats, err := b.Run(ctx)
	if err != nil {
		return err
	}
	log.Printf("[RECALLD] Backfill: ccps=%d refs=%d written=%d kept=%d pruned=%d skipped=%d",
		stats.ControlPoints, stats.ReferenceRows, stats.Written, stats.Kept, stats.Pruned, stats.Skipped)
	return nil
}

// feedFromStdin publishes one event per JSON line. Malformed lines are
// logged and dropped; EOF closes the source so workers drain and exit.
func feedFromStdin(ctx context.Context, src *queue.ChannelSource) {
	defer src.Close()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := queue.ParseEvent(line)
		if err != nil {
			log.Printf("[RECALLD] Dropping malformed event: %v", err)
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		src.Publish(ev)
	}
	if err := scanner.Err(); err != nil {
		log.Printf("[RECALLD] Stdin read error: %v", err)
	}
}
