// Package generate is the reply-generation boundary. The event graph only
// sees the Generator and WritebackSink interfaces; the Anthropic-backed
// implementation lives behind them.
package generate

import "context"

// Request carries everything the generator may use for one reply.
type Request struct {
	TenantID string

	// Snapshot is the check-in thread snapshot.
	Snapshot string

	// Context is the packed retrieval context.
	Context string

	// Profile is the tenant profile text, possibly empty.
	Profile string
}

// Reply is the structured generation result.
type Reply struct {
	// Text is the reply posted back to the check-in thread.
	Text string `json:"reply"`

	// Defects are the probable defect classes identified.
	Defects []string `json:"probable_defects"`

	// Advice is a short precaution note for avoiding repeats.
	Advice string `json:"advice"`

	// Checklist is the suggested verification steps.
	Checklist []string `json:"checklist"`
}

// Generator produces a reply for a check-in from its snapshot and context.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Reply, error)
}

// Writeback is the payload delivered to the source system.
type Writeback struct {
	TenantID  string
	CheckinID string
	RunID     string
	Reply     Reply
}

// WritebackSink delivers a generated reply to the source system. A failed
// write is recorded on the run, never retried by the core; the source-side
// queue redelivers if the operator wants another attempt.
type WritebackSink interface {
	Write(ctx context.Context, wb Writeback) error
}

// StaticGenerator returns a canned reply. Used for dry runs and local
// pipeline exercises where no model should be called.
type StaticGenerator struct{}

func (StaticGenerator) Generate(ctx context.Context, req Request) (*Reply, error) {
	return &Reply{
		Text:   "Reply generation is disabled; the check-in was recorded and indexed.",
		Advice: "Re-run with generation enabled to get a drafted response.",
	}, nil
}
