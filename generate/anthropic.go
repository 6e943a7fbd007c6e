package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

const replyToolName = "submit_reply"

const systemPrompt = `You are a manufacturing quality assistant.
Given a new check-in and context, write a short actionable reply for the team.

Rules:
- Be practical, step-by-step.
- Mention precautions to avoid repeat issues.
- Ask for missing evidence if needed.
- Keep it concise.
- If unsure, propose verification steps, not guesses.

Submit your answer with the submit_reply tool.`

// AnthropicGenerator produces replies via the Anthropic API, forcing a
// tool call so the result is always structured.
type AnthropicGenerator struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// Option configures the generator.
type Option func(*AnthropicGenerator)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(g *AnthropicGenerator) {
		if model != "" {
			g.model = model
		}
	}
}

// WithMaxTokens overrides the default response token budget.
func WithMaxTokens(n int64) Option {
	return func(g *AnthropicGenerator) {
		if n > 0 {
			g.maxTokens = n
		}
	}
}

// NewAnthropicGenerator creates a generator with the given client.
func NewAnthropicGenerator(client *anthropic.Client, opts ...Option) *AnthropicGenerator {
	g := &AnthropicGenerator{
		client:    client,
		model:     "claude-sonnet-4-20250514",
		maxTokens: 2048,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func replyTool() anthropic.ToolParam {
	return anthropic.ToolParam{
		Name:        replyToolName,
		Description: anthropic.String("Submit the structured reply for the check-in."),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: ObjectProperties(map[string]interface{}{
				"reply":            StringProperty("The reply text to post on the check-in thread."),
				"probable_defects": ArrayProperty("Probable defect classes, most likely first.", StringProperty("")),
				"advice":           StringProperty("A short precaution note for avoiding a repeat."),
				"checklist":        ArrayProperty("Concrete verification steps for the team.", StringProperty("")),
			}),
			Required: []string{"reply"},
		},
	}
}

// Generate calls the model once with a forced tool choice and decodes the
// tool input as the reply.
func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) (*Reply, error) {
	var b strings.Builder
	b.WriteString("CHECKIN:\n")
	b.WriteString(strings.TrimSpace(req.Snapshot))
	if p := strings.TrimSpace(req.Profile); p != "" {
		b.WriteString("\n\nCUSTOMER PROFILE:\n")
		b.WriteString(p)
	}
	if c := strings.TrimSpace(req.Context); c != "" {
		b.WriteString("\n\nCONTEXT:\n")
		b.WriteString(c)
	}

	tool := replyTool()
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(b.String())),
		},
		Tools: []anthropic.ToolUnionParam{
			{OfTool: &tool},
		},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: replyToolName},
		},
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude API error: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type != "tool_use" || block.Name != replyToolName {
			continue
		}
		var reply Reply
		if err := json.Unmarshal(block.Input, &reply); err != nil {
			return nil, fmt.Errorf("decoding reply tool input: %w", err)
		}
		if strings.TrimSpace(reply.Text) == "" {
			return nil, fmt.Errorf("model returned an empty reply")
		}
		log.Printf("[GENERATE] Reply generated: tenant=%s defects=%d checklist=%d",
			req.TenantID, len(reply.Defects), len(reply.Checklist))
		return &reply, nil
	}
	return nil, fmt.Errorf("model response contained no %s tool call", replyToolName)
}

// LogSink is a WritebackSink that only logs, for local runs without a
// configured source-system writer.
type LogSink struct{}

func (LogSink) Write(ctx context.Context, wb Writeback) error {
	log.Printf("[WRITEBACK] checkin=%s run=%s reply=%q", wb.CheckinID, wb.RunID, wb.Reply.Text)
	return nil
}
