package agents

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/lexassist/lexgo/memory"
	"github.com/lexassist/lexgo/tools"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-0"

// messageAPI is the slice of the Anthropic client the supervisor needs;
// narrowed so tests can substitute a fake.
type messageAPI interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
	NewStreaming(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

// Config configures the supervisor.
type Config struct {
	// Model is the model name. Default: DefaultModel.
	Model string

	// MaxTokens caps each model reply. Default: 1024.
	MaxTokens int64

	// MaxToolRounds caps how many tool-use rounds one query may take.
	// Default: 3.
	MaxToolRounds int
}

// DefaultConfig holds the defaults used when no config is given.
var DefaultConfig = &Config{
	Model:         DefaultModel,
	MaxTokens:     1024,
	MaxToolRounds: 3,
}

// RespondOptions adjust a single Respond call.
type RespondOptions struct {
	// Metadata is attached to the recorded turn (legal domain, case
	// type, jurisdiction, topics). Missing domain and case type are
	// filled by classification.
	Metadata map[string]string

	// OnText, when set, streams reply text deltas as they arrive.
	OnText func(delta string)
}

// Reply is the outcome of one routed query.
type Reply struct {
	Text     string
	Role     Role
	TurnID   string
	Warnings []string
}

// Supervisor routes queries to specialist roles, grounds each model
// call in the memory system's context, executes memory tool calls, and
// records the finished exchange back into memory.
type Supervisor struct {
	llm messageAPI
	mgr *memory.Manager
	cfg Config
}

// NewSupervisor builds the routing layer over the client and memory.
func NewSupervisor(client *anthropic.Client, mgr *memory.Manager, cfg *Config) (*Supervisor, error) {
	if client == nil {
		return nil, fmt.Errorf("agents: client is required")
	}
	if mgr == nil {
		return nil, fmt.Errorf("agents: memory manager is required")
	}
	if cfg == nil {
		cfg = DefaultConfig
	}
	c := *cfg
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultConfig.MaxTokens
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = DefaultConfig.MaxToolRounds
	}
	return &Supervisor{llm: &client.Messages, mgr: mgr, cfg: c}, nil
}

// Respond answers one user query: select the specialist, assemble the
// memory-grounded system prompt, run the model with the retrieval tools,
// and record the exchange. Failures recording the turn degrade to
// warnings on the reply; the answer is already in hand at that point.
func (s *Supervisor) Respond(ctx context.Context, userID, query string, opts *RespondOptions) (*Reply, error) {
	if opts == nil {
		opts = &RespondOptions{}
	}

	role := SelectRole(query)
	bundle := s.mgr.BuildContext(ctx, userID, query)
	memoryTools := tools.MemoryTools(s.mgr, userID)

	log.Printf("[AGENT] routing query to %s for user %s", role, userID)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.cfg.Model),
		MaxTokens: s.cfg.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt(role, bundle)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(query)),
		},
		Tools: apiTools(memoryTools),
	}

	reply := &Reply{Role: role}
	for round := 0; ; round++ {
		resp, err := s.create(ctx, params, opts.OnText)
		if err != nil {
			return nil, fmt.Errorf("model call: %w", err)
		}

		var text string
		for _, block := range resp.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		reply.Text = text

		if resp.StopReason != "tool_use" {
			break
		}
		if round >= s.cfg.MaxToolRounds {
			reply.Warnings = append(reply.Warnings, "tool round limit reached")
			break
		}

		var results []anthropic.ContentBlockParamUnion
		for _, block := range resp.Content {
			if block.Type != "tool_use" {
				continue
			}
			results = append(results, s.runTool(ctx, memoryTools, block))
		}
		params.Messages = append(params.Messages, resp.ToParam(), anthropic.NewUserMessage(results...))
	}

	receipt, err := s.mgr.AddConversationTurn(ctx, userID, query, reply.Text, opts.Metadata, nil)
	if err != nil {
		log.Printf("[AGENT] recording turn failed: %v", err)
		reply.Warnings = append(reply.Warnings, fmt.Sprintf("turn not recorded: %v", err))
		return reply, nil
	}
	reply.TurnID = receipt.TurnID
	reply.Warnings = append(reply.Warnings, receipt.Warnings...)
	return reply, nil
}

// create issues one model call, streaming when a delta callback is set.
func (s *Supervisor) create(ctx context.Context, params anthropic.MessageNewParams, onText func(string)) (*anthropic.Message, error) {
	if onText == nil {
		return s.llm.New(ctx, params)
	}

	stream := s.llm.NewStreaming(ctx, params)
	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("accumulate stream: %w", err)
		}
		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				onText(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return &message, nil
}

// runTool executes one tool_use block against the bound tools.
func (s *Supervisor) runTool(ctx context.Context, available []tools.Tool, block anthropic.ContentBlockUnion) anthropic.ContentBlockParamUnion {
	for _, t := range available {
		if t.Name != block.Name {
			continue
		}
		out, err := t.Run(ctx, block.Input)
		if err != nil {
			log.Printf("[AGENT] tool %s failed: %v", t.Name, err)
			return anthropic.NewToolResultBlock(block.ID, err.Error(), true)
		}
		return anthropic.NewToolResultBlock(block.ID, out, false)
	}
	return anthropic.NewToolResultBlock(block.ID, fmt.Sprintf("unknown tool: %s", block.Name), true)
}

// systemPrompt renders the specialist prompt plus the memory context
// sections; empty context contributes nothing.
func systemPrompt(role Role, bundle *memory.ContextBundle) string {
	var b strings.Builder
	b.WriteString(role.Prompt())

	if p := bundle.Profile; p != nil {
		fmt.Fprintf(&b, "\n\n# User\nExpertise level: %s", p.ExpertiseLevel)
		if len(p.LegalDomains) > 0 {
			fmt.Fprintf(&b, "\nFamiliar legal domains: %s", strings.Join(p.LegalDomains, ", "))
		}
	}

	if sc := bundle.SessionContext; sc != nil {
		var lines []string
		if sc.LegalDomain != "" {
			lines = append(lines, "Legal domain: "+sc.LegalDomain)
		}
		if sc.CaseType != "" {
			lines = append(lines, "Case type: "+sc.CaseType)
		}
		if sc.Jurisdiction != "" {
			lines = append(lines, "Jurisdiction: "+sc.Jurisdiction)
		}
		if len(sc.CurrentTopics) > 0 {
			lines = append(lines, "Topics so far: "+strings.Join(sc.CurrentTopics, ", "))
		}
		if len(lines) > 0 {
			b.WriteString("\n\n# Session\n" + strings.Join(lines, "\n"))
		}
	}

	if bundle.RecentConversation != "" {
		b.WriteString("\n\n# Recent conversation\n" + bundle.RecentConversation)
	}

	if len(bundle.RelevantHistory) > 0 {
		b.WriteString("\n\n# Relevant past interactions")
		for _, h := range bundle.RelevantHistory {
			b.WriteString("\n\n" + h.Record.Text())
		}
	}

	if len(bundle.RelevantKnowledge) > 0 {
		b.WriteString("\n\n# Relevant legal concepts")
		for _, k := range bundle.RelevantKnowledge {
			b.WriteString("\n\n" + k.Concept.Text())
		}
	}

	return b.String()
}

// apiTools converts tool definitions to the wire format.
func apiTools(ts []tools.Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(ts))
	for _, t := range ts {
		props, _ := t.InputSchema["properties"].(map[string]any)
		required, _ := t.InputSchema["required"].([]string)
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   required,
				},
			},
		})
	}
	return out
}
