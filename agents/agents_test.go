package agents

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/lexassist/lexgo/memory"
	"github.com/lexassist/lexgo/memory/embedder/mock"
	"github.com/lexassist/lexgo/memory/store/chromem"
	"github.com/lexassist/lexgo/memory/store/sqlite"
)

// fakeLLM replays canned responses and records the requests it saw.
type fakeLLM struct {
	responses []*anthropic.Message
	requests  []anthropic.MessageNewParams
	err       error
}

func (f *fakeLLM) New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	f.requests = append(f.requests, params)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return nil, errors.New("fakeLLM: out of responses")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeLLM) NewStreaming(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[anthropic.MessageStreamEventUnion] {
	return nil
}

func textMessage(text string) *anthropic.Message {
	return &anthropic.Message{
		StopReason: "end_turn",
		Content:    []anthropic.ContentBlockUnion{{Type: "text", Text: text}},
	}
}

func newTestSupervisor(t *testing.T, llm *fakeLLM) *Supervisor {
	t.Helper()
	records, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { records.Close() })
	mgr, err := memory.NewManager(mock.New(), chromem.New(), records, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	s, err := NewSupervisor(&anthropic.Client{}, mgr, nil)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	s.llm = llm
	return s
}

func TestSelectRole(t *testing.T) {
	tests := []struct {
		query string
		want  Role
	}{
		{"Please summarize this contract for me", RoleSummarization},
		{"Can you review this document?", RoleSummarization},
		{"What are my chances of winning the case?", RolePrediction},
		{"What is the likely outcome of my dispute?", RolePrediction},
		{"What does consideration mean in contract law?", RoleResearch},
		{"", RoleResearch},
	}
	for _, tt := range tests {
		if got := SelectRole(tt.query); got != tt.want {
			t.Errorf("SelectRole(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestSupervisorRespond(t *testing.T) {
	ctx := context.Background()
	llm := &fakeLLM{responses: []*anthropic.Message{
		textMessage("A tenancy deposit is generally refundable."),
	}}
	s := newTestSupervisor(t, llm)

	reply, err := s.Respond(ctx, "u1", "Can I get my tenancy deposit back?", nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Text != "A tenancy deposit is generally refundable." {
		t.Errorf("text = %q", reply.Text)
	}
	if reply.Role != RoleResearch {
		t.Errorf("role = %q, want research", reply.Role)
	}
	if reply.TurnID == "" {
		t.Error("turn not recorded")
	}

	// the memory tools were offered to the model
	if len(llm.requests) != 1 {
		t.Fatalf("model called %d times, want 1", len(llm.requests))
	}
	if len(llm.requests[0].Tools) != 2 {
		t.Errorf("offered %d tools, want 2", len(llm.requests[0].Tools))
	}

	// the turn is retrievable afterwards
	hits, err := s.mgr.SearchMemory(ctx, "u1", "tenancy deposit", 3)
	if err != nil {
		t.Fatalf("SearchMemory: %v", err)
	}
	if len(hits) == 0 {
		t.Error("recorded turn not found in memory")
	}
}

func TestSupervisorToolRound(t *testing.T) {
	ctx := context.Background()
	llm := &fakeLLM{responses: []*anthropic.Message{
		{
			StopReason: "tool_use",
			Content: []anthropic.ContentBlockUnion{{
				Type:  "tool_use",
				ID:    "tu_1",
				Name:  "search_memory",
				Input: json.RawMessage(`{"query":"deposit"}`),
			}},
		},
		textMessage("As we discussed, the deposit is refundable."),
	}}
	s := newTestSupervisor(t, llm)

	reply, err := s.Respond(ctx, "u1", "What did we say about my deposit?", nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if len(llm.requests) != 2 {
		t.Fatalf("model called %d times, want 2 (tool round + final)", len(llm.requests))
	}
	if !strings.Contains(reply.Text, "refundable") {
		t.Errorf("text = %q", reply.Text)
	}
}

func TestSupervisorModelError(t *testing.T) {
	llm := &fakeLLM{err: errors.New("api down")}
	s := newTestSupervisor(t, llm)

	if _, err := s.Respond(context.Background(), "u1", "hello", nil); err == nil {
		t.Fatal("expected error from failing model")
	}
}

func TestSupervisorContextSections(t *testing.T) {
	ctx := context.Background()
	llm := &fakeLLM{responses: []*anthropic.Message{
		textMessage("first"),
		textMessage("second"),
	}}
	s := newTestSupervisor(t, llm)

	if _, err := s.Respond(ctx, "u1", "Can I terminate my tenancy agreement early?", nil); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if _, err := s.Respond(ctx, "u1", "And how much notice do I owe?", nil); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	system := llm.requests[1].System
	if len(system) == 0 {
		t.Fatal("no system prompt")
	}
	prompt := system[0].Text
	if !strings.Contains(prompt, "# Recent conversation") {
		t.Error("recent conversation section missing")
	}
	if !strings.Contains(prompt, "terminate my tenancy") {
		t.Error("previous turn missing from prompt context")
	}
	if !strings.Contains(prompt, "Expertise level: beginner") {
		t.Error("profile section missing")
	}
}

func TestLLMClassifier(t *testing.T) {
	ctx := context.Background()

	llm := &fakeLLM{responses: []*anthropic.Message{
		textMessage(`Here you go: {"legal_domain":"Contract Law","case_type":"Advice","topics":["deposit","notice"]}`),
	}}
	c := &LLMClassifier{llm: llm, model: DefaultModel, maxTokens: 256}

	got, err := c.Classify(ctx, "Can I get my deposit back?", "Usually yes.")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.LegalDomain != "contract law" || got.CaseType != "advice" {
		t.Errorf("classification = %+v", got)
	}
	if len(got.Topics) != 2 {
		t.Errorf("topics = %v", got.Topics)
	}

	llm = &fakeLLM{err: errors.New("api down")}
	c = &LLMClassifier{llm: llm, model: DefaultModel, maxTokens: 256}
	if _, err := c.Classify(ctx, "q", "a"); err == nil {
		t.Error("expected error from failing model")
	}

	llm = &fakeLLM{responses: []*anthropic.Message{textMessage("not json at all")}}
	c = &LLMClassifier{llm: llm, model: DefaultModel, maxTokens: 256}
	if _, err := c.Classify(ctx, "q", "a"); err == nil {
		t.Error("expected error from unparseable verdict")
	}
}
