package memory_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lexassist/lexgo/core"
	"github.com/lexassist/lexgo/memory"
	"github.com/lexassist/lexgo/memory/embedder/mock"
	"github.com/lexassist/lexgo/memory/store/chromem"
)

func newShortTerm(t *testing.T, cfg *memory.ShortTermConfig) *memory.ShortTermMemory {
	t.Helper()
	m, err := memory.NewShortTermMemory(mock.New(), chromem.New(), cfg)
	if err != nil {
		t.Fatalf("NewShortTermMemory: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestShortTermWindowEviction(t *testing.T) {
	ctx := context.Background()
	m := newShortTerm(t, &memory.ShortTermConfig{WindowSize: 3})

	inputs := []string{"first", "second", "third", "fourth", "fifth"}
	for _, in := range inputs {
		if _, err := m.AddMessage(ctx, in, "reply to "+in, nil); err != nil {
			t.Fatalf("AddMessage(%q): %v", in, err)
		}
	}

	turns := m.RecentTurns(0)
	if len(turns) != 3 {
		t.Fatalf("window holds %d turns, want 3", len(turns))
	}
	want := []string{"third", "fourth", "fifth"}
	for i, turn := range turns {
		if turn.UserInput != want[i] {
			t.Errorf("turn %d is %q, want %q", i, turn.UserInput, want[i])
		}
	}
}

func TestShortTermConversationText(t *testing.T) {
	ctx := context.Background()
	m := newShortTerm(t, nil)

	if _, err := m.AddMessage(ctx, "hello", "hi there", nil); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if _, err := m.AddMessage(ctx, "how are you", "fine", nil); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	text := m.ConversationText(0)
	want := "User: hello\nAssistant: hi there\n\nUser: how are you\nAssistant: fine"
	if text != want {
		t.Errorf("ConversationText:\n%q\nwant:\n%q", text, want)
	}
}

func TestShortTermSearchRanking(t *testing.T) {
	ctx := context.Background()
	m := newShortTerm(t, nil)

	if _, err := m.AddMessage(ctx,
		"Can I get my contract deposit back after the breach?",
		"Whether the deposit is refundable depends on the contract terms.", nil); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if _, err := m.AddMessage(ctx,
		"How long does a divorce take?",
		"It varies by jurisdiction, often several months.", nil); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	hits, err := m.SearchConversation(ctx, "contract deposit refund", 2)
	if err != nil {
		t.Fatalf("SearchConversation: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("no hits")
	}
	if !strings.Contains(hits[0].Turn.UserInput, "contract") {
		t.Errorf("top hit is %q, want the contract turn", hits[0].Turn.UserInput)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits not sorted by score: %v > %v at %d", hits[i].Score, hits[i-1].Score, i)
		}
	}
}

func TestShortTermSearchExactTextRanksFirst(t *testing.T) {
	ctx := context.Background()
	m := newShortTerm(t, nil)

	if _, err := m.AddMessage(ctx,
		"Can I get my contract deposit back?",
		"Depends on the contract terms.", nil); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if _, err := m.AddMessage(ctx,
		"How long does a divorce take?",
		"Several months, usually.", nil); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if _, err := m.AddMessage(ctx,
		"What counts as negligence?",
		"A breach of the duty of care.", nil); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	// searching for a stored turn's exact transcript returns it first
	query := "User: How long does a divorce take?\nAssistant: Several months, usually."
	hits, err := m.SearchConversation(ctx, query, 3)
	if err != nil {
		t.Fatalf("SearchConversation: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("no hits")
	}
	if hits[0].Turn.UserInput != "How long does a divorce take?" {
		t.Errorf("top hit = %q, want the exact-match turn", hits[0].Turn.UserInput)
	}
	if len(hits) > 1 && hits[0].Score <= hits[1].Score {
		t.Errorf("exact match scored %v, runner-up %v", hits[0].Score, hits[1].Score)
	}
}

func TestShortTermSearchTieBreaksByRecency(t *testing.T) {
	ctx := context.Background()
	m := newShortTerm(t, nil)

	first, err := m.AddMessage(ctx, "What notice period applies?", "Check the clause.", nil)
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	time.Sleep(time.Millisecond) // distinct timestamps
	second, err := m.AddMessage(ctx, "What notice period applies?", "Check the clause.", nil)
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	hits, err := m.SearchConversation(ctx, "What notice period applies?", 2)
	if err != nil {
		t.Fatalf("SearchConversation: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Score != hits[1].Score {
		t.Fatalf("identical turns scored differently: %v vs %v", hits[0].Score, hits[1].Score)
	}
	if hits[0].Turn.ID != second || hits[1].Turn.ID != first {
		t.Errorf("tie not broken by recency: got %s before %s, want the newer turn first",
			hits[0].Turn.ID, hits[1].Turn.ID)
	}
}

func TestShortTermSearchEmptyBuffer(t *testing.T) {
	m := newShortTerm(t, nil)

	hits, err := m.SearchConversation(context.Background(), "anything", 3)
	if err != nil {
		t.Fatalf("SearchConversation: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits from an empty session, want 0", len(hits))
	}
}

func TestShortTermEmbedFailureKeepsTurn(t *testing.T) {
	ctx := context.Background()
	embedder := &flakyEmbedder{inner: mock.New(), fail: -1}
	m, err := memory.NewShortTermMemory(embedder, chromem.New(), nil)
	if err != nil {
		t.Fatalf("NewShortTermMemory: %v", err)
	}
	defer m.Close()

	turnID, err := m.AddMessage(ctx, "hello", "hi", nil)
	if err == nil {
		t.Fatal("expected an error from a failing embedder")
	}
	if !memory.IsStorageError(err) {
		t.Errorf("error %v is not a storage error", err)
	}
	if turnID == "" {
		t.Error("turn id missing despite retained turn")
	}
	if got := len(m.RecentTurns(0)); got != 1 {
		t.Errorf("window holds %d turns, want 1", got)
	}
}

func TestShortTermTemporaryData(t *testing.T) {
	m := newShortTerm(t, nil)

	m.StoreTemporary("draft", "clause text", time.Minute)
	if v, ok := m.GetTemporary("draft"); !ok || v != "clause text" {
		t.Errorf("GetTemporary = %v, %v; want clause text, true", v, ok)
	}

	m.StoreTemporary("gone", "x", 0)
	if _, ok := m.GetTemporary("gone"); ok {
		t.Error("entry with zero ttl should be absent")
	}

	m.StoreTemporary("brief", "y", 20*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	if _, ok := m.GetTemporary("brief"); ok {
		t.Error("entry should have expired")
	}
}

func TestShortTermSessionContext(t *testing.T) {
	ctx := context.Background()
	m := newShortTerm(t, nil)

	m.SetLegalDomain("contract law")
	m.SetJurisdiction("UK")
	m.AddActiveDocument("lease.pdf")
	m.SetPreference("tone", "plain")

	md := map[string]string{
		core.MetaTopics: "deposit,notice period",
	}
	if _, err := m.AddMessage(ctx, "question", "answer", md); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	sctx := m.Context()
	if sctx.LegalDomain != "contract law" || sctx.Jurisdiction != "UK" {
		t.Errorf("context = %+v", sctx)
	}
	if len(sctx.CurrentTopics) != 2 {
		t.Errorf("topics = %v, want 2 entries", sctx.CurrentTopics)
	}
	if len(sctx.ActiveDocuments) != 1 || sctx.ActiveDocuments[0] != "lease.pdf" {
		t.Errorf("documents = %v", sctx.ActiveDocuments)
	}

	// returned context is a copy
	sctx.LegalDomain = "tort law"
	if m.Context().LegalDomain != "contract law" {
		t.Error("mutating the returned context leaked into the session")
	}
}

func TestShortTermClearSession(t *testing.T) {
	ctx := context.Background()
	m := newShortTerm(t, nil)

	oldID := m.SessionID()
	if _, err := m.AddMessage(ctx, "hello", "hi", nil); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	m.StoreTemporary("k", "v", time.Minute)

	if err := m.ClearSession(ctx); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}

	if m.SessionID() == oldID {
		t.Error("session id did not change")
	}
	if len(m.RecentTurns(0)) != 0 {
		t.Error("turns survived the clear")
	}
	if _, ok := m.GetTemporary("k"); ok {
		t.Error("temporary data survived the clear")
	}
	hits, err := m.SearchConversation(ctx, "hello", 3)
	if err != nil {
		t.Fatalf("SearchConversation: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("search found %d hits after clear", len(hits))
	}
}

func TestShortTermConfigValidation(t *testing.T) {
	if _, err := memory.NewShortTermMemory(mock.New(), chromem.New(), &memory.ShortTermConfig{WindowSize: 0}); err == nil {
		t.Error("zero window size accepted")
	}
	if _, err := memory.NewShortTermMemory(mock.New(), chromem.New(), &memory.ShortTermConfig{WindowSize: 10, MaxSearchTurns: 5}); err == nil {
		t.Error("MaxSearchTurns below WindowSize accepted")
	}
	if _, err := memory.NewShortTermMemory(nil, chromem.New(), nil); err == nil {
		t.Error("nil embedder accepted")
	}
}
