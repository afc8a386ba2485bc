package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/lexassist/lexgo/core"
)

// ShortTermConfig configures the session-scoped memory.
type ShortTermConfig struct {
	// WindowSize is the number of turns kept in the transcript buffer.
	// Must be positive.
	WindowSize int

	// MaxSearchTurns caps how many turns stay reachable through semantic
	// search within the session. Must be at least WindowSize.
	// Default: 50.
	MaxSearchTurns int
}

// DefaultShortTermConfig is a sensible starting point for chat sessions.
var DefaultShortTermConfig = &ShortTermConfig{
	WindowSize:     10,
	MaxSearchTurns: 50,
}

// TurnResult is a conversation turn returned from semantic search.
type TurnResult struct {
	Turn  *core.ConversationTurn
	Score float32
}

// SessionStats summarizes the current session's short-term state.
type SessionStats struct {
	SessionID       string
	StartTime       time.Time
	Duration        time.Duration
	Turns           int
	IndexedTurns    int
	Topics          []string
	LegalDomain     string
	CaseType        string
	Jurisdiction    string
	ActiveDocuments int
}

// ShortTermMemory holds a bounded, searchable window of one session's
// dialogue plus its session context and TTL scratch space. Safe for
// concurrent use; a mutex serializes access to the session state.
// Distinct sessions are fully independent.
type ShortTermMemory struct {
	embedder Embedder
	vectors  VectorStore
	cfg      ShortTermConfig

	mu         sync.Mutex
	sctx       *core.SessionContext
	turns      []*core.ConversationTurn
	indexed    map[string]*core.ConversationTurn
	indexOrder []string

	temp *ristretto.Cache
}

// NewShortTermMemory creates the session memory. A nil cfg uses
// DefaultShortTermConfig; an explicit config with a non-positive window
// size is rejected.
func NewShortTermMemory(embedder Embedder, vectors VectorStore, cfg *ShortTermConfig) (*ShortTermMemory, error) {
	if embedder == nil {
		return nil, &ConfigError{Field: "Embedder", Reason: "required"}
	}
	if vectors == nil {
		return nil, &ConfigError{Field: "VectorStore", Reason: "required"}
	}
	if cfg == nil {
		cfg = DefaultShortTermConfig
	}
	c := *cfg
	if c.WindowSize <= 0 {
		return nil, &ConfigError{Field: "WindowSize", Reason: "must be positive"}
	}
	if c.MaxSearchTurns == 0 {
		c.MaxSearchTurns = DefaultShortTermConfig.MaxSearchTurns
	}
	if c.MaxSearchTurns < c.WindowSize {
		return nil, &ConfigError{Field: "MaxSearchTurns", Reason: "must be >= WindowSize"}
	}

	temp, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 14,
		MaxCost:     1 << 12,
		BufferItems: 64,
	})
	if err != nil {
		return nil, &ConfigError{Field: "temp cache", Reason: err.Error()}
	}

	return &ShortTermMemory{
		embedder: embedder,
		vectors:  vectors,
		cfg:      c,
		sctx:     core.NewSessionContext(),
		indexed:  make(map[string]*core.ConversationTurn),
		temp:     temp,
	}, nil
}

// SessionID returns the current session identifier.
func (m *ShortTermMemory) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sctx.SessionID
}

// AddMessage records one exchange: the turn is appended to the window
// (evicting the oldest beyond WindowSize), the session context picks up
// the turn's metadata, and the turn is indexed for semantic search.
//
// The turn is retained in the buffer even when embedding or indexing
// fails; such failures are returned alongside the turn id so the caller
// can decide whether they matter.
func (m *ShortTermMemory) AddMessage(ctx context.Context, userInput, aiResponse string, metadata map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	turn := core.NewConversationTurn(userInput, aiResponse, metadata)

	m.turns = append(m.turns, turn)
	if len(m.turns) > m.cfg.WindowSize {
		m.turns = m.turns[len(m.turns)-m.cfg.WindowSize:]
	}
	m.absorbTurnContext(turn)

	m.indexed[turn.ID] = turn
	m.indexOrder = append(m.indexOrder, turn.ID)
	if len(m.indexOrder) > m.cfg.MaxSearchTurns {
		drop := m.indexOrder[0]
		m.indexOrder = m.indexOrder[1:]
		delete(m.indexed, drop)
		// The stale vector entry is filtered at read time; the whole
		// collection dies with the session.
	}

	embedding, err := m.embedder.Embed(ctx, turn.Text())
	if err != nil {
		log.Printf("[SHORTTERM] embed turn %s failed: %v", turn.ID, err)
		return turn.ID, storageErr("embed turn", err)
	}

	md := map[string]string{
		core.MetaTurnID:    turn.ID,
		core.MetaTimestamp: turn.Timestamp.Format(time.RFC3339Nano),
	}
	for k, v := range turn.Metadata {
		md[k] = v
	}
	err = m.vectors.Upsert(ctx, SessionCollection(m.sctx.SessionID), Document{
		ID:        turn.ID,
		Text:      turn.Text(),
		Embedding: embedding,
		Metadata:  md,
	})
	if err != nil {
		log.Printf("[SHORTTERM] index turn %s failed: %v", turn.ID, err)
		return turn.ID, storageErr("index turn", err)
	}

	return turn.ID, nil
}

// absorbTurnContext applies a turn's metadata to the session context:
// topics merge in, and domain/case/jurisdiction fill empty slots.
func (m *ShortTermMemory) absorbTurnContext(turn *core.ConversationTurn) {
	if topics := turn.Topics(); len(topics) > 0 {
		m.sctx.MergeTopics(topics)
	}
	if d := turn.Metadata[core.MetaLegalDomain]; d != "" && d != core.DomainUncategorized {
		m.sctx.LegalDomain = d
	}
	if ct := turn.Metadata[core.MetaCaseType]; ct != "" {
		m.sctx.CaseType = ct
	}
	if j := turn.Metadata[core.MetaJurisdiction]; j != "" {
		m.sctx.Jurisdiction = j
	}
}

// SearchConversation ranks this session's turns by similarity to the
// query, highest score first, ties broken by recency. An empty buffer
// yields an empty result; an embedding failure downgrades the search to
// no results rather than raising.
func (m *ShortTermMemory) SearchConversation(ctx context.Context, query string, topK int) ([]TurnResult, error) {
	if topK <= 0 {
		topK = 3
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.indexed) == 0 {
		return nil, nil
	}

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("[SHORTTERM] embed query failed, degrading to no results: %v", err)
		return nil, nil
	}

	results, err := m.vectors.Query(ctx, SessionCollection(m.sctx.SessionID), embedding, topK, nil)
	if err != nil {
		return nil, storageErr("search session", err)
	}

	hits := make([]TurnResult, 0, len(results))
	for _, r := range results {
		turn, ok := m.indexed[r.ID]
		if !ok {
			continue // evicted from the searchable set
		}
		hits = append(hits, TurnResult{Turn: turn, Score: r.Score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Turn.Timestamp.After(hits[j].Turn.Timestamp)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// RecentTurns returns the last n turns of the window in chronological
// order; n <= 0 returns the whole window.
func (m *ShortTermMemory) RecentTurns(n int) []*core.ConversationTurn {
	m.mu.Lock()
	defer m.mu.Unlock()

	turns := m.turns
	if n > 0 && n < len(turns) {
		turns = turns[len(turns)-n:]
	}
	return append([]*core.ConversationTurn(nil), turns...)
}

// ConversationText renders the last n turns as a transcript, one
// User/Assistant pair per turn, chronological order. n <= 0 renders the
// whole window.
func (m *ShortTermMemory) ConversationText(n int) string {
	turns := m.RecentTurns(n)
	parts := make([]string, 0, len(turns))
	for _, turn := range turns {
		parts = append(parts, turn.Text())
	}
	return strings.Join(parts, "\n\n")
}

// Context returns a copy of the current session context.
func (m *ShortTermMemory) Context() *core.SessionContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sctx.Clone()
}

// SetLegalDomain sets the session's legal domain.
func (m *ShortTermMemory) SetLegalDomain(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sctx.LegalDomain = domain
}

// SetCaseType sets the session's case type.
func (m *ShortTermMemory) SetCaseType(caseType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sctx.CaseType = caseType
}

// SetJurisdiction sets the session's jurisdiction.
func (m *ShortTermMemory) SetJurisdiction(jurisdiction string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sctx.Jurisdiction = jurisdiction
}

// AddActiveDocument marks a document reference as active in the session.
func (m *ShortTermMemory) AddActiveDocument(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sctx.AddDocument(ref)
}

// SetPreference records a session preference.
func (m *ShortTermMemory) SetPreference(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sctx.Preferences[key] = value
}

// MergeTopics folds topics into the session's topic list.
func (m *ShortTermMemory) MergeTopics(topics []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sctx.MergeTopics(topics)
}

// StoreTemporary writes a TTL-bound scratch entry. A non-positive ttl
// means the entry is born expired: any subsequent read sees it absent.
func (m *ShortTermMemory) StoreTemporary(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		m.temp.Del(key)
		return
	}
	m.temp.SetWithTTL(key, value, 1, ttl)
	m.temp.Wait()
}

// GetTemporary reads a scratch entry. The second return is false once
// the entry's TTL has elapsed or it was never stored; expired entries
// are purged by the cache itself.
func (m *ShortTermMemory) GetTemporary(key string) (any, bool) {
	return m.temp.Get(key)
}

// Stats reports the session's short-term state.
func (m *ShortTermMemory) Stats() SessionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return SessionStats{
		SessionID:       m.sctx.SessionID,
		StartTime:       m.sctx.StartTime,
		Duration:        time.Since(m.sctx.StartTime),
		Turns:           len(m.turns),
		IndexedTurns:    len(m.indexed),
		Topics:          append([]string(nil), m.sctx.CurrentTopics...),
		LegalDomain:     m.sctx.LegalDomain,
		CaseType:        m.sctx.CaseType,
		Jurisdiction:    m.sctx.Jurisdiction,
		ActiveDocuments: len(m.sctx.ActiveDocuments),
	}
}

// ClearSession drops all session state and starts a fresh session: new
// id, empty buffer, empty context, empty scratch space. The old session
// collection is deleted from the vector store.
func (m *ShortTermMemory) ClearSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := SessionCollection(m.sctx.SessionID)

	m.turns = nil
	m.indexed = make(map[string]*core.ConversationTurn)
	m.indexOrder = nil
	m.sctx = core.NewSessionContext()
	m.temp.Clear()

	if err := m.vectors.DeleteCollection(ctx, old); err != nil {
		return storageErr("drop session collection", err)
	}
	return nil
}

// Close releases the scratch cache. The vector store is owned by the
// caller and is not closed here.
func (m *ShortTermMemory) Close() error {
	m.temp.Close()
	return nil
}

var _ fmt.Stringer = SessionStats{}

// String renders the stats one fact per line, for logs and summaries.
func (s SessionStats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session started: %s\n", s.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Conversation turns: %d", s.Turns)
	if s.LegalDomain != "" {
		fmt.Fprintf(&b, "\nLegal domain: %s", s.LegalDomain)
	}
	if s.CaseType != "" {
		fmt.Fprintf(&b, "\nCase type: %s", s.CaseType)
	}
	if len(s.Topics) > 0 {
		fmt.Fprintf(&b, "\nTopics discussed: %s", strings.Join(s.Topics, ", "))
	}
	return b.String()
}
