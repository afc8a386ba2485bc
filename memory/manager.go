package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lexassist/lexgo/core"
)

// ManagerConfig configures the memory manager and its two halves.
type ManagerConfig struct {
	ShortTerm *ShortTermConfig
	LongTerm  *LongTermConfig

	// SearchTopK is the default result count for merged memory search.
	// Default: 5.
	SearchTopK int

	// ContextTurns is how many recent turns go into a context bundle's
	// transcript. Default: 5.
	ContextTurns int
}

// DefaultManagerConfig holds the defaults used when no config is given.
var DefaultManagerConfig = &ManagerConfig{
	SearchTopK:   5,
	ContextTurns: 5,
}

// ManagerOption customizes a Manager at construction.
type ManagerOption func(*Manager)

// WithClassifier replaces the default keyword classifier, typically with
// an LLM-backed one.
func WithClassifier(c Classifier) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.classifier = c
		}
	}
}

// TurnReceipt reports what happened to one recorded exchange. Warnings
// carry the degraded paths (failed embedding, unavailable long-term
// storage); the turn itself is never lost as long as the receipt has a
// TurnID.
type TurnReceipt struct {
	TurnID      string
	RecordID    string // empty when the durable write failed
	LegalDomain string
	CaseType    string
	Warnings    []string
}

// SearchHit is one result of a merged memory search. Exactly one of
// Turn and Record is set, indicated by Source.
type SearchHit struct {
	Source string // "session" or "history"
	Score  float32
	Text   string
	Turn   *core.ConversationTurn
	Record *core.InteractionRecord
}

// Sources for SearchHit.
const (
	SourceSession = "session"
	SourceHistory = "history"
)

// ContextBundle is everything the agent layer needs to ground a reply.
// Every field is always present; a failing backend leaves its field
// empty rather than failing the bundle.
type ContextBundle struct {
	RecentConversation string
	SessionContext     *core.SessionContext
	RelevantHistory    []InteractionResult
	RelevantKnowledge  []ConceptResult
	Profile            *core.UserProfile
}

// Manager is the single entry point the agent layer talks to. It routes
// each exchange into the session buffer and the durable store, merges
// search across both, and assembles context bundles for prompting.
//
// One Manager serves one session. The long-term backends may be shared
// across managers.
type Manager struct {
	short      *ShortTermMemory
	long       *LongTermMemory
	classifier Classifier
	cfg        ManagerConfig
}

// NewManager builds the full memory stack over the given backends.
func NewManager(embedder Embedder, vectors VectorStore, records RecordStore, cfg *ManagerConfig, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultManagerConfig
	}
	c := *cfg
	if c.SearchTopK <= 0 {
		c.SearchTopK = DefaultManagerConfig.SearchTopK
	}
	if c.ContextTurns <= 0 {
		c.ContextTurns = DefaultManagerConfig.ContextTurns
	}

	short, err := NewShortTermMemory(embedder, vectors, c.ShortTerm)
	if err != nil {
		return nil, err
	}
	long, err := NewLongTermMemory(embedder, vectors, records, c.LongTerm)
	if err != nil {
		short.Close()
		return nil, err
	}

	m := &Manager{
		short:      short,
		long:       long,
		classifier: NewKeywordClassifier(),
		cfg:        c,
	}
	for _, opt := range opts {
		opt(m)
	}
	log.Printf("[MEMORY] manager ready, session %s", short.SessionID())
	return m, nil
}

// ShortTerm exposes the session memory for direct use.
func (m *Manager) ShortTerm() *ShortTermMemory { return m.short }

// LongTerm exposes the durable memory for direct use.
func (m *Manager) LongTerm() *LongTermMemory { return m.long }

// SessionID returns the current session identifier.
func (m *Manager) SessionID() string { return m.short.SessionID() }

// AddConversationTurn records one exchange in both memory tiers. When
// the metadata does not already carry a legal domain, the exchange is
// classified first; classification failures fall back to uncategorized
// and never block the write. Long-term persistence is best-effort: its
// failure surfaces as a warning on the receipt, not an error, because
// the session buffer already holds the turn.
func (m *Manager) AddConversationTurn(ctx context.Context, userID, userInput, aiResponse string, metadata map[string]string, satisfaction *float64) (*TurnReceipt, error) {
	if userID == "" {
		return nil, fmt.Errorf("memory: add turn: user id required")
	}

	md := make(map[string]string, len(metadata)+3)
	for k, v := range metadata {
		md[k] = v
	}
	if md[core.MetaLegalDomain] == "" || md[core.MetaCaseType] == "" {
		cls, err := m.classifier.Classify(ctx, userInput, aiResponse)
		if err != nil {
			log.Printf("[MEMORY] classify failed, storing uncategorized: %v", err)
			cls = Classification{LegalDomain: core.DomainUncategorized}
		}
		if md[core.MetaLegalDomain] == "" {
			md[core.MetaLegalDomain] = cls.LegalDomain
		}
		if md[core.MetaCaseType] == "" && cls.CaseType != "" {
			md[core.MetaCaseType] = cls.CaseType
		}
		if md[core.MetaTopics] == "" && len(cls.Topics) > 0 {
			md[core.MetaTopics] = core.JoinTopics(cls.Topics)
		}
	}
	if md[core.MetaLegalDomain] == "" {
		md[core.MetaLegalDomain] = core.DomainUncategorized
	}
	md[core.MetaUserID] = userID

	receipt := &TurnReceipt{
		LegalDomain: md[core.MetaLegalDomain],
		CaseType:    md[core.MetaCaseType],
	}

	turnID, err := m.short.AddMessage(ctx, userInput, aiResponse, md)
	receipt.TurnID = turnID
	if err != nil {
		receipt.Warnings = append(receipt.Warnings, fmt.Sprintf("session index degraded: %v", err))
	}

	recordID, err := m.long.StoreInteraction(ctx, StoreInteractionParams{
		UserID:            userID,
		UserInput:         userInput,
		AIResponse:        aiResponse,
		LegalDomain:       md[core.MetaLegalDomain],
		CaseType:          md[core.MetaCaseType],
		Jurisdiction:      md[core.MetaJurisdiction],
		Topics:            core.SplitTopics(md[core.MetaTopics]),
		SatisfactionScore: satisfaction,
		TurnID:            turnID,
	})
	if err != nil {
		log.Printf("[MEMORY] durable write failed for turn %s: %v", turnID, err)
		receipt.Warnings = append(receipt.Warnings, fmt.Sprintf("long-term write failed: %v", err))
	} else {
		receipt.RecordID = recordID
	}

	log.Printf("[MEMORY] recorded turn %s (%s) for user %s", turnID, receipt.LegalDomain, userID)
	return receipt, nil
}

// SearchMemory runs the query against the session buffer and the user's
// durable history, merging both into one ranking. A durable record that
// mirrors a turn still in the session is collapsed into the session hit.
func (m *Manager) SearchMemory(ctx context.Context, userID, query string, topK int) ([]SearchHit, error) {
	if topK <= 0 {
		topK = m.cfg.SearchTopK
	}

	var hits []SearchHit
	seen := make(map[string]bool)

	turns, err := m.short.SearchConversation(ctx, query, topK)
	if err != nil {
		log.Printf("[MEMORY] session search degraded: %v", err)
	}
	for _, t := range turns {
		seen[t.Turn.ID] = true
		hits = append(hits, SearchHit{
			Source: SourceSession,
			Score:  t.Score,
			Text:   t.Turn.Text(),
			Turn:   t.Turn,
		})
	}

	records, err := m.long.SearchInteractions(ctx, query, SearchOptions{UserID: userID, TopK: topK})
	if err != nil {
		log.Printf("[MEMORY] history search degraded: %v", err)
	}
	for _, r := range records {
		if r.Record.TurnID != "" && seen[r.Record.TurnID] {
			continue
		}
		hits = append(hits, SearchHit{
			Source: SourceHistory,
			Score:  r.Score,
			Text:   r.Record.Text(),
			Record: r.Record,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	log.Printf("[MEMORY] search %q: %d hits", truncateLog(query, 60), len(hits))
	return hits, nil
}

// SearchKnowledge queries the legal-concept knowledge base.
func (m *Manager) SearchKnowledge(ctx context.Context, query string, topK int, domainFilter string) ([]ConceptResult, error) {
	if topK <= 0 {
		topK = m.cfg.SearchTopK
	}
	return m.long.SearchConcepts(ctx, query, topK, domainFilter)
}

// BuildContext assembles the retrieval context for one upcoming reply:
// recent transcript, session context, relevant history, relevant
// knowledge and the user profile. Backend failures degrade the affected
// field to empty; the bundle itself always comes back usable.
func (m *Manager) BuildContext(ctx context.Context, userID, query string) *ContextBundle {
	bundle := &ContextBundle{
		RecentConversation: m.short.ConversationText(m.cfg.ContextTurns),
		SessionContext:     m.short.Context(),
	}

	if history, err := m.long.SearchInteractions(ctx, query, SearchOptions{UserID: userID, TopK: m.cfg.SearchTopK}); err != nil {
		log.Printf("[MEMORY] context: history unavailable: %v", err)
	} else {
		bundle.RelevantHistory = history
	}

	if knowledge, err := m.long.SearchConcepts(ctx, query, m.cfg.SearchTopK, ""); err != nil {
		log.Printf("[MEMORY] context: knowledge unavailable: %v", err)
	} else {
		bundle.RelevantKnowledge = knowledge
	}

	if profile, err := m.long.GetProfile(ctx, userID); err != nil {
		log.Printf("[MEMORY] context: profile unavailable: %v", err)
	} else {
		bundle.Profile = profile
	}

	return bundle
}

// Summary renders a human-readable snapshot of both memory tiers for the
// user, suitable for a "what do you remember" reply.
func (m *Manager) Summary(ctx context.Context, userID string) string {
	var b strings.Builder
	b.WriteString(m.short.Stats().String())

	profile, err := m.long.GetProfile(ctx, userID)
	if err != nil {
		log.Printf("[MEMORY] summary: profile unavailable: %v", err)
		return b.String()
	}
	fmt.Fprintf(&b, "\nTotal interactions: %d", profile.InteractionCount)
	fmt.Fprintf(&b, "\nExpertise level: %s", profile.ExpertiseLevel)
	if len(profile.LegalDomains) > 0 {
		fmt.Fprintf(&b, "\nLegal domains: %s", strings.Join(profile.LegalDomains, ", "))
	}
	if profile.SatisfactionCount > 0 {
		fmt.Fprintf(&b, "\nAverage satisfaction: %.2f", profile.SatisfactionAvg)
	}
	return b.String()
}

// StoreTemporary writes a TTL-bound scratch entry in the session tier.
func (m *Manager) StoreTemporary(key string, value any, ttl time.Duration) {
	m.short.StoreTemporary(key, value, ttl)
}

// GetTemporary reads a scratch entry from the session tier.
func (m *Manager) GetTemporary(key string) (any, bool) {
	return m.short.GetTemporary(key)
}

// StoreConcept upserts a knowledge-base entry.
func (m *Manager) StoreConcept(ctx context.Context, concept *core.LegalConcept) error {
	return m.long.StoreConcept(ctx, concept)
}

// RelatedConcepts resolves a concept's related-name references.
func (m *Manager) RelatedConcepts(ctx context.Context, name string) ([]*core.LegalConcept, error) {
	return m.long.RelatedConcepts(ctx, name)
}

// UpdatePreferences merges preference entries into the user's profile.
func (m *Manager) UpdatePreferences(ctx context.Context, userID string, preferences map[string]string) error {
	return m.long.UpdatePreferences(ctx, userID, preferences)
}

// UpdateExpertise sets the user's expertise level and legal domains.
func (m *Manager) UpdateExpertise(ctx context.Context, userID string, level core.ExpertiseLevel, legalDomains []string) error {
	return m.long.UpdateExpertise(ctx, userID, level, legalDomains)
}

// History returns the user's recent interactions, newest first.
func (m *Manager) History(ctx context.Context, userID, legalDomain string, limit int) ([]*core.InteractionRecord, error) {
	return m.long.History(ctx, userID, legalDomain, limit)
}

// Analytics aggregates over the durable store; empty userID means global.
func (m *Manager) Analytics(ctx context.Context, userID string) (*core.Analytics, error) {
	return m.long.Analytics(ctx, userID)
}

// ReembedMissing recovers records stored without a usable embedding.
func (m *Manager) ReembedMissing(ctx context.Context) (int, error) {
	return m.long.ReembedMissing(ctx)
}

// ClearSession drops all session state and starts a fresh session.
// Long-term memory is untouched.
func (m *Manager) ClearSession(ctx context.Context) error {
	old := m.short.SessionID()
	if err := m.short.ClearSession(ctx); err != nil {
		return err
	}
	log.Printf("[MEMORY] session %s cleared, now %s", old, m.short.SessionID())
	return nil
}

// Close releases session-tier resources. The vector and record stores
// are owned by the caller and stay open.
func (m *Manager) Close() error {
	return m.short.Close()
}

// truncateLog shortens a string for log lines, cutting on a rune
// boundary so multi-byte characters are never split.
func truncateLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
