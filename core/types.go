package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExpertiseLevel describes how familiar a user is with legal matters.
type ExpertiseLevel string

const (
	ExpertiseBeginner     ExpertiseLevel = "beginner"
	ExpertiseIntermediate ExpertiseLevel = "intermediate"
	ExpertiseExpert       ExpertiseLevel = "expert"
)

// Valid reports whether the level is one of the known values.
func (l ExpertiseLevel) Valid() bool {
	switch l {
	case ExpertiseBeginner, ExpertiseIntermediate, ExpertiseExpert:
		return true
	}
	return false
}

// DomainUncategorized is the legal domain assigned when classification
// is skipped or fails. Writes are never blocked on categorization.
const DomainUncategorized = "uncategorized"

// Recognized metadata keys for ConversationTurn.Metadata. Callers may add
// their own keys; these are the ones the memory system interprets.
const (
	MetaLegalDomain  = "legal_domain"
	MetaCaseType     = "case_type"
	MetaJurisdiction = "jurisdiction"
	MetaTopics       = "topics" // comma-separated list
	MetaTurnID       = "turn_id"
	MetaUserID       = "user_id"
	MetaConceptName  = "concept_name"
	MetaTimestamp    = "timestamp"
)

// ConversationTurn is one user-input/assistant-response exchange.
// Turns are immutable once created and owned by the short-term buffer
// of the session that created them.
type ConversationTurn struct {
	ID         string
	Timestamp  time.Time
	UserInput  string
	AIResponse string
	Metadata   map[string]string
}

// NewConversationTurn creates a turn with a fresh id and timestamp.
// The metadata map is copied so the caller can reuse theirs.
func NewConversationTurn(userInput, aiResponse string, metadata map[string]string) *ConversationTurn {
	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return &ConversationTurn{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		UserInput:  userInput,
		AIResponse: aiResponse,
		Metadata:   md,
	}
}

// Text renders the turn in the transcript format used for embedding
// and prompt injection.
func (t *ConversationTurn) Text() string {
	return fmt.Sprintf("User: %s\nAssistant: %s", t.UserInput, t.AIResponse)
}

// Topics returns the parsed topics metadata, if any.
func (t *ConversationTurn) Topics() []string {
	return SplitTopics(t.Metadata[MetaTopics])
}

// Caps on mutable session context lists.
const (
	MaxSessionTopics   = 5
	MaxActiveDocuments = 10
)

// SessionContext is the mutable state of one conversation session.
// It lives exactly as long as the session and is never persisted
// unless explicitly flushed to long-term storage.
type SessionContext struct {
	SessionID       string
	StartTime       time.Time
	LegalDomain     string
	CaseType        string
	Jurisdiction    string
	CurrentTopics   []string
	Preferences     map[string]string
	ActiveDocuments []string
}

// NewSessionContext creates a context for a fresh session.
func NewSessionContext() *SessionContext {
	return &SessionContext{
		SessionID:   uuid.NewString(),
		StartTime:   time.Now().UTC(),
		Preferences: make(map[string]string),
	}
}

// MergeTopics adds topics keeping uniqueness, most recent last, capped
// at MaxSessionTopics (oldest dropped first).
func (c *SessionContext) MergeTopics(topics []string) {
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		found := false
		for _, existing := range c.CurrentTopics {
			if strings.EqualFold(existing, topic) {
				found = true
				break
			}
		}
		if found {
			continue
		}
		c.CurrentTopics = append(c.CurrentTopics, topic)
	}
	if len(c.CurrentTopics) > MaxSessionTopics {
		c.CurrentTopics = c.CurrentTopics[len(c.CurrentTopics)-MaxSessionTopics:]
	}
}

// AddDocument records a document reference as active in this session,
// capped at MaxActiveDocuments (oldest dropped first).
func (c *SessionContext) AddDocument(ref string) {
	for _, existing := range c.ActiveDocuments {
		if existing == ref {
			return
		}
	}
	c.ActiveDocuments = append(c.ActiveDocuments, ref)
	if len(c.ActiveDocuments) > MaxActiveDocuments {
		c.ActiveDocuments = c.ActiveDocuments[len(c.ActiveDocuments)-MaxActiveDocuments:]
	}
}

// Clone returns a deep copy safe to hand out to callers.
func (c *SessionContext) Clone() *SessionContext {
	cp := *c
	cp.CurrentTopics = append([]string(nil), c.CurrentTopics...)
	cp.ActiveDocuments = append([]string(nil), c.ActiveDocuments...)
	cp.Preferences = make(map[string]string, len(c.Preferences))
	for k, v := range c.Preferences {
		cp.Preferences[k] = v
	}
	return &cp
}

// UserProfile is the durable per-user record. Profiles are created on
// first sight of a user id and updated on every interaction; they are
// never hard-deleted.
type UserProfile struct {
	UserID            string
	CreatedAt         time.Time
	LastActive        time.Time
	Preferences       map[string]string
	ExpertiseLevel    ExpertiseLevel
	LegalDomains      []string
	InteractionCount  int
	SatisfactionAvg   float64 // meaningful only when SatisfactionCount > 0
	SatisfactionCount int
}

// NewUserProfile creates a default profile for a first-time user.
func NewUserProfile(userID string) *UserProfile {
	now := time.Now().UTC()
	return &UserProfile{
		UserID:         userID,
		CreatedAt:      now,
		LastActive:     now,
		Preferences:    make(map[string]string),
		ExpertiseLevel: ExpertiseBeginner,
	}
}

// RecordInteraction applies the bookkeeping for one stored interaction:
// bumps the count, touches last-active, merges the legal domain into the
// domains the user has touched, and folds an optional satisfaction score
// into the unweighted running mean.
func (p *UserProfile) RecordInteraction(at time.Time, legalDomain string, satisfaction *float64) {
	p.InteractionCount++
	p.LastActive = at
	if legalDomain != "" && legalDomain != DomainUncategorized && !p.TouchesDomain(legalDomain) {
		p.LegalDomains = append(p.LegalDomains, legalDomain)
	}
	if satisfaction != nil {
		n := float64(p.SatisfactionCount)
		p.SatisfactionAvg = (p.SatisfactionAvg*n + *satisfaction) / (n + 1)
		p.SatisfactionCount++
	}
}

// TouchesDomain reports whether the user has interacted in the domain.
func (p *UserProfile) TouchesDomain(domain string) bool {
	for _, d := range p.LegalDomains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out to callers.
func (p *UserProfile) Clone() *UserProfile {
	cp := *p
	cp.LegalDomains = append([]string(nil), p.LegalDomains...)
	cp.Preferences = make(map[string]string, len(p.Preferences))
	for k, v := range p.Preferences {
		cp.Preferences[k] = v
	}
	return &cp
}

// InteractionRecord is the durable copy of one conversational exchange.
// Records are immutable once stored. Embedded is false when the embedding
// could not be computed at store time; such records are excluded from
// semantic search until re-embedded.
type InteractionRecord struct {
	ID                string
	TurnID            string
	UserID            string
	Timestamp         time.Time
	UserInput         string
	AIResponse        string
	LegalDomain       string
	CaseType          string
	Jurisdiction      string
	Topics            []string
	SatisfactionScore *float64
	Embedding         []float32
	Embedded          bool
}

// Text renders the record in the transcript format used for embedding.
func (r *InteractionRecord) Text() string {
	return fmt.Sprintf("User: %s\nAssistant: %s", r.UserInput, r.AIResponse)
}

// LegalConcept is a knowledge-base entry keyed by name within a legal
// domain. Related concepts are name references resolved by lookup at
// read time, never ownership links.
type LegalConcept struct {
	Name            string
	Definition      string
	LegalDomain     string
	Examples        []string
	RelatedConcepts []string
	UpdatedAt       time.Time
}

// Text renders the concept for embedding: name, definition and examples.
func (c *LegalConcept) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Concept: %s\nDefinition: %s", c.Name, c.Definition)
	if len(c.Examples) > 0 {
		fmt.Fprintf(&b, "\nExamples: %s", strings.Join(c.Examples, "; "))
	}
	return b.String()
}

// Analytics summarizes stored long-term records. A user-scoped summary
// has UserID set; a global summary additionally reports totals across
// users and concepts.
type Analytics struct {
	UserID              string
	TotalUsers          int
	TotalInteractions   int
	TotalConcepts       int
	DomainCounts        map[string]int
	AverageSatisfaction float64
	ScoredInteractions  int
	FirstInteraction    time.Time
	LastInteraction     time.Time
}

// JoinTopics serializes a topic list for flat metadata/storage.
func JoinTopics(topics []string) string {
	return strings.Join(topics, ",")
}

// SplitTopics parses a serialized topic list, dropping empty entries.
func SplitTopics(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
