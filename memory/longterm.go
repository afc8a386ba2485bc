package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexassist/lexgo/core"
)

// LongTermConfig configures the durable memory.
type LongTermConfig struct {
	// DefaultTopK is the result count used when a search does not
	// specify one. Default: 5.
	DefaultTopK int

	// ReembedBatch caps how many records one ReembedMissing pass
	// processes. Default: 50.
	ReembedBatch int
}

// DefaultLongTermConfig holds the defaults used when no config is given.
var DefaultLongTermConfig = &LongTermConfig{
	DefaultTopK:  5,
	ReembedBatch: 50,
}

// InteractionResult is a past interaction returned from semantic search.
type InteractionResult struct {
	Record *core.InteractionRecord
	Score  float32
}

// ConceptResult is a knowledge-base entry returned from semantic search.
type ConceptResult struct {
	Concept *core.LegalConcept
	Score   float32
}

// StoreInteractionParams carries one exchange into durable storage.
type StoreInteractionParams struct {
	UserID            string
	UserInput         string
	AIResponse        string
	LegalDomain       string
	CaseType          string
	Jurisdiction      string
	Topics            []string
	SatisfactionScore *float64

	// TurnID links the durable record back to the short-term turn it
	// mirrors, so merged search can de-duplicate the two.
	TurnID string
}

// SearchOptions restrict an interaction search.
type SearchOptions struct {
	UserID      string
	LegalDomain string
	TopK        int
}

// LongTermMemory is the durable cross-session store: user profiles,
// interaction history and the legal-concept knowledge base. The record
// and vector stores are the systems of record; every operation is a
// bounded unit of work holding no cross-call locks, so concurrent
// sessions interleave freely.
type LongTermMemory struct {
	embedder Embedder
	vectors  VectorStore
	records  RecordStore
	cfg      LongTermConfig
}

// NewLongTermMemory wires the durable memory over its three backends.
func NewLongTermMemory(embedder Embedder, vectors VectorStore, records RecordStore, cfg *LongTermConfig) (*LongTermMemory, error) {
	if embedder == nil {
		return nil, &ConfigError{Field: "Embedder", Reason: "required"}
	}
	if vectors == nil {
		return nil, &ConfigError{Field: "VectorStore", Reason: "required"}
	}
	if records == nil {
		return nil, &ConfigError{Field: "RecordStore", Reason: "required"}
	}
	if cfg == nil {
		cfg = DefaultLongTermConfig
	}
	c := *cfg
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = DefaultLongTermConfig.DefaultTopK
	}
	if c.ReembedBatch <= 0 {
		c.ReembedBatch = DefaultLongTermConfig.ReembedBatch
	}
	return &LongTermMemory{embedder: embedder, vectors: vectors, records: records, cfg: c}, nil
}

// StoreInteraction persists one exchange: the interaction record is
// appended and the profile bookkeeping (interaction count, last-active,
// satisfaction running mean) is applied by the record store, atomically
// and against the stored profile state, so concurrent sessions for one
// user never lose a count. The embedding is computed with one retry; if
// it cannot be obtained, or the vector store rejects it, the record is
// kept but stays out of semantic search until ReembedMissing recovers
// it.
func (m *LongTermMemory) StoreInteraction(ctx context.Context, p StoreInteractionParams) (string, error) {
	if p.UserID == "" {
		return "", fmt.Errorf("memory: store interaction: user id required")
	}

	profile, err := m.profileOrDefault(ctx, p.UserID)
	if err != nil {
		return "", err
	}

	domain := p.LegalDomain
	if domain == "" {
		domain = core.DomainUncategorized
	}
	rec := &core.InteractionRecord{
		ID:                uuid.NewString(),
		TurnID:            p.TurnID,
		UserID:            p.UserID,
		Timestamp:         time.Now().UTC(),
		UserInput:         p.UserInput,
		AIResponse:        p.AIResponse,
		LegalDomain:       domain,
		CaseType:          p.CaseType,
		Jurisdiction:      p.Jurisdiction,
		Topics:            append([]string(nil), p.Topics...),
		SatisfactionScore: p.SatisfactionScore,
	}

	embedding, embedErr := m.embedWithRetry(ctx, rec.Text())

	if err := m.records.AppendInteraction(ctx, profile, rec); err != nil {
		return "", storageErr("append interaction", err)
	}

	if embedErr != nil {
		log.Printf("[LONGTERM] record %s stored without embedding: %v", rec.ID, embedErr)
		return rec.ID, nil
	}

	doc := Document{
		ID:   rec.ID,
		Text: rec.Text(),
		Metadata: map[string]string{
			core.MetaUserID:      rec.UserID,
			core.MetaLegalDomain: rec.LegalDomain,
			core.MetaCaseType:    rec.CaseType,
			core.MetaTurnID:      rec.TurnID,
			core.MetaTimestamp:   rec.Timestamp.Format(time.RFC3339Nano),
		},
		Embedding: embedding,
	}
	if err := m.vectors.Upsert(ctx, CollectionInteractions, doc); err != nil {
		log.Printf("[LONGTERM] index record %s failed, will re-embed later: %v", rec.ID, err)
		return rec.ID, nil
	}
	if err := m.records.SetEmbedding(ctx, rec.ID, embedding); err != nil {
		log.Printf("[LONGTERM] flag record %s embedded failed: %v", rec.ID, err)
	}
	return rec.ID, nil
}

// SearchInteractions ranks stored interactions by similarity to the
// query, optionally restricted to one user and/or one legal domain.
// An embedding failure downgrades the search to no results.
func (m *LongTermMemory) SearchInteractions(ctx context.Context, query string, opts SearchOptions) ([]InteractionResult, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = m.cfg.DefaultTopK
	}

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("[LONGTERM] embed query failed, degrading to no results: %v", err)
		return nil, nil
	}

	where := map[string]string{}
	if opts.UserID != "" {
		where[core.MetaUserID] = opts.UserID
	}
	if opts.LegalDomain != "" {
		where[core.MetaLegalDomain] = opts.LegalDomain
	}
	if len(where) == 0 {
		where = nil
	}

	results, err := m.vectors.Query(ctx, CollectionInteractions, embedding, topK, where)
	if err != nil {
		return nil, storageErr("search interactions", err)
	}

	hits := make([]InteractionResult, 0, len(results))
	for _, r := range results {
		rec, err := m.records.GetInteraction(ctx, r.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, storageErr("load interaction", err)
		}
		hits = append(hits, InteractionResult{Record: rec, Score: r.Score})
	}
	return hits, nil
}

// StoreConcept upserts a knowledge-base entry keyed by name. The
// definition is re-embedded on every call; an entry whose embedding
// fails is stored but stays out of semantic search until the next
// successful StoreConcept for that name.
func (m *LongTermMemory) StoreConcept(ctx context.Context, concept *core.LegalConcept) error {
	if concept == nil || strings.TrimSpace(concept.Name) == "" {
		return fmt.Errorf("memory: store concept: name required")
	}
	if strings.TrimSpace(concept.Definition) == "" {
		return fmt.Errorf("memory: store concept: definition required")
	}

	c := *concept
	c.UpdatedAt = time.Now().UTC()
	if err := m.records.PutConcept(ctx, &c); err != nil {
		return storageErr("put concept", err)
	}

	embedding, err := m.embedWithRetry(ctx, c.Text())
	if err != nil {
		log.Printf("[LONGTERM] concept %q stored without embedding: %v", c.Name, err)
		return nil
	}

	doc := Document{
		ID:   conceptDocID(c.Name),
		Text: c.Text(),
		Metadata: map[string]string{
			core.MetaConceptName: c.Name,
			core.MetaLegalDomain: c.LegalDomain,
		},
		Embedding: embedding,
	}
	if err := m.vectors.Upsert(ctx, CollectionLegalKnowledge, doc); err != nil {
		log.Printf("[LONGTERM] index concept %q failed: %v", c.Name, err)
	}
	return nil
}

// SearchConcepts ranks knowledge-base entries by similarity to the
// query, optionally restricted to one legal domain.
func (m *LongTermMemory) SearchConcepts(ctx context.Context, query string, topK int, domainFilter string) ([]ConceptResult, error) {
	if topK <= 0 {
		topK = m.cfg.DefaultTopK
	}

	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("[LONGTERM] embed query failed, degrading to no results: %v", err)
		return nil, nil
	}

	var where map[string]string
	if domainFilter != "" {
		where = map[string]string{core.MetaLegalDomain: domainFilter}
	}

	results, err := m.vectors.Query(ctx, CollectionLegalKnowledge, embedding, topK, where)
	if err != nil {
		return nil, storageErr("search concepts", err)
	}

	hits := make([]ConceptResult, 0, len(results))
	for _, r := range results {
		concept, err := m.records.GetConcept(ctx, r.Metadata[core.MetaConceptName])
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, storageErr("load concept", err)
		}
		hits = append(hits, ConceptResult{Concept: concept, Score: r.Score})
	}
	return hits, nil
}

// RelatedConcepts resolves a concept's related-name references against
// the knowledge base. Names that no longer resolve are skipped; the
// relation is a lookup, not an ownership link.
func (m *LongTermMemory) RelatedConcepts(ctx context.Context, name string) ([]*core.LegalConcept, error) {
	concept, err := m.records.GetConcept(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get concept", err)
	}

	var related []*core.LegalConcept
	for _, ref := range concept.RelatedConcepts {
		rc, err := m.records.GetConcept(ctx, ref)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, storageErr("get related concept", err)
		}
		related = append(related, rc)
	}
	return related, nil
}

// GetProfile returns the user's profile, creating and persisting a
// default one for a first-time user id.
func (m *LongTermMemory) GetProfile(ctx context.Context, userID string) (*core.UserProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("memory: get profile: user id required")
	}
	profile, err := m.records.GetProfile(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		profile = core.NewUserProfile(userID)
		if err := m.records.PutProfile(ctx, profile); err != nil {
			return nil, storageErr("create profile", err)
		}
		return profile, nil
	}
	if err != nil {
		return nil, storageErr("get profile", err)
	}
	return profile, nil
}

// UpdatePreferences merges preference entries into the user's profile.
func (m *LongTermMemory) UpdatePreferences(ctx context.Context, userID string, preferences map[string]string) error {
	profile, err := m.profileOrDefault(ctx, userID)
	if err != nil {
		return err
	}
	for k, v := range preferences {
		profile.Preferences[k] = v
	}
	profile.LastActive = time.Now().UTC()
	if err := m.records.PutProfile(ctx, profile); err != nil {
		return storageErr("put profile", err)
	}
	return nil
}

// UpdateExpertise sets the user's expertise level and merges in the
// legal domains they work with.
func (m *LongTermMemory) UpdateExpertise(ctx context.Context, userID string, level core.ExpertiseLevel, legalDomains []string) error {
	if !level.Valid() {
		return fmt.Errorf("memory: invalid expertise level %q", level)
	}
	profile, err := m.profileOrDefault(ctx, userID)
	if err != nil {
		return err
	}
	profile.ExpertiseLevel = level
	for _, d := range legalDomains {
		if d != "" && !profile.TouchesDomain(d) {
			profile.LegalDomains = append(profile.LegalDomains, d)
		}
	}
	profile.LastActive = time.Now().UTC()
	if err := m.records.PutProfile(ctx, profile); err != nil {
		return storageErr("put profile", err)
	}
	return nil
}

// History returns the user's most recent interactions, newest first,
// optionally filtered by legal domain.
func (m *LongTermMemory) History(ctx context.Context, userID, legalDomain string, limit int) ([]*core.InteractionRecord, error) {
	recs, err := m.records.ListInteractions(ctx, userID, legalDomain, limit)
	if err != nil {
		return nil, storageErr("list interactions", err)
	}
	return recs, nil
}

// Analytics aggregates over stored records; empty userID means global.
// Computed from the record store on every call, never cached.
func (m *LongTermMemory) Analytics(ctx context.Context, userID string) (*core.Analytics, error) {
	a, err := m.records.Analytics(ctx, userID)
	if err != nil {
		return nil, storageErr("analytics", err)
	}
	return a, nil
}

// ReembedMissing retries records that were persisted without a usable
// embedding and restores them to semantic search. Returns how many
// records were recovered; individual failures are logged and left for
// the next pass.
func (m *LongTermMemory) ReembedMissing(ctx context.Context) (int, error) {
	recs, err := m.records.ListUnembedded(ctx, m.cfg.ReembedBatch)
	if err != nil {
		return 0, storageErr("list unembedded", err)
	}

	recovered := 0
	for _, rec := range recs {
		embedding, err := m.embedder.Embed(ctx, rec.Text())
		if err != nil {
			log.Printf("[LONGTERM] re-embed record %s failed: %v", rec.ID, err)
			continue
		}
		doc := Document{
			ID:   rec.ID,
			Text: rec.Text(),
			Metadata: map[string]string{
				core.MetaUserID:      rec.UserID,
				core.MetaLegalDomain: rec.LegalDomain,
				core.MetaCaseType:    rec.CaseType,
				core.MetaTurnID:      rec.TurnID,
				core.MetaTimestamp:   rec.Timestamp.Format(time.RFC3339Nano),
			},
			Embedding: embedding,
		}
		if err := m.vectors.Upsert(ctx, CollectionInteractions, doc); err != nil {
			log.Printf("[LONGTERM] re-index record %s failed: %v", rec.ID, err)
			continue
		}
		if err := m.records.SetEmbedding(ctx, rec.ID, embedding); err != nil {
			log.Printf("[LONGTERM] flag record %s embedded failed: %v", rec.ID, err)
			continue
		}
		recovered++
	}
	return recovered, nil
}

// profileOrDefault loads the profile or builds an in-memory default for
// a first-time user; it does not persist the default (the caller's
// write does).
func (m *LongTermMemory) profileOrDefault(ctx context.Context, userID string) (*core.UserProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("memory: user id required")
	}
	profile, err := m.records.GetProfile(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return core.NewUserProfile(userID), nil
	}
	if err != nil {
		return nil, storageErr("get profile", err)
	}
	return profile, nil
}

// embedWithRetry attempts the embedding twice before giving up.
func (m *LongTermMemory) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	embedding, err := m.embedder.Embed(ctx, text)
	if err == nil {
		return embedding, nil
	}
	log.Printf("[LONGTERM] embed failed, retrying once: %v", err)
	return m.embedder.Embed(ctx, text)
}

func conceptDocID(name string) string {
	return "concept:" + strings.ToLower(strings.TrimSpace(name))
}
