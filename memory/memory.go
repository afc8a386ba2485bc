package memory

import (
	"context"

	"github.com/lexassist/lexgo/core"
)

// Collection names used by the memory system. Session collections are
// ephemeral and dropped when the session ends; the other two are durable.
const (
	CollectionInteractions   = "interactions"
	CollectionLegalKnowledge = "legal_knowledge"

	sessionCollectionPrefix = "session_"
)

// SessionCollection returns the per-session collection name for turns.
func SessionCollection(sessionID string) string {
	return sessionCollectionPrefix + sessionID
}

// Embedder converts text to vector embeddings.
// Implementations: MockEmbedder (testing/local), ONNXEmbedder (local model),
// hosted embedding APIs (production).
//
// Repeated calls on identical text must yield stable vectors within one
// process run; semantic search relies on self-similarity being maximal.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Document is one entry in a vector store collection.
type Document struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

// Result is a document returned from a similarity query, with its score.
// Higher scores are more similar.
type Result struct {
	Document
	Score float32
}

// VectorStore is the similarity-search backend, namespaced into named
// collections. Implementations: ChromemStore (embedded), PgVectorStore
// (PostgreSQL/pgvector).
type VectorStore interface {
	// Upsert stores a document, replacing any document with the same id
	// in the collection. The embedding must be set by the caller.
	Upsert(ctx context.Context, collection string, doc Document) error

	// Query returns up to topK documents most similar to the embedding,
	// highest score first. A non-nil where map restricts results to
	// documents whose metadata contains every given key/value pair.
	Query(ctx context.Context, collection string, embedding []float32, topK int, where map[string]string) ([]Result, error)

	// DeleteCollection drops a collection and everything in it.
	// Dropping a collection that does not exist is not an error.
	DeleteCollection(ctx context.Context, collection string) error

	// Close releases resources.
	Close() error
}

// RecordStore is the structured backend for exact-field lookups: user
// profiles, interaction records, legal concepts and analytics.
// Implementations: SQLiteStore (embedded).
//
// Lookups of missing entities return ErrNotFound.
type RecordStore interface {
	GetProfile(ctx context.Context, userID string) (*core.UserProfile, error)
	PutProfile(ctx context.Context, profile *core.UserProfile) error

	// AppendInteraction persists the new record and applies its
	// bookkeeping (interaction count, last-active, domain merge,
	// satisfaction mean) to the stored profile as one unit: if either
	// half fails, neither is committed. The bookkeeping must be applied
	// against the store's own current profile state, not the given
	// profile, so concurrent appends for one user never lose updates;
	// the given profile supplies the defaults for a first-time user.
	AppendInteraction(ctx context.Context, profile *core.UserProfile, rec *core.InteractionRecord) error

	GetInteraction(ctx context.Context, id string) (*core.InteractionRecord, error)
	ListInteractions(ctx context.Context, userID, legalDomain string, limit int) ([]*core.InteractionRecord, error)

	// ListUnembedded returns records persisted without a usable embedding,
	// oldest first, for re-embedding.
	ListUnembedded(ctx context.Context, limit int) ([]*core.InteractionRecord, error)

	// SetEmbedding attaches an embedding to a previously unembedded record.
	SetEmbedding(ctx context.Context, recordID string, embedding []float32) error

	PutConcept(ctx context.Context, concept *core.LegalConcept) error
	GetConcept(ctx context.Context, name string) (*core.LegalConcept, error)

	// Analytics aggregates over stored records; empty userID means global.
	Analytics(ctx context.Context, userID string) (*core.Analytics, error)

	Close() error
}
