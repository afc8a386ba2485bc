// Package chromem implements the vector store over chromem-go, a pure
// Go embedded vector database. It is the default backend: no server, no
// cgo, optional persistence to disk.
package chromem

import (
	"context"
	"fmt"
	"log"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/lexassist/lexgo/memory"
)

// Store wraps chromem-go behind the memory.VectorStore interface.
// Collections are created lazily on first use.
type Store struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

var _ memory.VectorStore = (*Store)(nil)

// New creates an in-memory store. Contents die with the process.
func New() *Store {
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

// NewPersistent creates a store backed by an on-disk database at path.
func NewPersistent(path string) (*Store, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	return &Store{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (s *Store) collection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[name]
	s.mu.RUnlock()
	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[name]; exists {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection(
		name,
		nil, // no collection metadata
		nil, // no embedding func, callers provide embeddings
	)
	if err != nil {
		return nil, fmt.Errorf("create collection %q: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

// Upsert stores a document; chromem replaces documents by id.
func (s *Store) Upsert(ctx context.Context, collection string, doc memory.Document) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:        doc.ID,
		Content:   doc.Text,
		Embedding: doc.Embedding,
		Metadata:  doc.Metadata,
	})
	if err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Query returns up to topK nearest documents, highest similarity first.
// chromem rejects result counts above the collection size, so topK is
// clamped down; an empty collection yields an empty result.
func (s *Store) Query(ctx context.Context, collection string, embedding []float32, topK int, where map[string]string) ([]memory.Result, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	if n := col.Count(); n < topK {
		topK = n
	}
	if topK <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	log.Printf("[CHROMEM] %s: %d results", collection, len(results))

	out := make([]memory.Result, 0, len(results))
	for _, r := range results {
		out = append(out, memory.Result{
			Document: memory.Document{
				ID:        r.ID,
				Text:      r.Content,
				Embedding: r.Embedding,
				Metadata:  r.Metadata,
			},
			Score: r.Similarity,
		})
	}
	return out, nil
}

// DeleteCollection drops a collection; missing collections are a no-op.
func (s *Store) DeleteCollection(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("delete collection %q: %w", collection, err)
	}
	delete(s.collections, collection)
	return nil
}

// Close releases resources. The in-memory variant has nothing to flush;
// the persistent variant writes through on every operation.
func (s *Store) Close() error {
	return nil
}
