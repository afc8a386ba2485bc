package memory_test

import (
	"context"
	"errors"
	"sort"

	"github.com/lexassist/lexgo/core"
	"github.com/lexassist/lexgo/memory"
)

// flakyEmbedder wraps a real embedder and fails the next n calls.
// n < 0 fails every call.
type flakyEmbedder struct {
	inner memory.Embedder
	fail  int
}

var errEmbedderDown = errors.New("embedder offline")

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.fail != 0 {
		if f.fail > 0 {
			f.fail--
		}
		return nil, errEmbedderDown
	}
	return f.inner.Embed(ctx, text)
}

func (f *flakyEmbedder) Dimensions() int { return f.inner.Dimensions() }

// failVectors errors on every operation, for degradation tests.
type failVectors struct{}

var errVectorsDown = errors.New("vector store down")

func (failVectors) Upsert(context.Context, string, memory.Document) error { return errVectorsDown }
func (failVectors) Query(context.Context, string, []float32, int, map[string]string) ([]memory.Result, error) {
	return nil, errVectorsDown
}
func (failVectors) DeleteCollection(context.Context, string) error { return errVectorsDown }
func (failVectors) Close() error                                   { return nil }

// fakeRecords is an in-memory memory.RecordStore with failure switches.
type fakeRecords struct {
	profiles     map[string]*core.UserProfile
	interactions map[string]*core.InteractionRecord
	order        []string
	concepts     map[string]*core.LegalConcept

	failAppend bool
	failAll    bool
}

var errRecordsDown = errors.New("record store down")

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		profiles:     make(map[string]*core.UserProfile),
		interactions: make(map[string]*core.InteractionRecord),
		concepts:     make(map[string]*core.LegalConcept),
	}
}

func (s *fakeRecords) GetProfile(ctx context.Context, userID string) (*core.UserProfile, error) {
	if s.failAll {
		return nil, errRecordsDown
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil, memory.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *fakeRecords) PutProfile(ctx context.Context, profile *core.UserProfile) error {
	if s.failAll {
		return errRecordsDown
	}
	s.profiles[profile.UserID] = profile.Clone()
	return nil
}

func (s *fakeRecords) AppendInteraction(ctx context.Context, profile *core.UserProfile, rec *core.InteractionRecord) error {
	if s.failAll || s.failAppend {
		return errRecordsDown
	}
	// bookkeeping runs against the stored profile, not the caller's copy
	stored, ok := s.profiles[profile.UserID]
	if ok {
		stored = stored.Clone()
	} else {
		stored = profile.Clone()
	}
	stored.RecordInteraction(rec.Timestamp, rec.LegalDomain, rec.SatisfactionScore)
	s.profiles[profile.UserID] = stored
	cp := *rec
	s.interactions[rec.ID] = &cp
	s.order = append(s.order, rec.ID)
	return nil
}

func (s *fakeRecords) GetInteraction(ctx context.Context, id string) (*core.InteractionRecord, error) {
	if s.failAll {
		return nil, errRecordsDown
	}
	rec, ok := s.interactions[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeRecords) ListInteractions(ctx context.Context, userID, legalDomain string, limit int) ([]*core.InteractionRecord, error) {
	if s.failAll {
		return nil, errRecordsDown
	}
	var out []*core.InteractionRecord
	for _, id := range s.order {
		rec := s.interactions[id]
		if rec.UserID != userID {
			continue
		}
		if legalDomain != "" && rec.LegalDomain != legalDomain {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeRecords) ListUnembedded(ctx context.Context, limit int) ([]*core.InteractionRecord, error) {
	if s.failAll {
		return nil, errRecordsDown
	}
	var out []*core.InteractionRecord
	for _, id := range s.order {
		rec := s.interactions[id]
		if rec.Embedded {
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeRecords) SetEmbedding(ctx context.Context, recordID string, embedding []float32) error {
	if s.failAll {
		return errRecordsDown
	}
	rec, ok := s.interactions[recordID]
	if !ok {
		return memory.ErrNotFound
	}
	rec.Embedding = append([]float32(nil), embedding...)
	rec.Embedded = true
	return nil
}

func (s *fakeRecords) PutConcept(ctx context.Context, concept *core.LegalConcept) error {
	if s.failAll {
		return errRecordsDown
	}
	cp := *concept
	s.concepts[concept.Name] = &cp
	return nil
}

func (s *fakeRecords) GetConcept(ctx context.Context, name string) (*core.LegalConcept, error) {
	if s.failAll {
		return nil, errRecordsDown
	}
	c, ok := s.concepts[name]
	if !ok {
		return nil, memory.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeRecords) Analytics(ctx context.Context, userID string) (*core.Analytics, error) {
	if s.failAll {
		return nil, errRecordsDown
	}
	a := &core.Analytics{UserID: userID, DomainCounts: make(map[string]int)}
	var sum float64
	for _, id := range s.order {
		rec := s.interactions[id]
		if userID != "" && rec.UserID != userID {
			continue
		}
		a.TotalInteractions++
		a.DomainCounts[rec.LegalDomain]++
		if rec.SatisfactionScore != nil {
			a.ScoredInteractions++
			sum += *rec.SatisfactionScore
		}
		if a.FirstInteraction.IsZero() || rec.Timestamp.Before(a.FirstInteraction) {
			a.FirstInteraction = rec.Timestamp
		}
		if rec.Timestamp.After(a.LastInteraction) {
			a.LastInteraction = rec.Timestamp
		}
	}
	if a.ScoredInteractions > 0 {
		a.AverageSatisfaction = sum / float64(a.ScoredInteractions)
	}
	if userID == "" {
		a.TotalUsers = len(s.profiles)
		a.TotalConcepts = len(s.concepts)
	}
	return a, nil
}

func (s *fakeRecords) Close() error { return nil }

// staleProfileRecords serves every GetProfile from one fixed snapshot,
// imitating sessions that all read the profile before any of them
// stored an interaction.
type staleProfileRecords struct {
	*fakeRecords
	snapshot *core.UserProfile
}

func (s *staleProfileRecords) GetProfile(ctx context.Context, userID string) (*core.UserProfile, error) {
	if s.snapshot != nil && userID == s.snapshot.UserID {
		return s.snapshot.Clone(), nil
	}
	return s.fakeRecords.GetProfile(ctx, userID)
}
