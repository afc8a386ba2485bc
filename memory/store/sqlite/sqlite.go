// Package sqlite implements the record store on embedded SQLite via the
// cgo-free modernc.org driver: user profiles, interaction records, legal
// concepts and the SQL aggregates behind analytics.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lexassist/lexgo/core"
	"github.com/lexassist/lexgo/memory"
)

// Store is a SQLite-backed memory.RecordStore.
type Store struct {
	db *sql.DB
}

var _ memory.RecordStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS user_profiles (
	user_id            TEXT PRIMARY KEY,
	created_at         TEXT NOT NULL,
	last_active        TEXT NOT NULL,
	preferences        TEXT NOT NULL DEFAULT '{}',
	expertise_level    TEXT NOT NULL DEFAULT 'beginner',
	legal_domains      TEXT NOT NULL DEFAULT '[]',
	interaction_count  INTEGER NOT NULL DEFAULT 0,
	satisfaction_avg   REAL NOT NULL DEFAULT 0,
	satisfaction_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS interactions (
	id                 TEXT PRIMARY KEY,
	turn_id            TEXT NOT NULL DEFAULT '',
	user_id            TEXT NOT NULL REFERENCES user_profiles(user_id),
	timestamp          TEXT NOT NULL,
	user_input         TEXT NOT NULL,
	ai_response        TEXT NOT NULL,
	legal_domain       TEXT NOT NULL DEFAULT 'uncategorized',
	case_type          TEXT NOT NULL DEFAULT '',
	jurisdiction       TEXT NOT NULL DEFAULT '',
	topics             TEXT NOT NULL DEFAULT '[]',
	satisfaction_score REAL,
	embedding          BLOB,
	embedded           INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions(user_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_interactions_domain ON interactions(legal_domain);
CREATE INDEX IF NOT EXISTS idx_interactions_embedded ON interactions(embedded) WHERE embedded = 0;

CREATE TABLE IF NOT EXISTS legal_concepts (
	name             TEXT PRIMARY KEY COLLATE NOCASE,
	definition       TEXT NOT NULL,
	legal_domain     TEXT NOT NULL DEFAULT '',
	examples         TEXT NOT NULL DEFAULT '[]',
	related_concepts TEXT NOT NULL DEFAULT '[]',
	updated_at       TEXT NOT NULL
);
`

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database in tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer, and a single pooled connection keeps
	// :memory: databases coherent across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// GetProfile loads a user profile; memory.ErrNotFound for unknown users.
func (s *Store) GetProfile(ctx context.Context, userID string) (*core.UserProfile, error) {
	return readProfile(ctx, s.db, userID)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readProfile(ctx context.Context, q rowQuerier, userID string) (*core.UserProfile, error) {
	row := q.QueryRowContext(ctx, `
		SELECT user_id, created_at, last_active, preferences, expertise_level,
		       legal_domains, interaction_count, satisfaction_avg, satisfaction_count
		FROM user_profiles WHERE user_id = ?`, userID)
	return scanProfile(row)
}

// PutProfile inserts or replaces a user profile.
func (s *Store) PutProfile(ctx context.Context, profile *core.UserProfile) error {
	return s.writeProfile(ctx, s.db, profile)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) writeProfile(ctx context.Context, ex execer, p *core.UserProfile) error {
	prefs, err := json.Marshal(p.Preferences)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	domains, err := json.Marshal(p.LegalDomains)
	if err != nil {
		return fmt.Errorf("marshal legal domains: %w", err)
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO user_profiles
			(user_id, created_at, last_active, preferences, expertise_level,
			 legal_domains, interaction_count, satisfaction_avg, satisfaction_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			last_active        = excluded.last_active,
			preferences        = excluded.preferences,
			expertise_level    = excluded.expertise_level,
			legal_domains      = excluded.legal_domains,
			interaction_count  = excluded.interaction_count,
			satisfaction_avg   = excluded.satisfaction_avg,
			satisfaction_count = excluded.satisfaction_count`,
		p.UserID, fmtTime(p.CreatedAt), fmtTime(p.LastActive), string(prefs),
		string(p.ExpertiseLevel), string(domains), p.InteractionCount,
		p.SatisfactionAvg, p.SatisfactionCount)
	if err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

// AppendInteraction persists the new record and applies its bookkeeping
// to the profile in one transaction. The profile row is re-read inside
// the transaction so concurrent appends for the same user never lose a
// count bump to a stale caller-side copy; the given profile only
// supplies the defaults for a first-time user.
func (s *Store) AppendInteraction(ctx context.Context, profile *core.UserProfile, rec *core.InteractionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := readProfile(ctx, tx, profile.UserID)
	if errors.Is(err, memory.ErrNotFound) {
		current = profile.Clone()
	} else if err != nil {
		return err
	}
	current.RecordInteraction(rec.Timestamp, rec.LegalDomain, rec.SatisfactionScore)
	if err := s.writeProfile(ctx, tx, current); err != nil {
		return err
	}

	topics, err := json.Marshal(rec.Topics)
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}
	var embedding []byte
	if rec.Embedded {
		embedding = core.EncodeVector(rec.Embedding)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO interactions
			(id, turn_id, user_id, timestamp, user_input, ai_response,
			 legal_domain, case_type, jurisdiction, topics, satisfaction_score,
			 embedding, embedded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TurnID, rec.UserID, fmtTime(rec.Timestamp), rec.UserInput,
		rec.AIResponse, rec.LegalDomain, rec.CaseType, rec.Jurisdiction,
		string(topics), rec.SatisfactionScore, embedding, rec.Embedded)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}

	return tx.Commit()
}

const interactionColumns = `id, turn_id, user_id, timestamp, user_input, ai_response,
	legal_domain, case_type, jurisdiction, topics, satisfaction_score, embedding, embedded`

// GetInteraction loads one record by id; memory.ErrNotFound when absent.
func (s *Store) GetInteraction(ctx context.Context, id string) (*core.InteractionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id)
	return scanInteraction(row)
}

// ListInteractions returns a user's records newest first, optionally
// filtered by legal domain. limit <= 0 means no limit.
func (s *Store) ListInteractions(ctx context.Context, userID, legalDomain string, limit int) ([]*core.InteractionRecord, error) {
	query := `SELECT ` + interactionColumns + ` FROM interactions WHERE user_id = ?`
	args := []any{userID}
	if legalDomain != "" {
		query += ` AND legal_domain = ?`
		args = append(args, legalDomain)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryInteractions(ctx, query, args...)
}

// ListUnembedded returns records stored without a usable embedding,
// oldest first.
func (s *Store) ListUnembedded(ctx context.Context, limit int) ([]*core.InteractionRecord, error) {
	query := `SELECT ` + interactionColumns + ` FROM interactions WHERE embedded = 0 ORDER BY timestamp ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryInteractions(ctx, query, args...)
}

// SetEmbedding attaches an embedding to a record and flags it embedded.
func (s *Store) SetEmbedding(ctx context.Context, recordID string, embedding []float32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE interactions SET embedding = ?, embedded = 1 WHERE id = ?`,
		core.EncodeVector(embedding), recordID)
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// PutConcept inserts or replaces a concept, keyed case-insensitively by
// name.
func (s *Store) PutConcept(ctx context.Context, concept *core.LegalConcept) error {
	examples, err := json.Marshal(concept.Examples)
	if err != nil {
		return fmt.Errorf("marshal examples: %w", err)
	}
	related, err := json.Marshal(concept.RelatedConcepts)
	if err != nil {
		return fmt.Errorf("marshal related concepts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO legal_concepts (name, definition, legal_domain, examples, related_concepts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			definition       = excluded.definition,
			legal_domain     = excluded.legal_domain,
			examples         = excluded.examples,
			related_concepts = excluded.related_concepts,
			updated_at       = excluded.updated_at`,
		concept.Name, concept.Definition, concept.LegalDomain,
		string(examples), string(related), fmtTime(concept.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put concept: %w", err)
	}
	return nil
}

// GetConcept loads a concept by name, case-insensitively;
// memory.ErrNotFound when absent.
func (s *Store) GetConcept(ctx context.Context, name string) (*core.LegalConcept, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, definition, legal_domain, examples, related_concepts, updated_at
		FROM legal_concepts WHERE name = ?`, name)

	var c core.LegalConcept
	var examples, related, updatedAt string
	err := row.Scan(&c.Name, &c.Definition, &c.LegalDomain, &examples, &related, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get concept: %w", err)
	}
	if err := json.Unmarshal([]byte(examples), &c.Examples); err != nil {
		return nil, fmt.Errorf("unmarshal examples: %w", err)
	}
	if err := json.Unmarshal([]byte(related), &c.RelatedConcepts); err != nil {
		return nil, fmt.Errorf("unmarshal related concepts: %w", err)
	}
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// Analytics aggregates over stored records; empty userID means global.
func (s *Store) Analytics(ctx context.Context, userID string) (*core.Analytics, error) {
	a := &core.Analytics{UserID: userID, DomainCounts: make(map[string]int)}

	where := ""
	args := []any{}
	if userID != "" {
		where = " WHERE user_id = ?"
		args = append(args, userID)
	}

	var first, last sql.NullString
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(satisfaction_score), COALESCE(AVG(satisfaction_score), 0),
		       MIN(timestamp), MAX(timestamp)
		FROM interactions`+where, args...)
	if err := row.Scan(&a.TotalInteractions, &a.ScoredInteractions, &a.AverageSatisfaction, &first, &last); err != nil {
		return nil, fmt.Errorf("aggregate interactions: %w", err)
	}
	if first.Valid {
		a.FirstInteraction = parseTime(first.String)
	}
	if last.Valid {
		a.LastInteraction = parseTime(last.String)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT legal_domain, COUNT(*) FROM interactions`+where+` GROUP BY legal_domain`, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate domains: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var domain string
		var n int
		if err := rows.Scan(&domain, &n); err != nil {
			return nil, fmt.Errorf("scan domain count: %w", err)
		}
		a.DomainCounts[domain] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate domains: %w", err)
	}

	if userID == "" {
		row := s.db.QueryRowContext(ctx, `
			SELECT (SELECT COUNT(*) FROM user_profiles),
			       (SELECT COUNT(*) FROM legal_concepts)`)
		if err := row.Scan(&a.TotalUsers, &a.TotalConcepts); err != nil {
			return nil, fmt.Errorf("aggregate totals: %w", err)
		}
	}
	return a, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) queryInteractions(ctx context.Context, query string, args ...any) ([]*core.InteractionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	var recs []*core.InteractionRecord
	for rows.Next() {
		rec, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	return recs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (*core.UserProfile, error) {
	var p core.UserProfile
	var createdAt, lastActive, prefs, domains string
	err := row.Scan(&p.UserID, &createdAt, &lastActive, &prefs, &p.ExpertiseLevel,
		&domains, &p.InteractionCount, &p.SatisfactionAvg, &p.SatisfactionCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	if err := json.Unmarshal([]byte(prefs), &p.Preferences); err != nil {
		return nil, fmt.Errorf("unmarshal preferences: %w", err)
	}
	if err := json.Unmarshal([]byte(domains), &p.LegalDomains); err != nil {
		return nil, fmt.Errorf("unmarshal legal domains: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	p.LastActive = parseTime(lastActive)
	return &p, nil
}

func scanInteraction(row scanner) (*core.InteractionRecord, error) {
	var rec core.InteractionRecord
	var timestamp, topics string
	var score sql.NullFloat64
	var embedding []byte
	err := row.Scan(&rec.ID, &rec.TurnID, &rec.UserID, &timestamp, &rec.UserInput,
		&rec.AIResponse, &rec.LegalDomain, &rec.CaseType, &rec.Jurisdiction,
		&topics, &score, &embedding, &rec.Embedded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan interaction: %w", err)
	}
	if err := json.Unmarshal([]byte(topics), &rec.Topics); err != nil {
		return nil, fmt.Errorf("unmarshal topics: %w", err)
	}
	if score.Valid {
		v := score.Float64
		rec.SatisfactionScore = &v
	}
	if len(embedding) > 0 {
		rec.Embedding = core.DecodeVector(embedding)
	}
	rec.Timestamp = parseTime(timestamp)
	return &rec, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime is lenient about precision so rows written by other tools
// still scan.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
