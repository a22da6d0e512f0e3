package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/pulsewire/newsfuse/internal/headline"
	"github.com/pulsewire/newsfuse/internal/source"
	apperrors "github.com/pulsewire/newsfuse/pkg/errors"
	"github.com/pulsewire/newsfuse/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	dedup_key           CHAR(32) PRIMARY KEY,
	headline            TEXT NOT NULL,
	normalized_headline TEXT NOT NULL,
	sources             TEXT[] NOT NULL,
	source_attribution  JSONB NOT NULL DEFAULT '{}'::jsonb,
	matched_symbols     TEXT[] NOT NULL DEFAULT '{}',
	status              TEXT NOT NULL DEFAULT 'pending',
	sentiment           TEXT,
	score               DOUBLE PRECISION,
	snippet             TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS articles_status_idx ON articles (status);
CREATE INDEX IF NOT EXISTS articles_expires_at_idx ON articles (expires_at);
`

// appendSourceQuery atomically appends a source to an existing canonical
// record. The self-join against a FOR UPDATE snapshot exposes the pre-merge
// sources list so the caller can tell a genuine collision from a re-merge of
// the same source.
const appendSourceQuery = `
UPDATE articles SET
	sources = CASE WHEN $2 = ANY(articles.sources) THEN articles.sources ELSE articles.sources || $2 END,
	source_attribution = articles.source_attribution || $3::jsonb,
	matched_symbols = ARRAY(SELECT DISTINCT s FROM unnest(articles.matched_symbols || $4::text[]) AS s ORDER BY s),
	updated_at = now()
FROM (SELECT dedup_key, sources AS prev_sources FROM articles WHERE dedup_key = $1 FOR UPDATE) prev
WHERE articles.dedup_key = prev.dedup_key
RETURNING $2 = ANY(prev.prev_sources)`

// createArticleQuery inserts the first sighting of a dedup key. ON CONFLICT
// DO NOTHING makes the database arbitrate creation races; losing the race
// returns no row and the caller retries down the append path.
const createArticleQuery = `
INSERT INTO articles (
	dedup_key, headline, normalized_headline, sources, source_attribution,
	matched_symbols, status, snippet, created_at, updated_at, expires_at
) VALUES (
	$1, $2, $3, ARRAY[$4], $5::jsonb,
	$6::text[], 'pending', $7, now(), now(), now() + make_interval(secs => $8)
)
ON CONFLICT (dedup_key) DO NOTHING
RETURNING dedup_key`

// Store is the canonical article store backed by PostgreSQL.
type Store struct {
	db     *postgres.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a Store that stamps new articles with the given retention TTL.
func New(db *postgres.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Store{
		db:     db,
		ttl:    ttl,
		logger: slog.Default().With("component", "article-store"),
	}
}

// EnsureSchema creates the articles table and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating articles schema: %w", err)
	}
	return nil
}

// UpsertFromRaw merges one raw article into the canonical store: it appends
// source attribution to the record for the article's dedup key, creating the
// record on first sighting. A transient create race surfaces as
// ErrStoreConflict and is retried once locally before being wrapped in
// ErrMergeFailed. Raw articles whose headline normalizes to empty are
// rejected with ErrMalformedHeadline before touching the store.
func (s *Store) UpsertFromRaw(ctx context.Context, raw source.RawArticle) (MergeResult, error) {
	key, err := headline.DedupKey(raw.Headline, raw.PublishedAt)
	if err != nil {
		return MergeResult{}, err
	}

	attribution, err := json.Marshal(map[string]Attribution{
		raw.SourceName: {
			SourceArticleID:  raw.SourceArticleID,
			URL:              raw.URL,
			CrawlTimestamp:   time.Now().UTC(),
			OriginalHeadline: raw.Headline,
		},
	})
	if err != nil {
		return MergeResult{}, fmt.Errorf("marshaling attribution: %w", err)
	}

	result, err := s.tryUpsert(ctx, key, raw, attribution)
	if errors.Is(err, apperrors.ErrStoreConflict) {
		// Lost the first-sighting race; the record now exists, so a single
		// local retry lands on the append path.
		s.logger.Debug("create race lost, retrying merge", "dedup_key", key, "source", raw.SourceName)
		result, err = s.tryUpsert(ctx, key, raw, attribution)
	}
	if err != nil {
		return MergeResult{}, fmt.Errorf("%w: key %s: %v", apperrors.ErrMergeFailed, key, err)
	}
	return result, nil
}

func (s *Store) tryUpsert(ctx context.Context, key string, raw source.RawArticle, attribution []byte) (MergeResult, error) {
	var alreadyPresent bool
	err := s.db.DB.QueryRowContext(ctx, appendSourceQuery,
		key, raw.SourceName, attribution, pq.Array(raw.Symbols),
	).Scan(&alreadyPresent)
	if err == nil {
		collision := !alreadyPresent
		if collision {
			s.logger.Info("dedup collision detected",
				"dedup_key", key,
				"source", raw.SourceName,
				"headline", raw.Headline,
			)
		}
		return MergeResult{DedupKey: key, Outcome: OutcomeUpdated, Collision: collision}, nil
	}
	if err != sql.ErrNoRows {
		return MergeResult{}, fmt.Errorf("appending source: %w", err)
	}

	// No record yet: attempt the first-sighting insert.
	var insertedKey string
	err = s.db.DB.QueryRowContext(ctx, createArticleQuery,
		key, raw.Headline, headline.Normalize(raw.Headline), raw.SourceName,
		attribution, pq.Array(raw.Symbols), raw.Snippet, s.ttl.Seconds(),
	).Scan(&insertedKey)
	if err == sql.ErrNoRows {
		// A concurrent merge created the record between our UPDATE and
		// INSERT; the retry takes the append path.
		return MergeResult{}, apperrors.ErrStoreConflict
	}
	if err != nil {
		return MergeResult{}, fmt.Errorf("creating article: %w", err)
	}
	return MergeResult{DedupKey: key, Outcome: OutcomeCreated}, nil
}

// GetByKey loads one canonical article.
func (s *Store) GetByKey(ctx context.Context, key string) (*Article, error) {
	row := s.db.DB.QueryRowContext(ctx, `
		SELECT dedup_key, headline, normalized_headline, sources, source_attribution,
		       matched_symbols, status, COALESCE(sentiment, ''), score, snippet,
		       created_at, updated_at, expires_at
		FROM articles WHERE dedup_key = $1`, key)

	var a Article
	var attribution []byte
	var status string
	err := row.Scan(
		&a.DedupKey, &a.Headline, &a.NormalizedHeadline,
		pq.Array(&a.Sources), &attribution,
		pq.Array(&a.MatchedSymbols), &status, &a.Sentiment, &a.Score, &a.Snippet,
		&a.CreatedAt, &a.UpdatedAt, &a.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrArticleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading article %s: %w", key, err)
	}
	a.Status = Status(status)
	if err := json.Unmarshal(attribution, &a.Attribution); err != nil {
		return nil, fmt.Errorf("unmarshaling attribution for %s: %w", key, err)
	}
	return &a, nil
}

// MarkAnalyzed records the downstream sentiment result for an article.
func (s *Store) MarkAnalyzed(ctx context.Context, key, sentiment string, score float64) error {
	return s.setStatus(ctx, key, `
		UPDATE articles SET status = 'analyzed', sentiment = $2, score = $3, updated_at = now()
		WHERE dedup_key = $1`, key, sentiment, score)
}

// MarkError flags an article whose downstream analysis failed.
func (s *Store) MarkError(ctx context.Context, key string) error {
	return s.setStatus(ctx, key, `
		UPDATE articles SET status = 'error', updated_at = now()
		WHERE dedup_key = $1`, key)
}

func (s *Store) setStatus(ctx context.Context, key, query string, args ...any) error {
	res, err := s.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating article %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating article %s: %w", key, err)
	}
	if n == 0 {
		return apperrors.ErrArticleNotFound
	}
	return nil
}

// DeleteExpired removes articles past their retention timestamp and returns
// the number deleted.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx, `DELETE FROM articles WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("deleting expired articles: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleting expired articles: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired articles removed", "count", n)
	}
	return n, nil
}
