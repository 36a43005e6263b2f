package evidence

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Pool is the subset of pgxpool.Pool the index uses; pgxmock satisfies it
// in tests.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresIndex implements Index on pgx for deployments where workers on
// several hosts share one evidence store. Retrieval uses Postgres
// full-text search over normalized chunk text.
type PostgresIndex struct {
	pool    Pool
	closeFn func()
}

// NewPostgres connects a pooled Postgres index.
func NewPostgres(ctx context.Context, connString string) (*PostgresIndex, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "evidence: connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "evidence: ping postgres")
	}
	return &PostgresIndex{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id         TEXT PRIMARY KEY,
	content_hash   TEXT NOT NULL,
	parser_version TEXT NOT NULL,
	url            TEXT NOT NULL DEFAULT '',
	host           TEXT NOT NULL DEFAULT '',
	tier           INTEGER NOT NULL DEFAULT 0,
	role           TEXT NOT NULL DEFAULT '',
	category       TEXT NOT NULL,
	product_id     TEXT NOT NULL,
	dedupe_outcome TEXT NOT NULL,
	reuse_count    INTEGER NOT NULL DEFAULT 0,
	indexed_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (content_hash, parser_version)
);

CREATE TABLE IF NOT EXISTS chunks (
	id              BIGSERIAL PRIMARY KEY,
	doc_id          TEXT NOT NULL REFERENCES documents(doc_id),
	snippet_id      TEXT NOT NULL,
	chunk_index     INTEGER NOT NULL,
	text            TEXT NOT NULL,
	normalized_text TEXT NOT NULL,
	field_hints     TEXT NOT NULL DEFAULT '',
	search_vector   TSVECTOR,
	UNIQUE (doc_id, snippet_id)
);

CREATE TABLE IF NOT EXISTS facts (
	id               BIGSERIAL PRIMARY KEY,
	chunk_id         BIGINT NOT NULL REFERENCES chunks(id),
	doc_id           TEXT NOT NULL REFERENCES documents(doc_id),
	field_key        TEXT NOT NULL,
	value_raw        TEXT NOT NULL DEFAULT '',
	value_normalized TEXT NOT NULL DEFAULT '',
	unit             TEXT NOT NULL DEFAULT '',
	confidence       DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_documents_product ON documents(category, product_id);
CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);
CREATE INDEX IF NOT EXISTS idx_facts_doc ON facts(doc_id);
CREATE INDEX IF NOT EXISTS idx_facts_field ON facts(field_key);
CREATE INDEX IF NOT EXISTS idx_chunks_search ON chunks USING GIN (search_vector);
`

func (p *PostgresIndex) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "evidence: migrate postgres")
}

func (p *PostgresIndex) Close() error {
	if p.closeFn != nil {
		p.closeFn()
	}
	return nil
}

func (p *PostgresIndex) IndexDocument(ctx context.Context, req IndexRequest) (*IndexResult, error) {
	if req.ContentHash == "" || req.ParserVersion == "" {
		return nil, eris.New("evidence: content hash and parser version are required")
	}

	docID := DocID(req.ContentHash, req.ParserVersion)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "evidence: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var existingID string
	err = tx.QueryRow(ctx,
		`SELECT doc_id FROM documents WHERE content_hash = $1 AND parser_version = $2`,
		req.ContentHash, req.ParserVersion,
	).Scan(&existingID)
	switch {
	case err == nil:
		if _, err := tx.Exec(ctx,
			`UPDATE documents SET reuse_count = reuse_count + 1 WHERE doc_id = $1`,
			existingID,
		); err != nil {
			return nil, eris.Wrap(err, "evidence: bump reuse count")
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, eris.Wrap(err, "evidence: commit reuse")
		}
		return &IndexResult{DocID: existingID, Outcome: OutcomeReused}, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, eris.Wrap(err, "evidence: dedupe lookup")
	}

	outcome := OutcomeNew
	var priorID string
	if req.URL != "" {
		err = tx.QueryRow(ctx,
			`SELECT doc_id FROM documents
			 WHERE category = $1 AND product_id = $2 AND url = $3 AND parser_version = $4
			 ORDER BY indexed_at DESC LIMIT 1`,
			req.Category, req.ProductID, req.URL, req.ParserVersion,
		).Scan(&priorID)
	} else {
		err = pgx.ErrNoRows
	}
	switch {
	case err == nil:
		// The prior snapshot is superseded. doc_id is a foreign key
		// target, so the prior document and its children are removed
		// and the new snapshot inserted, never the key rewritten under
		// live references. Facts reference chunks, so they go first.
		outcome = OutcomeUpdated
		for _, stmt := range []string{
			`DELETE FROM facts WHERE doc_id = $1`,
			`DELETE FROM chunks WHERE doc_id = $1`,
			`DELETE FROM documents WHERE doc_id = $1`,
		} {
			if _, err := tx.Exec(ctx, stmt, priorID); err != nil {
				return nil, eris.Wrap(err, "evidence: supersede prior document")
			}
		}
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return nil, eris.Wrap(err, "evidence: prior version lookup")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO documents
		 (doc_id, content_hash, parser_version, url, host, tier, role, category, product_id, dedupe_outcome)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		docID, req.ContentHash, req.ParserVersion, req.URL, req.Host,
		req.Tier, req.Role, req.Category, req.ProductID, string(outcome),
	); err != nil {
		return nil, eris.Wrap(err, "evidence: insert document")
	}

	hints := make(map[int][]string)
	for _, f := range req.Facts {
		hints[f.ChunkIndex] = append(hints[f.ChunkIndex], f.FieldKey)
	}

	result := &IndexResult{DocID: docID, Outcome: outcome}
	chunkIDs := make(map[int]int64, len(req.Chunks))

	for _, chunk := range req.Chunks {
		snippetID := SnippetID(req.ContentHash, req.ParserVersion, chunk.Index)
		normalized := NormalizeText(chunk.Text)
		hint := strings.Join(hints[chunk.Index], " ")

		tag, err := tx.Exec(ctx,
			`INSERT INTO chunks (doc_id, snippet_id, chunk_index, text, normalized_text, field_hints, search_vector)
			 VALUES ($1, $2, $3, $4, $5, $6, to_tsvector('simple', $5 || ' ' || $6))
			 ON CONFLICT (doc_id, snippet_id) DO NOTHING`,
			docID, snippetID, chunk.Index, chunk.Text, normalized, hint,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "evidence: insert chunk %d", chunk.Index)
		}
		if tag.RowsAffected() > 0 {
			result.ChunksIndexed++
		}

		var chunkID int64
		if err := tx.QueryRow(ctx,
			`SELECT id FROM chunks WHERE doc_id = $1 AND snippet_id = $2`,
			docID, snippetID,
		).Scan(&chunkID); err != nil {
			return nil, eris.Wrapf(err, "evidence: chunk id for %s", snippetID)
		}
		chunkIDs[chunk.Index] = chunkID
	}

	for _, fact := range req.Facts {
		chunkID, ok := chunkIDs[fact.ChunkIndex]
		if !ok {
			result.FactsDropped++
			zap.L().Debug("evidence: dropping fact with no chunk",
				zap.String("doc_id", docID),
				zap.String("field_key", fact.FieldKey),
				zap.Int("chunk_index", fact.ChunkIndex),
			)
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO facts (chunk_id, doc_id, field_key, value_raw, value_normalized, unit, confidence)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			chunkID, docID, fact.FieldKey, fact.ValueRaw,
			NormalizeText(fact.ValueNormalized), fact.Unit, fact.Confidence,
		); err != nil {
			return nil, eris.Wrapf(err, "evidence: insert fact %s", fact.FieldKey)
		}
		result.FactsIndexed++
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "evidence: commit")
	}
	return result, nil
}

func (p *PostgresIndex) Search(ctx context.Context, q SearchQuery) ([]SearchHit, error) {
	terms := sanitizeTerms(q.FieldKey, q.UnitHint, q.Terms)
	if len(terms) == 0 {
		return []SearchHit{}, nil
	}

	rows, err := p.pool.Query(ctx,
		`SELECT c.snippet_id, c.doc_id, d.url, d.tier, c.text,
		        ts_rank(c.search_vector, query) AS rank
		 FROM chunks c
		 JOIN documents d ON d.doc_id = c.doc_id,
		      to_tsquery('simple', $1) query
		 WHERE c.search_vector @@ query AND d.category = $2 AND d.product_id = $3
		 ORDER BY rank DESC
		 LIMIT $4`,
		strings.Join(terms, " | "), q.Category, q.ProductID, clampLimit(q.Limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "evidence: search")
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.SnippetID, &h.DocID, &h.URL, &h.Tier, &h.Text, &h.Rank); err != nil {
			return nil, eris.Wrap(err, "evidence: scan hit")
		}
		hits = append(hits, h)
	}
	return hits, eris.Wrap(rows.Err(), "evidence: search iterate")
}

func (p *PostgresIndex) Inventory(ctx context.Context, category, productID string) (*Inventory, error) {
	var inv Inventory
	err := p.pool.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM documents WHERE category = $1 AND product_id = $2),
		   (SELECT COUNT(*) FROM chunks c JOIN documents d ON d.doc_id = c.doc_id
		     WHERE d.category = $1 AND d.product_id = $2),
		   (SELECT COUNT(*) FROM facts f JOIN documents d ON d.doc_id = f.doc_id
		     WHERE d.category = $1 AND d.product_id = $2),
		   (SELECT COUNT(DISTINCT content_hash) FROM documents WHERE category = $1 AND product_id = $2),
		   (SELECT COALESCE(SUM(reuse_count), 0) FROM documents WHERE category = $1 AND product_id = $2)`,
		category, productID,
	).Scan(&inv.Documents, &inv.Chunks, &inv.Facts, &inv.DistinctContentHashes, &inv.ReuseHits)
	if err != nil {
		return nil, eris.Wrap(err, "evidence: inventory")
	}
	return &inv, nil
}
