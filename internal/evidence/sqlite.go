package evidence

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteIndex implements Index on modernc.org/sqlite with an FTS5 table
// over chunk text. This is the default single-host backend.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the index database at the given DSN and
// configures WAL mode for concurrent appenders.
func NewSQLite(dsn string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "evidence: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "evidence: exec %s", pragma)
		}
	}
	return &SQLiteIndex{db: db}, nil
}

const sqliteMigration = `
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
	indexed_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (content_hash, parser_version)
);

CREATE TABLE IF NOT EXISTS chunks (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id          TEXT NOT NULL REFERENCES documents(doc_id),
	snippet_id      TEXT NOT NULL,
	chunk_index     INTEGER NOT NULL,
	text            TEXT NOT NULL,
	normalized_text TEXT NOT NULL,
	UNIQUE (doc_id, snippet_id)
);

CREATE TABLE IF NOT EXISTS facts (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	chunk_id         INTEGER NOT NULL REFERENCES chunks(id),
	doc_id           TEXT NOT NULL REFERENCES documents(doc_id),
	field_key        TEXT NOT NULL,
	value_raw        TEXT NOT NULL DEFAULT '',
	value_normalized TEXT NOT NULL DEFAULT '',
	unit             TEXT NOT NULL DEFAULT '',
	confidence       REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_documents_product ON documents(category, product_id);
CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);
CREATE INDEX IF NOT EXISTS idx_facts_doc ON facts(doc_id);
CREATE INDEX IF NOT EXISTS idx_facts_field ON facts(field_key);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	text,
	normalized_text,
	field_hints,
	content=''
);
`

func (s *SQLiteIndex) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "evidence: migrate sqlite")
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// IndexDocument inserts a document and its chunks and facts, applying
// dedupe: identical (content_hash, parser_version) short-circuits to
// reused with no chunk or fact writes; changed content for an already
// indexed URL supersedes the prior document, removing its chunks and
// facts and writing the new snapshot in their place (updated).
func (s *SQLiteIndex) IndexDocument(ctx context.Context, req IndexRequest) (*IndexResult, error) {
	if req.ContentHash == "" || req.ParserVersion == "" {
		return nil, eris.New("evidence: content hash and parser version are required")
	}

	docID := DocID(req.ContentHash, req.ParserVersion)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "evidence: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	// Dedup fast path: one indexed lookup, no re-diff.
	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT doc_id FROM documents WHERE content_hash = ? AND parser_version = ?`,
		req.ContentHash, req.ParserVersion,
	).Scan(&existingID)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET reuse_count = reuse_count + 1 WHERE doc_id = ?`,
			existingID,
		); err != nil {
			return nil, eris.Wrap(err, "evidence: bump reuse count")
		}
		if err := tx.Commit(); err != nil {
			return nil, eris.Wrap(err, "evidence: commit reuse")
		}
		return &IndexResult{DocID: existingID, Outcome: OutcomeReused}, nil
	case err != sql.ErrNoRows:
		return nil, eris.Wrap(err, "evidence: dedupe lookup")
	}

	outcome := OutcomeNew

	// Re-indexed content: the same URL was indexed under this parser
	// version with a different hash. The prior snapshot is superseded;
	// doc_id is a foreign key target, so the prior document and its
	// children are removed and the new snapshot inserted, never the key
	// rewritten under live references. Facts reference chunks, so they
	// go first. Stale fts rows cannot surface: search joins chunks by
	// rowid and AUTOINCREMENT ids are never reused.
	var priorID string
	if req.URL != "" {
		err = tx.QueryRowContext(ctx,
			`SELECT doc_id FROM documents
			 WHERE category = ? AND product_id = ? AND url = ? AND parser_version = ?
			 ORDER BY indexed_at DESC LIMIT 1`,
			req.Category, req.ProductID, req.URL, req.ParserVersion,
		).Scan(&priorID)
	} else {
		err = sql.ErrNoRows
	}
	switch {
	case err == nil:
		outcome = OutcomeUpdated
		for _, stmt := range []string{
			`DELETE FROM facts WHERE doc_id = ?`,
			`DELETE FROM chunks WHERE doc_id = ?`,
			`DELETE FROM documents WHERE doc_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, priorID); err != nil {
				return nil, eris.Wrap(err, "evidence: supersede prior document")
			}
		}
	case err == sql.ErrNoRows:
	default:
		return nil, eris.Wrap(err, "evidence: prior version lookup")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents
		 (doc_id, content_hash, parser_version, url, host, tier, role, category, product_id, dedupe_outcome)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		docID, req.ContentHash, req.ParserVersion, req.URL, req.Host,
		req.Tier, req.Role, req.Category, req.ProductID, string(outcome),
	); err != nil {
		return nil, eris.Wrap(err, "evidence: insert document")
	}

	// Field hints per chunk index, for the FTS row.
	hints := make(map[int][]string)
	for _, f := range req.Facts {
		hints[f.ChunkIndex] = append(hints[f.ChunkIndex], f.FieldKey)
	}

	result := &IndexResult{DocID: docID, Outcome: outcome}
	chunkIDs := make(map[int]int64, len(req.Chunks))

	for _, chunk := range req.Chunks {
		snippetID := SnippetID(req.ContentHash, req.ParserVersion, chunk.Index)
		normalized := NormalizeText(chunk.Text)

		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO chunks (doc_id, snippet_id, chunk_index, text, normalized_text)
			 VALUES (?, ?, ?, ?, ?)`,
			docID, snippetID, chunk.Index, chunk.Text, normalized,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "evidence: insert chunk %d", chunk.Index)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return nil, eris.Wrap(err, "evidence: chunk rows affected")
		}

		var chunkID int64
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM chunks WHERE doc_id = ? AND snippet_id = ?`,
			docID, snippetID,
		).Scan(&chunkID); err != nil {
			return nil, eris.Wrapf(err, "evidence: chunk id for %s", snippetID)
		}
		chunkIDs[chunk.Index] = chunkID

		if inserted > 0 {
			result.ChunksIndexed++
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chunks_fts (rowid, text, normalized_text, field_hints)
				 VALUES (?, ?, ?, ?)`,
				chunkID, chunk.Text, normalized, strings.Join(hints[chunk.Index], " "),
			); err != nil {
				return nil, eris.Wrapf(err, "evidence: index chunk %d", chunk.Index)
			}
		}
	}

	// Facts are linked by chunk index; a fact whose chunk is absent is
	// dropped rather than orphaned.
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
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO facts (chunk_id, doc_id, field_key, value_raw, value_normalized, unit, confidence)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			chunkID, docID, fact.FieldKey, fact.ValueRaw,
			NormalizeText(fact.ValueNormalized), fact.Unit, fact.Confidence,
		); err != nil {
			return nil, eris.Wrapf(err, "evidence: insert fact %s", fact.FieldKey)
		}
		result.FactsIndexed++
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "evidence: commit")
	}
	return result, nil
}

// Search runs full-text retrieval over chunk text scoped to one product.
// Queries with no usable terms after sanitization return an empty result
// set rather than an error.
func (s *SQLiteIndex) Search(ctx context.Context, q SearchQuery) ([]SearchHit, error) {
	terms := sanitizeTerms(q.FieldKey, q.UnitHint, q.Terms)
	if len(terms) == 0 {
		return []SearchHit{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.snippet_id, c.doc_id, d.url, d.tier, c.text, bm25(chunks_fts) AS rank
		 FROM chunks_fts
		 JOIN chunks c ON c.id = chunks_fts.rowid
		 JOIN documents d ON d.doc_id = c.doc_id
		 WHERE chunks_fts MATCH ? AND d.category = ? AND d.product_id = ?
		 ORDER BY rank
		 LIMIT ?`,
		ftsQuery(terms), q.Category, q.ProductID, clampLimit(q.Limit),
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

// Inventory answers "how much evidence do we have" from aggregate counts
// without scanning raw documents.
func (s *SQLiteIndex) Inventory(ctx context.Context, category, productID string) (*Inventory, error) {
	var inv Inventory
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM documents WHERE category = ?1 AND product_id = ?2),
		   (SELECT COUNT(*) FROM chunks c JOIN documents d ON d.doc_id = c.doc_id
		     WHERE d.category = ?1 AND d.product_id = ?2),
		   (SELECT COUNT(*) FROM facts f JOIN documents d ON d.doc_id = f.doc_id
		     WHERE d.category = ?1 AND d.product_id = ?2),
		   (SELECT COUNT(DISTINCT content_hash) FROM documents WHERE category = ?1 AND product_id = ?2),
		   (SELECT COALESCE(SUM(reuse_count), 0) FROM documents WHERE category = ?1 AND product_id = ?2)`,
		category, productID,
	).Scan(&inv.Documents, &inv.Chunks, &inv.Facts, &inv.DistinctContentHashes, &inv.ReuseHits)
	if err != nil {
		return nil, eris.Wrap(err, "evidence: inventory")
	}
	return &inv, nil
}
