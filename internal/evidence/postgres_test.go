package evidence

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresIndex creates a PostgresIndex backed by pgxmock.
func newMockPostgresIndex(t *testing.T) (*PostgresIndex, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return &PostgresIndex{pool: mock}, mock
}

func TestPostgresIndex_ReuseFastPath(t *testing.T) {
	idx, mock := newMockPostgresIndex(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT doc_id FROM documents WHERE content_hash = \$1 AND parser_version = \$2`).
		WithArgs("sha256:aaa111", "v3").
		WillReturnRows(pgxmock.NewRows([]string{"doc_id"}).AddRow("doc_deadbeef"))
	mock.ExpectExec(`UPDATE documents SET reuse_count = reuse_count \+ 1`).
		WithArgs("doc_deadbeef").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	res, err := idx.IndexDocument(context.Background(), IndexRequest{
		Category:      "mice",
		ProductID:     "mice-razer-viper",
		ContentHash:   "sha256:aaa111",
		ParserVersion: "v3",
		Chunks:        []Chunk{{Index: 0, Text: "Polling rate 1000 Hz"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "doc_deadbeef", res.DocID)
	assert.Equal(t, OutcomeReused, res.Outcome)
	assert.Zero(t, res.ChunksIndexed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIndex_NewDocument(t *testing.T) {
	idx, mock := newMockPostgresIndex(t)

	docID := DocID("sha256:abc", "v3")
	snippetID := SnippetID("sha256:abc", "v3", 0)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT doc_id FROM documents WHERE content_hash = \$1 AND parser_version = \$2`).
		WithArgs("sha256:abc", "v3").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT doc_id FROM documents\s+WHERE category = \$1 AND product_id = \$2 AND url = \$3`).
		WithArgs("mice", "mice-razer-viper", "https://razer.example/viper", "v3").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO documents`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO chunks`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT id FROM chunks WHERE doc_id = \$1 AND snippet_id = \$2`).
		WithArgs(docID, snippetID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec(`INSERT INTO facts`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := idx.IndexDocument(context.Background(), IndexRequest{
		Category:      "mice",
		ProductID:     "mice-razer-viper",
		URL:           "https://razer.example/viper",
		ContentHash:   "sha256:abc",
		ParserVersion: "v3",
		Chunks:        []Chunk{{Index: 0, Text: "Weight 58 g"}},
		Facts:         []Fact{{ChunkIndex: 0, FieldKey: "weight", ValueRaw: "58 g"}},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, res.Outcome)
	assert.Equal(t, docID, res.DocID)
	assert.Equal(t, 1, res.ChunksIndexed)
	assert.Equal(t, 1, res.FactsIndexed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIndex_UpdatedDocument(t *testing.T) {
	idx, mock := newMockPostgresIndex(t)

	docID := DocID("sha256:def", "v3")
	snippetID := SnippetID("sha256:def", "v3", 0)
	priorID := DocID("sha256:abc", "v3")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT doc_id FROM documents WHERE content_hash = \$1 AND parser_version = \$2`).
		WithArgs("sha256:def", "v3").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT doc_id FROM documents\s+WHERE category = \$1 AND product_id = \$2 AND url = \$3`).
		WithArgs("mice", "mice-razer-viper", "https://razer.example/viper", "v3").
		WillReturnRows(pgxmock.NewRows([]string{"doc_id"}).AddRow(priorID))
	mock.ExpectExec(`DELETE FROM facts WHERE doc_id = \$1`).
		WithArgs(priorID).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM chunks WHERE doc_id = \$1`).
		WithArgs(priorID).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM documents WHERE doc_id = \$1`).
		WithArgs(priorID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO documents`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO chunks`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT id FROM chunks WHERE doc_id = \$1 AND snippet_id = \$2`).
		WithArgs(docID, snippetID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectCommit()

	res, err := idx.IndexDocument(context.Background(), IndexRequest{
		Category:      "mice",
		ProductID:     "mice-razer-viper",
		URL:           "https://razer.example/viper",
		ContentHash:   "sha256:def",
		ParserVersion: "v3",
		Chunks:        []Chunk{{Index: 0, Text: "Weight 54 g"}},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, docID, res.DocID)
	assert.Equal(t, 1, res.ChunksIndexed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIndex_SearchShortQuery(t *testing.T) {
	idx, mock := newMockPostgresIndex(t)

	// No expectations: an unsearchable query never reaches the database.
	hits, err := idx.Search(context.Background(), SearchQuery{
		Category:  "mice",
		ProductID: "mice-razer-viper",
		Terms:     "a",
	})
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIndex_Inventory(t *testing.T) {
	idx, mock := newMockPostgresIndex(t)

	mock.ExpectQuery(`SELECT\s+\(SELECT COUNT\(\*\) FROM documents`).
		WithArgs("mice", "mice-razer-viper").
		WillReturnRows(pgxmock.NewRows(
			[]string{"documents", "chunks", "facts", "hashes", "reuse"},
		).AddRow(3, 12, 20, 3, 2))

	inv, err := idx.Inventory(context.Background(), "mice", "mice-razer-viper")
	require.NoError(t, err)
	assert.Equal(t, 3, inv.Documents)
	assert.Equal(t, 12, inv.Chunks)
	assert.Equal(t, 20, inv.Facts)
	assert.Equal(t, 2, inv.ReuseHits)
	assert.NoError(t, mock.ExpectationsWereMet())
}
