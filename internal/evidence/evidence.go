// Package evidence implements the content-addressed evidence index:
// fetched documents, their text chunks, and the normalized facts
// extracted from them, with idempotent deduplication and full-text
// retrieval over chunk text.
package evidence

import "context"

// Outcome classifies an index operation's dedupe result.
type Outcome string

const (
	OutcomeNew     Outcome = "new"
	OutcomeReused  Outcome = "reused"
	OutcomeUpdated Outcome = "updated"
)

// Document is the stored metadata row for one indexed document.
type Document struct {
	DocID         string  `json:"doc_id"`
	ContentHash   string  `json:"content_hash"`
	ParserVersion string  `json:"parser_version"`
	URL           string  `json:"url"`
	Host          string  `json:"host"`
	Tier          int     `json:"tier"`
	Role          string  `json:"role"`
	Category      string  `json:"category"`
	ProductID     string  `json:"product_id"`
	DedupeOutcome Outcome `json:"dedupe_outcome"`
}

// Chunk is one addressable span of a document's text. Index is the
// chunk's position within the document; snippet ids are derived from it.
type Chunk struct {
	Index int    `json:"chunk_index"`
	Text  string `json:"text"`
}

// Fact is a normalized (field, value, unit) triple attributed to exactly
// one chunk of its document.
type Fact struct {
	ChunkIndex      int     `json:"chunk_index"`
	FieldKey        string  `json:"field_key"`
	ValueRaw        string  `json:"value_raw"`
	ValueNormalized string  `json:"value_normalized"`
	Unit            string  `json:"unit,omitempty"`
	Confidence      float64 `json:"confidence"`
}

// IndexRequest carries one fetched document into the index.
type IndexRequest struct {
	Category      string  `json:"category"`
	ProductID     string  `json:"product_id"`
	URL           string  `json:"url,omitempty"`
	Host          string  `json:"host,omitempty"`
	Tier          int     `json:"tier,omitempty"`
	Role          string  `json:"role,omitempty"`
	ContentHash   string  `json:"content_hash"`
	ParserVersion string  `json:"parser_version"`
	Chunks        []Chunk `json:"chunks,omitempty"`
	Facts         []Fact  `json:"facts,omitempty"`
}

// IndexResult reports what an index operation did. On the reused fast
// path ChunksIndexed and FactsIndexed are zero.
type IndexResult struct {
	DocID         string  `json:"doc_id"`
	Outcome       Outcome `json:"dedupe_outcome"`
	ChunksIndexed int     `json:"chunks_indexed"`
	FactsIndexed  int     `json:"facts_indexed"`
	FactsDropped  int     `json:"facts_dropped"`
}

// SearchQuery scopes a full-text lookup over chunk text.
type SearchQuery struct {
	Category  string
	ProductID string
	FieldKey  string
	UnitHint  string
	Terms     string
	Limit     int
}

// SearchHit is one ranked chunk returned by Search.
type SearchHit struct {
	SnippetID string  `json:"snippet_id"`
	DocID     string  `json:"doc_id"`
	URL       string  `json:"url"`
	Tier      int     `json:"tier"`
	Text      string  `json:"text"`
	Rank      float64 `json:"rank"`
}

// Inventory aggregates how much evidence the index holds for a product.
type Inventory struct {
	Documents             int `json:"documents"`
	Chunks                int `json:"chunks"`
	Facts                 int `json:"facts"`
	DistinctContentHashes int `json:"distinct_content_hashes"`
	ReuseHits             int `json:"reuse_hits"`
}

// Index is the evidence store contract. Both backends share it; callers
// never see which engine is underneath.
type Index interface {
	IndexDocument(ctx context.Context, req IndexRequest) (*IndexResult, error)
	Search(ctx context.Context, q SearchQuery) ([]SearchHit, error)
	Inventory(ctx context.Context, category, productID string) (*Inventory, error)
	Migrate(ctx context.Context) error
	Close() error
}

const (
	// DefaultSearchLimit caps results when a query does not ask for a
	// specific count; MaxSearchLimit is the hard ceiling.
	DefaultSearchLimit = 30
	MaxSearchLimit     = 200
)

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultSearchLimit
	}
	if n > MaxSearchLimit {
		return MaxSearchLimit
	}
	return n
}
