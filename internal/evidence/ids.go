package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Identifier derivation. Both ids are content-derived so that the same
// input always yields the same identifiers regardless of which worker
// indexes it or when, which is what keeps evidence references durable
// across re-indexing.

const (
	docIDWidth     = 16
	snippetIDWidth = 16

	docIDPrefix     = "doc_"
	snippetIDPrefix = "sn_"
)

// DocID derives the document id from (content_hash, parser_version).
func DocID(contentHash, parserVersion string) string {
	return docIDPrefix + truncatedHash(contentHash+"\x1f"+parserVersion, docIDWidth)
}

// SnippetID derives a chunk's stable id from
// (content_hash, parser_version, chunk_index).
func SnippetID(contentHash, parserVersion string, chunkIndex int) string {
	input := fmt.Sprintf("%s\x1f%s\x1f%d", contentHash, parserVersion, chunkIndex)
	return snippetIDPrefix + truncatedHash(input, snippetIDWidth)
}

// ContentHash hashes raw document bytes for callers that have not already
// computed one.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func truncatedHash(input string, width int) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:width]
}
