package evidence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocIDDeterminism(t *testing.T) {
	t.Parallel()

	a := DocID("sha256:abc", "v3")
	b := DocID("sha256:abc", "v3")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "doc_"))
	assert.Len(t, a, len("doc_")+docIDWidth)

	assert.NotEqual(t, a, DocID("sha256:abd", "v3"), "content hash participates")
	assert.NotEqual(t, a, DocID("sha256:abc", "v4"), "parser version participates")
}

func TestSnippetIDDeterminism(t *testing.T) {
	t.Parallel()

	first := make([]string, 5)
	for i := range first {
		first[i] = SnippetID("sha256:abc", "v3", i)
	}
	for i := range first {
		assert.Equal(t, first[i], SnippetID("sha256:abc", "v3", i), "chunk %d", i)
		assert.True(t, strings.HasPrefix(first[i], "sn_"))
	}

	// Distinct inputs yield distinct ids.
	seen := map[string]bool{}
	for _, id := range first {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.NotEqual(t, first[0], SnippetID("sha256:other", "v3", 0))
}

func TestContentHash(t *testing.T) {
	t.Parallel()

	h := ContentHash([]byte("hello"))
	assert.True(t, strings.HasPrefix(h, "sha256:"))
	assert.Equal(t, h, ContentHash([]byte("hello")))
	assert.NotEqual(t, h, ContentHash([]byte("hello!")))
}
