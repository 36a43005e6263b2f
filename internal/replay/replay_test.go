package replay

import (
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CdubVentures/spec-harvester-sub015/internal/storage"
)

const (
	testCategory = "mice"
	testProduct  = "mice-razer-viper-v3"
	testRun      = "run-1"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	return store
}

func writeEventLog(t *testing.T, store storage.Store, data []byte, compressed bool) {
	t.Helper()
	key := eventLogKey(testCategory, testProduct, testRun)
	if compressed {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, err := zw.Write(data)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		key += ".gz"
		data = buf.Bytes()
	}
	require.NoError(t, store.Write(context.Background(), key, data))
}

func goldenLog(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "events.jsonl"))
	require.NoError(t, err)
	return data
}

func TestReconstructGolden(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	writeEventLog(t, store, goldenLog(t), false)

	manifest, err := NewReconstructor(store).Reconstruct(context.Background(), testCategory, testProduct, testRun)
	require.NoError(t, err)

	assert.Equal(t, testCategory, manifest.Category)
	assert.Equal(t, testRun, manifest.RunID)
	assert.Equal(t, []string{
		"https://www.razer.com/viper-v3",
		"https://rtings.com/mouse/razer-viper-v3",
		"https://www.razer.com/viper-v3",
		"https://example.org/orphan",
	}, manifest.URLs())

	first := manifest.Sources[0]
	assert.Equal(t, "https://www.razer.com/gaming-mice/viper-v3", first.FinalURL)
	assert.Equal(t, "www.razer.com", first.Host)
	assert.Equal(t, "200", first.Status)
	assert.Equal(t, 1, first.Tier)
	assert.Equal(t, "manufacturer", first.Role)
	assert.Equal(t, "www-razer-com_000", first.ArtifactKey)

	// Trailing-slash variants of the started URL still pair.
	second := manifest.Sources[1]
	assert.Equal(t, "rtings.com", second.Host)
	assert.Equal(t, 2, second.Tier)
	assert.Equal(t, "reviewer", second.Role)
	assert.Equal(t, "rtings-com_001", second.ArtifactKey)

	// Second fetch of the same URL pops the second queued start.
	third := manifest.Sources[2]
	assert.Equal(t, "304", third.Status)
	assert.Equal(t, "www-razer-com_002", third.ArtifactKey)

	// A processed event with no start still yields a best-effort record.
	orphan := manifest.Sources[3]
	assert.Empty(t, orphan.Role)
	assert.Zero(t, orphan.Tier)
	assert.Equal(t, "example-org_003", orphan.ArtifactKey)
}

func TestReconstructGzip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	writeEventLog(t, store, goldenLog(t), true)

	manifest, err := NewReconstructor(store).Reconstruct(context.Background(), testCategory, testProduct, testRun)
	require.NoError(t, err)
	assert.Len(t, manifest.Sources, 4)
}

func TestReconstructDeterministic(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	writeEventLog(t, store, goldenLog(t), false)
	r := NewReconstructor(store)

	a, err := r.Reconstruct(context.Background(), testCategory, testProduct, testRun)
	require.NoError(t, err)
	b, err := r.Reconstruct(context.Background(), testCategory, testProduct, testRun)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestReconstructMissingLog(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	_, err := NewReconstructor(store).Reconstruct(context.Background(), testCategory, testProduct, "run-missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no event log")
}

func TestReconstructEmptyLog(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	writeEventLog(t, store, []byte("\n\n"), false)

	_, err := NewReconstructor(store).Reconstruct(context.Background(), testCategory, testProduct, testRun)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestReconstructNoProcessedEvents(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	log := []byte(`{"event":"source_fetch_started","url":"https://a.example/x","host":"a.example","tier":1}` + "\n" +
		`{"event":"run_finished"}` + "\n")
	writeEventLog(t, store, log, false)

	_, err := NewReconstructor(store).Reconstruct(context.Background(), testCategory, testProduct, testRun)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no processed sources")
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"https://Example.COM/Path/", "https://example.com/Path"},
		{"HTTPS://example.com:443/a#frag", "https://example.com/a"},
		{"http://example.com:80/", "http://example.com"},
		{"not a url", "not a url"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeURL(tc.in), tc.in)
	}
}
