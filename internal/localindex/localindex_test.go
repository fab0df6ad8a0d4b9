package localindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := New(Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngestFileThenSearchFindsContent(t *testing.T) {
	ix := newTestIndex(t)
	path := writeTempFile(t, "servo_alarm.txt", "FANUC SRVO-063 servo alarm troubleshooting guide.")

	count, err := ix.IngestFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	results, err := ix.Search(context.Background(), SearchParams{Query: "servo alarm"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Contains(t, results[0].Content, "SRVO-063")
}

func TestIngestUnsupportedExtensionIsSkipped(t *testing.T) {
	ix := newTestIndex(t)
	path := writeTempFile(t, "ignored.bin", "binary content")

	count, err := ix.IngestFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestIngestFileIsIdempotent(t *testing.T) {
	ix := newTestIndex(t)
	path := writeTempFile(t, "doc.md", "# Title\n\nsome markdown body text here.")

	firstCount, err := ix.IngestFile(context.Background(), path)
	require.NoError(t, err)

	secondCount, err := ix.IngestFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, firstCount, secondCount)
}

func TestSearchReturnsFileURLWithPageFragmentWhenPresent(t *testing.T) {
	ix := newTestIndex(t)
	path := writeTempFile(t, "manual.txt", "reading a manual about alarms and codes.")

	_, err := ix.IngestFile(context.Background(), path)
	require.NoError(t, err)

	results, err := ix.Search(context.Background(), SearchParams{Query: "alarms"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Contains(t, results[0].URL, "file://")
}

func TestSearchEmptyQueryReturnsNil(t *testing.T) {
	ix := newTestIndex(t)
	results, err := ix.Search(context.Background(), SearchParams{Query: "   "})
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestChunkTextBreaksAtSentenceBoundaryPastMidpoint(t *testing.T) {
	text := "First sentence is short. " + stringsRepeat("word ", 200) + "Last sentence."
	chunks := chunkText(text, 100, 20)
	require.Greater(t, len(chunks), 1)
	require.True(t, len(chunks[0]) <= 100)

	// A period at offset 60 lies past the midpoint (50) of a 100-char
	// window, so the first chunk ends right after it.
	broken := chunkText(stringsRepeat("a", 60)+". "+stringsRepeat("b", 100), 100, 20)
	require.Equal(t, stringsRepeat("a", 60)+".", broken[0])
}

func stringsRepeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

func TestChunkIDStableAcrossCalls(t *testing.T) {
	a := chunkID("/docs/x.txt", 0)
	b := chunkID("/docs/x.txt", 0)
	require.Equal(t, a, b)
}

func TestChunkIDDiffersByIndex(t *testing.T) {
	a := chunkID("/docs/x.txt", 0)
	b := chunkID("/docs/x.txt", 1)
	require.NotEqual(t, a, b)
}
