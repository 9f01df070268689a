package transcriber

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanChunksTilesDuration(t *testing.T) {
	tests := []struct {
		total float64
		d     int
	}{
		{620, 600},
		{600, 600},
		{1200, 600},
		{1200.5, 600},
		{59.9, 600},
		{3601, 60},
		{7, 3},
	}

	for _, tt := range tests {
		chunks := PlanChunks(tt.total, tt.d)

		require.Len(t, chunks, int(math.Ceil(tt.total/float64(tt.d))), "total=%v d=%v", tt.total, tt.d)
		assert.Equal(t, 0.0, chunks[0].Start)
		assert.Equal(t, tt.total, chunks[len(chunks)-1].End)
		for i, c := range chunks {
			assert.Equal(t, i+1, c.Index)
			assert.Greater(t, c.End, c.Start)
			if i > 0 {
				assert.Equal(t, chunks[i-1].End, c.Start, "gap or overlap at chunk %d", c.Index)
			}
		}
	}
}

func TestPlanChunks620Seconds(t *testing.T) {
	chunks := PlanChunks(620, 600)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0.0, chunks[0].Start)
	assert.Equal(t, 600.0, chunks[0].End)
	assert.Equal(t, 600.0, chunks[1].Start)
	assert.Equal(t, 620.0, chunks[1].End)
}

func TestPlanChunksDegenerate(t *testing.T) {
	assert.Empty(t, PlanChunks(0, 600))
	assert.Empty(t, PlanChunks(10, 0))
}

func TestChunkFileName(t *testing.T) {
	assert.Equal(t, "meeting_chunk_001.mp4", ChunkFileName("/tmp/x/meeting.mov", 1))
	assert.Equal(t, "meeting.v2_chunk_012.mp4", ChunkFileName("meeting.v2.mp4", 12))
}

func newTestChunker(total float64, failAt int) (*MediaChunker, *[]string) {
	var calls []string
	c := NewMediaChunker(zerolog.Nop())
	c.probe = func(path string) (float64, error) { return total, nil }
	c.extract = func(ctx context.Context, src, dst string, start, duration float64) error {
		calls = append(calls, filepath.Base(dst))
		if len(calls) == failAt {
			return errors.New("codec not supported")
		}
		return os.WriteFile(dst, []byte("chunk"), 0644)
	}
	return c, &calls
}

func TestMediaChunkerSplitAndCleanup(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "meeting.mp4")
	require.NoError(t, os.WriteFile(src, []byte("source"), 0644))

	c, calls := newTestChunker(620, 0)
	chunks := c.Split(context.Background(), src, 600)

	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"meeting_chunk_001.mp4", "meeting_chunk_002.mp4"}, *calls)
	assert.Equal(t, filepath.Join(dir, "chunks", "meeting_chunk_002.mp4"), chunks[1].FilePath)
	assert.FileExists(t, chunks[0].FilePath)
	assert.Equal(t, 20.0, chunks[1].Duration())

	c.Cleanup(chunks)
	assert.NoFileExists(t, chunks[0].FilePath)
	assert.NoDirExists(t, filepath.Join(dir, "chunks"))
	assert.FileExists(t, src)
}

func TestMediaChunkerCleanupKeepsNonEmptyDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "meeting.mp4")
	require.NoError(t, os.WriteFile(src, []byte("source"), 0644))

	c, _ := newTestChunker(30, 0)
	chunks := c.Split(context.Background(), src, 600)
	require.Len(t, chunks, 1)

	other := filepath.Join(dir, "chunks", "other.mp4")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0644))

	c.Cleanup(chunks)
	assert.NoFileExists(t, chunks[0].FilePath)
	assert.FileExists(t, other)
}

func TestMediaChunkerExtractFailureReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "meeting.mp4")
	require.NoError(t, os.WriteFile(src, []byte("source"), 0644))

	c, _ := newTestChunker(1800, 2)
	chunks := c.Split(context.Background(), src, 600)

	assert.Empty(t, chunks)
	assert.NoDirExists(t, filepath.Join(dir, "chunks"))
}

func TestMediaChunkerProbeFailureReturnsEmpty(t *testing.T) {
	c := NewMediaChunker(zerolog.Nop())
	c.probe = func(path string) (float64, error) { return 0, errors.New("invalid data found when processing input") }

	assert.Empty(t, c.Split(context.Background(), "/nonexistent/file.mp4", 600))
}
