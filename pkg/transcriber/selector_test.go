package transcriber

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z-wentao/meetflow/pkg/models"
)

type fakeSync struct {
	results map[string]*models.Transcript
	errs    map[string]error
	calls   []string
}

func (f *fakeSync) Transcribe(ctx context.Context, path string, opts Options) (*models.Transcript, error) {
	f.calls = append(f.calls, filepath.Base(path))
	if err := f.errs[filepath.Base(path)]; err != nil {
		return nil, err
	}
	return f.results[filepath.Base(path)], nil
}

type fakeAsync struct {
	statuses  []*JobStatus
	polls     int
	staged    string
	readSize  int
	submitted string
	opts      Options
}

func (f *fakeAsync) StageUpload(ctx context.Context, path string, readSize int) (string, error) {
	f.staged = filepath.Base(path)
	f.readSize = readSize
	return "https://cdn.example/upload/1", nil
}

func (f *fakeAsync) SubmitJob(ctx context.Context, audioURL string, opts Options) (string, error) {
	f.submitted = audioURL
	f.opts = opts
	return "job-1", nil
}

func (f *fakeAsync) PollJob(ctx context.Context, jobID string) (*JobStatus, error) {
	idx := f.polls
	f.polls++
	if idx >= len(f.statuses) {
		return f.statuses[len(f.statuses)-1], nil
	}
	return f.statuses[idx], nil
}

type fakeChunker struct {
	available bool
	chunks    []models.MediaChunk
	cleaned   []models.MediaChunk
}

func (f *fakeChunker) Available() bool { return f.available }

func (f *fakeChunker) Split(ctx context.Context, srcPath string, chunkDuration int) []models.MediaChunk {
	return f.chunks
}

func (f *fakeChunker) Cleanup(chunks []models.MediaChunk) { f.cleaned = chunks }

// sizedFile 创建指定大小的稀疏文件
func sizedFile(t *testing.T, name string, size int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
	return path
}

type sleepRecorder struct {
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return nil
}

func newTestSelector(direct SyncTranscriber, async AsyncTranscriber, chunker Chunker) (*Selector, *sleepRecorder) {
	rec := &sleepRecorder{}
	s := NewSelector(DefaultSelectorConfig(), direct, async, chunker, nil, zerolog.Nop())
	s.sleep = rec.sleep
	return s, rec
}

func helloWorld() *models.Transcript {
	return &models.Transcript{
		Text: "hello world",
		Segments: []models.TranscriptSegment{
			{Speaker: "A", Start: 0, Text: "hello"},
			{Speaker: "B", Start: 2, Text: "world"},
		},
	}
}

func TestChooseBoundary(t *testing.T) {
	limit := int64(50 << 20)

	s, _ := newTestSelector(&fakeSync{}, &fakeAsync{}, &fakeChunker{available: true})
	assert.Equal(t, StrategyDirect, s.Choose(limit))
	assert.Equal(t, StrategyChunkedVideo, s.Choose(limit+1))

	s, _ = newTestSelector(&fakeSync{}, &fakeAsync{}, &fakeChunker{available: false})
	assert.Equal(t, StrategyDirect, s.Choose(limit))
	assert.Equal(t, StrategyUploadPoll, s.Choose(limit+1))

	s, _ = newTestSelector(&fakeSync{}, nil, nil)
	assert.Equal(t, StrategyNone, s.Choose(limit+1))
}

func TestTranscribeDirectAtExactLimit(t *testing.T) {
	path := sizedFile(t, "meeting.mp4", 50<<20)
	direct := &fakeSync{results: map[string]*models.Transcript{"meeting.mp4": helloWorld()}}
	chunker := &fakeChunker{available: true}

	s, _ := newTestSelector(direct, &fakeAsync{}, chunker)
	got := s.Transcribe(context.Background(), path)

	require.NotNil(t, got)
	assert.Equal(t, []string{"meeting.mp4"}, direct.calls)
	assert.Equal(t, helloWorld(), got)
	assert.Nil(t, chunker.cleaned)
}

func TestTranscribeDirectFailureReturnsNil(t *testing.T) {
	path := sizedFile(t, "meeting.mp4", 30<<20)
	direct := &fakeSync{errs: map[string]error{"meeting.mp4": errors.New("401 unauthorized")}}

	s, _ := newTestSelector(direct, nil, nil)
	assert.Nil(t, s.Transcribe(context.Background(), path))
}

func TestTranscribeMissingFileReturnsNil(t *testing.T) {
	s, _ := newTestSelector(&fakeSync{}, nil, nil)
	assert.Nil(t, s.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.mp4")))
}

func TestTranscribeChunkedVideo(t *testing.T) {
	path := sizedFile(t, "meeting.mp4", 50<<20+1)
	chunks := []models.MediaChunk{
		{Index: 1, Start: 0, End: 600, FilePath: "/tmp/chunks/meeting_chunk_001.mp4"},
		{Index: 2, Start: 600, End: 620, FilePath: "/tmp/chunks/meeting_chunk_002.mp4"},
	}
	direct := &fakeSync{results: map[string]*models.Transcript{
		"meeting_chunk_001.mp4": {Text: "intro", Segments: []models.TranscriptSegment{{Speaker: "A", Start: 0, Text: "intro"}}},
		"meeting_chunk_002.mp4": {Text: "outro", Segments: []models.TranscriptSegment{{Speaker: "B", Start: 5, Text: "outro"}}},
	}}
	chunker := &fakeChunker{available: true, chunks: chunks}
	async := &fakeAsync{}

	s, _ := newTestSelector(direct, async, chunker)
	got := s.Transcribe(context.Background(), path)

	require.NotNil(t, got)
	assert.Equal(t, []string{"meeting_chunk_001.mp4", "meeting_chunk_002.mp4"}, direct.calls)
	assert.Equal(t, "intro outro", got.Text)
	require.Len(t, got.Segments, 2)
	assert.Equal(t, 605.0, got.Segments[1].Start)
	assert.Equal(t, chunks, chunker.cleaned)
	assert.Zero(t, async.polls)
}

func TestTranscribeChunkedSkipsFailedChunk(t *testing.T) {
	path := sizedFile(t, "meeting.mp4", 60<<20)
	chunks := []models.MediaChunk{
		{Index: 1, FilePath: "c/meeting_chunk_001.mp4"},
		{Index: 2, FilePath: "c/meeting_chunk_002.mp4"},
		{Index: 3, FilePath: "c/meeting_chunk_003.mp4"},
	}
	direct := &fakeSync{
		results: map[string]*models.Transcript{
			"meeting_chunk_002.mp4": {Text: "middle", Segments: []models.TranscriptSegment{{Speaker: "A", Start: 1, Text: "middle"}}},
			"meeting_chunk_003.mp4": {Text: ""},
		},
		errs: map[string]error{"meeting_chunk_001.mp4": errors.New("timeout")},
	}
	chunker := &fakeChunker{available: true, chunks: chunks}

	s, _ := newTestSelector(direct, nil, chunker)
	got := s.Transcribe(context.Background(), path)

	require.NotNil(t, got)
	assert.Len(t, direct.calls, 3)
	assert.Equal(t, "middle", got.Text)
	assert.Equal(t, 601.0, got.Segments[0].Start)
	assert.Equal(t, chunks, chunker.cleaned)
}

func TestTranscribeChunkedAllFailed(t *testing.T) {
	path := sizedFile(t, "meeting.mp4", 60<<20)
	chunks := []models.MediaChunk{{Index: 1, FilePath: "c/meeting_chunk_001.mp4"}}
	direct := &fakeSync{errs: map[string]error{"meeting_chunk_001.mp4": errors.New("boom")}}
	chunker := &fakeChunker{available: true, chunks: chunks}

	s, _ := newTestSelector(direct, nil, chunker)
	assert.Nil(t, s.Transcribe(context.Background(), path))
	assert.Equal(t, chunks, chunker.cleaned)
}

func TestTranscribeChunkedFallsBackWhenSplitEmpty(t *testing.T) {
	path := sizedFile(t, "meeting.mkv", 60<<20)
	async := &fakeAsync{statuses: []*JobStatus{{Status: JobCompleted, Transcript: helloWorld()}}}
	chunker := &fakeChunker{available: true}

	s, _ := newTestSelector(&fakeSync{}, async, chunker)
	got := s.Transcribe(context.Background(), path)

	require.NotNil(t, got)
	assert.Equal(t, "hello world", got.Text)
	assert.Equal(t, "meeting.mkv", async.staged)
}

func TestTranscribeUploadPoll(t *testing.T) {
	path := sizedFile(t, "meeting.mp4", 50<<20+1)
	async := &fakeAsync{statuses: []*JobStatus{
		{Status: JobQueued},
		{Status: JobProcessing},
		{Status: JobCompleted, Transcript: helloWorld()},
	}}

	s, rec := newTestSelector(&fakeSync{}, async, nil)
	got := s.Transcribe(context.Background(), path)

	require.NotNil(t, got)
	assert.Equal(t, "hello world", got.Text)
	assert.Equal(t, 3, async.polls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, rec.sleeps)
	assert.Equal(t, 5<<20, async.readSize)
	assert.Equal(t, "https://cdn.example/upload/1", async.submitted)
	assert.True(t, async.opts.SpeakerLabels)
	assert.Equal(t, 2, async.opts.SpeakersExpected)
	assert.True(t, async.opts.AutoHighlights)
	assert.True(t, async.opts.SentimentAnalysis)
}

func TestTranscribeUploadPollErrorStatus(t *testing.T) {
	path := sizedFile(t, "meeting.mp4", 60<<20)
	async := &fakeAsync{statuses: []*JobStatus{{Status: JobError, Error: "audio too short"}}}

	s, _ := newTestSelector(&fakeSync{}, async, nil)
	assert.Nil(t, s.Transcribe(context.Background(), path))
	assert.Equal(t, 1, async.polls)
}

func TestTranscribeUploadPollExhausted(t *testing.T) {
	path := sizedFile(t, "meeting.mp4", 60<<20)
	async := &fakeAsync{statuses: []*JobStatus{{Status: JobProcessing}}}

	s, rec := newTestSelector(&fakeSync{}, async, nil)
	got := s.Transcribe(context.Background(), path)

	assert.Nil(t, got)
	assert.Equal(t, 120, async.polls)
	assert.Len(t, rec.sleeps, 119)
}

func TestTranscribeUploadPollCompletedEmptyText(t *testing.T) {
	path := sizedFile(t, "meeting.mp4", 60<<20)
	async := &fakeAsync{statuses: []*JobStatus{{Status: JobCompleted, Transcript: &models.Transcript{}}}}

	s, _ := newTestSelector(&fakeSync{}, async, nil)
	assert.Nil(t, s.Transcribe(context.Background(), path))
}
