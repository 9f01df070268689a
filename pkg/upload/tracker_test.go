package upload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mferrors "github.com/z-wentao/meetflow/pkg/errors"
	"github.com/z-wentao/meetflow/pkg/metrics"
	"github.com/z-wentao/meetflow/pkg/models"
	"github.com/z-wentao/meetflow/pkg/objectstore"
)

// fakeStore 按 reports 依次回调进度
type fakeStore struct {
	reports [][2]int64
	fileID  string
	err     error
	panics  bool

	observed []int // 每次回调后注册表中的百分比
	registry *Registry
	jobID    func() string
}

func (s *fakeStore) Put(ctx context.Context, localPath, name, mimeType string, progress objectstore.ProgressFunc) (string, error) {
	if s.panics {
		panic("transport exploded")
	}
	for _, r := range s.reports {
		progress(r[0], r[1])
		if s.registry != nil {
			job, _ := s.registry.Get(s.jobID())
			s.observed = append(s.observed, job.Percent)
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return s.fileID, nil
}

func (s *fakeStore) Get(ctx context.Context, fileID, destPath string) error { return nil }
func (s *fakeStore) Delete(ctx context.Context, fileID string) error       { return nil }

type captureQueue struct {
	tasks []*models.Task
	err   error
}

func (q *captureQueue) Enqueue(task *models.Task) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

type fakeFiles struct {
	ok     bool
	videos []models.MeetingVideo
}

func (f *fakeFiles) SaveFile(ctx context.Context, video models.MeetingVideo) bool {
	f.videos = append(f.videos, video)
	return f.ok
}

type fakeScheduler struct {
	mu       sync.Mutex
	requests []models.ProcessRequest
}

func (s *fakeScheduler) Schedule(req models.ProcessRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return nil
}

type trackerFixture struct {
	tracker   *Tracker
	registry  *Registry
	store     *fakeStore
	queue     *captureQueue
	files     *fakeFiles
	scheduler *fakeScheduler
	metrics   *metrics.Metrics
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()
	registry := NewRegistry(0, nil, zerolog.Nop())
	t.Cleanup(registry.Close)

	f := &trackerFixture{
		registry:  registry,
		store:     &fakeStore{fileID: "remote-1"},
		queue:     &captureQueue{},
		files:     &fakeFiles{ok: true},
		scheduler: &fakeScheduler{},
		metrics:   metrics.NewMetrics(prometheus.NewRegistry()),
	}
	f.tracker = NewTracker(registry, f.store, f.queue, f.files, f.scheduler, f.metrics, zerolog.Nop())
	return f
}

func stagedFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "staged.mp4")
	require.NoError(t, os.WriteFile(path, []byte("video"), 0o644))
	return path
}

// begin 提交一次上传并返回任务 ID 和排队的任务
func (f *trackerFixture) begin(t *testing.T, req Request) (string, *models.Task) {
	t.Helper()
	id, err := f.tracker.BeginUpload(req)
	require.NoError(t, err)
	require.NotEmpty(t, f.queue.tasks)
	return id, f.queue.tasks[len(f.queue.tasks)-1]
}

func TestBeginUploadReturnsInitializingJob(t *testing.T) {
	f := newTrackerFixture(t)
	path := stagedFile(t)

	id, task := f.begin(t, Request{LocalPath: path, Filename: "standup.mp4", MeetingID: "m1"})

	job, err := f.tracker.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInitializing, job.Status)
	assert.Equal(t, 0, job.Percent)

	assert.Equal(t, models.TaskUpload, task.Kind)
	assert.Equal(t, id, task.Upload.UploadID)
	assert.Equal(t, "video/mp4", task.Upload.MimeType)
	assert.FileExists(t, path)
}

func TestPollUnknownIsNotFound(t *testing.T) {
	f := newTrackerFixture(t)
	_, err := f.tracker.Poll(context.Background(), "nope")
	assert.True(t, mferrors.IsNotFound(err))
}

func TestBeginUploadEnqueueFailure(t *testing.T) {
	f := newTrackerFixture(t)
	f.queue.err = errors.New("队列已满")
	path := stagedFile(t)

	id, err := f.tracker.BeginUpload(Request{LocalPath: path, Filename: "a.mp4"})
	require.Error(t, err)
	assert.True(t, mferrors.IsUnavailable(err))

	job, pollErr := f.tracker.Poll(context.Background(), id)
	require.NoError(t, pollErr)
	assert.Equal(t, models.StatusError, job.Status)
	assert.Contains(t, job.Error, "队列已满")
	assert.NoFileExists(t, path)
}

func TestHandleUploadProgressIsMonotonic(t *testing.T) {
	f := newTrackerFixture(t)
	path := stagedFile(t)
	id, task := f.begin(t, Request{LocalPath: path, Filename: "a.mp4"})

	f.store.registry = f.registry
	f.store.jobID = func() string { return id }
	f.store.reports = [][2]int64{
		{0, 1000},
		{150, 1000},
		{100, 1000}, // 传输层回退
		{159, 1000},
		{600, 1000},
		{600, 0}, // total 未知
		{1000, 1000},
	}

	require.NoError(t, f.tracker.HandleUpload(context.Background(), task))

	assert.Equal(t, []int{0, 15, 15, 15, 60, 60, 100}, f.store.observed)
	for i := 1; i < len(f.store.observed); i++ {
		assert.GreaterOrEqual(t, f.store.observed[i], f.store.observed[i-1])
	}
	// 只有严格变大的回调才更新：15, 60, 100
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.UploadProgressUpdates))

	job, err := f.tracker.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Percent)
	assert.Equal(t, "remote-1", job.RemoteFileID)
	assert.Empty(t, job.Error)
}

func TestHandleUploadSuccessRecordsAndSchedules(t *testing.T) {
	f := newTrackerFixture(t)
	path := stagedFile(t)
	_, task := f.begin(t, Request{LocalPath: path, Filename: "standup.mp4", MeetingID: "m1", UploadedBy: "alice"})

	require.NoError(t, f.tracker.HandleUpload(context.Background(), task))

	require.Len(t, f.files.videos, 1)
	video := f.files.videos[0]
	assert.Equal(t, "m1", video.MeetingID)
	assert.Equal(t, "remote-1", video.FileID)
	assert.Equal(t, models.ShareLink("remote-1"), video.ShareLink)
	assert.Equal(t, "standup.mp4", video.OriginalFilename)
	assert.Equal(t, "alice", video.UploadedBy)

	assert.Equal(t, []models.ProcessRequest{{MeetingID: "m1", FileID: "remote-1", Filename: "standup.mp4"}}, f.scheduler.requests)
	assert.NoFileExists(t, path)
}

func TestHandleUploadWithoutMeetingSkipsDownstream(t *testing.T) {
	f := newTrackerFixture(t)
	_, task := f.begin(t, Request{LocalPath: stagedFile(t), Filename: "a.mp4"})

	require.NoError(t, f.tracker.HandleUpload(context.Background(), task))
	assert.Empty(t, f.files.videos)
	assert.Empty(t, f.scheduler.requests)
}

func TestHandleUploadMetadataFailureSkipsScheduling(t *testing.T) {
	f := newTrackerFixture(t)
	f.files.ok = false
	id, task := f.begin(t, Request{LocalPath: stagedFile(t), Filename: "a.mp4", MeetingID: "m1"})

	require.NoError(t, f.tracker.HandleUpload(context.Background(), task))
	assert.Len(t, f.files.videos, 1)
	assert.Empty(t, f.scheduler.requests)

	job, err := f.tracker.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
}

func TestHandleUploadFailure(t *testing.T) {
	f := newTrackerFixture(t)
	f.store.err = errors.New("上传到 Drive 失败: 403")
	f.store.reports = [][2]int64{{40, 100}}
	path := stagedFile(t)
	id, task := f.begin(t, Request{LocalPath: path, Filename: "a.mp4", MeetingID: "m1"})

	err := f.tracker.HandleUpload(context.Background(), task)
	require.Error(t, err)

	job, pollErr := f.tracker.Poll(context.Background(), id)
	require.NoError(t, pollErr)
	assert.Equal(t, models.StatusError, job.Status)
	assert.Equal(t, 40, job.Percent)
	assert.Contains(t, job.Error, "403")
	assert.Empty(t, job.RemoteFileID)
	assert.Empty(t, f.scheduler.requests)
	assert.NoFileExists(t, path)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.UploadsFinished.WithLabelValues("error")))
}

func TestHandleUploadPanicMarksError(t *testing.T) {
	f := newTrackerFixture(t)
	f.store.panics = true
	path := stagedFile(t)
	id, task := f.begin(t, Request{LocalPath: path, Filename: "a.mp4"})

	err := f.tracker.HandleUpload(context.Background(), task)
	require.Error(t, err)

	job, pollErr := f.tracker.Poll(context.Background(), id)
	require.NoError(t, pollErr)
	assert.Equal(t, models.StatusError, job.Status)
	assert.Contains(t, job.Error, "transport exploded")
	assert.NoFileExists(t, path)
}

func TestHandleUploadMissingPayload(t *testing.T) {
	f := newTrackerFixture(t)
	err := f.tracker.HandleUpload(context.Background(), &models.Task{ID: "t1", Kind: models.TaskUpload})
	assert.ErrorIs(t, err, mferrors.ErrValidation)
}

func TestHandleUploadOnInstanceWithoutRecord(t *testing.T) {
	mirror := newFakeMirror()

	creator := NewRegistry(0, mirror, zerolog.Nop())
	t.Cleanup(creator.Close)
	creatorQueue := &captureQueue{}
	creatorTracker := NewTracker(creator, &fakeStore{}, creatorQueue, nil, nil, nil, zerolog.Nop())

	path := stagedFile(t)
	id, err := creatorTracker.BeginUpload(Request{LocalPath: path, Filename: "standup.mp4", MeetingID: "m1"})
	require.NoError(t, err)
	require.Len(t, creatorQueue.tasks, 1)
	require.Eventually(t, func() bool {
		_, err := mirror.Get(context.Background(), id)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	// 另一个实例：注册表里没有这个任务
	runner := NewRegistry(0, mirror, zerolog.Nop())
	runner.now = func() time.Time { return time.Now().Add(time.Minute) }
	store := &fakeStore{fileID: "remote-9", reports: [][2]int64{{50, 100}, {100, 100}}}
	scheduler := &fakeScheduler{}
	runnerTracker := NewTracker(runner, store, &captureQueue{}, &fakeFiles{ok: true}, scheduler, nil, zerolog.Nop())

	require.NoError(t, runnerTracker.HandleUpload(context.Background(), creatorQueue.tasks[0]))
	runner.Close()

	job, err := runnerTracker.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, "standup.mp4", job.Filename)
	assert.Equal(t, "m1", job.MeetingID)
	assert.Len(t, scheduler.requests, 1)

	// 创建方轮询时采用镜像中更新的终态
	job, err = creatorTracker.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 100, job.Percent)
	assert.Equal(t, "remote-9", job.RemoteFileID)

	local, err := creator.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, local.Status)
}
