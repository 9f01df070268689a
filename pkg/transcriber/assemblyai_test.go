package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAssemblyAIServer(t *testing.T, pendingPolls int32) (*httptest.Server, *[]byte, *map[string]any) {
	t.Helper()
	var uploaded []byte
	submitted := map[string]any{}
	var polls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/upload", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		uploaded = body
		json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.assemblyai.test/abc"})
	})
	mux.HandleFunc("/v2/transcript", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
		json.NewEncoder(w).Encode(map[string]string{"id": "tr_1", "status": "queued"})
	})
	mux.HandleFunc("/v2/transcript/tr_1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		if atomic.AddInt32(&polls, 1) <= pendingPolls {
			json.NewEncoder(w).Encode(map[string]string{"id": "tr_1", "status": "processing"})
			return
		}
		w.Write([]byte(`{
			"id": "tr_1",
			"status": "completed",
			"text": "hello world",
			"utterances": [
				{"speaker": "A", "start": 0, "end": 1500, "text": "hello"},
				{"speaker": "B", "start": 2000, "end": 2600, "text": "world"}
			]
		}`))
	})
	mux.HandleFunc("/v2/transcript/bad", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"transcript not found"}`))
	})
	mux.HandleFunc("/v2/transcript/failed", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"failed","status":"error","error":"audio too short"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &uploaded, &submitted
}

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestAssemblyAIAsyncTriad(t *testing.T) {
	srv, uploaded, submitted := newAssemblyAIServer(t, 0)
	client := NewAssemblyAIClient("test-key", srv.URL, 10*time.Second)

	data := make([]byte, 10_000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := writeTempFile(t, "meeting.mp4", data)

	ctx := context.Background()
	url, err := client.StageUpload(ctx, path, 1024)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.assemblyai.test/abc", url)
	assert.Equal(t, data, *uploaded)

	id, err := client.SubmitJob(ctx, url, DefaultOptions(2))
	require.NoError(t, err)
	assert.Equal(t, "tr_1", id)
	assert.Equal(t, url, (*submitted)["audio_url"])
	assert.Equal(t, true, (*submitted)["speaker_labels"])
	assert.Equal(t, float64(2), (*submitted)["speakers_expected"])
	assert.Equal(t, true, (*submitted)["auto_highlights"])
	assert.Equal(t, true, (*submitted)["sentiment_analysis"])

	status, err := client.PollJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, status.Status)
	require.NotNil(t, status.Transcript)
	assert.Equal(t, "hello world", status.Transcript.Text)
	require.Len(t, status.Transcript.Segments, 2)
	assert.Equal(t, 2.0, status.Transcript.Segments[1].Start)
	assert.Equal(t, 1.5, status.Transcript.Segments[0].End)
	assert.Equal(t, "B", status.Transcript.Segments[1].Speaker)
}

func TestAssemblyAIPollNon2xx(t *testing.T) {
	srv, _, _ := newAssemblyAIServer(t, 0)
	client := NewAssemblyAIClient("test-key", srv.URL, 10*time.Second)

	_, err := client.PollJob(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestAssemblyAIPollErrorStatus(t *testing.T) {
	srv, _, _ := newAssemblyAIServer(t, 0)
	client := NewAssemblyAIClient("test-key", srv.URL, 10*time.Second)

	status, err := client.PollJob(context.Background(), "failed")
	require.NoError(t, err)
	assert.Equal(t, JobError, status.Status)
	assert.Equal(t, "audio too short", status.Error)
	assert.Nil(t, status.Transcript)
}

func TestNewAssemblyAIClientAcceptsVersionedBaseURL(t *testing.T) {
	srv, _, _ := newAssemblyAIServer(t, 0)
	client := NewAssemblyAIClient("test-key", srv.URL+"/v2/", 10*time.Second)

	status, err := client.PollJob(context.Background(), "tr_1")
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, status.Status)
}

// recordingReader 记录每次被请求读取的长度
type recordingReader struct {
	src   io.Reader
	sizes []int
}

func (r *recordingReader) Read(p []byte) (int, error) {
	r.sizes = append(r.sizes, len(p))
	return r.src.Read(p)
}

func TestChunkedReaderReadsFixedBlocks(t *testing.T) {
	data := make([]byte, 10_000)
	for i := range data {
		data[i] = byte(i % 7)
	}
	src := &recordingReader{src: bytes.NewReader(data)}

	got, err := io.ReadAll(newChunkedReader(src, 1024))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NotEmpty(t, src.sizes)
	for i, size := range src.sizes[:9] {
		assert.Equal(t, 1024, size, "read %d", i)
	}
	for _, size := range src.sizes {
		assert.LessOrEqual(t, size, 1024)
	}
}

func TestAssemblyAISyncTranscribeWaitsForCompletion(t *testing.T) {
	srv, _, _ := newAssemblyAIServer(t, 2)
	client := NewAssemblyAIClient("test-key", srv.URL, 10*time.Second)
	var sleeps []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	path := writeTempFile(t, "short.mp3", []byte("audio"))
	got, err := client.Transcribe(context.Background(), path, DefaultOptions(2))

	require.NoError(t, err)
	assert.Equal(t, "hello world", got.Text)
	assert.Len(t, sleeps, 2)
}

func TestAssemblyAIStageUploadMissingFile(t *testing.T) {
	client := NewAssemblyAIClient("test-key", "http://127.0.0.1:0", time.Second)
	_, err := client.StageUpload(context.Background(), filepath.Join(t.TempDir(), "missing"), 0)
	assert.Error(t, err)
}
