package transcriber

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"

	"github.com/z-wentao/meetflow/pkg/models"
	"github.com/z-wentao/meetflow/pkg/retry"
)

const (
	defaultAssemblyAIURL = "https://api.assemblyai.com"

	// 同步调用内部的轮询间隔
	syncPollInterval = 3 * time.Second

	defaultUploadReadSize = 5 << 20
)

// AssemblyAIClient 基于官方 SDK 的 AssemblyAI 客户端
// 同时实现 SyncTranscriber 和 AsyncTranscriber
type AssemblyAIClient struct {
	client *aai.Client
	sleep  retry.SleepFunc
}

// NewAssemblyAIClient 创建客户端，baseURL 为空时使用官方地址
// baseURL 不带 /v2，SDK 自己拼接版本路径
func NewAssemblyAIClient(apiKey, baseURL string, timeout time.Duration) *AssemblyAIClient {
	baseURL = strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v2")
	if baseURL == "" {
		baseURL = defaultAssemblyAIURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &AssemblyAIClient{
		client: aai.NewClientWithOptions(
			aai.WithAPIKey(apiKey),
			aai.WithBaseURL(baseURL),
			aai.WithHTTPClient(&http.Client{Timeout: timeout}),
		),
		sleep: retry.Sleep,
	}
}

// params 转写选项 -> SDK 参数
func (o Options) params() *aai.TranscriptOptionalParams {
	p := &aai.TranscriptOptionalParams{
		SpeakerLabels:     aai.Bool(o.SpeakerLabels),
		AutoHighlights:    aai.Bool(o.AutoHighlights),
		SentimentAnalysis: aai.Bool(o.SentimentAnalysis),
	}
	if o.SpeakersExpected > 0 {
		p.SpeakersExpected = aai.Int64(int64(o.SpeakersExpected))
	}
	return p
}

// toTranscript SDK 返回的毫秒转换为秒
func toTranscript(tr aai.Transcript) *models.Transcript {
	t := &models.Transcript{
		Text:     aai.ToString(tr.Text),
		Segments: make([]models.TranscriptSegment, 0, len(tr.Utterances)),
	}
	for _, u := range tr.Utterances {
		t.Segments = append(t.Segments, models.TranscriptSegment{
			Speaker: aai.ToString(u.Speaker),
			Start:   float64(aai.ToInt64(u.Start)) / 1000,
			End:     float64(aai.ToInt64(u.End)) / 1000,
			Text:    aai.ToString(u.Text),
		})
	}
	return t
}

// chunkedReader 每次从源读取固定大小的块
type chunkedReader struct {
	src     io.Reader
	buf     []byte
	pending []byte
	err     error
}

func newChunkedReader(src io.Reader, size int) *chunkedReader {
	if size <= 0 {
		size = defaultUploadReadSize
	}
	return &chunkedReader{src: src, buf: make([]byte, size)}
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.pending) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		n, err := io.ReadFull(r.src, r.buf)
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		r.pending = r.buf[:n]
		r.err = err
		if n == 0 {
			return 0, r.err
		}
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// StageUpload 把本地文件上传到 AssemblyAI 暂存区，每次读取 readSize 字节
func (c *AssemblyAIClient) StageUpload(ctx context.Context, path string, readSize int) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("打开文件失败: %w", err)
	}
	defer file.Close()

	uploadURL, err := c.client.Upload(ctx, newChunkedReader(file, readSize))
	if err != nil {
		return "", fmt.Errorf("暂存上传失败: %w", err)
	}
	if uploadURL == "" {
		return "", fmt.Errorf("暂存上传未返回 upload_url")
	}
	return uploadURL, nil
}

// SubmitJob 提交异步转写任务
func (c *AssemblyAIClient) SubmitJob(ctx context.Context, audioURL string, opts Options) (string, error) {
	tr, err := c.client.Transcripts.SubmitFromURL(ctx, audioURL, opts.params())
	if err != nil {
		return "", fmt.Errorf("提交转写任务失败: %w", err)
	}
	id := aai.ToString(tr.ID)
	if id == "" {
		return "", fmt.Errorf("提交转写任务未返回 id")
	}
	return id, nil
}

// PollJob 查询一次任务状态
func (c *AssemblyAIClient) PollJob(ctx context.Context, jobID string) (*JobStatus, error) {
	tr, err := c.client.Transcripts.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("查询转写任务 %s 失败: %w", jobID, err)
	}

	status := &JobStatus{Status: string(tr.Status), Error: aai.ToString(tr.Error)}
	if tr.Status == aai.TranscriptStatusCompleted {
		status.Transcript = toTranscript(tr)
	}
	return status, nil
}

// Transcribe 同步转写：暂存、提交，然后等待任务结束
// 等待循环自己实现，轮询间隔通过 sleep 注入；调用方通过 ctx 控制最长等待时间
func (c *AssemblyAIClient) Transcribe(ctx context.Context, path string, opts Options) (*models.Transcript, error) {
	audioURL, err := c.StageUpload(ctx, path, 0)
	if err != nil {
		return nil, err
	}

	jobID, err := c.SubmitJob(ctx, audioURL, opts)
	if err != nil {
		return nil, err
	}

	for {
		status, err := c.PollJob(ctx, jobID)
		if err != nil {
			return nil, err
		}

		switch status.Status {
		case JobCompleted:
			return status.Transcript, nil
		case JobError:
			return nil, fmt.Errorf("转写失败: %s", status.Error)
		}

		if err := c.sleep(ctx, syncPollInterval); err != nil {
			return nil, fmt.Errorf("等待转写结果被取消: %w", err)
		}
	}
}
