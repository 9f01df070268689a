package transcriber

import (
	"context"

	"github.com/z-wentao/meetflow/pkg/models"
)

// Options 转写选项
type Options struct {
	SpeakerLabels     bool `json:"speaker_labels"`
	SpeakersExpected  int  `json:"speakers_expected,omitempty"`
	AutoHighlights    bool `json:"auto_highlights"`
	SentimentAnalysis bool `json:"sentiment_analysis"`
}

// DefaultOptions 开启说话人分离（2 人）以及重点、情感分析
func DefaultOptions(speakersExpected int) Options {
	if speakersExpected <= 0 {
		speakersExpected = 2
	}
	return Options{
		SpeakerLabels:     true,
		SpeakersExpected:  speakersExpected,
		AutoHighlights:    true,
		SentimentAnalysis: true,
	}
}

// 异步任务状态
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobError      = "error"
)

// JobStatus 异步转写任务的一次查询结果
type JobStatus struct {
	Status     string
	Transcript *models.Transcript // 仅 completed 时设置
	Error      string             // 仅 error 时设置
}

// SyncTranscriber 同步转写：调用返回时已拿到完整结果
type SyncTranscriber interface {
	Transcribe(ctx context.Context, path string, opts Options) (*models.Transcript, error)
}

// AsyncTranscriber 异步转写三件套：暂存上传、提交任务、查询状态
type AsyncTranscriber interface {
	StageUpload(ctx context.Context, path string, readSize int) (string, error)
	SubmitJob(ctx context.Context, audioURL string, opts Options) (string, error)
	PollJob(ctx context.Context, jobID string) (*JobStatus, error)
}
