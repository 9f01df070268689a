package transcriber

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/z-wentao/meetflow/pkg/models"
)

// whisperSpeaker Whisper 不做说话人分离，所有分段归到同一个说话人
const whisperSpeaker = "A"

// WhisperClient OpenAI Whisper 客户端，只支持同步转写
type WhisperClient struct {
	client *openai.Client
}

// NewWhisperClient 创建 Whisper 客户端，baseURL 为空时使用官方地址
func NewWhisperClient(apiKey, baseURL string) *WhisperClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &WhisperClient{
		client: openai.NewClientWithConfig(cfg),
	}
}

// Transcribe 使用 verbose_json 获取带时间戳的分段
// 说话人相关选项被忽略
func (wc *WhisperClient) Transcribe(ctx context.Context, path string, opts Options) (*models.Transcript, error) {
	resp, err := wc.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: path,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("Whisper 转写失败: %w", err)
	}

	t := &models.Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Segments: make([]models.TranscriptSegment, 0, len(resp.Segments)),
	}
	for _, seg := range resp.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		t.Segments = append(t.Segments, models.TranscriptSegment{
			Speaker: whisperSpeaker,
			Start:   seg.Start,
			End:     seg.End,
			Text:    text,
		})
	}
	return t, nil
}
