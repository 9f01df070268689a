// Package minutes 从转录文本生成会议纪要。
// 纯函数，不调用任何外部服务，摘要只是转录的截断。
package minutes

import (
	"time"

	"github.com/z-wentao/meetflow/pkg/models"
)

const (
	summaryLimit = 100
	pointLimit   = 200
)

// Generate 生成会议纪要，now 决定 date/time 字段
func Generate(transcript string, now time.Time) models.MinutesDocument {
	if transcript == "" {
		transcript = models.PlaceholderTranscript
	}

	return models.MinutesDocument{
		Title:     "Generated Meeting",
		Date:      now.Format("2006-01-02"),
		Time:      now.Format("15:04"),
		Attendees: []string{"Speaker 1", "Speaker 2"},
		Agenda:    []string{"Discussion", "Action Items"},
		Discussions: []models.DiscussionSection{
			{
				Title:  "Main Discussion",
				Points: []string{Truncate(transcript, pointLimit)},
			},
		},
		Actions:    []string{"Follow up on discussed items"},
		Conclusion: "Meeting completed successfully",
		Summary:    Summary(transcript),
	}
}

// Summary 转录的前 100 个字符
func Summary(transcript string) string {
	return Truncate(transcript, summaryLimit)
}

// Truncate 超过 limit 个字符时截断并追加 "..."
// 按 rune 计数，不会切断多字节字符
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
