package transcriber

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/z-wentao/meetflow/pkg/models"
)

// lastCueDuration 最后一段缺少结束时间时的显示时长（秒）
const lastCueDuration = 5.0

// cue 一条字幕
type cue struct {
	start   float64
	end     float64
	speaker string
	text    string
}

// buildCues 由合并后的分段生成字幕
// 结束时间优先取分段自带的 End，否则取下一段的开始
func buildCues(segments []models.TranscriptSegment) []cue {
	cues := make([]cue, 0, len(segments))
	for i, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}

		end := seg.End
		if end <= seg.Start {
			end = seg.Start + lastCueDuration
			if i+1 < len(segments) && segments[i+1].Start > seg.Start {
				end = segments[i+1].Start
			}
		}

		cues = append(cues, cue{
			start:   seg.Start,
			end:     end,
			speaker: seg.Speaker,
			text:    text,
		})
	}
	return cues
}

// WriteSRT 输出 SRT 字幕
//
//	1
//	00:00:00,000 --> 00:00:05,200
//	A: 字幕文本
func WriteSRT(w io.Writer, segments []models.TranscriptSegment) error {
	var builder strings.Builder
	for i, c := range buildCues(segments) {
		text := c.text
		if c.speaker != "" {
			text = c.speaker + ": " + text
		}
		fmt.Fprintf(&builder, "%d\n%s --> %s\n%s\n\n", i+1, formatSRTTime(c.start), formatSRTTime(c.end), text)
	}

	if _, err := io.WriteString(w, builder.String()); err != nil {
		return fmt.Errorf("写入 SRT 失败: %w", err)
	}
	return nil
}

// WriteVTT 输出 WebVTT 字幕，说话人用 <v> 标签
func WriteVTT(w io.Writer, segments []models.TranscriptSegment) error {
	var builder strings.Builder

	// VTT 文件必须以 "WEBVTT" 开头
	builder.WriteString("WEBVTT\n\n")

	for i, c := range buildCues(segments) {
		text := c.text
		if c.speaker != "" {
			text = "<v " + c.speaker + ">" + text
		}
		fmt.Fprintf(&builder, "%d\n%s --> %s\n%s\n\n", i+1, formatVTTTime(c.start), formatVTTTime(c.end), text)
	}

	if _, err := io.WriteString(w, builder.String()); err != nil {
		return fmt.Errorf("写入 VTT 失败: %w", err)
	}
	return nil
}

func splitTime(seconds float64) (hours, minutes, secs, millis int) {
	total := int(math.Round(seconds * 1000))
	if total < 0 {
		total = 0
	}
	millis = total % 1000
	total /= 1000
	return total / 3600, (total % 3600) / 60, total % 60, millis
}

// formatSRTTime 65.5 -> 00:01:05,500
func formatSRTTime(seconds float64) string {
	h, m, s, ms := splitTime(seconds)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// formatVTTTime 65.5 -> 00:01:05.500，VTT 使用点号
func formatVTTTime(seconds float64) string {
	h, m, s, ms := splitTime(seconds)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
