package transcriber

import (
	"strings"

	"github.com/z-wentao/meetflow/pkg/models"
)

// Merger 按切片顺序合并转录结果（左折叠）
// 第 i 个切片（从 1 开始，按加入顺序计数，失败的切片也占一个序号）
// 的分段整体偏移 (i-1) * chunkDuration 秒后追加，不做全局排序
type Merger struct {
	chunkDuration float64
	index         int
	texts         []string
	segments      []models.TranscriptSegment
}

// NewMerger 创建合并器，chunkDuration 为切片名义时长（秒）
func NewMerger(chunkDuration float64) *Merger {
	return &Merger{
		chunkDuration: chunkDuration,
		segments:      []models.TranscriptSegment{},
	}
}

// Add 追加下一个切片的结果，返回该切片是否被采用
// nil 或空文本的切片被跳过，但序号照常递增
func (m *Merger) Add(part *models.Transcript) bool {
	m.index++
	if part.Empty() {
		return false
	}

	offset := float64(m.index-1) * m.chunkDuration
	m.texts = append(m.texts, part.Text)
	for _, seg := range part.Segments {
		seg.Start += offset
		if seg.End > 0 {
			seg.End += offset
		}
		m.segments = append(m.segments, seg)
	}
	return true
}

// Count 已加入的切片数
func (m *Merger) Count() int {
	return m.index
}

// Result 当前合并结果，文本以单个空格连接
func (m *Merger) Result() *models.Transcript {
	segments := make([]models.TranscriptSegment, len(m.segments))
	copy(segments, m.segments)

	return &models.Transcript{
		Text:     strings.Join(m.texts, " "),
		Segments: segments,
	}
}

// MergeChunks 合并按顺序排列的切片结果
func MergeChunks(parts []*models.Transcript, chunkDuration float64) *models.Transcript {
	m := NewMerger(chunkDuration)
	for _, part := range parts {
		m.Add(part)
	}
	return m.Result()
}
