package models

// MediaChunk 媒体切片
type MediaChunk struct {
	Index    int     `json:"index"`     // 从 1 开始
	Start    float64 `json:"start"`     // 开始时间（秒）
	End      float64 `json:"end"`       // 结束时间（秒）
	FilePath string  `json:"file_path"` // 切片文件路径
}

// Duration 切片时长（秒）
func (c MediaChunk) Duration() float64 {
	return c.End - c.Start
}

// TranscriptSegment 一段带说话人的转录
// Start/End 在创建时相对于切片，合并后相对于整个文件
type TranscriptSegment struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end,omitempty"`
	Text    string  `json:"text"`
}

// Transcript 转录结果
type Transcript struct {
	Text     string              `json:"text"`
	Segments []TranscriptSegment `json:"segments"`
}

// Empty 文本为空视为没有结果
func (t *Transcript) Empty() bool {
	return t == nil || t.Text == ""
}
