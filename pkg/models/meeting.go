package models

import (
	"strings"
	"time"
)

const (
	shareLinkPrefix = "https://drive.google.com/file/d/"
	shareLinkSuffix = "/view"
)

// ShareLink 远程文件的分享链接
func ShareLink(fileID string) string {
	return shareLinkPrefix + fileID + shareLinkSuffix
}

// FileIDFromShareLink 从分享链接中提取文件 ID
// 支持 .../file/d/<id>/view、.../file/d/<id>/view?usp=sharing 和 .../file/d/<id>
func FileIDFromShareLink(link string) (string, bool) {
	idx := strings.Index(link, "/file/d/")
	if idx < 0 {
		return "", false
	}
	rest := link[idx+len("/file/d/"):]
	if end := strings.IndexAny(rest, "/?#"); end >= 0 {
		rest = rest[:end]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}

// PlaceholderTranscript 转录尚未成功生成时写入的占位文本
const PlaceholderTranscript = "No transcript available"

// MeetingVideo meeting_videos 表中的一条记录
type MeetingVideo struct {
	MeetingID        string    `json:"meeting_id"`
	FileID           string    `json:"file_id,omitempty"`
	ShareLink        string    `json:"drive_share_link,omitempty"`
	OriginalFilename string    `json:"original_filename"`
	UploadedAt       time.Time `json:"uploaded_at"`
	UploadedBy       string    `json:"uploaded_by,omitempty"`
}

// RemoteFileID 优先使用 file_id 列，否则从分享链接解析
func (v MeetingVideo) RemoteFileID() (string, bool) {
	if v.FileID != "" {
		return v.FileID, true
	}
	return FileIDFromShareLink(v.ShareLink)
}

// MeetingMinutes meeting_minutes 表中的一条记录
type MeetingMinutes struct {
	MeetingID  string              `json:"meeting_id"`
	Transcript string              `json:"transcript"`
	Segments   []TranscriptSegment `json:"segments,omitempty"`
	FullMoM    string              `json:"full_mom,omitempty"` // MinutesDocument 的 JSON
	Summary    string              `json:"summary,omitempty"`
	CreatedAt  time.Time           `json:"created_at,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at,omitempty"`
}

// HasValidTranscript 转录存在、非空且不是占位文本
func (m *MeetingMinutes) HasValidTranscript() bool {
	if m == nil {
		return false
	}
	text := strings.TrimSpace(m.Transcript)
	return text != "" && text != PlaceholderTranscript
}

// MeetingArtifacts 下游轮询的会议产物
type MeetingArtifacts struct {
	Files      []MeetingVideo `json:"files"`
	Transcript *string        `json:"transcript,omitempty"`
	Minutes    any            `json:"minutes,omitempty"` // 解析失败时保留原始字符串
}
