package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	mferrors "github.com/z-wentao/meetflow/pkg/errors"
	"github.com/z-wentao/meetflow/pkg/models"
)

// MeetingRepository 在 RecordStore 之上按会议读取视频与纪要
type MeetingRepository struct {
	store  RecordStore
	logger zerolog.Logger
}

// NewMeetingRepository 创建会议仓库
func NewMeetingRepository(store RecordStore, logger zerolog.Logger) *MeetingRepository {
	return &MeetingRepository{
		store:  store,
		logger: logger.With().Str("component", "meetings").Logger(),
	}
}

// VideoRecord meeting_videos 的一行
func VideoRecord(v models.MeetingVideo) Record {
	rec := Record{
		"meeting_id":        v.MeetingID,
		"file_id":           v.FileID,
		"drive_share_link":  v.ShareLink,
		"original_filename": v.OriginalFilename,
		"uploaded_at":       v.UploadedAt.UTC(),
	}
	if v.UploadedBy != "" {
		rec["uploaded_by"] = v.UploadedBy
	}
	return rec
}

// TranscriptRecord upsert 到 meeting_minutes 的转录，segments 为 JSON 字符串（字幕导出用）
func TranscriptRecord(meetingID string, t *models.Transcript, now time.Time) Record {
	rec := Record{
		"meeting_id": meetingID,
		"transcript": "",
		"created_at": now.UTC(),
	}
	if t == nil {
		return rec
	}
	rec["transcript"] = t.Text
	if len(t.Segments) > 0 {
		if data, err := json.Marshal(t.Segments); err == nil {
			rec["segments"] = string(data)
		}
	}
	return rec
}

// MinutesRecord patch 到 meeting_minutes 的纪要，full_mom 为 JSON 字符串
func MinutesRecord(meetingID, transcript string, doc models.MinutesDocument, now time.Time) (Record, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("序列化纪要失败: %w", err)
	}
	return Record{
		"meeting_id": meetingID,
		"full_mom":   string(data),
		"summary":    doc.Summary,
		"transcript": transcript,
		"updated_at": now.UTC(),
	}, nil
}

// ListVideos 全部视频记录
func (r *MeetingRepository) ListVideos(ctx context.Context) ([]models.MeetingVideo, error) {
	return r.videos(ctx, nil)
}

// Videos 某个会议的视频记录
func (r *MeetingRepository) Videos(ctx context.Context, meetingID string) ([]models.MeetingVideo, error) {
	return r.videos(ctx, Filter{KeyMeetingID: meetingID})
}

func (r *MeetingRepository) videos(ctx context.Context, filter Filter) ([]models.MeetingVideo, error) {
	rows, err := r.store.Query(ctx, TableMeetingVideos, filter)
	if err != nil {
		return nil, err
	}

	videos := make([]models.MeetingVideo, 0, len(rows))
	for _, row := range rows {
		videos = append(videos, models.MeetingVideo{
			MeetingID:        recordString(row, "meeting_id"),
			FileID:           recordString(row, "file_id"),
			ShareLink:        recordString(row, "drive_share_link"),
			OriginalFilename: recordString(row, "original_filename"),
			UploadedAt:       recordTime(row, "uploaded_at"),
			UploadedBy:       recordString(row, "uploaded_by"),
		})
	}
	return videos, nil
}

// Minutes 会议纪要记录，不存在时返回 ErrNotFound
func (r *MeetingRepository) Minutes(ctx context.Context, meetingID string) (*models.MeetingMinutes, error) {
	rows, err := r.store.Query(ctx, TableMeetingMinutes, Filter{KeyMeetingID: meetingID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("会议 %s 没有纪要: %w", meetingID, mferrors.ErrNotFound)
	}

	row := rows[0]
	minutes := &models.MeetingMinutes{
		MeetingID:  recordString(row, "meeting_id"),
		Transcript: recordString(row, "transcript"),
		FullMoM:    recordString(row, "full_mom"),
		Summary:    recordString(row, "summary"),
		CreatedAt:  recordTime(row, "created_at"),
		UpdatedAt:  recordTime(row, "updated_at"),
	}
	if raw := recordString(row, "segments"); raw != "" {
		// 分段损坏只影响字幕导出
		if err := json.Unmarshal([]byte(raw), &minutes.Segments); err != nil {
			minutes.Segments = nil
			r.logger.Warn().Err(err).Str("meeting_id", meetingID).Msg("⚠️ 转录分段无法解析")
		}
	}
	return minutes, nil
}

// Artifacts 下游轮询的会议产物 {files[], transcript?, minutes?}
// full_mom 能解析为 JSON 时返回对象，否则返回原始字符串
func (r *MeetingRepository) Artifacts(ctx context.Context, meetingID string) (*models.MeetingArtifacts, error) {
	files, err := r.Videos(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	artifacts := &models.MeetingArtifacts{Files: files}

	minutes, err := r.Minutes(ctx, meetingID)
	if mferrors.IsNotFound(err) {
		return artifacts, nil
	}
	if err != nil {
		return nil, err
	}

	if minutes.Transcript != "" {
		transcript := minutes.Transcript
		artifacts.Transcript = &transcript
	}
	artifacts.Minutes = ParseMinutes(minutes.FullMoM)
	return artifacts, nil
}

// ParseMinutes full_mom 能解析为 JSON 对象时返回对象，否则返回原始字符串，为空返回 nil
func ParseMinutes(raw string) any {
	if raw == "" {
		return nil
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return raw
	}
	return parsed
}

func recordString(rec Record, col string) string {
	switch v := rec[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

func recordTime(rec Record, col string) time.Time {
	switch v := rec[col].(type) {
	case time.Time:
		return v
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
