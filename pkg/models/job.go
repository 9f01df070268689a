package models

import "time"

// UploadStatus 上传任务的生命周期状态
type UploadStatus string

const (
	StatusInitializing UploadStatus = "initializing"
	StatusUploading    UploadStatus = "uploading"
	StatusCompleted    UploadStatus = "completed"
	StatusError        UploadStatus = "error"
)

// Terminal 是否为终态（completed / error）
func (s UploadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// UploadJob 一次上传到远程存储的任务
// 只由对应的后台 worker 修改，轮询方拿到的是副本
type UploadJob struct {
	ID           string       `json:"upload_id"`
	Filename     string       `json:"filename"`
	MeetingID    string       `json:"meeting_id,omitempty"`
	Percent      int          `json:"progress"`                // 0-100，单调不减
	Status       UploadStatus `json:"status"`
	RemoteFileID string       `json:"drive_file_id,omitempty"` // 仅成功时设置
	Error        string       `json:"error,omitempty"`         // 仅失败时设置
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TaskKind 后台任务类型
type TaskKind string

const (
	TaskUpload  TaskKind = "upload"
	TaskProcess TaskKind = "process"
)

// UploadTask 上传任务参数
type UploadTask struct {
	UploadID   string `json:"upload_id"`
	LocalPath  string `json:"local_path"` // 本地暂存文件，任务结束后一定删除
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type"`
	MeetingID  string `json:"meeting_id,omitempty"`
	UploadedBy string `json:"uploaded_by,omitempty"`
}

// ProcessRequest 一次自动处理（下载 → 转录 → 持久化 → 清理）的参数
type ProcessRequest struct {
	MeetingID string `json:"meeting_id"`
	FileID    string `json:"file_id"`
	Filename  string `json:"filename"`
}

// Task 提交给 worker 池的工作单元
type Task struct {
	ID        string          `json:"task_id"`
	Kind      TaskKind        `json:"kind"`
	Upload    *UploadTask     `json:"upload,omitempty"`
	Process   *ProcessRequest `json:"process,omitempty"`
	CreatedAt time.Time       `json:"created_at"`

	// RabbitMQ 相关（不序列化到 JSON）
	DeliveryTag      uint64 `json:"-"`
	RabbitMQDelivery any    `json:"-"`
}
