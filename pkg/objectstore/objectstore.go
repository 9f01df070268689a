// Package objectstore 远程对象存储（上传的会议录音/录像最终存放处）
package objectstore

import (
	"context"
	"path/filepath"
	"strings"
)

// ProgressFunc 上传进度回调，sent/total 为字节数
type ProgressFunc func(sent, total int64)

// ObjectStore 远程对象存储接口
type ObjectStore interface {
	// Put 上传本地文件，返回远程文件 ID
	Put(ctx context.Context, localPath, name, mimeType string, progress ProgressFunc) (string, error)

	// Get 下载远程文件到 destPath
	Get(ctx context.Context, fileID, destPath string) error

	// Delete 删除远程文件
	Delete(ctx context.Context, fileID string) error
}

// DefaultChunkSize 可续传上传的分块大小
const DefaultChunkSize = 5 << 20

var mimeTypes = map[string]string{
	"mp3": "audio/mpeg",
	"wav": "audio/wav",
	"m4a": "audio/mp4",
	"mp4": "video/mp4",
	"avi": "video/x-msvideo",
	"mov": "video/quicktime",
	"mkv": "video/x-matroska",
}

// Extension 小写扩展名，不含点
func Extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// AllowedFile 是否为支持的音视频格式
func AllowedFile(filename string) bool {
	_, ok := mimeTypes[Extension(filename)]
	return ok
}

// MimeType 按扩展名推断 MIME，未知类型返回 application/octet-stream
func MimeType(filename string) string {
	if mt, ok := mimeTypes[Extension(filename)]; ok {
		return mt
	}
	return "application/octet-stream"
}
