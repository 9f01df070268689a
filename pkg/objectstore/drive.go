package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	mferrors "github.com/z-wentao/meetflow/pkg/errors"
)

// DriveStore Google Drive 对象存储
// 上传走可续传协议，按 chunkSize 分块并回调进度
type DriveStore struct {
	service   *drive.Service
	folderID  string
	chunkSize int
	logger    zerolog.Logger
}

// DriveOptions Drive 连接参数
type DriveOptions struct {
	CredentialsFile string // OAuth 客户端 JSON
	TokenFile       string // 已授权的 token JSON
	FolderID        string // 上传目标文件夹，可为空
	ChunkSize       int
}

// NewDriveStore 用 OAuth token 创建 Drive 客户端
func NewDriveStore(ctx context.Context, opts DriveOptions, logger zerolog.Logger) (*DriveStore, error) {
	credentials, err := os.ReadFile(opts.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("读取 OAuth 凭据失败: %w", err)
	}

	oauthConfig, err := google.ConfigFromJSON(credentials, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("解析 OAuth 凭据失败: %w", err)
	}

	token, err := loadToken(opts.TokenFile)
	if err != nil {
		return nil, err
	}

	service, err := drive.NewService(ctx, option.WithTokenSource(oauthConfig.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("创建 Drive 客户端失败: %w", err)
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &DriveStore{
		service:   service,
		folderID:  opts.FolderID,
		chunkSize: chunkSize,
		logger:    logger.With().Str("component", "drive").Logger(),
	}, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取 OAuth token 失败: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("解析 OAuth token 失败: %w", err)
	}
	return &token, nil
}

// Put 可续传上传
func (s *DriveStore) Put(ctx context.Context, localPath, name, mimeType string, progress ProgressFunc) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("读取文件信息失败: %w", err)
	}
	size := info.Size()

	meta := &drive.File{Name: name}
	if s.folderID != "" {
		meta.Parents = []string{s.folderID}
	}

	call := s.service.Files.Create(meta).
		Media(f, googleapi.ContentType(mimeType), googleapi.ChunkSize(s.chunkSize)).
		Fields("id").
		Context(ctx)
	if progress != nil {
		// 可续传上传时 total 可能为 0，以本地文件大小为准
		call = call.ProgressUpdater(func(current, _ int64) {
			progress(current, size)
		})
	}

	created, err := call.Do()
	if err != nil {
		return "", fmt.Errorf("上传到 Drive 失败: %w", err)
	}

	s.logger.Info().Str("file_id", created.Id).Str("filename", name).Int64("size", size).Msg("✓ 上传到 Drive 完成")
	return created.Id, nil
}

// Get 下载文件
func (s *DriveStore) Get(ctx context.Context, fileID, destPath string) error {
	resp, err := s.service.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return wrapDriveError("下载", fileID, err)
	}
	defer resp.Body.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("创建目标文件失败: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("写入下载文件失败: %w", err)
	}
	return out.Close()
}

// Delete 删除文件
func (s *DriveStore) Delete(ctx context.Context, fileID string) error {
	if err := s.service.Files.Delete(fileID).Context(ctx).Do(); err != nil {
		return wrapDriveError("删除", fileID, err)
	}
	return nil
}

// wrapDriveError 404 转换为 ErrNotFound
func wrapDriveError(op, fileID string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("Drive 文件不存在: %s: %w", fileID, mferrors.ErrNotFound)
	}
	return fmt.Errorf("%s Drive 文件 %s 失败: %w", op, fileID, err)
}
