package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	mferrors "github.com/z-wentao/meetflow/pkg/errors"
)

// LocalStore 本地目录对象存储
// 用于开发环境，文件 ID 为 uuid 加原扩展名
type LocalStore struct {
	dir       string
	chunkSize int
}

// NewLocalStore 创建本地对象存储，目录不存在时自动创建
func NewLocalStore(dir string, chunkSize int) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &LocalStore{dir: dir, chunkSize: chunkSize}, nil
}

func (s *LocalStore) path(fileID string) (string, error) {
	if fileID == "" || fileID != filepath.Base(fileID) || strings.HasPrefix(fileID, ".") {
		return "", fmt.Errorf("非法的文件 ID %q: %w", fileID, mferrors.ErrValidation)
	}
	return filepath.Join(s.dir, fileID), nil
}

// Put 分块复制到存储目录，每块回调一次进度
func (s *LocalStore) Put(ctx context.Context, localPath, name, mimeType string, progress ProgressFunc) (string, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("打开文件失败: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("读取文件信息失败: %w", err)
	}

	fileID := uuid.New().String()
	if ext := Extension(name); ext != "" {
		fileID += "." + ext
	}
	destPath := filepath.Join(s.dir, fileID)

	dst, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("创建目标文件失败: %w", err)
	}

	if err := copyChunks(ctx, dst, src, s.chunkSize, info.Size(), progress); err != nil {
		dst.Close()
		os.Remove(destPath)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("写入目标文件失败: %w", err)
	}

	return fileID, nil
}

// Get 复制到 destPath
func (s *LocalStore) Get(ctx context.Context, fileID, destPath string) error {
	path, err := s.path(fileID)
	if err != nil {
		return err
	}

	src, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("文件不存在: %s: %w", fileID, mferrors.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("打开文件失败: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("创建目标文件失败: %w", err)
	}
	if err := copyChunks(ctx, dst, src, s.chunkSize, 0, nil); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// Delete 删除文件
func (s *LocalStore) Delete(ctx context.Context, fileID string) error {
	path, err := s.path(fileID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("文件不存在: %s: %w", fileID, mferrors.ErrNotFound)
		}
		return fmt.Errorf("删除文件失败: %w", err)
	}
	return nil
}

// copyChunks 按块复制，块之间检查 ctx
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, chunkSize int, total int64, progress ProgressFunc) error {
	buf := make([]byte, chunkSize)
	var sent int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("写入失败: %w", err)
			}
			sent += int64(n)
			if progress != nil {
				progress(sent, total)
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("读取失败: %w", readErr)
		}
	}
}
