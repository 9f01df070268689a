// Package errors 定义跨包使用的领域哨兵错误。
//
// 用法:
//
//	import mferrors "github.com/z-wentao/meetflow/pkg/errors"
//
//	if mferrors.IsNotFound(err) {
//	    // 404
//	}
package errors

import "errors"

var (
	// ErrNotFound 资源不存在（例如未知的上传 ID）
	ErrNotFound = errors.New("not found")

	// ErrConflict 与已有数据冲突（例如会议已有有效转录）
	ErrConflict = errors.New("conflict")

	// ErrValidation 输入不合法
	ErrValidation = errors.New("validation error")

	// ErrUnavailable 依赖的能力不可用（例如未安装 ffmpeg、后端不支持异步转录）
	ErrUnavailable = errors.New("unavailable")
)

// IsNotFound 错误链中是否包含 ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict 错误链中是否包含 ErrConflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation 错误链中是否包含 ErrValidation
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsUnavailable 错误链中是否包含 ErrUnavailable
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
