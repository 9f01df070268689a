package transcriber

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xfrr/goffmpeg/transcoder"

	"github.com/z-wentao/meetflow/pkg/models"
)

// chunkDirName 切片目录名，位于源文件同级
const chunkDirName = "chunks"

// Chunker 媒体切片能力
type Chunker interface {
	// Available 当前环境能否切片（ffmpeg/ffprobe 是否可用）
	Available() bool

	// Split 按固定时长切片，失败时返回空列表
	Split(ctx context.Context, srcPath string, chunkDuration int) []models.MediaChunk

	// Cleanup 删除切片文件，目录为空时一并删除
	Cleanup(chunks []models.MediaChunk)
}

// PlanChunks 计算切片区间
// 共 ceil(total/d) 片，区间首尾相接覆盖 [0, total)，最后一片的 End 等于 total
func PlanChunks(total float64, chunkDuration int) []models.MediaChunk {
	if total <= 0 || chunkDuration <= 0 {
		return nil
	}

	d := float64(chunkDuration)
	n := int(math.Ceil(total / d))
	chunks := make([]models.MediaChunk, 0, n)
	for i := 0; i < n; i++ {
		start := float64(i) * d
		end := math.Min(start+d, total)
		chunks = append(chunks, models.MediaChunk{
			Index: i + 1,
			Start: start,
			End:   end,
		})
	}
	return chunks
}

// ChunkFileName 切片文件名：{源文件名}_chunk_{三位序号}.mp4，按字典序即按时间序
func ChunkFileName(srcPath string, index int) string {
	base := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))
	return fmt.Sprintf("%s_chunk_%03d.mp4", base, index)
}

// MediaChunker 基于 goffmpeg 的切片实现
type MediaChunker struct {
	logger  zerolog.Logger
	probe   func(path string) (float64, error)
	extract func(ctx context.Context, src, dst string, start, duration float64) error
}

// NewMediaChunker 创建切片器
func NewMediaChunker(logger zerolog.Logger) *MediaChunker {
	return &MediaChunker{
		logger:  logger.With().Str("component", "chunker").Logger(),
		probe:   probeDuration,
		extract: extractChunk,
	}
}

// Available ffmpeg 和 ffprobe 都在 PATH 中
func (c *MediaChunker) Available() bool {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			return false
		}
	}
	return true
}

// Split 将媒体文件切成固定时长的片段，不修改源文件
func (c *MediaChunker) Split(ctx context.Context, srcPath string, chunkDuration int) []models.MediaChunk {
	log := c.logger.With().Str("file", filepath.Base(srcPath)).Logger()

	total, err := c.probe(srcPath)
	if err != nil {
		log.Error().Err(err).Msg("❌ 获取媒体时长失败")
		return nil
	}

	plan := PlanChunks(total, chunkDuration)
	if len(plan) == 0 {
		log.Warn().Float64("duration", total).Msg("媒体时长为 0，无法切片")
		return nil
	}
	log.Info().
		Float64("duration", total).
		Int("chunks", len(plan)).
		Int("chunk_duration", chunkDuration).
		Msg("✂️ 开始切片")

	dir := filepath.Join(filepath.Dir(srcPath), chunkDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Error().Err(err).Msg("❌ 创建切片目录失败")
		return nil
	}

	chunks := make([]models.MediaChunk, 0, len(plan))
	for _, chunk := range plan {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Msg("切片被取消")
			c.Cleanup(chunks)
			return nil
		}

		chunk.FilePath = filepath.Join(dir, ChunkFileName(srcPath, chunk.Index))
		if err := c.extract(ctx, srcPath, chunk.FilePath, chunk.Start, chunk.Duration()); err != nil {
			log.Error().Err(err).Int("chunk", chunk.Index).Msg("❌ 切片失败")
			c.Cleanup(append(chunks, chunk))
			return nil
		}

		log.Debug().
			Int("chunk", chunk.Index).
			Float64("start", chunk.Start).
			Float64("end", chunk.End).
			Msg("切片完成")
		chunks = append(chunks, chunk)
	}

	return chunks
}

// Cleanup 删除切片文件，所在目录为空时删除目录
func (c *MediaChunker) Cleanup(chunks []models.MediaChunk) {
	dirs := make(map[string]struct{})
	for _, chunk := range chunks {
		if chunk.FilePath == "" {
			continue
		}
		if err := os.Remove(chunk.FilePath); err != nil && !os.IsNotExist(err) {
			c.logger.Warn().Err(err).Str("path", chunk.FilePath).Msg("删除切片失败")
		}
		dirs[filepath.Dir(chunk.FilePath)] = struct{}{}
	}

	for dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			c.logger.Warn().Err(err).Str("dir", dir).Msg("删除切片目录失败")
		}
	}
}

// probeDuration 通过 ffprobe 读取容器时长（秒）
func probeDuration(path string) (float64, error) {
	trans := new(transcoder.Transcoder)
	if err := trans.Initialize(path, ""); err != nil {
		return 0, fmt.Errorf("初始化 transcoder 失败: %w", err)
	}

	raw := strings.TrimSpace(trans.MediaFile().Metadata().Format.Duration)
	if raw == "" {
		return 0, fmt.Errorf("ffprobe 未返回时长信息")
	}

	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("解析时长失败: %w (output: %s)", err, raw)
	}
	return duration, nil
}

// extractChunk 截取 [start, start+duration) 并转码为 H.264/AAC 的 mp4
func extractChunk(ctx context.Context, src, dst string, start, duration float64) error {
	trans := new(transcoder.Transcoder)
	if err := trans.Initialize(src, dst); err != nil {
		return fmt.Errorf("初始化 transcoder 失败: %w", err)
	}

	trans.MediaFile().SetSeekTime(strconv.FormatFloat(start, 'f', 3, 64))
	trans.MediaFile().SetDuration(strconv.FormatFloat(duration, 'f', 3, 64))
	trans.MediaFile().SetVideoCodec("libx264")
	trans.MediaFile().SetAudioCodec("aac")
	trans.MediaFile().SetOutputFormat("mp4")

	done := trans.Run(false)
	if err := <-done; err != nil {
		return fmt.Errorf("ffmpeg 执行失败: %w", err)
	}
	return ctx.Err()
}
