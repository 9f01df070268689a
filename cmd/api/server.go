package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/z-wentao/meetflow/pkg/apiclient"
	mferrors "github.com/z-wentao/meetflow/pkg/errors"
	"github.com/z-wentao/meetflow/pkg/models"
	"github.com/z-wentao/meetflow/pkg/objectstore"
	"github.com/z-wentao/meetflow/pkg/processing"
	"github.com/z-wentao/meetflow/pkg/storage"
	"github.com/z-wentao/meetflow/pkg/transcriber"
	"github.com/z-wentao/meetflow/pkg/upload"
)

const version = "1.0.0"

// App HTTP 层依赖（只做参数校验和状态码映射，业务都在 pkg 中）
type App struct {
	uploadDir     string
	maxUploadSize int64

	tracker    *upload.Tracker
	repo       *storage.MeetingRepository
	discoverer *processing.Discoverer
	objects    objectstore.ObjectStore
	queueDepth func() (int, error)

	metricsHandler http.Handler
	logger         zerolog.Logger
}

// setupRouter 设置路由
func (app *App) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), app.requestLogger())

	if app.metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(app.metricsHandler))
	}

	api := r.Group("/api")
	{
		api.GET("/ping", app.handlePing)

		api.POST("/upload", app.handleUpload)
		api.GET("/uploads", app.handleListUploads)
		api.GET("/uploads/:upload_id", app.handleGetUpload)

		api.DELETE("/files/:file_id", app.handleDeleteFile)

		api.POST("/meetings/auto-process", app.handleAutoProcess)
		api.POST("/meetings/:meeting_id/process", app.handleProcessMeeting)
		api.GET("/meetings/:meeting_id/files", app.handleMeetingFiles)
		api.GET("/meetings/:meeting_id/minutes", app.handleMeetingMinutes)
		api.GET("/meetings/:meeting_id/artifacts", app.handleMeetingArtifacts)
		api.GET("/meetings/:meeting_id/subtitles.srt", app.handleSubtitles("srt"))
		api.GET("/meetings/:meeting_id/subtitles.vtt", app.handleSubtitles("vtt"))
	}

	return r
}

// requestLogger 用 zerolog 记录每个请求
func (app *App) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Request.URL.Path == "/metrics" {
			return
		}
		app.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP 请求")
	}
}

// statusFor 错误哨兵 -> HTTP 状态码
// 已有有效转录的重跑请求按调用方错误处理，返回 400
func statusFor(err error) int {
	switch {
	case mferrors.IsNotFound(err):
		return http.StatusNotFound
	case mferrors.IsValidation(err), mferrors.IsConflict(err):
		return http.StatusBadRequest
	case mferrors.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (app *App) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		app.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("❌ 请求处理失败")
	}
	c.JSON(status, apiclient.ErrorResponse{Error: err.Error()})
}

// handlePing 健康检查
func (app *App) handlePing(c *gin.Context) {
	resp := gin.H{
		"message": "pong",
		"version": version,
	}
	if app.queueDepth != nil {
		if depth, err := app.queueDepth(); err == nil {
			resp["queue_depth"] = depth
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handleUpload 暂存上传文件并提交上传任务，立即返回上传 ID
func (app *App) handleUpload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, apiclient.ErrorResponse{Error: "请上传文件"})
		return
	}

	if !objectstore.AllowedFile(file.Filename) {
		c.JSON(http.StatusBadRequest, apiclient.ErrorResponse{
			Error: fmt.Sprintf("不支持的文件格式 %q，支持: mp3, wav, m4a, mp4, avi, mov, mkv", filepath.Ext(file.Filename)),
		})
		return
	}

	if app.maxUploadSize > 0 && file.Size > app.maxUploadSize {
		c.JSON(http.StatusBadRequest, apiclient.ErrorResponse{
			Error: fmt.Sprintf("文件太大，最大 %.0f MB", float64(app.maxUploadSize)/1024/1024),
		})
		return
	}

	// 暂存路径只由 uuid 决定，并发上传不会冲突
	savePath := filepath.Join(app.uploadDir, uuid.New().String()+"."+objectstore.Extension(file.Filename))
	if err := c.SaveUploadedFile(file, savePath); err != nil {
		app.logger.Error().Err(err).Msg("❌ 保存上传文件失败")
		c.JSON(http.StatusInternalServerError, apiclient.ErrorResponse{Error: "保存文件失败"})
		return
	}

	uploadID, err := app.tracker.BeginUpload(upload.Request{
		LocalPath:  savePath,
		Filename:   filepath.Base(file.Filename),
		MimeType:   objectstore.MimeType(file.Filename),
		MeetingID:  c.PostForm("meeting_id"),
		UploadedBy: c.PostForm("uploaded_by"),
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "upload_id": uploadID})
		return
	}

	c.JSON(http.StatusAccepted, apiclient.UploadResponse{
		UploadID: uploadID,
		Filename: file.Filename,
		Status:   models.StatusInitializing,
	})
}

// handleGetUpload 上传进度轮询，未知 ID 返回 404
func (app *App) handleGetUpload(c *gin.Context) {
	job, err := app.tracker.Poll(c.Request.Context(), c.Param("upload_id"))
	if err != nil {
		app.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// handleListUploads 列出所有上传任务
func (app *App) handleListUploads(c *gin.Context) {
	jobs := app.tracker.List()
	c.JSON(http.StatusOK, apiclient.UploadListResponse{Uploads: jobs, Count: len(jobs)})
}

// handleDeleteFile 删除远程文件
func (app *App) handleDeleteFile(c *gin.Context) {
	fileID := c.Param("file_id")
	if err := app.objects.Delete(c.Request.Context(), fileID); err != nil {
		app.respondError(c, err)
		return
	}
	app.logger.Info().Str("file_id", fileID).Msg("✓ 已删除远程文件")
	c.JSON(http.StatusOK, gin.H{"message": "删除成功", "file_id": fileID})
}

// handleAutoProcess 扫描并调度缺少有效转录的会议
func (app *App) handleAutoProcess(c *gin.Context) {
	results, err := app.discoverer.ScanPending(c.Request.Context())
	if err != nil {
		app.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, apiclient.ScanResponse{Results: results, Count: len(results)})
}

// handleProcessMeeting 手动重跑单个会议
func (app *App) handleProcessMeeting(c *gin.Context) {
	req, err := app.discoverer.Rerun(c.Request.Context(), c.Param("meeting_id"))
	if err != nil {
		app.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, apiclient.ProcessResponse{
		Message:   "已开始处理",
		MeetingID: req.MeetingID,
		FileID:    req.FileID,
	})
}

// handleMeetingFiles 会议的视频记录
func (app *App) handleMeetingFiles(c *gin.Context) {
	videos, err := app.repo.Videos(c.Request.Context(), c.Param("meeting_id"))
	if err != nil {
		app.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": videos, "count": len(videos)})
}

// handleMeetingMinutes 会议纪要，full_mom 解析失败时原样返回字符串
func (app *App) handleMeetingMinutes(c *gin.Context) {
	meetingID := c.Param("meeting_id")
	record, err := app.repo.Minutes(c.Request.Context(), meetingID)
	if err != nil {
		app.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, apiclient.MinutesResponse{
		MeetingID:  meetingID,
		Transcript: record.Transcript,
		Summary:    record.Summary,
		Minutes:    storage.ParseMinutes(record.FullMoM),
	})
}

// handleMeetingArtifacts 下游轮询的会议产物 {files[], transcript?, minutes?}
func (app *App) handleMeetingArtifacts(c *gin.Context) {
	artifacts, err := app.repo.Artifacts(c.Request.Context(), c.Param("meeting_id"))
	if err != nil {
		app.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, artifacts)
}

var errNoSegments = errors.New("会议没有可用的转录分段")

// handleSubtitles 由合并后的分段生成 SRT / VTT 字幕
func (app *App) handleSubtitles(format string) gin.HandlerFunc {
	return func(c *gin.Context) {
		meetingID := c.Param("meeting_id")
		record, err := app.repo.Minutes(c.Request.Context(), meetingID)
		if err != nil {
			app.respondError(c, err)
			return
		}
		if len(record.Segments) == 0 {
			app.respondError(c, fmt.Errorf("%w: %s: %w", errNoSegments, meetingID, mferrors.ErrNotFound))
			return
		}

		var buf bytes.Buffer
		contentType := "application/x-subrip; charset=utf-8"
		if format == "vtt" {
			contentType = "text/vtt; charset=utf-8"
			err = transcriber.WriteVTT(&buf, record.Segments)
		} else {
			err = transcriber.WriteSRT(&buf, record.Segments)
		}
		if err != nil {
			app.respondError(c, err)
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", meetingID+"."+format))
		c.Data(http.StatusOK, contentType, buf.Bytes())
	}
}

// ensureDir 确保目录存在
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建目录 %s 失败: %w", dir, err)
	}
	return nil
}
