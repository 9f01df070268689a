// Package apiclient meetflow HTTP API 的客户端，供 meetctl 和下游服务轮询使用
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	mferrors "github.com/z-wentao/meetflow/pkg/errors"
	"github.com/z-wentao/meetflow/pkg/models"
	"github.com/z-wentao/meetflow/pkg/processing"
)

// UploadResponse POST /api/upload 的响应
type UploadResponse struct {
	UploadID string              `json:"upload_id"`
	Filename string              `json:"filename"`
	Status   models.UploadStatus `json:"status"`
}

// UploadListResponse GET /api/uploads 的响应
type UploadListResponse struct {
	Uploads []models.UploadJob `json:"uploads"`
	Count   int                `json:"count"`
}

// ProcessResponse POST /api/meetings/:id/process 的响应
type ProcessResponse struct {
	Message   string `json:"message"`
	MeetingID string `json:"meeting_id"`
	FileID    string `json:"file_id"`
}

// ScanResponse POST /api/meetings/auto-process 的响应
type ScanResponse struct {
	Results []processing.ScanResult `json:"results"`
	Count   int                     `json:"count"`
}

// MinutesResponse GET /api/meetings/:id/minutes 的响应
type MinutesResponse struct {
	MeetingID  string `json:"meeting_id"`
	Transcript string `json:"transcript"`
	Summary    string `json:"summary,omitempty"`
	Minutes    any    `json:"minutes,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error string `json:"error"`
}

// Client meetflow API 客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建客户端
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// UploadStatus 查询上传状态，未知 ID 返回 ErrNotFound
func (c *Client) UploadStatus(ctx context.Context, uploadID string) (*models.UploadJob, error) {
	var job models.UploadJob
	if err := c.do(ctx, http.MethodGet, "/api/uploads/"+url.PathEscape(uploadID), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListUploads 列出上传任务
func (c *Client) ListUploads(ctx context.Context) ([]models.UploadJob, error) {
	var resp UploadListResponse
	if err := c.do(ctx, http.MethodGet, "/api/uploads", &resp); err != nil {
		return nil, err
	}
	return resp.Uploads, nil
}

// ProcessMeeting 手动重跑会议处理
func (c *Client) ProcessMeeting(ctx context.Context, meetingID string) (*ProcessResponse, error) {
	var resp ProcessResponse
	if err := c.do(ctx, http.MethodPost, "/api/meetings/"+url.PathEscape(meetingID)+"/process", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ScanPending 触发扫描待处理会议
func (c *Client) ScanPending(ctx context.Context) ([]processing.ScanResult, error) {
	var resp ScanResponse
	if err := c.do(ctx, http.MethodPost, "/api/meetings/auto-process", &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Minutes 查询会议纪要
func (c *Client) Minutes(ctx context.Context, meetingID string) (*MinutesResponse, error) {
	var resp MinutesResponse
	if err := c.do(ctx, http.MethodGet, "/api/meetings/"+url.PathEscape(meetingID)+"/minutes", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Artifacts 查询会议产物 {files[], transcript?, minutes?}
func (c *Client) Artifacts(ctx context.Context, meetingID string) (*models.MeetingArtifacts, error) {
	var resp models.MeetingArtifacts
	if err := c.do(ctx, http.MethodGet, "/api/meetings/"+url.PathEscape(meetingID)+"/artifacts", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

// statusError 把 HTTP 状态码映射回错误哨兵
func statusError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg = errResp.Error
	}

	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("API 错误: %s: %w", msg, mferrors.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("API 错误: %s: %w", msg, mferrors.ErrConflict)
	case http.StatusBadRequest:
		return fmt.Errorf("API 错误: %s: %w", msg, mferrors.ErrValidation)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("API 错误: %s: %w", msg, mferrors.ErrUnavailable)
	default:
		return fmt.Errorf("API 返回错误: %d - %s", status, msg)
	}
}
