package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RESTStore PostgREST 风格的记录存储（例如 Supabase）
// 任何非 2xx 响应都视为失败，由上层决定是否重试
type RESTStore struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// NewRESTStore 创建 REST 记录存储，baseURL 形如 https://xxx.supabase.co
func NewRESTStore(baseURL, serviceKey string) *RESTStore {
	return &RESTStore{
		baseURL:    strings.TrimRight(baseURL, "/") + "/rest/v1/",
		serviceKey: serviceKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// filterQuery 等值条件转换为 col=eq.value
func filterQuery(filter Filter) url.Values {
	q := url.Values{}
	for col, val := range filter {
		q.Set(col, "eq."+val)
	}
	return q
}

func (s *RESTStore) newRequest(ctx context.Context, method, table string, query url.Values, body any) (*http.Request, error) {
	endpoint := s.baseURL + url.PathEscape(table)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化记录失败: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// send 发送请求，非 2xx 返回错误
func (s *RESTStore) send(req *http.Request) (*http.Response, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("记录存储返回错误 (状态码 %d): %s", resp.StatusCode, string(bodyBytes))
	}
	return resp, nil
}

// Upsert POST + Prefer: resolution=merge-duplicates
func (s *RESTStore) Upsert(ctx context.Context, table, keyColumn string, record Record) error {
	query := url.Values{}
	query.Set("on_conflict", keyColumn)

	req, err := s.newRequest(ctx, http.MethodPost, table, query, record)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	resp, err := s.send(req)
	if err != nil {
		return fmt.Errorf("写入 %s 失败: %w", table, err)
	}
	resp.Body.Close()
	return nil
}

// Patch PATCH ?col=eq.value
func (s *RESTStore) Patch(ctx context.Context, table string, where Filter, record Record) error {
	if len(where) == 0 {
		return fmt.Errorf("拒绝无条件更新 %s", table)
	}

	req, err := s.newRequest(ctx, http.MethodPatch, table, filterQuery(where), record)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=minimal")

	resp, err := s.send(req)
	if err != nil {
		return fmt.Errorf("更新 %s 失败: %w", table, err)
	}
	resp.Body.Close()
	return nil
}

// Query GET ?select=*&col=eq.value
func (s *RESTStore) Query(ctx context.Context, table string, filter Filter) ([]Record, error) {
	query := filterQuery(filter)
	query.Set("select", "*")

	req, err := s.newRequest(ctx, http.MethodGet, table, query, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.send(req)
	if err != nil {
		return nil, fmt.Errorf("查询 %s 失败: %w", table, err)
	}
	defer resp.Body.Close()

	var rows []Record
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("解析 %s 查询结果失败: %w", table, err)
	}
	if rows == nil {
		rows = make([]Record, 0)
	}
	return rows, nil
}

// Close REST 存储无需关闭
func (s *RESTStore) Close() error {
	return nil
}
