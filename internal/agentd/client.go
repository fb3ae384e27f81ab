// Package agentd 封装 agent 后端的 HTTP API 客户端。
//
// 只覆盖本客户端消费的四个面: 快照拉取、发消息、停止、新建 run。
// 后端动作失败统一返回 {"error": "..."} 载荷, 这里转成 AppError;
// 404 映射为哨兵 ErrNotFound, 供上层区分 "run 不存在" 与一般错误。
package agentd

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

	"github.com/multi-agent/runview/internal/protocol"
	apperrors "github.com/multi-agent/runview/pkg/errors"
)

// Client agent 后端 HTTP 客户端。
type Client struct {
	BaseURL string
	http    *http.Client
}

// NewClient 创建客户端。timeout 应用于单次请求。
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// FetchRun 拉取工作区当前 run 的权威快照。
// runID 非空时按指定 run 拉取 (查看历史 run)。
func (c *Client) FetchRun(ctx context.Context, workspaceID, runID string) (*protocol.RunSnapshot, error) {
	path := fmt.Sprintf("/workspaces/%s/run", url.PathEscape(workspaceID))
	if runID != "" {
		path = fmt.Sprintf("/workspaces/%s/runs/%s", url.PathEscape(workspaceID), url.PathEscape(runID))
	}
	var snap protocol.RunSnapshot
	if err := c.do(ctx, http.MethodGet, path, nil, &snap); err != nil {
		return nil, err
	}
	snap.Run.Status = protocol.ParseRunStatus(string(snap.Run.Status))
	return &snap, nil
}

// SendMessage 发送一条用户消息, 返回更新后的 run 快照。
func (c *Client) SendMessage(ctx context.Context, workspaceID, text string) (*protocol.RunSnapshot, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "agentd.SendMessage", "empty message")
	}
	path := fmt.Sprintf("/workspaces/%s/send", url.PathEscape(workspaceID))
	body := map[string]string{"text": text}
	var snap protocol.RunSnapshot
	if err := c.do(ctx, http.MethodPost, path, body, &snap); err != nil {
		return nil, err
	}
	snap.Run.Status = protocol.ParseRunStatus(string(snap.Run.Status))
	return &snap, nil
}

// StopRun 请求停止 run。
func (c *Client) StopRun(ctx context.Context, workspaceID, runID string) (*protocol.StopResult, error) {
	path := fmt.Sprintf("/workspaces/%s/stop", url.PathEscape(workspaceID))
	body := map[string]string{"runId": runID}
	var result protocol.StopResult
	if err := c.do(ctx, http.MethodPost, path, body, &result); err != nil {
		return nil, err
	}
	if result.Run != nil {
		result.Run.Run.Status = protocol.ParseRunStatus(string(result.Run.Run.Status))
	}
	return &result, nil
}

// NewRun 重置工作区并开启一个新 run。
func (c *Client) NewRun(ctx context.Context, workspaceID string) (*protocol.RunSnapshot, error) {
	path := fmt.Sprintf("/workspaces/%s/reset", url.PathEscape(workspaceID))
	var snap protocol.RunSnapshot
	if err := c.do(ctx, http.MethodPost, path, nil, &snap); err != nil {
		return nil, err
	}
	snap.Run.Status = protocol.ParseRunStatus(string(snap.Run.Status))
	return &snap, nil
}

// do 执行一次 JSON 请求/响应往返。
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := "agentd." + method + " " + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(err, op, "marshal request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return apperrors.Wrap(err, op, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(err, op, "request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return apperrors.Wrap(err, op, "read response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.Wrap(apperrors.ErrNotFound, op, "run not found")
	case resp.StatusCode >= 400:
		var errBody protocol.ErrorBody
		if json.Unmarshal(data, &errBody) == nil && errBody.Error != "" {
			return &apperrors.AppError{Op: op, Code: "ACTION_FAILED", Message: errBody.Error}
		}
		return apperrors.Newf(op, "http %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.Wrap(err, op, "decode response")
	}
	return nil
}
