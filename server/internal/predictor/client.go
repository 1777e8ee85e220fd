package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"clear-talk/server/internal/config"
	"clear-talk/server/internal/model"
)

// ErrUnavailable 表示外部预测服务不可用。
// 约定：本轮对话直接失败，编排器不做任何重试。
var ErrUnavailable = errors.New("predictor unavailable")

// Client 外部 NLU/策略预测客户端接口
type Client interface {
	// Predict 对一条用户消息返回意图排序与下一步动作预测。
	Predict(ctx context.Context, req PredictRequest) (*model.Prediction, error)
}

// PredictRequest 一次预测请求。
// Context 是去除已回卷事件后的时间线视图：被回卷的迂回不参与未来预测。
type PredictRequest struct {
	SessionID string        `json:"session_id"`
	Text      string        `json:"text"`
	Context   []model.Event `json:"context,omitempty"`
}

// HTTPClient 基于 HTTP 的预测客户端
type HTTPClient struct {
	config     config.PredictorConfig
	httpClient *http.Client
}

// NewHTTPClient 创建 HTTP 预测客户端
func NewHTTPClient(cfg config.PredictorConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Predict 调用外部预测服务
func (c *HTTPClient) Predict(ctx context.Context, req PredictRequest) (*model.Prediction, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal predict request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create predict request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, truncate(respBody, 200))
	}

	var prediction model.Prediction
	if err := json.Unmarshal(respBody, &prediction); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrUnavailable, err)
	}

	return &prediction, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
