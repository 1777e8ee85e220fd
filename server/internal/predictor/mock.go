package predictor

import (
	"context"

	"clear-talk/server/internal/model"
)

// Mock 用于测试的预测客户端。
// 按调用顺序依次返回 Responses 中的预测结果，耗尽后重复最后一个。
type Mock struct {
	Responses  []*model.Prediction
	ShouldFail bool
	CallCount  int
	// LastRequest 记录最近一次请求，便于断言传入的上下文。
	LastRequest PredictRequest
}

// NewMock 创建 Mock 预测客户端
func NewMock(responses ...*model.Prediction) *Mock {
	return &Mock{Responses: responses}
}

// Predict 模拟预测调用
func (m *Mock) Predict(_ context.Context, req PredictRequest) (*model.Prediction, error) {
	m.CallCount++
	m.LastRequest = req

	if m.ShouldFail {
		return nil, ErrUnavailable
	}

	if len(m.Responses) == 0 {
		return &model.Prediction{}, nil
	}

	idx := m.CallCount - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}
