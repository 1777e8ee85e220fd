package timeline

import (
	"context"

	"clear-talk/server/internal/model"
)

type Store interface {
	// Append 以 append-first 的契约写入 timeline，返回本次写入的 seq。
	// 约定：同一 session 的 seq 单调递增；相同 EventID 的请求应幂等返回同一 seq。
	Append(ctx context.Context, sessionID string, evt *model.Event) (int64, error)
	// List 返回该 session 的全量事件（含被回卷的事件与 revert 墓碑），用于回放与审计。
	List(ctx context.Context, sessionID string) ([]model.Event, error)
	// ListActive 返回未被回卷的事件，即供未来预测使用的上下文。
	// 回卷不做物理删除：revert 墓碑声明的 seq 在此视图中被排除。
	ListActive(ctx context.Context, sessionID string) ([]model.Event, error)
}
