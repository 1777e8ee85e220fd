package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"clear-talk/server/internal/model"
)

var ErrNotFound = errors.New("session not found")

// InMemoryStore 是一个基于内存的 Session 存储实现。
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]*model.SessionState
	now  func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	// 第一阶段用内存 store：实现简单、调试方便。
	// 注意：重启即丢数据；多人/多实例部署需要替换为 Redis/DB。
	return &InMemoryStore{
		data: make(map[string]*model.SessionState),
		now:  time.Now,
	}
}

// Get 根据 SessionID 获取 SessionState。
func (s *InMemoryStore) Get(_ context.Context, id string) (*model.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}

	return state, nil
}

// Save 保存或更新 SessionState。
func (s *InMemoryStore) Save(_ context.Context, state *model.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[state.SessionID] = state
	return nil
}

// Delete 删除一个会话快照。会话不存在时视为成功（幂等）。
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, id)
	return nil
}

// Sweep 清理超过 maxInactive 未活跃的会话，返回清理数量。
// 这是对"用户在澄清流程中消失"的唯一处理：随会话过期一并丢弃，
// 编排器内部不设定任何计时器。
func (s *InMemoryStore) Sweep(maxInactive time.Duration) int {
	if maxInactive <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxInactive)
	removed := 0
	for id, state := range s.data {
		if state.LastActiveAt.Before(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// StartJanitor 启动后台清扫协程，ctx 取消时退出。
func (s *InMemoryStore) StartJanitor(ctx context.Context, interval, maxInactive time.Duration) {
	if interval <= 0 || maxInactive <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(maxInactive)
			}
		}
	}()
}
