package timeline

import (
	"context"
	"sync"

	"clear-talk/server/internal/model"
)

// InMemoryStore 是一个基于内存的 Timeline 存储实现。
type InMemoryStore struct {
	mu       sync.RWMutex
	events   map[string][]model.Event
	seq      map[string]int64
	eventIDs map[string]map[string]int64
	// reverted 记录每个 session 已被墓碑声明排除的 seq。
	reverted map[string]map[int64]bool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events:   make(map[string][]model.Event),
		seq:      make(map[string]int64),
		eventIDs: make(map[string]map[string]int64),
		reverted: make(map[string]map[int64]bool),
	}
}

// Append 追加事件到 timeline，并为该 session 分配单调递增 seq。
// 副作用：会修改内存状态；相同 EventID 会直接返回已分配的 seq（幂等）。
// revert 事件在写入的同时更新排除索引，供 ListActive 过滤。
func (s *InMemoryStore) Append(_ context.Context, sessionID string, evt *model.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.EventID != "" {
		if seen, ok := s.eventIDs[sessionID]; ok {
			if seq, exists := seen[evt.EventID]; exists {
				return seq, nil
			}
		}
	}

	s.seq[sessionID]++
	seq := s.seq[sessionID]

	eventCopy := *evt
	eventCopy.Seq = seq
	eventCopy.SessionID = sessionID
	s.events[sessionID] = append(s.events[sessionID], eventCopy)

	if evt.EventID != "" {
		if s.eventIDs[sessionID] == nil {
			s.eventIDs[sessionID] = make(map[string]int64)
		}
		s.eventIDs[sessionID][evt.EventID] = seq
	}

	if evt.Type == "revert" && len(evt.RevertedSeqs) > 0 {
		if s.reverted[sessionID] == nil {
			s.reverted[sessionID] = make(map[int64]bool)
		}
		for _, rs := range evt.RevertedSeqs {
			s.reverted[sessionID][rs] = true
		}
	}

	return seq, nil
}

// List 返回某个 session 的全部 timeline 事件（按 seq 顺序）。
// 兼容性：返回切片副本，避免调用方修改内部数据。
func (s *InMemoryStore) List(_ context.Context, sessionID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[sessionID]
	out := make([]model.Event, len(events))
	copy(out, events)
	return out, nil
}

// ListActive 返回未被回卷的事件（按 seq 顺序）。
// revert 墓碑本身也不出现在此视图中：它是审计信息，不是预测上下文。
func (s *InMemoryStore) ListActive(_ context.Context, sessionID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	excluded := s.reverted[sessionID]
	out := make([]model.Event, 0, len(s.events[sessionID]))
	for _, evt := range s.events[sessionID] {
		if evt.Type == "revert" {
			continue
		}
		if excluded[evt.Seq] {
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}
