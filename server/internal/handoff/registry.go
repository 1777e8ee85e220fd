package handoff

import (
	"context"
	"fmt"
	"sync"

	"clear-talk/server/internal/model"
)

// Registry 管理所有活跃的客服桥接器（sessionID -> Bridge），
// 并实现编排器的 HandoffDispatcher 契约。
// 客服尚未接入时，升级信号先挂起，接入后立刻补发。
type Registry struct {
	mu      sync.RWMutex
	bridges map[string]*Bridge
	pending map[string]*model.HandoffSignal
}

func NewRegistry() *Registry {
	return &Registry{
		bridges: make(map[string]*Bridge),
		pending: make(map[string]*model.HandoffSignal),
	}
}

// Register 注册一个客服桥接器；如有挂起的升级信号立即补发。
func (r *Registry) Register(sessionID string, b *Bridge) error {
	r.mu.Lock()
	r.bridges[sessionID] = b
	sig := r.pending[sessionID]
	delete(r.pending, sessionID)
	r.mu.Unlock()

	if sig != nil {
		return b.SendSignal(sig)
	}
	return nil
}

// Unregister 注销桥接器。只移除传入的实例，避免误删后注册的新连接。
func (r *Registry) Unregister(sessionID string, b *Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.bridges[sessionID]; ok && cur == b {
		delete(r.bridges, sessionID)
	}
}

// Dispatch 派发升级信号：客服在线直接推送，否则挂起等接入。
func (r *Registry) Dispatch(_ context.Context, sig *model.HandoffSignal) error {
	r.mu.Lock()
	b, ok := r.bridges[sig.SessionID]
	if !ok {
		r.pending[sig.SessionID] = sig
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	return b.SendSignal(sig)
}

// Relay 把已升级会话的用户消息转给在线客服。
func (r *Registry) Relay(_ context.Context, sessionID, text string) error {
	r.mu.RLock()
	b, ok := r.bridges[sessionID]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no operator connected for session %s", sessionID)
	}
	return b.SendUserText(text)
}
