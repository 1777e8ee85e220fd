package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"clear-talk/server/internal/config"
	"clear-talk/server/internal/model"
	"clear-talk/server/internal/predictor"
	"clear-talk/server/internal/responder"
	"clear-talk/server/internal/session"
	"clear-talk/server/internal/timeline"
)

func testFallbackConfig() config.FallbackConfig {
	return config.FallbackConfig{
		NLUThreshold:           0.7,
		CoreThreshold:          0.4,
		EnableTwoStage:         true,
		UltimateFallbackAction: model.ActionDefaultFallback,
		AffirmIntent:           "affirm",
		DenyIntent:             "deny",
	}
}

func newTestOrchestrator(t *testing.T, cfg config.FallbackConfig, mock *predictor.Mock) (*Orchestrator, session.Store, timeline.Store) {
	t.Helper()

	store := session.NewInMemoryStore()
	tl := timeline.NewInMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orch := New(store, tl, mock, responder.New(nil, nil), cfg, func() time.Time { return now })

	state := &model.SessionState{
		SessionID:     "s1",
		FallbackState: model.StateNormal,
		CreatedAt:     now,
		LastActiveAt:  now,
	}
	if err := store.Save(context.Background(), state); err != nil {
		t.Fatalf("save session: %v", err)
	}
	return orch, store, tl
}

func pred(intent string, confidence float64) *model.Prediction {
	return &model.Prediction{
		Intent:        model.IntentCandidate{Name: intent, Confidence: confidence},
		IntentRanking: []model.IntentCandidate{{Name: intent, Confidence: confidence}},
	}
}

// TestOrchestratorHighConfidencePassThrough 验证高置信度消息的直通处理。
// 场景：置信度 0.9 ≥ 0.7，期望时间线追加用户消息与 proceed 动作两条事件，
// 无任何澄清提示，状态保持 NORMAL。
func TestOrchestratorHighConfidencePassThrough(t *testing.T) {
	mock := predictor.NewMock(pred("greet", 0.9))
	orch, store, tl := newTestOrchestrator(t, testFallbackConfig(), mock)

	resp, err := orch.OnUserMessage(context.Background(), "s1", model.Event{Text: "hello"})
	if err != nil {
		t.Fatalf("on user message: %v", err)
	}

	if resp.State != model.StateNormal {
		t.Fatalf("expected NORMAL, got %s", resp.State)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Action != model.ActionProceed {
		t.Fatalf("expected single proceed, got %+v", resp.Messages)
	}

	events, err := tl.List(context.Background(), "s1")
	if err != nil {
		t.Fatalf("list timeline: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events appended, got %d", len(events))
	}
	if events[0].Type != "user_message" || events[1].Type != "bot_action" {
		t.Fatalf("unexpected event order: %s, %s", events[0].Type, events[1].Type)
	}

	updated, err := store.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(updated.Turns) != 1 || updated.Turns[0].Role != "user" {
		t.Fatalf("expected one user turn recorded, got %+v", updated.Turns)
	}
}

// TestOrchestratorLowConfidencePromptsConfirmation 验证低置信度触发确认提示。
// 场景：置信度 0.5、头部候选 book_flight，期望回复 "Did you mean book_flight?"，
// 状态进入 AWAITING_INTENT_CONFIRMATION。
func TestOrchestratorLowConfidencePromptsConfirmation(t *testing.T) {
	mock := predictor.NewMock(pred("book_flight", 0.5))
	orch, store, _ := newTestOrchestrator(t, testFallbackConfig(), mock)

	resp, err := orch.OnUserMessage(context.Background(), "s1", model.Event{Text: "flights pls"})
	if err != nil {
		t.Fatalf("on user message: %v", err)
	}

	if resp.State != model.StateAwaitingIntentConfirmation {
		t.Fatalf("expected AWAITING_INTENT_CONFIRMATION, got %s", resp.State)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Text != "Did you mean book_flight?" {
		t.Fatalf("unexpected prompt: %+v", resp.Messages)
	}

	updated, err := store.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if updated.PendingIntent == nil || updated.PendingIntent.Name != "book_flight" {
		t.Fatalf("expected pending intent book_flight, got %+v", updated.PendingIntent)
	}
}

// TestOrchestratorDenyThenGoodRephrase 验证否认后一次高置信度重述即解决，零回卷。
// 场景：低置信度 → 否认 → 重述置信度 0.8，期望按新意图继续，时间线中没有 revert 事件。
func TestOrchestratorDenyThenGoodRephrase(t *testing.T) {
	mock := predictor.NewMock(
		pred("book_flight", 0.5),
		pred("deny", 0.9),
		pred("check_order", 0.8),
	)
	orch, _, tl := newTestOrchestrator(t, testFallbackConfig(), mock)
	ctx := context.Background()

	if _, err := orch.OnUserMessage(ctx, "s1", model.Event{Text: "flights pls"}); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := orch.OnUserMessage(ctx, "s1", model.Event{Text: "no"}); err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	resp, err := orch.OnUserMessage(ctx, "s1", model.Event{Text: "where is my order"})
	if err != nil {
		t.Fatalf("turn 3: %v", err)
	}

	if resp.State != model.StateNormal {
		t.Fatalf("expected NORMAL, got %s", resp.State)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Action != model.ActionProceed || resp.Messages[0].Intent != "check_order" {
		t.Fatalf("expected proceed(check_order), got %+v", resp.Messages)
	}

	events, err := tl.List(ctx, "s1")
	if err != nil {
		t.Fatalf("list timeline: %v", err)
	}
	for _, evt := range events {
		if evt.Type == "revert" {
			t.Fatalf("successful rephrase must not produce revert events")
		}
	}
}

// TestOrchestratorDoubleDenyRevertsDetour 验证两段确认都失败后的回卷闭环。
// 场景：低置信度 → 否认 → 低置信度重述 → 再否认，期望最终兜底回复一次、
// 时间线出现 revert 墓碑、ListActive 视图中整段迂回消失。
func TestOrchestratorDoubleDenyRevertsDetour(t *testing.T) {
	mock := predictor.NewMock(
		pred("book_flight", 0.5),
		pred("deny", 0.9),
		pred("cancel_order", 0.3),
		pred("deny", 0.9),
	)
	orch, store, tl := newTestOrchestrator(t, testFallbackConfig(), mock)
	ctx := context.Background()

	for _, text := range []string{"flights pls", "no", "hmm cancel thing", "no"} {
		if _, err := orch.OnUserMessage(ctx, "s1", model.Event{Text: text}); err != nil {
			t.Fatalf("turn %q: %v", text, err)
		}
	}

	events, err := tl.List(ctx, "s1")
	if err != nil {
		t.Fatalf("list timeline: %v", err)
	}

	fallbackCount := 0
	revertCount := 0
	for _, evt := range events {
		if evt.Type == "assistant_text" && evt.Action == model.ActionDefaultFallback {
			fallbackCount++
		}
		if evt.Type == "revert" {
			revertCount++
		}
	}
	if fallbackCount != 1 {
		t.Fatalf("expected ultimate fallback exactly once, got %d", fallbackCount)
	}
	if revertCount != 1 {
		t.Fatalf("expected one revert tombstone, got %d", revertCount)
	}

	// 迂回在预测上下文视图中被整体抹去，只剩兜底回复本身。
	active, err := tl.ListActive(ctx, "s1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].Action != model.ActionDefaultFallback {
		t.Fatalf("expected only the fallback reply to survive, got %+v", active)
	}

	updated, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if updated.FallbackState != model.StateNormal {
		t.Fatalf("expected NORMAL after escalation without handoff, got %s", updated.FallbackState)
	}
}

// TestOrchestratorPredictorFailureIsFatal 验证预测服务故障对本轮是致命的。
// 场景：预测客户端返回 ErrUnavailable，期望错误原样上抛且时间线只有用户消息。
func TestOrchestratorPredictorFailureIsFatal(t *testing.T) {
	mock := predictor.NewMock()
	mock.ShouldFail = true
	orch, _, tl := newTestOrchestrator(t, testFallbackConfig(), mock)

	_, err := orch.OnUserMessage(context.Background(), "s1", model.Event{Text: "hello"})
	if !errors.Is(err, predictor.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	events, listErr := tl.List(context.Background(), "s1")
	if listErr != nil {
		t.Fatalf("list timeline: %v", listErr)
	}
	if len(events) != 1 || events[0].Type != "user_message" {
		t.Fatalf("expected only the appended user message, got %+v", events)
	}
}

// TestOrchestratorUnknownSession 验证未知会话返回 ErrNotFound。
// 场景：对不存在的 sessionID 发消息。
func TestOrchestratorUnknownSession(t *testing.T) {
	mock := predictor.NewMock(pred("greet", 0.9))
	orch, _, _ := newTestOrchestrator(t, testFallbackConfig(), mock)

	_, err := orch.OnUserMessage(context.Background(), "nope", model.Event{Text: "hello"})
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// fakeDispatcher 捕获升级信号与转发消息的测试替身。
type fakeDispatcher struct {
	signals []*model.HandoffSignal
	relayed []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, sig *model.HandoffSignal) error {
	f.signals = append(f.signals, sig)
	return nil
}

func (f *fakeDispatcher) Relay(_ context.Context, _ string, text string) error {
	f.relayed = append(f.relayed, text)
	return nil
}

// TestOrchestratorHandoffDispatch 验证配置人工转接后升级信号的派发与后续转发。
// 场景：两段确认都失败且 HandoffOnEscalation=true，期望派发携带对话快照的升级信号、
// 状态停在 ESCALATED；之后的用户消息不再走预测，直接转给客服。
func TestOrchestratorHandoffDispatch(t *testing.T) {
	cfg := testFallbackConfig()
	cfg.HandoffOnEscalation = true
	mock := predictor.NewMock(
		pred("book_flight", 0.5),
		pred("deny", 0.9),
		pred("cancel_order", 0.3),
		pred("deny", 0.9),
	)
	orch, store, _ := newTestOrchestrator(t, cfg, mock)
	dispatcher := &fakeDispatcher{}
	orch.SetDispatcher(dispatcher)
	ctx := context.Background()

	for _, text := range []string{"flights pls", "no", "hmm cancel thing", "no"} {
		if _, err := orch.OnUserMessage(ctx, "s1", model.Event{Text: text}); err != nil {
			t.Fatalf("turn %q: %v", text, err)
		}
	}

	if len(dispatcher.signals) != 1 {
		t.Fatalf("expected one handoff signal, got %d", len(dispatcher.signals))
	}
	sig := dispatcher.signals[0]
	if sig.SessionID != "s1" || len(sig.Transcript) == 0 {
		t.Fatalf("expected transcript snapshot in signal, got %+v", sig)
	}

	updated, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if updated.FallbackState != model.StateEscalated {
		t.Fatalf("expected ESCALATED, got %s", updated.FallbackState)
	}

	callsBefore := mock.CallCount
	resp, err := orch.OnUserMessage(ctx, "s1", model.Event{Text: "are you a human now"})
	if err != nil {
		t.Fatalf("escalated turn: %v", err)
	}
	if mock.CallCount != callsBefore {
		t.Fatalf("escalated turn must not call predictor")
	}
	if len(dispatcher.relayed) != 1 || dispatcher.relayed[0] != "are you a human now" {
		t.Fatalf("expected message relayed to operator, got %+v", dispatcher.relayed)
	}
	if resp.State != model.StateEscalated {
		t.Fatalf("expected ESCALATED, got %s", resp.State)
	}
}

// TestOrchestratorOperatorMessageRecorded 验证客服回复写回时间线与会话快照。
// 场景：客服发来一条回复，期望追加 operator_text 事件并记录 operator 轮次。
func TestOrchestratorOperatorMessageRecorded(t *testing.T) {
	mock := predictor.NewMock(pred("greet", 0.9))
	orch, store, tl := newTestOrchestrator(t, testFallbackConfig(), mock)
	ctx := context.Background()

	if err := orch.OnOperatorMessage(ctx, "s1", "hi, agent Li here"); err != nil {
		t.Fatalf("operator message: %v", err)
	}

	events, err := tl.List(ctx, "s1")
	if err != nil {
		t.Fatalf("list timeline: %v", err)
	}
	if len(events) != 1 || events[0].Type != "operator_text" {
		t.Fatalf("expected operator_text event, got %+v", events)
	}

	updated, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(updated.Turns) != 1 || updated.Turns[0].Role != "operator" {
		t.Fatalf("expected operator turn recorded, got %+v", updated.Turns)
	}
}
