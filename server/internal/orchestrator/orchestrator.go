package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"clear-talk/server/internal/affirm"
	"clear-talk/server/internal/config"
	"clear-talk/server/internal/fallback"
	"clear-talk/server/internal/model"
	"clear-talk/server/internal/predictor"
	"clear-talk/server/internal/responder"
	"clear-talk/server/internal/session"
	"clear-talk/server/internal/timeline"

	"github.com/google/uuid"
)

// HandoffDispatcher 把升级信号与后续消息交给外部通道适配器（人工客服侧）。
type HandoffDispatcher interface {
	// Dispatch 派发升级信号，携带截至当前的对话快照。
	Dispatch(ctx context.Context, sig *model.HandoffSignal) error
	// Relay 把已升级会话中的用户消息转给人工客服。
	Relay(ctx context.Context, sessionID, text string) error
}

// Orchestrator 负责处理会话每一轮的编排逻辑。
//
// 职责与契约：
// - append-first：任何输入先写 Timeline，再做决策归约，保证可回放与幂等。
// - 决策集中：置信度裁决与两段式澄清都在 fallback.Reduce 中完成，这里只执行副作用。
// - 输出可审计：助手输出、回卷墓碑、升级信号都要写回 Timeline，以便验收/复盘。
type Orchestrator struct {
	store      session.Store
	timeline   timeline.Store
	predictor  predictor.Client
	responder  *responder.Responder
	dispatcher HandoffDispatcher

	fbcfg      fallback.Config
	affirmOpts affirm.Options
	now        func() time.Time
}

func New(
	store session.Store,
	tl timeline.Store,
	pred predictor.Client,
	resp *responder.Responder,
	cfg config.FallbackConfig,
	now func() time.Time,
) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		store:     store,
		timeline:  tl,
		predictor: pred,
		responder: resp,
		fbcfg: fallback.Config{
			NLUThreshold:           cfg.NLUThreshold,
			CoreThreshold:          cfg.CoreThreshold,
			EnableTwoStage:         cfg.EnableTwoStage,
			UltimateFallbackAction: cfg.UltimateFallbackAction,
			HandoffOnEscalation:    cfg.HandoffOnEscalation,
		},
		affirmOpts: affirm.Options{
			AffirmIntent: cfg.AffirmIntent,
			DenyIntent:   cfg.DenyIntent,
			Threshold:    cfg.NLUThreshold,
		},
		now: now,
	}
}

// SetDispatcher 注入 handoff 通道适配器（可选；不注入时升级只写事件）。
func (o *Orchestrator) SetDispatcher(d HandoffDispatcher) {
	o.dispatcher = d
}

// OnUserMessage 处理一条用户消息，驱动兜底状态机并执行发出的副作用。
//
// 副作用说明：
// - 追加事实事件到 Timeline（append-first）。
// - 调用外部预测服务；预测失败对本轮是致命的，原样上抛，不做重试。
// - 按序执行状态机副作用：渲染动作、追加回卷墓碑、派发升级信号。
// - 更新 Session 快照。
func (o *Orchestrator) OnUserMessage(ctx context.Context, sessionID string, evt model.Event) (*model.EventResponse, error) {
	state, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := o.now()
	normalized := normalizeEvent(sessionID, evt, now)
	// append-first：先写事实，再归约决策，避免"说了但没记"。
	seq, err := o.timeline.Append(ctx, sessionID, &normalized)
	if err != nil {
		return nil, err
	}
	normalized.Seq = seq

	state.Turns = append(state.Turns, model.Turn{Role: "user", Text: normalized.Text, TS: now})
	state.LastActiveAt = now

	// 已转人工：不再做预测与决策，消息转给客服通道即可。
	if state.FallbackState == model.StateEscalated {
		if o.dispatcher != nil {
			if err := o.dispatcher.Relay(ctx, sessionID, normalized.Text); err != nil {
				log.Printf("[ORCH] relay to operator failed: session=%s err=%v", sessionID, err)
			}
		}
		if err := o.store.Save(ctx, state); err != nil {
			return nil, err
		}
		return &model.EventResponse{State: state.FallbackState}, nil
	}

	// 预测上下文用 ListActive：被回卷的迂回不参与未来预测。
	active, err := o.timeline.ListActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	pred, err := o.predictor.Predict(ctx, predictor.PredictRequest{
		SessionID: sessionID,
		Text:      normalized.Text,
		Context:   active,
	})
	if err != nil {
		return nil, fmt.Errorf("predict turn: %w", err)
	}

	reply := model.ReplyOther
	if state.FallbackState == model.StateAwaitingIntentConfirmation ||
		state.FallbackState == model.StateAwaitingRephraseConfirmation {
		reply = affirm.Interpret(pred, normalized.Text, o.affirmOpts)
	}

	effects := fallback.Reduce(state, fallback.Input{
		Prediction: pred,
		Reply:      reply,
		MessageSeq: seq,
	}, o.fbcfg)

	resp := &model.EventResponse{
		Debug: &model.DebugPayload{Prediction: pred, Effects: effects},
	}

	for _, eff := range effects {
		if err := o.applyEffect(ctx, sessionID, state, eff, resp, now); err != nil {
			return nil, err
		}
	}

	if err := o.store.Save(ctx, state); err != nil {
		return nil, err
	}

	resp.State = state.FallbackState
	return resp, nil
}

// applyEffect 按序执行状态机发出的一条副作用记录。
func (o *Orchestrator) applyEffect(ctx context.Context, sessionID string, state *model.SessionState, eff model.Effect, resp *model.EventResponse, now time.Time) error {
	switch eff.Type {
	case model.EffectAction:
		text := o.responder.Render(eff.Action, eff.Intent)
		evtType := "bot_action"
		if text != "" {
			evtType = "assistant_text"
		}
		evt := model.Event{
			EventID:  uuid.NewString(),
			Type:     evtType,
			Action:   eff.Action,
			Text:     text,
			Intent:   eff.Intent,
			ServerTS: now,
		}
		if _, err := o.timeline.Append(ctx, sessionID, &evt); err != nil {
			return err
		}
		if text != "" {
			state.Turns = append(state.Turns, model.Turn{Role: "assistant", Text: text, TS: now})
		}
		resp.Messages = append(resp.Messages, model.AssistantMessage{
			Action: eff.Action,
			Text:   text,
			Intent: eff.Intent,
		})

	case model.EffectRevert:
		seqs := make([]int64, 0, eff.ToSeq-eff.FromSeq+1)
		for s := eff.FromSeq; s <= eff.ToSeq; s++ {
			seqs = append(seqs, s)
		}
		evt := model.Event{
			EventID:      uuid.NewString(),
			Type:         "revert",
			RevertedSeqs: seqs,
			ServerTS:     now,
		}
		if _, err := o.timeline.Append(ctx, sessionID, &evt); err != nil {
			return err
		}

	case model.EffectHandoff:
		sig := &model.HandoffSignal{
			SessionID:  sessionID,
			Reason:     "two_stage_fallback_exhausted",
			Transcript: snapshotTurns(state.Turns),
			CreatedAt:  now,
		}
		evt := model.Event{
			EventID:  uuid.NewString(),
			Type:     "handoff",
			ServerTS: now,
		}
		if _, err := o.timeline.Append(ctx, sessionID, &evt); err != nil {
			return err
		}
		if o.dispatcher != nil {
			// 通道适配器故障不影响本轮回复：升级事实已落盘，可由客服侧补拉。
			if err := o.dispatcher.Dispatch(ctx, sig); err != nil {
				log.Printf("[ORCH] handoff dispatch failed: session=%s err=%v", sessionID, err)
			}
		}
	}

	return nil
}

// OnOperatorMessage 把人工客服的回复写回时间线与会话快照。
func (o *Orchestrator) OnOperatorMessage(ctx context.Context, sessionID, text string) error {
	state, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	now := o.now()
	evt := model.Event{
		EventID:  uuid.NewString(),
		Type:     "operator_text",
		Text:     text,
		ServerTS: now,
	}
	if _, err := o.timeline.Append(ctx, sessionID, &evt); err != nil {
		return err
	}

	state.Turns = append(state.Turns, model.Turn{Role: "operator", Text: text, TS: now})
	state.LastActiveAt = now
	return o.store.Save(ctx, state)
}

func normalizeEvent(sessionID string, evt model.Event, now time.Time) model.Event {
	// 兼容性：旧客户端可能不传 type/event_id/client_ts，补齐默认值。
	if evt.Type == "" {
		evt.Type = "user_message"
	}
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	if evt.ClientTS.IsZero() {
		evt.ClientTS = now
	}
	evt.ServerTS = now
	evt.SessionID = sessionID
	return evt
}

func snapshotTurns(turns []model.Turn) []model.Turn {
	out := make([]model.Turn, len(turns))
	copy(out, turns)
	return out
}
