package fallback

import (
	"clear-talk/server/internal/model"
)

// Input 是一次状态机转移的全部输入：本轮用户消息的预测结果、
// 确认场景下对回复的解释、以及该消息在时间线上的 seq。
type Input struct {
	Prediction *model.Prediction
	Reply      model.ReplyKind
	MessageSeq int64
}

// Reduce 只做"决策归约"，不触发外部调用。
// 约定：state 来自快照缓存，修改就地生效；所有对外影响以 Effect 有序返回，
// 由编排器负责执行（渲染动作、追加回卷墓碑、派发 handoff）。
func Reduce(state *model.SessionState, in Input, cfg Config) []model.Effect {
	if state == nil {
		return nil
	}

	switch state.FallbackState {
	case model.StateAwaitingIntentConfirmation:
		return reduceIntentConfirmation(state, in, cfg)
	case model.StateAwaitingRephrase:
		return reduceRephrase(state, in, cfg)
	case model.StateAwaitingRephraseConfirmation:
		return reduceRephraseConfirmation(state, in, cfg)
	case model.StateEscalated:
		// 已转人工：状态机不再做决策，消息由 handoff 通道转接。
		return nil
	default:
		return reduceNormal(state, in, cfg)
	}
}

// reduceNormal 处理 NORMAL 状态下的新一轮预测：
// 通过 → 继续检查动作置信度；不通过 → 单段式兜底或进入两段式澄清。
func reduceNormal(state *model.SessionState, in Input, cfg Config) []model.Effect {
	p := in.Prediction
	if p == nil {
		return nil
	}

	if EvaluateNLUConfidence(p, cfg.NLUThreshold) == model.DecisionFallback {
		if !cfg.EnableTwoStage {
			// 单段式：发出兜底回复即可，本轮终结，不留多轮记忆。
			return []model.Effect{actionEffect(model.ActionDefaultFallback, "")}
		}

		state.DetourStartSeq = in.MessageSeq
		if cand, ok := p.TopCandidate(); ok {
			state.FallbackState = model.StateAwaitingIntentConfirmation
			state.PendingIntent = &cand
			return []model.Effect{actionEffect(model.ActionConfirmIntent, cand.Name)}
		}
		// 没有候选可确认：跳过确认子步骤，直接请求重述。
		state.FallbackState = model.StateAwaitingRephrase
		return []model.Effect{actionEffect(model.ActionAskRephrase, "")}
	}

	// 意图达标，再裁决对话策略的动作置信度。
	// 动作兜底必须回卷触发它的那条消息，避免误分类污染后续预测。
	if p.NextAction != nil &&
		EvaluateActionConfidence(p.NextAction.Name, p.NextAction.Confidence, cfg.CoreThreshold) == model.DecisionFallback {
		return []model.Effect{
			actionEffect(model.ActionDefaultFallback, ""),
			revertEffect(in.MessageSeq, in.MessageSeq),
		}
	}

	return []model.Effect{actionEffect(model.ActionProceed, p.Intent.Name)}
}

// reduceIntentConfirmation 处理第一段确认的回复。
// 确认 → 按原预测高置信度处理，原消息保留，零回卷；
// 否认 → 请求重述；其他文本 → 视为用户直接给出了重述。
func reduceIntentConfirmation(state *model.SessionState, in Input, cfg Config) []model.Effect {
	switch in.Reply {
	case model.ReplyAffirm:
		intent := ""
		if state.PendingIntent != nil {
			intent = state.PendingIntent.Name
		}
		resetToNormal(state)
		return []model.Effect{actionEffect(model.ActionProceed, intent)}
	case model.ReplyDeny:
		state.FallbackState = model.StateAwaitingRephrase
		state.PendingIntent = nil
		return []model.Effect{actionEffect(model.ActionAskRephrase, "")}
	default:
		state.FallbackState = model.StateAwaitingRephrase
		state.PendingIntent = nil
		return reduceRephrase(state, in, cfg)
	}
}

// reduceRephrase 处理重述后的新预测。
// 达标 → 按正常分类处理；不达标但有候选 → 进入第二段确认；
// 不达标且无候选 → 没有可确认的内容，直接升级。
func reduceRephrase(state *model.SessionState, in Input, cfg Config) []model.Effect {
	p := in.Prediction
	if p == nil {
		return nil
	}

	if EvaluateNLUConfidence(p, cfg.NLUThreshold) == model.DecisionProceed {
		resetToNormal(state)
		return []model.Effect{actionEffect(model.ActionProceed, p.Intent.Name)}
	}

	if cand, ok := p.TopCandidate(); ok {
		state.FallbackState = model.StateAwaitingRephraseConfirmation
		state.PendingIntent = &cand
		return []model.Effect{actionEffect(model.ActionConfirmIntent, cand.Name)}
	}

	return escalate(state, in, cfg)
}

// reduceRephraseConfirmation 处理第二段确认的回复。
// 确认 → 按确认的意图继续；否认（或答非所问）→ 升级。
func reduceRephraseConfirmation(state *model.SessionState, in Input, cfg Config) []model.Effect {
	if in.Reply == model.ReplyAffirm {
		intent := ""
		if state.PendingIntent != nil {
			intent = state.PendingIntent.Name
		}
		resetToNormal(state)
		return []model.Effect{actionEffect(model.ActionProceed, intent)}
	}
	return escalate(state, in, cfg)
}

// escalate 执行最终兜底：兜底动作一次 + 回卷自进入澄清以来的全部事件，
// 让未来的预测上下文当这段迂回从未发生过。
func escalate(state *model.SessionState, in Input, cfg Config) []model.Effect {
	action := cfg.UltimateFallbackAction
	if action == "" {
		action = model.ActionDefaultFallback
	}

	from := state.DetourStartSeq
	if from == 0 {
		from = in.MessageSeq
	}

	effects := []model.Effect{
		actionEffect(action, ""),
		revertEffect(from, in.MessageSeq),
	}

	if cfg.HandoffOnEscalation {
		state.FallbackState = model.StateEscalated
		state.PendingIntent = nil
		effects = append(effects,
			actionEffect(model.ActionHandoff, ""),
			model.Effect{Type: model.EffectHandoff},
		)
		return effects
	}

	resetToNormal(state)
	return effects
}

func resetToNormal(state *model.SessionState) {
	state.FallbackState = model.StateNormal
	state.PendingIntent = nil
	state.DetourStartSeq = 0
}

func actionEffect(action, intent string) model.Effect {
	return model.Effect{Type: model.EffectAction, Action: action, Intent: intent}
}

func revertEffect(from, to int64) model.Effect {
	return model.Effect{Type: model.EffectRevert, FromSeq: from, ToSeq: to}
}
