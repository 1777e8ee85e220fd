package model

import "time"

// Decision 表示一次置信度裁决的结果。
type Decision string

const (
	// DecisionProceed 置信度达标，交还给正常对话策略继续执行。
	DecisionProceed Decision = "PROCEED"
	// DecisionFallback 置信度不足，进入兜底路径。
	DecisionFallback Decision = "FALLBACK"
)

// FallbackState 表示会话当前所处的兜底状态机状态。
type FallbackState string

const (
	// StateNormal 正常对话，未处于任何澄清流程。
	StateNormal FallbackState = "NORMAL"
	// StateAwaitingIntentConfirmation 已发出"你是想问 X 吗"的确认提示，等待回复。
	StateAwaitingIntentConfirmation FallbackState = "AWAITING_INTENT_CONFIRMATION"
	// StateAwaitingRephrase 已请求用户换种说法，等待新的输入。
	StateAwaitingRephrase FallbackState = "AWAITING_REPHRASE"
	// StateAwaitingRephraseConfirmation 重述后置信度仍不足，等待用户确认新候选。
	StateAwaitingRephraseConfirmation FallbackState = "AWAITING_REPHRASE_CONFIRMATION"
	// StateEscalated 已升级给人工，后续消息由 handoff 通道转接。
	StateEscalated FallbackState = "ESCALATED"
)

// ReplyKind 表示处于 AWAITING_* 状态时，对用户回复的解释结果。
type ReplyKind string

const (
	ReplyAffirm ReplyKind = "affirm"
	ReplyDeny   ReplyKind = "deny"
	// ReplyOther 既非肯定也非否定，视为用户直接给出了新的表述。
	ReplyOther ReplyKind = "other"
)

// IntentCandidate 是分类器给出的一个意图候选及其置信度。
type IntentCandidate struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// ActionPrediction 是对话策略给出的下一步动作及其置信度。
type ActionPrediction struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Prediction 是外部 NLU/策略服务对一条用户消息的完整预测结果。
// 约定：IntentRanking 按置信度降序，首位与 Intent 一致（截断长度由预测服务决定）。
type Prediction struct {
	Intent        IntentCandidate   `json:"intent"`
	IntentRanking []IntentCandidate `json:"intent_ranking,omitempty"`
	NextAction    *ActionPrediction `json:"next_action,omitempty"`
}

// TopCandidate 返回可供澄清确认的头部候选。
// 没有任何候选（MissingCandidate）时返回 false，调用方应跳过确认子步骤。
func (p *Prediction) TopCandidate() (IntentCandidate, bool) {
	if len(p.IntentRanking) > 0 && p.IntentRanking[0].Name != "" {
		return p.IntentRanking[0], true
	}
	if p.Intent.Name != "" {
		return p.Intent, true
	}
	return IntentCandidate{}, false
}

// Turn 表示对话中的一个轮次。
type Turn struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	TS   time.Time `json:"ts"`
}

// SessionState 保存一个会话的快照，供增量归约使用。
type SessionState struct {
	SessionID string `json:"session_id"`
	Channel   string `json:"channel,omitempty"`

	// 兜底状态机的当前状态。
	FallbackState FallbackState `json:"fallback_state"`
	// 等待用户确认的意图候选（仅在 AWAITING_*_CONFIRMATION 状态下非空）。
	PendingIntent *IntentCandidate `json:"pending_intent,omitempty"`
	// DetourStartSeq 记录澄清迂回的起点（触发低置信度的那条用户消息的 seq），
	// 升级时据此回卷整段迂回。
	DetourStartSeq int64 `json:"detour_start_seq,omitempty"`

	// 对话的历史轮次。
	Turns []Turn `json:"turns"`

	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Event 表示时间线中的一个事件。
type Event struct {
	// Seq 由后端分配的单调序号，用于回放与幂等。
	Seq int64 `json:"seq,omitempty"`
	// SessionID 由编排器补齐，客户端可不传。
	SessionID string `json:"session_id,omitempty"`
	// EventID 用于去重与重试幂等，客户端可传 UUID。
	EventID string `json:"event_id,omitempty"`

	// Type 表示事件类型（user_message/assistant_text/bot_action/operator_text/revert/handoff）。
	Type string `json:"type"`
	// Text 是用户输入、助手输出或人工客服回复的文本。
	Text string `json:"text,omitempty"`
	// Action 是符号化动作标识（bot_action 事件携带）。
	Action string `json:"action,omitempty"`
	// Intent/Confidence 记录该消息的分类结果，便于回放与审计。
	Intent     string  `json:"intent,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	// RevertedSeqs 仅 revert 事件携带：这些 seq 不再计入未来预测所用的上下文。
	RevertedSeqs []int64 `json:"reverted_seqs,omitempty"`

	// ClientTS/ServerTS 用于对齐体验与回放，ServerTS 由后端补齐。
	ClientTS time.Time `json:"client_ts,omitempty"`
	ServerTS time.Time `json:"server_ts,omitempty"`
}

// 符号化动作标识。由外部的响应分发方渲染给用户，编排器只负责决策。
const (
	// ActionProceed 将确认后的意图交还正常对话策略继续处理。
	ActionProceed = "action_proceed"
	// ActionDefaultFallback 内置的默认兜底回复。
	ActionDefaultFallback = "action_default_fallback"
	// ActionAskRephrase 请求用户换种说法。
	ActionAskRephrase = "utter_ask_rephrase"
	// ActionConfirmIntent 请求用户确认头部意图候选。
	ActionConfirmIntent = "utter_confirm_intent"
	// ActionHandoff 告知用户即将转接人工。
	ActionHandoff = "utter_handoff"
)

// EffectType 表示状态机发出的副作用记录类型。
type EffectType string

const (
	// EffectAction 符号化动作，由响应分发方渲染。
	EffectAction EffectType = "action"
	// EffectRevert 回卷标记：FromSeq..ToSeq 区间不再计入预测上下文。
	EffectRevert EffectType = "revert"
	// EffectHandoff 升级给人工客服。
	EffectHandoff EffectType = "handoff"
)

// Effect 是状态机转移发出的一条副作用记录。
// 约定：状态机本身不做任何 I/O，所有副作用由编排器按序执行。
type Effect struct {
	Type   EffectType `json:"type"`
	Action string     `json:"action,omitempty"`
	// Intent 是动作参数（确认提示、proceed 时携带的意图名）。
	Intent  string `json:"intent,omitempty"`
	FromSeq int64  `json:"from_seq,omitempty"`
	ToSeq   int64  `json:"to_seq,omitempty"`
}

// HandoffSignal 是升级人工时发出的终态信号，携带截至当前的对话快照。
type HandoffSignal struct {
	SessionID  string    `json:"session_id"`
	Reason     string    `json:"reason"`
	Transcript []Turn    `json:"transcript"`
	CreatedAt  time.Time `json:"created_at"`
}

// Intent 定义意图目录中的一个条目。
type Intent struct {
	ID string `json:"id"`
	// DisplayName 用于"你是想问 X 吗"之类的提示渲染，缺省时用 ID。
	DisplayName string `json:"display_name,omitempty"`
	// ConfirmPrompt 允许按意图覆盖默认的确认话术。
	ConfirmPrompt string `json:"confirm_prompt,omitempty"`
	Description   string `json:"description,omitempty"`
}

// AssistantMessage 表示一条返回给调用方的助手输出。
type AssistantMessage struct {
	Action string `json:"action"`
	Text   string `json:"text,omitempty"`
	Intent string `json:"intent,omitempty"`
}

// EventResponse 是一次用户消息处理的响应。
type EventResponse struct {
	Messages []AssistantMessage `json:"messages"`
	State    FallbackState      `json:"state"`
	Debug    *DebugPayload      `json:"debug,omitempty"`
}

// DebugPayload 包含调试信息。
type DebugPayload struct {
	Prediction *Prediction `json:"prediction,omitempty"`
	Effects    []Effect    `json:"effects,omitempty"`
}

// CreateSessionResponse 是创建会话的响应结构体。
type CreateSessionResponse struct {
	SessionID string       `json:"session_id"`
	State     SessionState `json:"state"`
}
