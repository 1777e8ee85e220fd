package fallback

import (
	"clear-talk/server/internal/model"
)

// Config 是状态机转移所需的全部配置。运行期内不可变，每次转移按值传入。
type Config struct {
	// NLUThreshold 意图置信度阈值，低于（严格小于）则触发兜底。
	NLUThreshold float64
	// CoreThreshold 对话策略动作置信度阈值。
	CoreThreshold float64
	// EnableTwoStage 为 true 时低置信度进入两段式澄清，否则单段式直接兜底。
	EnableTwoStage bool
	// UltimateFallbackAction 升级时执行的最终兜底动作。
	UltimateFallbackAction string
	// HandoffOnEscalation 为 true 时升级即转人工，否则回到 NORMAL 继续服务。
	HandoffOnEscalation bool
}

// EvaluateNLUConfidence 裁决意图置信度是否达标。
// 约定：严格小于阈值才触发兜底，恰好等于阈值按达标处理。无副作用。
func EvaluateNLUConfidence(p *model.Prediction, nluThreshold float64) model.Decision {
	if p.Intent.Confidence < nluThreshold {
		return model.DecisionFallback
	}
	return model.DecisionProceed
}

// EvaluateActionConfidence 对对话策略选出的下一步动作做同样的裁决。无副作用。
func EvaluateActionConfidence(action string, confidence, coreThreshold float64) model.Decision {
	if confidence < coreThreshold {
		return model.DecisionFallback
	}
	return model.DecisionProceed
}
