package affirm

import (
	"strings"

	"clear-talk/server/internal/model"
)

// Options 控制确认回复的解释方式。
type Options struct {
	// AffirmIntent/DenyIntent 分类器中肯定/否定意图的名称。
	AffirmIntent string
	DenyIntent   string
	// Threshold 采信分类结果所需的最低置信度，通常与 NLU 阈值一致。
	Threshold float64
}

// affirmWords/denyWords 是分类器不置可否时的词法兜底。
// 只做整句匹配，避免把"yes, but actually..."这类复合表述误判成确认。
var affirmWords = map[string]bool{
	"yes": true, "y": true, "yeah": true, "yep": true, "yup": true,
	"sure": true, "ok": true, "okay": true, "correct": true, "right": true,
	"exactly": true, "indeed": true, "affirmative": true,
	"是": true, "是的": true, "对": true, "对的": true, "嗯": true, "好": true, "好的": true,
}

var denyWords = map[string]bool{
	"no": true, "n": true, "nope": true, "nah": true, "wrong": true,
	"incorrect": true, "negative": true, "not really": true,
	"不": true, "不是": true, "不对": true, "没有": true, "错": true, "错了": true,
}

// Interpret 解释处于确认环节的用户回复。
// 优先采信分类器给出的 affirm/deny 意图；分类器不置可否时退回整句词法匹配；
// 两者都不命中则返回 ReplyOther，由状态机按"用户直接重述"处理。
func Interpret(p *model.Prediction, text string, opts Options) model.ReplyKind {
	if p != nil && p.Intent.Confidence >= opts.Threshold {
		switch p.Intent.Name {
		case opts.AffirmIntent:
			return model.ReplyAffirm
		case opts.DenyIntent:
			return model.ReplyDeny
		}
	}

	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.TrimRight(normalized, ".!?。！？")
	if affirmWords[normalized] {
		return model.ReplyAffirm
	}
	if denyWords[normalized] {
		return model.ReplyDeny
	}

	return model.ReplyOther
}
