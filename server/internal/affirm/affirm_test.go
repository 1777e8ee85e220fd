package affirm

import (
	"testing"

	"clear-talk/server/internal/model"
)

func testOptions() Options {
	return Options{
		AffirmIntent: "affirm",
		DenyIntent:   "deny",
		Threshold:    0.7,
	}
}

// TestInterpretTrustsClassifierIntent 验证高置信度的 affirm/deny 意图优先采信。
// 场景：分类器以 0.9 的置信度给出 affirm，即使文本本身不在词表中也判定为肯定。
func TestInterpretTrustsClassifierIntent(t *testing.T) {
	p := &model.Prediction{Intent: model.IntentCandidate{Name: "affirm", Confidence: 0.9}}
	if got := Interpret(p, "that's the one", testOptions()); got != model.ReplyAffirm {
		t.Fatalf("expected affirm, got %s", got)
	}

	p = &model.Prediction{Intent: model.IntentCandidate{Name: "deny", Confidence: 0.8}}
	if got := Interpret(p, "definitely not that", testOptions()); got != model.ReplyDeny {
		t.Fatalf("expected deny, got %s", got)
	}
}

// TestInterpretLexicalFallback 验证分类器不置可否时的词法兜底。
// 场景：分类置信度低于阈值，整句恰为 yes/no 词时按词法判定。
func TestInterpretLexicalFallback(t *testing.T) {
	lowConf := &model.Prediction{Intent: model.IntentCandidate{Name: "greet", Confidence: 0.2}}

	cases := []struct {
		text string
		want model.ReplyKind
	}{
		{"yes", model.ReplyAffirm},
		{"Yeah!", model.ReplyAffirm},
		{"OK.", model.ReplyAffirm},
		{"是的", model.ReplyAffirm},
		{"no", model.ReplyDeny},
		{"Nope", model.ReplyDeny},
		{"不对", model.ReplyDeny},
		{"I want to book a flight", model.ReplyOther},
		{"yes but only on tuesday", model.ReplyOther},
	}

	for _, tc := range cases {
		if got := Interpret(lowConf, tc.text, testOptions()); got != tc.want {
			t.Fatalf("%q: expected %s, got %s", tc.text, tc.want, got)
		}
	}
}

// TestInterpretLowConfidenceIntentIgnored 验证低置信度的 affirm 意图不被采信。
// 场景：分类器给出 affirm 但置信度 0.3，文本又不在词表中，应判定为其他。
func TestInterpretLowConfidenceIntentIgnored(t *testing.T) {
	p := &model.Prediction{Intent: model.IntentCandidate{Name: "affirm", Confidence: 0.3}}
	if got := Interpret(p, "hmm maybe", testOptions()); got != model.ReplyOther {
		t.Fatalf("expected other, got %s", got)
	}
}

// TestInterpretNilPrediction 验证缺失预测时纯词法路径仍可用。
// 场景：预测为 nil，整句 "yes" 仍判定为肯定。
func TestInterpretNilPrediction(t *testing.T) {
	if got := Interpret(nil, "yes", testOptions()); got != model.ReplyAffirm {
		t.Fatalf("expected affirm, got %s", got)
	}
}
