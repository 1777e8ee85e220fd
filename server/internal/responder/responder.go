package responder

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"clear-talk/server/internal/domain"
	"clear-talk/server/internal/model"
)

// Responder 把符号化动作渲染成用户可见的文本。
// 模板来自 JSON 目录，{intent} 占位符用意图展示名替换。
type Responder struct {
	templates map[string]string
	catalog   *domain.Catalog
}

// 内置话术：模板目录缺失条目时的兜底，保证用户永远看到体面的回复而不是原始错误。
var builtinTemplates = map[string]string{
	model.ActionDefaultFallback: "Sorry, I didn't quite understand that.",
	model.ActionAskRephrase:     "Could you say that a different way?",
	model.ActionConfirmIntent:   "Did you mean {intent}?",
	model.ActionHandoff:         "Let me connect you with a human colleague.",
}

// Load 从指定路径加载响应模板目录。
func Load(path string, catalog *domain.Catalog) (*Responder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read responses: %w", err)
	}

	var templates map[string]string
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("parse responses: %w", err)
	}

	return New(templates, catalog), nil
}

// New 从模板映射构建 Responder。
func New(templates map[string]string, catalog *domain.Catalog) *Responder {
	merged := make(map[string]string, len(builtinTemplates)+len(templates))
	for k, v := range builtinTemplates {
		merged[k] = v
	}
	for k, v := range templates {
		merged[k] = v
	}
	return &Responder{templates: merged, catalog: catalog}
}

// Render 渲染一个符号化动作。
// action_proceed 没有话术（控制权交还正常对话策略），返回空文本。
// 意图级的 confirm_prompt 覆盖全局模板。
func (r *Responder) Render(action, intentID string) string {
	if action == model.ActionProceed {
		return ""
	}

	tmpl := r.templates[action]
	if action == model.ActionConfirmIntent && r.catalog != nil {
		if it, ok := r.catalog.Find(intentID); ok && it.ConfirmPrompt != "" {
			tmpl = it.ConfirmPrompt
		}
	}
	if tmpl == "" {
		tmpl = builtinTemplates[model.ActionDefaultFallback]
	}

	display := intentID
	if r.catalog != nil && intentID != "" {
		display = r.catalog.DisplayName(intentID)
	}
	return strings.ReplaceAll(tmpl, "{intent}", display)
}
