package domain

import (
	"encoding/json"
	"fmt"
	"os"

	"clear-talk/server/internal/model"
)

// Catalog 是意图目录：意图 ID 到定义的只读映射。
// 会话创建后不再变化，无需加锁。
type Catalog struct {
	intents map[string]model.Intent
	ordered []model.Intent
}

// LoadCatalog 从指定路径加载意图目录。
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intents: %w", err)
	}

	var intents []model.Intent
	if err := json.Unmarshal(data, &intents); err != nil {
		return nil, fmt.Errorf("parse intents: %w", err)
	}

	return NewCatalog(intents), nil
}

// NewCatalog 从意图列表构建目录。
func NewCatalog(intents []model.Intent) *Catalog {
	c := &Catalog{
		intents: make(map[string]model.Intent, len(intents)),
		ordered: intents,
	}
	for _, it := range intents {
		c.intents[it.ID] = it
	}
	return c
}

// Find 按 ID 查找意图定义。
func (c *Catalog) Find(id string) (model.Intent, bool) {
	it, ok := c.intents[id]
	return it, ok
}

// DisplayName 返回意图的展示名。
// 兼容性：目录中不存在的意图（比如分类器新增的）直接用 ID 展示。
func (c *Catalog) DisplayName(id string) string {
	if it, ok := c.intents[id]; ok && it.DisplayName != "" {
		return it.DisplayName
	}
	return id
}

// List 返回全部意图定义（按目录文件顺序）。
func (c *Catalog) List() []model.Intent {
	out := make([]model.Intent, len(c.ordered))
	copy(out, c.ordered)
	return out
}
