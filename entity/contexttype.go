package entity

import (
	"fmt"
	"sort"
	"strings"
)

// 绑定类型
const (
	KindDetector    = "detector"
	KindControlUnit = "control unit"
)

// 引擎名
const (
	EngineTraffic = "traffic"
	EngineSignal  = "signal"
)

// UnresolvedBindingError 绑定无法在某个引擎中解析
// 功能：记录所有在引擎命名空间中找不到的ID
// 说明：加载期错误，整个桥接加载失败，不保留任何绑定
type UnresolvedBindingError struct {
	Kind   string            // KindDetector | KindControlUnit
	Reason string            // 额外说明（可选）
	IDs    map[string]string // 缺失的配置ID -> 引擎名
}

func (e *UnresolvedBindingError) Error() string {
	parts := make([]string, 0, len(e.IDs))
	for id, engine := range e.IDs {
		parts = append(parts, fmt.Sprintf("%s@%s", id, engine))
	}
	sort.Strings(parts)
	msg := fmt.Sprintf("unresolved %s bindings: %s", e.Kind, strings.Join(parts, ", "))
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}
