package controlunit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/entity"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/config"
)

// ControlUnit 一个绑定在两个引擎之间的信控单元
type ControlUnit struct {
	binding config.Binding
	heads   int // 信控引擎中的信号组数量（0表示未知）
	links   int // 交通仿真信号灯的link数量（0表示未知）

	last      []entity.HeadState // 最近一次写入的灯头状态
	lastState string             // 最近一次写入交通仿真的状态字符串
}

// Snapshot 信控单元最近一次写入的状态
type Snapshot struct {
	ID           string             `json:"id"`
	Heads        []entity.HeadState `json:"heads"`
	TrafficState string             `json:"traffic_state"`
}

func (cu *ControlUnit) snapshot() Snapshot {
	return Snapshot{
		ID:           cu.binding.ID,
		Heads:        append([]entity.HeadState(nil), cu.last...),
		TrafficState: cu.lastState,
	}
}

// ControlUnitManager 信控单元桥接管理器
// 功能：在两个引擎的命名空间中解析信控单元，每步把信控引擎计算出的灯头状态写入交通仿真
// 说明：与检测器相同，加载是全有或全无的
type ControlUnitManager struct {
	mu sync.RWMutex

	data         map[string]*ControlUnit // 配置ID -> 信控单元
	bySignal     map[string]*ControlUnit // 信控引擎ID -> 信控单元
	controlUnits []*ControlUnit
}

// NewManager 创建信控单元管理器实例
func NewManager() *ControlUnitManager {
	return &ControlUnitManager{
		data:         make(map[string]*ControlUnit),
		bySignal:     make(map[string]*ControlUnit),
		controlUnits: make([]*ControlUnit, 0),
	}
}

// Reset 清空所有绑定
func (m *ControlUnitManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]*ControlUnit)
	m.bySignal = make(map[string]*ControlUnit)
	m.controlUnits = make([]*ControlUnit, 0)
}

// Init 解析并绑定所有信控单元
// 功能：检查每个配置的信控单元在两个引擎中都存在，并且信号组数量与link数量一致
// 参数：bindings-配置的信控单元绑定，traffic-交通仿真静态模型，signal-信控引擎静态模型
// 返回：无法解析时返回*entity.UnresolvedBindingError，此时管理器为空
func (m *ControlUnitManager) Init(bindings []config.Binding, traffic *entity.TrafficCatalog, signal *entity.SignalCatalog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]*ControlUnit)
	m.bySignal = make(map[string]*ControlUnit)
	m.controlUnits = make([]*ControlUnit, 0)

	missing := make(map[string]string)
	controlUnits := make([]*ControlUnit, 0, len(bindings))
	for _, b := range bindings {
		engines := make([]string, 0, 2)
		links, inTraffic := traffic.TrafficLight(b.TrafficRef())
		if !inTraffic {
			engines = append(engines, entity.EngineTraffic)
		}
		info, inSignal := signal.ControlUnit(b.SignalRef())
		if !inSignal {
			engines = append(engines, entity.EngineSignal)
		}
		if len(engines) > 0 {
			missing[b.ID] = strings.Join(engines, "+")
			continue
		}
		controlUnits = append(controlUnits, &ControlUnit{binding: b, heads: info.Heads, links: links})
	}
	if len(missing) > 0 {
		return &entity.UnresolvedBindingError{Kind: entity.KindControlUnit, IDs: missing}
	}
	for _, cu := range controlUnits {
		if cu.heads > 0 && cu.links > 0 && cu.heads != cu.links {
			return fmt.Errorf(
				"control unit %s: signal engine has %d heads but traffic light %s has %d links",
				cu.binding.ID, cu.heads, cu.binding.TrafficRef(), cu.links,
			)
		}
	}
	signalRefs := lo.Map(bindings, func(b config.Binding, _ int) string { return b.SignalRef() })
	if dup := lo.FindDuplicates(signalRefs); len(dup) > 0 {
		return fmt.Errorf("control units bound to the same signal engine ids %v", dup)
	}

	m.controlUnits = controlUnits
	m.data = lo.SliceToMap(controlUnits, func(cu *ControlUnit) (string, *ControlUnit) {
		return cu.binding.ID, cu
	})
	m.bySignal = lo.SliceToMap(controlUnits, func(cu *ControlUnit) (string, *ControlUnit) {
		return cu.binding.SignalRef(), cu
	})
	log.Infof("bound %d control units", len(controlUnits))
	return nil
}

// Len 绑定数量
func (m *ControlUnitManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.controlUnits)
}

// IDs 按配置顺序返回所有信控单元ID
func (m *ControlUnitManager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Map(m.controlUnits, func(cu *ControlUnit, _ int) string { return cu.binding.ID })
}

// Get 根据ID获取信控单元最近一次写入的状态
func (m *ControlUnitManager) Get(id string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cu, ok := m.data[id]
	if !ok {
		return Snapshot{}, false
	}
	return cu.snapshot(), true
}

// GetOrError 根据ID获取信控单元状态，不存在则返回错误
func (m *ControlUnitManager) GetOrError(id string) (Snapshot, error) {
	if s, ok := m.Get(id); ok {
		return s, nil
	}
	return Snapshot{}, fmt.Errorf("no id %s in control unit data", id)
}

// Apply 将信控引擎本步计算的灯头状态写入交通仿真
// 功能：转换每个信控单元的灯头状态并写入对应的信号灯
// 参数：ctx-上下文，writer-交通仿真信号灯写入接口，states-信控单步结果（信控引擎ID）
// 返回：所有写入失败合并后的错误；单个失败不影响其它信控单元
func (m *ControlUnitManager) Apply(ctx context.Context, writer entity.IControlUnitWriter, states []entity.ControlUnitState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, s := range states {
		cu, ok := m.bySignal[s.ID]
		if !ok {
			log.Warnf("signal engine reported unbound control unit %s", s.ID)
			continue
		}
		state, err := Translate(s.Heads)
		if err != nil {
			errs = append(errs, fmt.Errorf("control unit %s: %w", cu.binding.ID, err))
			continue
		}
		if cu.links > 0 && len(state) != cu.links {
			errs = append(errs, fmt.Errorf("control unit %s: got %d heads, want %d", cu.binding.ID, len(state), cu.links))
			continue
		}
		if err := writer.SetControlUnitState(ctx, cu.binding.TrafficRef(), state); err != nil {
			errs = append(errs, fmt.Errorf("control unit %s: %w", cu.binding.ID, err))
			continue
		}
		cu.last = append(cu.last[:0], s.Heads...)
		cu.lastState = state
	}
	return errors.Join(errs...)
}

// snapshots 返回当前所有状态的拷贝（供RPC使用）
func (m *ControlUnitManager) snapshots() (map[string]Snapshot, []Snapshot) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := lo.Map(m.controlUnits, func(cu *ControlUnit, _ int) Snapshot { return cu.snapshot() })
	return lo.SliceToMap(list, func(s Snapshot) (string, Snapshot) { return s.ID, s }), list
}
