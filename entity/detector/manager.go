package detector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/entity"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/config"
)

// Detector 一个绑定在两个引擎之间的检测器
type Detector struct {
	binding config.Binding
	state   entity.DetectorState // 最近一次观测状态，ID为配置ID
}

// DetectorManager 检测器桥接管理器
// 功能：在两个引擎的命名空间中解析检测器ID，并在每一步同步观测状态
// 说明：加载是全有或全无的，任意一个ID无法解析则不保留任何绑定；
// 每步的状态以信控引擎确认的结果为准
type DetectorManager struct {
	mu sync.RWMutex

	data      map[string]*Detector // 配置ID -> 检测器
	bySignal  map[string]*Detector // 信控引擎ID -> 检测器
	detectors []*Detector          // 按配置顺序
}

// NewManager 创建检测器管理器实例
func NewManager() *DetectorManager {
	return &DetectorManager{
		data:      make(map[string]*Detector),
		bySignal:  make(map[string]*Detector),
		detectors: make([]*Detector, 0),
	}
}

// Reset 清空所有绑定
func (m *DetectorManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]*Detector)
	m.bySignal = make(map[string]*Detector)
	m.detectors = make([]*Detector, 0)
}

// Init 解析并绑定所有检测器
// 功能：检查每个配置的检测器在交通仿真与信控引擎中都存在，然后建立绑定
// 参数：bindings-配置的检测器绑定，traffic-交通仿真静态模型，signal-信控引擎静态模型
// 返回：任意绑定无法解析时返回*entity.UnresolvedBindingError，此时管理器为空
func (m *DetectorManager) Init(bindings []config.Binding, traffic *entity.TrafficCatalog, signal *entity.SignalCatalog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]*Detector)
	m.bySignal = make(map[string]*Detector)
	m.detectors = make([]*Detector, 0)

	missing := make(map[string]string)
	for _, b := range bindings {
		engines := make([]string, 0, 2)
		if !traffic.HasDetector(b.TrafficRef()) {
			engines = append(engines, entity.EngineTraffic)
		}
		if !signal.HasDetector(b.SignalRef()) {
			engines = append(engines, entity.EngineSignal)
		}
		if len(engines) > 0 {
			missing[b.ID] = strings.Join(engines, "+")
		}
	}
	if len(missing) > 0 {
		return &entity.UnresolvedBindingError{Kind: entity.KindDetector, IDs: missing}
	}
	signalRefs := lo.Map(bindings, func(b config.Binding, _ int) string { return b.SignalRef() })
	if dup := lo.FindDuplicates(signalRefs); len(dup) > 0 {
		return fmt.Errorf("detectors bound to the same signal engine ids %v", dup)
	}

	detectors := lo.Map(bindings, func(b config.Binding, _ int) *Detector {
		return &Detector{binding: b, state: entity.DetectorState{ID: b.ID}}
	})
	m.detectors = detectors
	m.data = lo.SliceToMap(detectors, func(d *Detector) (string, *Detector) {
		return d.binding.ID, d
	})
	m.bySignal = lo.SliceToMap(detectors, func(d *Detector) (string, *Detector) {
		return d.binding.SignalRef(), d
	})
	log.Infof("bound %d detectors", len(detectors))
	return nil
}

// Len 绑定数量
func (m *DetectorManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.detectors)
}

// IDs 按配置顺序返回所有检测器ID
func (m *DetectorManager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Map(m.detectors, func(d *Detector, _ int) string { return d.binding.ID })
}

// Get 根据ID获取检测器最近一次的状态
// 返回：状态与是否存在
func (m *DetectorManager) Get(id string) (entity.DetectorState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.data[id]
	if !ok {
		return entity.DetectorState{}, false
	}
	return d.state, true
}

// GetOrError 根据ID获取检测器状态，不存在则返回错误
func (m *DetectorManager) GetOrError(id string) (entity.DetectorState, error) {
	if s, ok := m.Get(id); ok {
		return s, nil
	}
	return entity.DetectorState{}, fmt.Errorf("no id %s in detector data", id)
}

// Sync 从交通仿真读取所有检测器的观测值
// 功能：逐个读取感应线圈，结果以信控引擎ID命名，作为信控单步请求的输入
// 参数：ctx-上下文，reader-交通仿真检测器读取接口
// 返回：按配置顺序的观测值，读取失败时返回错误
func (m *DetectorManager) Sync(ctx context.Context, reader entity.IDetectorReader) ([]entity.DetectorState, error) {
	m.mu.RLock()
	detectors := m.detectors
	m.mu.RUnlock()

	readings := make([]entity.DetectorState, 0, len(detectors))
	for _, d := range detectors {
		s, err := reader.ReadDetector(ctx, d.binding.TrafficRef())
		if err != nil {
			return nil, fmt.Errorf("read detector %s: %w", d.binding.ID, err)
		}
		s.ID = d.binding.SignalRef()
		readings = append(readings, s)
	}
	return readings, nil
}

// Update 记录信控引擎确认的检测器状态
// 参数：states-信控单步结果中的检测器状态（信控引擎ID）
// 说明：未绑定的ID会被忽略
func (m *DetectorManager) Update(states []entity.DetectorState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range states {
		d, ok := m.bySignal[s.ID]
		if !ok {
			log.Warnf("signal engine reported unbound detector %s", s.ID)
			continue
		}
		s.ID = d.binding.ID
		d.state = s
	}
}

// snapshot 返回当前所有状态的拷贝（供RPC使用）
func (m *DetectorManager) snapshot() (map[string]entity.DetectorState, []entity.DetectorState) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	states := lo.Map(m.detectors, func(d *Detector, _ int) entity.DetectorState { return d.state })
	return lo.SliceToMap(states, func(s entity.DetectorState) (string, entity.DetectorState) {
		return s.ID, s
	}), states
}
