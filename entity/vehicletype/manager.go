package vehicletype

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
)

// 车长上限（米），保证取整后不溢出
const maxLength = math.MaxInt32

// VehicleType 车辆类型
type VehicleType struct {
	ID     string // 引擎命名空间中的车辆类型ID
	Length int    // 车长（米），非负
}

// RawEntry 数据源中的一条原始记录
// 说明：数据源无法解码的记录以Err表示，由管理器记录为失败
type RawEntry struct {
	Index  int    // 在数据源中的序号
	ID     string // 车辆类型ID
	Length string // 车长原始文本
	Err    error  // 解码错误
}

// Source 车辆类型数据源
type Source interface {
	// 读取全部记录；只有数据源本身不可用时返回错误
	Entries(ctx context.Context) ([]RawEntry, error)
	String() string
}

// EntryError 单条记录的解析失败
type EntryError struct {
	Index int
	ID    string
	Err   error
}

func (e EntryError) Error() string {
	return fmt.Sprintf("vehicle type entry %d (%q): %v", e.Index, e.ID, e.Err)
}

func (e EntryError) Unwrap() error {
	return e.Err
}

// LoadResult 一次加载的逐条结果
// 功能：显式返回成功数量与每条失败记录，由调用方决定能否接受部分加载
type LoadResult struct {
	Source   string
	Loaded   int // 成功解析的记录数（含被覆盖的重复ID）
	Failures []EntryError
}

// Err 所有失败记录合并后的错误，没有失败时为nil
func (r *LoadResult) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// VehicleTypeManager 车辆类型表
// 功能：保存车辆类型ID到物理属性的映射，加载后只读
type VehicleTypeManager struct {
	mu    sync.RWMutex
	types map[string]VehicleType
}

// NewManager 创建空的车辆类型表
func NewManager() *VehicleTypeManager {
	return &VehicleTypeManager{types: make(map[string]VehicleType)}
}

// Reset 清空车辆类型表
func (m *VehicleTypeManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types = make(map[string]VehicleType)
}

// Load 从数据源加载车辆类型表
// 功能：清空旧表后逐条解析，重复ID后者覆盖前者，格式错误的记录跳过并记录在结果中
// 参数：ctx-上下文，src-数据源（nil表示空表）
// 返回：逐条结果；数据源不可用时返回错误，此时表为空
func (m *VehicleTypeManager) Load(ctx context.Context, src Source) (*LoadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types = make(map[string]VehicleType)
	if src == nil {
		return &LoadResult{}, nil
	}

	entries, err := src.Entries(ctx)
	if err != nil {
		return nil, fmt.Errorf("load vehicle types from %s: %w", src, err)
	}
	res := &LoadResult{Source: src.String()}
	for _, e := range entries {
		vt, err := parseEntry(e)
		if err != nil {
			res.Failures = append(res.Failures, EntryError{Index: e.Index, ID: e.ID, Err: err})
			continue
		}
		if _, ok := m.types[vt.ID]; ok {
			log.Debugf("vehicle type %s redefined at entry %d", vt.ID, e.Index)
		}
		m.types[vt.ID] = vt
		res.Loaded++
	}
	return res, nil
}

// parseEntry 解析单条记录
// 说明：车长允许小数，四舍五入到整数米
func parseEntry(e RawEntry) (VehicleType, error) {
	if e.Err != nil {
		return VehicleType{}, e.Err
	}
	if e.ID == "" {
		return VehicleType{}, errors.New("missing id")
	}
	if e.Length == "" {
		return VehicleType{}, errors.New("missing length")
	}
	l, err := strconv.ParseFloat(e.Length, 64)
	if err != nil {
		return VehicleType{}, fmt.Errorf("invalid length %q: %w", e.Length, err)
	}
	if math.IsNaN(l) || math.IsInf(l, 0) || l < 0 {
		return VehicleType{}, fmt.Errorf("invalid length %q", e.Length)
	}
	if l > maxLength {
		return VehicleType{}, fmt.Errorf("length %q exceeds %d", e.Length, maxLength)
	}
	return VehicleType{ID: e.ID, Length: int(math.Round(l))}, nil
}

// Get 根据ID查找车辆类型
// 返回：车辆类型与是否存在；不存在是正常情况
func (m *VehicleTypeManager) Get(id string) (VehicleType, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vt, ok := m.types[id]
	return vt, ok
}

// Len 车辆类型数量
func (m *VehicleTypeManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.types)
}
