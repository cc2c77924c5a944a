package entity

import (
	"context"
	"fmt"
)

// InitResponse 信控引擎初始化结果
type InitResponse int

const (
	InitOK          InitResponse = iota // 初始化成功
	InitUnreachable                     // 信控服务不可达
)

func (r InitResponse) String() string {
	switch r {
	case InitOK:
		return "OK"
	case InitUnreachable:
		return "SignalServerUnreachable"
	default:
		return fmt.Sprintf("InitResponse(%d)", int(r))
	}
}

// StepTask 交通仿真引擎的可调度单元
// 功能：推进外部仿真器一步，返回推进后的步数
// 说明：调用方可以在自己的goroutine上执行，与ExecuteStep的簿记解耦
type StepTask func(ctx context.Context) (step int64, err error)

// DetectorState 检测器观测状态
type DetectorState struct {
	ID           string  `json:"id"`
	VehicleCount int     `json:"vehicle_count"` // 上一步通过的车辆数
	Occupancy    float64 `json:"occupancy"`     // 上一步占有率（%）
	Occupied     bool    `json:"occupied"`      // 是否被占用
}

// HeadState 信号灯头状态（信控引擎命名）
type HeadState string

const (
	HeadRed           HeadState = "red"
	HeadRedAmber      HeadState = "red_amber"
	HeadGreen         HeadState = "green"
	HeadGreenMinor    HeadState = "green_minor"
	HeadAmber         HeadState = "amber"
	HeadOff           HeadState = "off"
	HeadFlashingAmber HeadState = "flashing_amber"
)

// ControlUnitState 信控单元一步的灯头状态
// 说明：Heads按信控引擎的信号组顺序排列，与交通仿真信号灯的link顺序一一对应
type ControlUnitState struct {
	ID    string      `json:"id"`
	Heads []HeadState `json:"heads"`
}

// ControlUnitInfo 信控引擎静态模型中的信控单元
type ControlUnitInfo struct {
	ID    string `json:"id"`
	Heads int    `json:"heads"` // 信号组数量
}

// SignalCatalog 信控引擎的静态模型
// 功能：数据目录加载后，信控引擎声明的检测器、信控单元和车辆类型
type SignalCatalog struct {
	Detectors    []string          `json:"detectors"`
	ControlUnits []ControlUnitInfo `json:"control_units"`
	VehicleTypes []string          `json:"vehicle_types"`
}

// HasDetector 检测器是否存在
func (c *SignalCatalog) HasDetector(id string) bool {
	if c == nil {
		return false
	}
	for _, d := range c.Detectors {
		if d == id {
			return true
		}
	}
	return false
}

// ControlUnit 查找信控单元
func (c *SignalCatalog) ControlUnit(id string) (ControlUnitInfo, bool) {
	if c == nil {
		return ControlUnitInfo{}, false
	}
	for _, cu := range c.ControlUnits {
		if cu.ID == id {
			return cu, true
		}
	}
	return ControlUnitInfo{}, false
}

// TrafficCatalog 交通仿真引擎的静态模型
// 功能：从路网和附加文件中解析出的检测器与信号灯
type TrafficCatalog struct {
	Detectors     map[string]struct{} // 感应线圈ID集合
	TrafficLights map[string]int      // 信号灯ID -> link数量（0表示未知）
}

// NewTrafficCatalog 创建空的静态模型
func NewTrafficCatalog() *TrafficCatalog {
	return &TrafficCatalog{
		Detectors:     make(map[string]struct{}),
		TrafficLights: make(map[string]int),
	}
}

// HasDetector 检测器是否存在
func (c *TrafficCatalog) HasDetector(id string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Detectors[id]
	return ok
}

// TrafficLight 查找信号灯及其link数量
func (c *TrafficCatalog) TrafficLight(id string) (links int, ok bool) {
	if c == nil {
		return 0, false
	}
	links, ok = c.TrafficLights[id]
	return
}

// SignalStepRequest 信控引擎单步请求
type SignalStepRequest struct {
	Step      int64           `json:"step"`
	Detectors []DetectorState `json:"detectors"` // 交通仿真中读取的检测器数据，ID为信控引擎命名
}

// SignalStepResponse 信控引擎单步结果
type SignalStepResponse struct {
	ControlUnits []ControlUnitState `json:"control_units"` // 本步重新计算的灯头状态
	Detectors    []DetectorState    `json:"detectors"`     // 信控引擎确认的检测器状态
}
