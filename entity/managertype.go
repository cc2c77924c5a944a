package entity

import "context"

// 引擎依赖倒置：协同仿真只依赖以下能力接口，具体引擎可替换为测试桩

// 检测器读取接口（交通仿真侧）
type IDetectorReader interface {
	// 读取感应线圈上一步的观测值
	ReadDetector(ctx context.Context, id string) (DetectorState, error)
}

// 信号灯写入接口（交通仿真侧）
type IControlUnitWriter interface {
	// 写入信号灯的逐link状态字符串
	SetControlUnitState(ctx context.Context, id string, state string) error
}

// engine/traffic的依赖倒置
type ITrafficEngine interface {
	IDetectorReader
	IControlUnitWriter

	Initialize(ctx context.Context) error         // 启动/连接仿真器，每次Load后只调用一次
	Step(ctx context.Context, toStep int64) error // 推进到指定步
	Task() StepTask                               // 推进一步的可调度单元
	Catalog() *TrafficCatalog                     // 静态模型
	Close() error                                 // 释放连接和进程
}

// engine/signal的依赖倒置
type ISignalEngine interface {
	Load(ctx context.Context, dataDir string) error      // 加载数据目录
	Catalog() *SignalCatalog                             // Load后的静态模型
	Initialize(ctx context.Context) (InitResponse, error) // 初始化，服务不可达时返回InitUnreachable
	Step(ctx context.Context, req *SignalStepRequest) (*SignalStepResponse, error)
}
