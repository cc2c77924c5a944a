package task

import (
	"github.com/tsinghua-fib-lab/agentsociety-cosim/engine/signal"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/engine/traffic"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/entity"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/config"
)

// EngineFactory 根据运行时配置创建两个引擎
// 说明：每次Load都会创建新的引擎实例
type EngineFactory interface {
	NewTraffic(rc *config.RuntimeConfig) (entity.ITrafficEngine, error)
	NewSignal(rc *config.RuntimeConfig) (entity.ISignalEngine, error)
}

// DefaultEngineFactory TraCI交通仿真 + Connect信控服务
type DefaultEngineFactory struct{}

func (DefaultEngineFactory) NewTraffic(rc *config.RuntimeConfig) (entity.ITrafficEngine, error) {
	e, err := traffic.New(rc)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (DefaultEngineFactory) NewSignal(rc *config.RuntimeConfig) (entity.ISignalEngine, error) {
	return signal.New(rc.All.Signal), nil
}
