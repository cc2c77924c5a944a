package task

import (
	"context"
	"errors"
	"flag"

	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/metrics"
)

var (
	heartBeatInterval = flag.Int("log.heartbeat_interval", 100, "心跳日志间隔步数")
)

// heartbeat 心跳日志
func (ctx *Context) heartbeat(step int64) {
	interval := int64(*heartBeatInterval)
	if interval <= 0 || step%interval != 0 {
		return
	}
	hour, minute, second := ctx.clock.GetHourMinuteSecond()
	log.Infof(
		"STEP: %d(%d:%d:%.2f) detectors=%d control_units=%d",
		step,
		hour, minute, second,
		ctx.detectors.Len(), ctx.controlUnits.Len(),
	)
}

// Run 运行
// 功能：参考驱动者，交替执行交通仿真的单步任务与ExecuteStep，直到配置的总步数或c被取消
// 说明：
//   - 需要已经InitializeBeforePlay
//   - 监听器错误只记录日志；引擎侧错误（*StepExecutionError）结束运行并返回
//   - 总步数为0时一直运行到c被取消
func (ctx *Context) Run(c context.Context) error {
	task := ctx.Runnable()
	if task == nil {
		return ErrNotLoaded
	}
	if s := ctx.State(); s != StateInitialized && s != StateStepping {
		return ErrNotInitialized
	}
	end := ctx.clock.END_STEP
	for {
		if err := c.Err(); err != nil {
			log.Infof("engine stopped at step %d: %v", ctx.CurrentStep(), err)
			return err
		}
		step, err := task(c)
		if err != nil {
			ctx.metrics.IncStepError(metrics.StageTraffic)
			return &StepExecutionError{Step: step + 1, Stage: metrics.StageTraffic, Err: err}
		}
		if err := ctx.ExecuteStep(c, step); err != nil {
			var stepErr *StepExecutionError
			if errors.As(err, &stepErr) {
				return err
			}
			log.Warnf("step %d: %v", step, err)
		}
		ctx.heartbeat(step)
		if end > 0 && step >= end {
			break
		}
	}
	log.Infof("engine complete")
	return nil
}
