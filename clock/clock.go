package clock

import (
	"fmt"
	"sync/atomic"

	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/config"
)

// Clock 协同仿真时钟
// 功能：保存共享的仿真步数，两个引擎都以它为准
// 说明：步数只由协同仿真的单步循环修改，只在InitializeBeforePlay中归零；
// 使用原子变量，RPC观察者可以在其它goroutine中并发读取
type Clock struct {
	DT       float64 // 每步时间间隔（秒）
	END_STEP int64   // 结束步，模拟区间[0, END]

	step atomic.Int64 // 当前步数
}

// New 根据配置创建新的时钟实例
// 参数：stepConfig-控制步配置
// 返回：初始化完成的时钟实例，步数为0
func New(stepConfig config.ControlStep) *Clock {
	return &Clock{
		DT:       stepConfig.Interval,
		END_STEP: stepConfig.Total,
	}
}

// Init 重置步数为0
func (c *Clock) Init() {
	c.step.Store(0)
}

// Step 当前步数
func (c *Clock) Step() int64 {
	return c.step.Load()
}

// SetStep 设置当前步数
// 说明：步数不会回退，调用方保证单调
func (c *Clock) SetStep(step int64) {
	c.step.Store(step)
}

// T 当前仿真时间（秒）
func (c *Clock) T() float64 {
	return float64(c.Step()) * c.DT
}

// String 获取时钟的字符串表示
// 功能：将当前时间格式化为HH:MM:SS
func (c *Clock) String() string {
	h, m, s := c.GetHourMinuteSecond()
	return fmt.Sprintf("%02d:%02d:%02d", h, m, int(s))
}

// GetHourMinuteSecond 获取当前时间的小时、分钟、秒
// 返回：小时、分钟、秒（秒为浮点数，支持亚秒级精度）
func (c *Clock) GetHourMinuteSecond() (int, int, float64) {
	t := c.T()
	hour := int(t) / 3600
	minute := int(t) % 3600 / 60
	second := t - float64(hour*3600+minute*60)
	return hour, minute, second
}
