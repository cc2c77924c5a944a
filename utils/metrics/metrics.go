// 协同仿真的Prometheus指标
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 步骤错误来源标签
const (
	StageTraffic     = "traffic"
	StageSignal      = "signal"
	StageDetector    = "detector"
	StageControlUnit = "control_unit"
	StageListener    = "listener"
)

// Collector 协同仿真指标集合
// 说明：所有方法对nil接收者安全，未启用指标时可以直接传nil
type Collector struct {
	gatherer prometheus.Gatherer

	StepsTotal        prometheus.Counter
	StepDuration      prometheus.Histogram
	StepErrors        *prometheus.CounterVec
	SignalUnreachable prometheus.Counter
	CurrentStep       prometheus.Gauge
	BoundDetectors    prometheus.Gauge
	BoundControlUnits prometheus.Gauge
}

// NewCollector 在reg上注册指标，reg为nil时使用默认注册表
// 说明：重复注册时复用已存在的指标
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	steps, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cosim_steps_total",
		Help: "Number of executed co-simulation steps.",
	}), "cosim_steps_total")
	if err != nil {
		return nil, err
	}
	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cosim_step_duration_seconds",
		Help:    "Wall time of one ExecuteStep call.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "cosim_step_duration_seconds")
	if err != nil {
		return nil, err
	}
	stepErrors, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cosim_step_errors_total",
		Help: "Errors raised while executing steps, labeled by stage.",
	}, []string{"stage"}), "cosim_step_errors_total")
	if err != nil {
		return nil, err
	}
	unreachable, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cosim_signal_unreachable_total",
		Help: "Initializations that found the signal engine unreachable.",
	}), "cosim_signal_unreachable_total")
	if err != nil {
		return nil, err
	}
	current, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cosim_current_step",
		Help: "Current value of the step counter.",
	}), "cosim_current_step")
	if err != nil {
		return nil, err
	}
	detectors, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cosim_bound_detectors",
		Help: "Number of detectors bound across both engines.",
	}), "cosim_bound_detectors")
	if err != nil {
		return nil, err
	}
	controlUnits, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cosim_bound_control_units",
		Help: "Number of control units bound across both engines.",
	}), "cosim_bound_control_units")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:          gatherer,
		StepsTotal:        steps,
		StepDuration:      duration,
		StepErrors:        stepErrors,
		SignalUnreachable: unreachable,
		CurrentStep:       current,
		BoundDetectors:    detectors,
		BoundControlUnits: controlUnits,
	}, nil
}

// Handler /metrics处理器
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveStep 记录一次步骤执行
func (c *Collector) ObserveStep(step int64, d time.Duration) {
	if c == nil {
		return
	}
	c.StepsTotal.Inc()
	c.StepDuration.Observe(d.Seconds())
	c.CurrentStep.Set(float64(step))
}

// IncStepError 记录步骤中某个阶段的错误
func (c *Collector) IncStepError(stage string) {
	if c == nil {
		return
	}
	c.StepErrors.WithLabelValues(stage).Inc()
}

func (c *Collector) IncSignalUnreachable() {
	if c == nil {
		return
	}
	c.SignalUnreachable.Inc()
}

// SetBindings 更新绑定数量
func (c *Collector) SetBindings(detectors, controlUnits int) {
	if c == nil {
		return
	}
	c.BoundDetectors.Set(float64(detectors))
	c.BoundControlUnits.Set(float64(controlUnits))
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
