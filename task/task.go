package task

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/clock"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/entity"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/entity/controlunit"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/entity/detector"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/entity/vehicletype"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/metrics"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State 协同仿真状态
type State int32

const (
	StateUnloaded    State = iota // 未加载
	StateLoaded                   // 已加载配置与绑定
	StateInitialized              // 两个引擎均已初始化
	StateStepping                 // 已开始执行单步
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "Unloaded"
	case StateLoaded:
		return "Loaded"
	case StateInitialized:
		return "Initialized"
	case StateStepping:
		return "Stepping"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Context 协同仿真任务上下文
// 功能：持有一次协同仿真的全部状态，驱动初始化握手与逐步同步，并向监听器广播单步完成
// 说明：
//   - 状态机：Unloaded → Loaded → Initialized → Stepping
//   - 时钟、车辆类型表与两个桥接管理器在整个进程中只创建一次，Load时重新填充，
//     因此RPC只需在启动时注册一次
//   - 单步由唯一的外部驱动者顺序调用，重叠调用直接失败
type Context struct {
	factory EngineFactory
	metrics *metrics.Collector

	// 保护状态迁移、引擎与监听器列表
	mu    sync.Mutex
	state State

	// 运行时配置
	runtimeConfig *config.RuntimeConfig
	// 交通仿真引擎
	traffic entity.ITrafficEngine
	// 信控引擎
	signal entity.ISignalEngine

	// 时钟
	clock *clock.Clock
	// 车辆类型表
	vehicleTypes      *vehicletype.VehicleTypeManager
	vehicleTypeReport *vehicletype.LoadResult
	// 检测器桥接
	detectors *detector.DetectorManager
	// 信控单元桥接
	controlUnits *controlunit.ControlUnitManager

	// 单步监听器，按注册顺序
	listeners []StepListener
	// 是否有单步正在执行
	inFlight atomic.Bool
}

// NewContext 创建协同仿真任务上下文
// 参数：factory-引擎工厂（nil表示DefaultEngineFactory），collector-指标（可以为nil）
// 返回：处于Unloaded状态的Context
func NewContext(factory EngineFactory, collector *metrics.Collector) *Context {
	if factory == nil {
		factory = DefaultEngineFactory{}
	}
	return &Context{
		factory:      factory,
		metrics:      collector,
		clock:        clock.New(config.ControlStep{}),
		vehicleTypes: vehicletype.NewManager(),
		detectors:    detector.NewManager(),
		controlUnits: controlunit.NewManager(),
	}
}

func (ctx *Context) Clock() *clock.Clock {
	return ctx.clock
}

func (ctx *Context) VehicleTypes() *vehicletype.VehicleTypeManager {
	return ctx.vehicleTypes
}

// VehicleTypeReport 最近一次加载车辆类型的逐条结果
func (ctx *Context) VehicleTypeReport() *vehicletype.LoadResult {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.vehicleTypeReport
}

func (ctx *Context) Detectors() *detector.DetectorManager {
	return ctx.detectors
}

func (ctx *Context) ControlUnits() *controlunit.ControlUnitManager {
	return ctx.controlUnits
}

func (ctx *Context) RuntimeConfig() *config.RuntimeConfig {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.runtimeConfig
}

func (ctx *Context) State() State {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.state
}

// CurrentStep 当前步数
func (ctx *Context) CurrentStep() int64 {
	return ctx.clock.Step()
}

// Register 注册观察者RPC（时钟、检测器、信控单元）
func (ctx *Context) Register(mux *http.ServeMux, opts ...connect.HandlerOption) {
	ctx.clock.Register(mux, opts...)
	ctx.detectors.Register(mux, opts...)
	ctx.controlUnits.Register(mux, opts...)
}

// Load 读取配置文件并加载协同仿真
// 功能：解析配置后调用LoadConfig
// 返回：配置错误为*config.ConfigError；任何失败后处于Unloaded状态
func (ctx *Context) Load(c context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		ctx.mu.Lock()
		defer ctx.mu.Unlock()
		if !ctx.inFlight.Load() {
			ctx.teardown()
		}
		return err
	}
	return ctx.LoadConfig(c, cfg, configPath)
}

// LoadConfig 使用已解析的配置加载协同仿真
// 功能：完整替换之前的状态
// 算法说明：
// 1. 关闭之前的交通仿真引擎，清空所有绑定
// 2. 通过工厂创建交通仿真与信控引擎，信控引擎加载数据目录
// 3. 加载车辆类型表
// 4. 依据两个引擎的静态模型建立信控单元与检测器绑定
// 5. 任意一步失败则回到Unloaded，不保留任何部分状态
//
// 参数：cfg-配置，configPath-配置文件路径（用于解析相对路径，可以为空）
func (ctx *Context) LoadConfig(c context.Context, cfg config.Config, configPath string) (err error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.inFlight.Load() {
		return ErrStepInFlight
	}
	c, span := tracing.Tracer().Start(c, "cosim.Load", trace.WithAttributes(attribute.String("config", configPath)))
	defer func() {
		endSpan(span, err)
	}()

	ctx.teardown()
	if err := cfg.Validate(); err != nil {
		return &config.ConfigError{Path: configPath, Err: err}
	}
	rc := config.NewRuntimeConfig(cfg, configPath)
	if err := ctx.load(c, rc); err != nil {
		ctx.teardown()
		return err
	}
	ctx.state = StateLoaded
	log.Infof(
		"loaded %s: %d vehicle types, %d detectors, %d control units",
		configPath, ctx.vehicleTypes.Len(), ctx.detectors.Len(), ctx.controlUnits.Len(),
	)
	return nil
}

func (ctx *Context) load(c context.Context, rc *config.RuntimeConfig) error {
	traffic, err := ctx.factory.NewTraffic(rc)
	if err != nil {
		return fmt.Errorf("create traffic engine: %w", err)
	}
	ctx.traffic = traffic
	signal, err := ctx.factory.NewSignal(rc)
	if err != nil {
		return fmt.Errorf("create signal engine: %w", err)
	}
	ctx.signal = signal
	if err := signal.Load(c, rc.SignalDataDir); err != nil {
		return err
	}

	report, err := ctx.vehicleTypes.Load(c, vehicletype.NewSource(rc))
	if err != nil {
		return err
	}
	for _, f := range report.Failures {
		log.Warnf("skip vehicle type: %v", f)
	}
	if catalog := signal.Catalog(); catalog != nil {
		unknown := lo.Filter(catalog.VehicleTypes, func(id string, _ int) bool {
			_, ok := ctx.vehicleTypes.Get(id)
			return !ok
		})
		if len(unknown) > 0 {
			log.Debugf("signal engine vehicle types without length: %v", unknown)
		}
	}
	ctx.vehicleTypeReport = report

	if err := ctx.controlUnits.Init(rc.All.Input.ControlUnits, traffic.Catalog(), signal.Catalog()); err != nil {
		return err
	}
	if err := ctx.detectors.Init(rc.All.Input.Detectors, traffic.Catalog(), signal.Catalog()); err != nil {
		return err
	}

	ctx.clock.DT = rc.C.Step.Interval
	ctx.clock.END_STEP = rc.C.Step.Total
	ctx.runtimeConfig = rc
	ctx.metrics.SetBindings(ctx.detectors.Len(), ctx.controlUnits.Len())
	return nil
}

// teardown 释放引擎并清空所有绑定，回到Unloaded
// 说明：调用方持有ctx.mu
func (ctx *Context) teardown() {
	if ctx.traffic != nil {
		if err := ctx.traffic.Close(); err != nil {
			log.Warnf("close traffic engine: %v", err)
		}
	}
	ctx.traffic = nil
	ctx.signal = nil
	ctx.runtimeConfig = nil
	ctx.vehicleTypeReport = nil
	ctx.vehicleTypes.Reset()
	ctx.detectors.Reset()
	ctx.controlUnits.Reset()
	ctx.metrics.SetBindings(0, 0)
	ctx.state = StateUnloaded
}

// InitializeBeforePlay 在开始单步之前初始化两个引擎
// 功能：先初始化信控引擎，信控引擎可达时才归零步数并初始化交通仿真
// 返回：
//   - 信控引擎不可达：InitUnreachable、nil，状态保持Loaded，交通仿真未被触碰，可以重试
//   - 交通仿真初始化失败：错误，协同仿真回到Unloaded，需要重新Load
//   - 不在Loaded状态：ErrNotLoaded或ErrAlreadyInitialized
func (ctx *Context) InitializeBeforePlay(c context.Context) (res entity.InitResponse, err error) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	switch ctx.state {
	case StateUnloaded:
		return entity.InitUnreachable, ErrNotLoaded
	case StateInitialized, StateStepping:
		return entity.InitUnreachable, ErrAlreadyInitialized
	}
	c, span := tracing.Tracer().Start(c, "cosim.InitializeBeforePlay")
	defer func() {
		span.SetAttributes(attribute.String("result", res.String()))
		endSpan(span, err)
	}()

	res, err = ctx.signal.Initialize(c)
	if err != nil {
		return res, fmt.Errorf("initialize signal engine: %w", err)
	}
	if res == entity.InitUnreachable {
		ctx.metrics.IncSignalUnreachable()
		log.Warn("signal engine unreachable, traffic engine left untouched")
		return res, nil
	}

	ctx.clock.Init()
	if err := ctx.traffic.Initialize(c); err != nil {
		ctx.teardown()
		return res, fmt.Errorf("initialize traffic engine: %w", err)
	}
	ctx.state = StateInitialized
	log.Infof("co-simulation initialized: %d steps of %vs", ctx.clock.END_STEP, ctx.clock.DT)
	return res, nil
}

// AddStepListener 注册单步监听器
// 说明：只追加，不去重；单步执行期间注册属于编程错误，直接panic
func (ctx *Context) AddStepListener(l StepListener) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.inFlight.Load() {
		log.Panic("AddStepListener called while a step is in flight")
	}
	ctx.listeners = append(ctx.listeners, l)
}

// ExecuteStep 执行一步协同仿真
// 功能：推进步数，把交通仿真的检测器数据送入信控引擎单步，再把信控结果写回交通仿真，最后按注册顺序通知监听器
// 参数：c-上下文，step-步数，不能小于当前步数
// 返回：
//   - 未初始化：ErrNotInitialized；另一步正在执行：ErrStepInFlight
//   - 引擎侧错误（*StepExecutionError）与监听器错误（*ListenerError）在所有监听器执行完后合并返回，
//     步数停留在step
//
// 算法说明：
// 1. 读取交通仿真中所有绑定检测器的观测值（按信控引擎ID命名）
// 2. 调用一次信控引擎单步，携带检测器观测值
// 3. 记录信控引擎确认的检测器状态
// 4. 将信控单元的灯头状态翻译后写入交通仿真
// 5. 依次通知所有监听器，单个监听器失败或panic不影响后续监听器
func (ctx *Context) ExecuteStep(c context.Context, step int64) (err error) {
	if !ctx.inFlight.CompareAndSwap(false, true) {
		return ErrStepInFlight
	}
	defer ctx.inFlight.Store(false)

	ctx.mu.Lock()
	if ctx.state != StateInitialized && ctx.state != StateStepping {
		ctx.mu.Unlock()
		return ErrNotInitialized
	}
	if current := ctx.clock.Step(); step < current {
		ctx.mu.Unlock()
		return fmt.Errorf("%w: %d < %d", ErrStepOutOfOrder, step, current)
	}
	ctx.state = StateStepping
	traffic, signal := ctx.traffic, ctx.signal
	listeners := ctx.listeners
	ctx.mu.Unlock()

	c, span := tracing.Tracer().Start(c, "cosim.ExecuteStep", trace.WithAttributes(attribute.Int64("step", step)))
	defer func() {
		endSpan(span, err)
	}()
	start := time.Now()
	ctx.clock.SetStep(step)

	errs := ctx.propagate(c, step, traffic, signal)
	errs = append(errs, ctx.notify(step, listeners)...)
	ctx.metrics.ObserveStep(step, time.Since(start))
	return errors.Join(errs...)
}

func (ctx *Context) propagate(c context.Context, step int64, traffic entity.ITrafficEngine, signal entity.ISignalEngine) []error {
	errs := make([]error, 0)
	fail := func(stage string, err error) {
		ctx.metrics.IncStepError(stage)
		log.Warnf("step %d: %s: %v", step, stage, err)
		errs = append(errs, &StepExecutionError{Step: step, Stage: stage, Err: err})
	}

	// 检测器读取失败时信控引擎仍然推进，保持两个引擎同步
	readings, err := ctx.detectors.Sync(c, traffic)
	if err != nil {
		fail(metrics.StageDetector, err)
		readings = nil
	}
	resp, err := signal.Step(c, &entity.SignalStepRequest{Step: step, Detectors: readings})
	if err != nil {
		fail(metrics.StageSignal, err)
		return errs
	}
	ctx.detectors.Update(resp.Detectors)
	if err := ctx.controlUnits.Apply(c, traffic, resp.ControlUnits); err != nil {
		fail(metrics.StageControlUnit, err)
	}
	return errs
}

func (ctx *Context) notify(step int64, listeners []StepListener) []error {
	errs := make([]error, 0)
	for i, l := range listeners {
		if err := callListener(l, step); err != nil {
			ctx.metrics.IncStepError(metrics.StageListener)
			log.Warnf("step %d: listener #%d: %v", step, i, err)
			errs = append(errs, &ListenerError{Step: step, Index: i, Err: err})
		}
	}
	return errs
}

// Runnable 交通仿真推进一步的可调度单元
// 返回：未加载时为nil
func (ctx *Context) Runnable() entity.StepTask {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.traffic == nil {
		return nil
	}
	return ctx.traffic.Task()
}

// Close 释放交通仿真引擎，回到Unloaded
// 返回：单步执行过程中调用时返回ErrStepInFlight，引擎不受影响
func (ctx *Context) Close() error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.inFlight.Load() {
		return ErrStepInFlight
	}
	ctx.teardown()
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
