package traffic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/entity"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/config"
)

const (
	dialInterval    = 200 * time.Millisecond
	processExitWait = 5 * time.Second
)

var ErrNotInitialized = errors.New("traffic engine not initialized")

// Engine 交通仿真引擎适配器
// 功能：通过TraCI驱动外部微观交通仿真器，实现entity.ITrafficEngine
// 说明：配置了Binary时由Initialize启动仿真器进程，否则连接已在运行的仿真器
type Engine struct {
	cfg          config.Traffic
	trafficCfg   string
	stepInterval float64
	catalog      *entity.TrafficCatalog

	mu      sync.Mutex
	conn    *Conn
	cmd     *exec.Cmd
	exited  chan struct{}
	started bool

	step atomic.Int64
}

var _ entity.ITrafficEngine = (*Engine)(nil)

// New 创建交通仿真引擎适配器
// 功能：解析路网与附加文件得到静态模型，不建立连接
func New(rc *config.RuntimeConfig) (*Engine, error) {
	catalog, err := LoadCatalog(append([]string{rc.NetFile}, rc.AdditionalFiles...)...)
	if err != nil {
		return nil, fmt.Errorf("traffic catalog: %w", err)
	}
	log.Infof("traffic catalog: %d traffic lights, %d detectors", len(catalog.TrafficLights), len(catalog.Detectors))
	return &Engine{
		cfg:          rc.All.Traffic,
		trafficCfg:   rc.TrafficConfig,
		stepInterval: rc.C.Step.Interval,
		catalog:      catalog,
	}, nil
}

func (e *Engine) Catalog() *entity.TrafficCatalog {
	return e.catalog
}

func (e *Engine) addr() string {
	return net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
}

// Initialize 启动仿真器（如果配置了）并建立TraCI连接
// 说明：每个Engine只能初始化一次
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("traffic engine already initialized")
	}
	e.started = true

	if e.cfg.Binary != "" {
		if err := e.launch(); err != nil {
			return err
		}
	}
	conn, err := Dial(ctx, e.addr(), e.cfg.ConnectTimeout, dialInterval)
	if err != nil {
		e.stopProcess(0)
		return err
	}
	api, id, err := conn.Version(ctx)
	if err != nil {
		conn.Close()
		e.stopProcess(0)
		return fmt.Errorf("traci handshake with %s: %w", e.addr(), err)
	}
	log.Infof("connected to %s (%s, api %d)", e.addr(), id, api)
	e.conn = conn
	e.step.Store(0)
	return nil
}

func (e *Engine) launch() error {
	args := []string{
		"-c", e.trafficCfg,
		"--remote-port", strconv.Itoa(e.cfg.Port),
		"--step-length", strconv.FormatFloat(e.stepInterval, 'f', -1, 64),
	}
	cmd := exec.Command(e.cfg.Binary, args...)
	w := log.WriterLevel(logrus.DebugLevel)
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		w.Close()
		return fmt.Errorf("start %s: %w", e.cfg.Binary, err)
	}
	log.Infof("started %s %v (pid %d)", e.cfg.Binary, args, cmd.Process.Pid)
	e.cmd = cmd
	e.exited = make(chan struct{})
	go func() {
		err := cmd.Wait()
		w.Close()
		if err != nil {
			log.Warnf("%s exited: %v", e.cfg.Binary, err)
		} else {
			log.Infof("%s exited", e.cfg.Binary)
		}
		close(e.exited)
	}()
	return nil
}

// stopProcess 等待仿真器进程退出，超过wait则强制结束
// 说明：wait为0时直接结束进程，用于连接失败后仿真器仍在等待客户端的情况
func (e *Engine) stopProcess(wait time.Duration) {
	if e.cmd == nil {
		return
	}
	if wait <= 0 {
		_ = e.cmd.Process.Kill()
		<-e.exited
		e.cmd = nil
		return
	}
	select {
	case <-e.exited:
	case <-time.After(wait):
		log.Warnf("%s did not exit in %v, killing", e.cfg.Binary, wait)
		_ = e.cmd.Process.Kill()
		<-e.exited
	}
	e.cmd = nil
}

func (e *Engine) connection() (*Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil, ErrNotInitialized
	}
	return e.conn, nil
}

// Step 推进仿真到指定步
func (e *Engine) Step(ctx context.Context, toStep int64) error {
	conn, err := e.connection()
	if err != nil {
		return err
	}
	if err := conn.SimStep(ctx, float64(toStep)*e.stepInterval); err != nil {
		return fmt.Errorf("traffic step %d: %w", toStep, err)
	}
	e.step.Store(toStep)
	return nil
}

// Task 推进一步的可调度单元
func (e *Engine) Task() entity.StepTask {
	return func(ctx context.Context) (int64, error) {
		next := e.step.Load() + 1
		if err := e.Step(ctx, next); err != nil {
			return e.step.Load(), err
		}
		return next, nil
	}
}

// ReadDetector 读取感应线圈上一步的车辆数与占有率
func (e *Engine) ReadDetector(ctx context.Context, id string) (entity.DetectorState, error) {
	conn, err := e.connection()
	if err != nil {
		return entity.DetectorState{}, err
	}
	count, err := conn.GetInt(ctx, cmdGetInductionLoopVariable, varLastStepVehicleNumber, id)
	if err != nil {
		return entity.DetectorState{}, fmt.Errorf("detector %s: %w", id, err)
	}
	occupancy, err := conn.GetDouble(ctx, cmdGetInductionLoopVariable, varLastStepOccupancy, id)
	if err != nil {
		return entity.DetectorState{}, fmt.Errorf("detector %s: %w", id, err)
	}
	if math.IsNaN(occupancy) || occupancy < 0 {
		occupancy = 0
	}
	return entity.DetectorState{
		ID:           id,
		VehicleCount: int(count),
		Occupancy:    occupancy,
		Occupied:     occupancy > 0,
	}, nil
}

// SetControlUnitState 写入信号灯的逐link状态
func (e *Engine) SetControlUnitState(ctx context.Context, id string, state string) error {
	conn, err := e.connection()
	if err != nil {
		return err
	}
	if err := conn.SetString(ctx, cmdSetTrafficLightVariable, varRedYellowGreenState, id, state); err != nil {
		return fmt.Errorf("traffic light %s: %w", id, err)
	}
	return nil
}

// Close 关闭TraCI连接并等待仿真器进程退出
// 说明：可以重复调用，未初始化时直接返回
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.conn != nil {
		err = e.conn.Close()
		e.conn = nil
	}
	e.stopProcess(processExitWait)
	return err
}
