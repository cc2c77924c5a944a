package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/entity"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/codec"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/config"
)

// Engine 信控引擎客户端
// 功能：通过Connect/JSON调用信控服务，实现entity.ISignalEngine
type Engine struct {
	baseURL string

	load       *connect.Client[LoadRequest, entity.SignalCatalog]
	initialize *connect.Client[InitializeRequest, InitializeResponse]
	step       *connect.Client[entity.SignalStepRequest, entity.SignalStepResponse]

	catalog *entity.SignalCatalog
}

var _ entity.ISignalEngine = (*Engine)(nil)

// New 根据配置创建信控引擎客户端
// 说明：请求超时由cfg.Timeout控制，卡住的网络调用以错误返回
func New(cfg config.Signal) *Engine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return NewWithClient(&http.Client{Timeout: timeout}, cfg.URL)
}

// NewWithClient 使用指定的HTTP客户端创建信控引擎客户端
func NewWithClient(httpClient connect.HTTPClient, baseURL string) *Engine {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Engine{
		baseURL:    baseURL,
		load:       connect.NewClient[LoadRequest, entity.SignalCatalog](httpClient, baseURL+SignalServiceLoadProcedure, codec.WithJSON()),
		initialize: connect.NewClient[InitializeRequest, InitializeResponse](httpClient, baseURL+SignalServiceInitializeProcedure, codec.WithJSON()),
		step:       connect.NewClient[entity.SignalStepRequest, entity.SignalStepResponse](httpClient, baseURL+SignalServiceStepProcedure, codec.WithJSON()),
	}
}

// Load 让信控引擎加载数据目录，并保存返回的静态模型
func (e *Engine) Load(ctx context.Context, dataDir string) error {
	res, err := e.load.CallUnary(ctx, connect.NewRequest(&LoadRequest{DataDir: dataDir}))
	if err != nil {
		return fmt.Errorf("signal engine %s: load %s: %w", e.baseURL, dataDir, err)
	}
	e.catalog = res.Msg
	log.Infof(
		"signal engine loaded %s: %d detectors, %d control units, %d vehicle types",
		dataDir, len(e.catalog.Detectors), len(e.catalog.ControlUnits), len(e.catalog.VehicleTypes),
	)
	return nil
}

// Catalog Load后的静态模型，Load之前为nil
func (e *Engine) Catalog() *entity.SignalCatalog {
	return e.catalog
}

// Initialize 初始化信控引擎
// 返回：服务不可达（连接失败、超时或服务返回Unavailable）时返回InitUnreachable且error为nil；
// 其它服务端错误以error返回
func (e *Engine) Initialize(ctx context.Context) (entity.InitResponse, error) {
	_, err := e.initialize.CallUnary(ctx, connect.NewRequest(&InitializeRequest{}))
	if err == nil {
		return entity.InitOK, nil
	}
	if isUnreachable(err) {
		log.Warnf("signal engine %s unreachable: %v", e.baseURL, err)
		return entity.InitUnreachable, nil
	}
	return entity.InitUnreachable, fmt.Errorf("signal engine %s: initialize: %w", e.baseURL, err)
}

// Step 执行信控引擎的一步
func (e *Engine) Step(ctx context.Context, req *entity.SignalStepRequest) (*entity.SignalStepResponse, error) {
	res, err := e.step.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, fmt.Errorf("signal engine %s: step %d: %w", e.baseURL, req.Step, err)
	}
	return res.Msg, nil
}

func isUnreachable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch connect.CodeOf(err) {
	case connect.CodeUnavailable, connect.CodeDeadlineExceeded:
		return true
	}
	return false
}
