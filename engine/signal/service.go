// 信控引擎的RPC协议
// 信控服务以Connect协议（HTTP POST + JSON）提供Load、Initialize、Step三个过程，
// 本包同时提供客户端（Engine）和服务端处理器（NewHandler），后者用于测试和本地替身服务
package signal

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/entity"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/codec"
)

const (
	SignalServiceName = "lisa.v1.SignalService"

	SignalServiceLoadProcedure       = "/" + SignalServiceName + "/Load"
	SignalServiceInitializeProcedure = "/" + SignalServiceName + "/Initialize"
	SignalServiceStepProcedure       = "/" + SignalServiceName + "/Step"
)

// LoadRequest 加载数据目录
type LoadRequest struct {
	DataDir string `json:"data_dir"`
}

// InitializeRequest 初始化请求
type InitializeRequest struct{}

// InitializeResponse 初始化结果
type InitializeResponse struct{}

// Service 信控服务的服务端接口
type Service interface {
	Load(ctx context.Context, req *LoadRequest) (*entity.SignalCatalog, error)
	Initialize(ctx context.Context, req *InitializeRequest) (*InitializeResponse, error)
	Step(ctx context.Context, req *entity.SignalStepRequest) (*entity.SignalStepResponse, error)
}

// NewHandler 创建信控服务的HTTP处理器
// 返回：路由前缀与处理器
func NewHandler(svc Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append(opts, codec.WithJSON())
	mux := http.NewServeMux()
	mux.Handle(SignalServiceLoadProcedure, connect.NewUnaryHandler(
		SignalServiceLoadProcedure,
		func(ctx context.Context, in *connect.Request[LoadRequest]) (*connect.Response[entity.SignalCatalog], error) {
			res, err := svc.Load(ctx, in.Msg)
			if err != nil {
				return nil, err
			}
			return connect.NewResponse(res), nil
		},
		opts...,
	))
	mux.Handle(SignalServiceInitializeProcedure, connect.NewUnaryHandler(
		SignalServiceInitializeProcedure,
		func(ctx context.Context, in *connect.Request[InitializeRequest]) (*connect.Response[InitializeResponse], error) {
			res, err := svc.Initialize(ctx, in.Msg)
			if err != nil {
				return nil, err
			}
			return connect.NewResponse(res), nil
		},
		opts...,
	))
	mux.Handle(SignalServiceStepProcedure, connect.NewUnaryHandler(
		SignalServiceStepProcedure,
		func(ctx context.Context, in *connect.Request[entity.SignalStepRequest]) (*connect.Response[entity.SignalStepResponse], error) {
			res, err := svc.Step(ctx, in.Msg)
			if err != nil {
				return nil, err
			}
			return connect.NewResponse(res), nil
		},
		opts...,
	))
	return "/" + SignalServiceName + "/", mux
}
