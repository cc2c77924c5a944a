package clock

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ClockServiceName = "cosim.clock.v1.ClockService"

	ClockServiceNowProcedure  = "/" + ClockServiceName + "/Now"
	ClockServiceStepProcedure = "/" + ClockServiceName + "/Step"
)

// Register 将ClockService注册到HTTP路由
// 功能：注册时钟服务的RPC处理器，供外部观察者查询仿真时间
// 参数：mux-HTTP路由，opts-处理器选项
func (c *Clock) Register(mux *http.ServeMux, opts ...connect.HandlerOption) {
	mux.Handle(ClockServiceNowProcedure, connect.NewUnaryHandler(ClockServiceNowProcedure, c.Now, opts...))
	mux.Handle(ClockServiceStepProcedure, connect.NewUnaryHandler(ClockServiceStepProcedure, c.StepRPC, opts...))
}

// Now 获取当前仿真时间
// 功能：RPC接口，返回从仿真开始经过的时间
func (c *Clock) Now(ctx context.Context, in *connect.Request[emptypb.Empty]) (*connect.Response[durationpb.Duration], error) {
	return connect.NewResponse(durationpb.New(time.Duration(c.T() * float64(time.Second)))), nil
}

// StepRPC 获取当前仿真步数
// 功能：RPC接口，返回当前步数
func (c *Clock) StepRPC(ctx context.Context, in *connect.Request[emptypb.Empty]) (*connect.Response[wrapperspb.Int64Value], error) {
	return connect.NewResponse(wrapperspb.Int64(c.Step())), nil
}
