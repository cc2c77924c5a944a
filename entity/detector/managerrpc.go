package detector

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/entity"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/codec"
)

const (
	DetectorServiceName = "cosim.detector.v1.DetectorService"

	DetectorServiceGetDetectorsProcedure = "/" + DetectorServiceName + "/GetDetectors"
)

// GetDetectorsRequest 查询检测器状态，IDs为空时返回全部
type GetDetectorsRequest struct {
	IDs []string `json:"ids"`
}

// GetDetectorsResponse 检测器状态与找不到的ID
type GetDetectorsResponse struct {
	Detectors []entity.DetectorState `json:"detectors"`
	FailedIDs []string               `json:"failed_ids,omitempty"`
}

// Register 将检测器管理器注册为RPC服务
// 功能：为检测器状态的外部观察者提供查询接口
func (m *DetectorManager) Register(mux *http.ServeMux, opts ...connect.HandlerOption) {
	opts = append(opts, codec.WithJSON())
	mux.Handle(
		DetectorServiceGetDetectorsProcedure,
		connect.NewUnaryHandler(DetectorServiceGetDetectorsProcedure, m.GetDetectors, opts...),
	)
}

// GetDetectors RPC接口：获取检测器最近一次的状态
func (m *DetectorManager) GetDetectors(
	ctx context.Context, in *connect.Request[GetDetectorsRequest],
) (*connect.Response[GetDetectorsResponse], error) {
	dataMap, data := m.snapshot()
	states, failed := utils.Find(dataMap, data, in.Msg.IDs)
	return connect.NewResponse(&GetDetectorsResponse{
		Detectors: states,
		FailedIDs: failed,
	}), nil
}
