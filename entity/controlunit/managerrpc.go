package controlunit

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/codec"
)

const (
	ControlUnitServiceName = "cosim.controlunit.v1.ControlUnitService"

	ControlUnitServiceGetControlUnitsProcedure = "/" + ControlUnitServiceName + "/GetControlUnits"
)

// GetControlUnitsRequest 查询信控单元状态，IDs为空时返回全部
type GetControlUnitsRequest struct {
	IDs []string `json:"ids"`
}

// GetControlUnitsResponse 信控单元状态与找不到的ID
type GetControlUnitsResponse struct {
	ControlUnits []Snapshot `json:"control_units"`
	FailedIDs    []string   `json:"failed_ids,omitempty"`
}

// Register 将信控单元管理器注册为RPC服务
func (m *ControlUnitManager) Register(mux *http.ServeMux, opts ...connect.HandlerOption) {
	opts = append(opts, codec.WithJSON())
	mux.Handle(
		ControlUnitServiceGetControlUnitsProcedure,
		connect.NewUnaryHandler(ControlUnitServiceGetControlUnitsProcedure, m.GetControlUnits, opts...),
	)
}

// GetControlUnits RPC接口：获取信控单元最近一次写入交通仿真的状态
func (m *ControlUnitManager) GetControlUnits(
	ctx context.Context, in *connect.Request[GetControlUnitsRequest],
) (*connect.Response[GetControlUnitsResponse], error) {
	dataMap, data := m.snapshots()
	list, failed := utils.Find(dataMap, data, in.Msg.IDs)
	return connect.NewResponse(&GetControlUnitsResponse{
		ControlUnits: list,
		FailedIDs:    failed,
	}), nil
}
