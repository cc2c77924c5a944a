// JSON编解码器，使connect可以直接以普通Go结构体作为请求与响应
// 信控引擎以及检测器/信控单元观察者接口没有protobuf定义，统一使用该编解码器
package codec

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// JSON connect编解码器，名称为"json"，覆盖connect内置的protojson
type JSON struct{}

var _ connect.Codec = JSON{}

func (JSON) Name() string {
	return "json"
}

func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// WithJSON 客户端与处理器共用的选项
func WithJSON() connect.Option {
	return connect.WithCodec(JSON{})
}
