package controlunit

import (
	"fmt"
	"strings"

	"github.com/tsinghua-fib-lab/agentsociety-cosim/entity"
)

// 信控引擎灯头状态 -> 交通仿真逐link信号字符
var headToLink = map[entity.HeadState]byte{
	entity.HeadRed:           'r',
	entity.HeadRedAmber:      'u',
	entity.HeadGreen:         'G',
	entity.HeadGreenMinor:    'g',
	entity.HeadAmber:         'y',
	entity.HeadOff:           'O',
	entity.HeadFlashingAmber: 'o',
}

// Translate 将一组灯头状态转换为交通仿真的信号灯状态字符串
// 功能：按信号组顺序逐个转换，第i个灯头对应第i个link
// 参数：heads-灯头状态
// 返回：状态字符串，例如"rrGGy"；遇到未知状态时返回错误
func Translate(heads []entity.HeadState) (string, error) {
	var sb strings.Builder
	sb.Grow(len(heads))
	for i, h := range heads {
		c, ok := headToLink[h]
		if !ok {
			return "", fmt.Errorf("unknown head state %q at index %d", h, i)
		}
		sb.WriteByte(c)
	}
	return sb.String(), nil
}
