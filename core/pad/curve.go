package pad

import (
	"math"

	"AtmoMix/model"
)

var expFloor = math.Pow(2, -8)

// Shape 把线性进度 t∈[0,1] 映射到曲线进度
// 未知曲线按 linear 处理
func Shape(curve string, t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	switch curve {
	case model.FadeCurveEqualPower:
		return math.Sin(t * math.Pi / 2)
	case model.FadeCurveExp:
		// 2^(8(t-1)) 归一化到 [0,1]
		return (math.Pow(2, 8*(t-1)) - expFloor) / (1 - expFloor)
	default:
		return t
	}
}

// Interpolate 按曲线计算 from→to 之间的值
func Interpolate(curve string, from, to, t float64) float64 {
	return from + (to-from)*Shape(curve, t)
}
