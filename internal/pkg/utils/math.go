package utils

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Float64Round2 对 float64 保留最多两位小数，适用于 USD 金额、百分比等展示字段
func Float64Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func Pow10(n uint8) float64 {
	switch n {
	case 6:
		return 1e6
	case 9:
		return 1e9
	case 0:
		return 1
	case 8:
		return 1e8
	default:
		return math.Pow10(int(n))
	}
}

// AmountToFloat64 将链上原始数量按精度换算
func AmountToFloat64(amount uint64, decimals uint8) float64 {
	return float64(amount) / Pow10(decimals)
}

// Clamp 将 v 限制在 [lo, hi]
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PctChange 变化百分比，old 为 0 时返回 0
func PctChange[T constraints.Integer | constraints.Float](oldVal, newVal T) float64 {
	if oldVal == 0 {
		return 0
	}
	return (float64(newVal) - float64(oldVal)) / float64(oldVal) * 100
}

// Ratio 安全除法，分母为 0 返回 0
func Ratio[T constraints.Integer | constraints.Float](num, den T) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// StableDesc 降序比较，值相等时用 hash 升序保证排序稳定
func StableDesc[T constraints.Ordered](aVal, bVal T, aHash, bHash uint64) bool {
	if aVal != bVal {
		return aVal > bVal
	}
	return aHash < bHash
}

// SignedDelta 两个 uint64 的有符号差值，溢出时饱和
func SignedDelta(oldVal, newVal uint64) int64 {
	if newVal >= oldVal {
		d := newVal - oldVal
		if d > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(d)
	}
	d := oldVal - newVal
	if d > math.MaxInt64 {
		return math.MinInt64
	}
	return -int64(d)
}
