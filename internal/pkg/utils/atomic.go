package utils

import (
	"math"
	"sync/atomic"
)

type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// AtomicFloat64 原子 float64，按位存储在 uint64 中
type AtomicFloat64 struct {
	_ noCopy
	v atomic.Uint64
}

func (x *AtomicFloat64) Load() float64 {
	return math.Float64frombits(x.v.Load())
}

func (x *AtomicFloat64) Store(val float64) {
	x.v.Store(math.Float64bits(val))
}

func (x *AtomicFloat64) Swap(new float64) (old float64) {
	return math.Float64frombits(x.v.Swap(math.Float64bits(new)))
}

func (x *AtomicFloat64) CompareAndSwap(old, new float64) (swapped bool) {
	return x.v.CompareAndSwap(math.Float64bits(old), math.Float64bits(new))
}

// Add CAS 循环累加，返回新值
func (x *AtomicFloat64) Add(delta float64) float64 {
	for {
		oldBits := x.v.Load()
		newVal := math.Float64frombits(oldBits) + delta
		if x.v.CompareAndSwap(oldBits, math.Float64bits(newVal)) {
			return newVal
		}
	}
}
