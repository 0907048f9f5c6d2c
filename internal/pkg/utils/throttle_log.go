package utils

import (
	"sync/atomic"
	"time"
)

// ThrottleLog 距上次放行超过 interval 时返回 true，多协程并发调用只有一个能抢到；
// interval <= 0 不限频
func ThrottleLog(last *atomic.Int64, interval time.Duration) bool {
	if interval <= 0 {
		return true
	}
	now := time.Now().UnixNano()
	prev := last.Load()
	if now-prev < interval.Nanoseconds() {
		return false
	}
	return last.CompareAndSwap(prev, now)
}
