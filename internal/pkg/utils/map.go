package utils

// ClearOrResetMap 根据 map 当前长度判断是清空还是重新分配
// - m: 待清理的 map
// - maxLen: 超过这个长度就重新分配
// - initCap: 初始容量，用于重新分配
func ClearOrResetMap[K comparable, V any](m *map[K]V, maxLen, initCap int) {
	n := len(*m)
	if n == 0 {
		return
	}

	if n > maxLen {
		*m = make(map[K]V, initCap)
	} else {
		clear(*m)
	}
}

// SetDiff 返回 a 中有而 b 中没有的 key
func SetDiff[K comparable, V1, V2 any](a map[K]V1, b map[K]V2) []K {
	var out []K
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
