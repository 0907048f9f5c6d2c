package utils

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
)

// SafeJsonUnmarshal 安全反序列化 JSON，防止 panic
func SafeJsonUnmarshal[T any](data []byte, v *T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recovered in SafeJsonUnmarshal: %v\nstacktrace:\n%s", r, debug.Stack())
		}
	}()
	return json.Unmarshal(data, v)
}

// SafeCall 执行 fn 并把 panic 转为 error，用于隔离回调与解析不可信数据
func SafeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recovered: %v\nstacktrace:\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
