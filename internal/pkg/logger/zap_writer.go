package logger

import (
	"fmt"

	"github.com/zeromicro/go-zero/core/logx"
)

// ZapWriter 把 go-zero logx 的输出转到 zap
type ZapWriter struct{}

func fieldsToArgs(fields []logx.LogField) []interface{} {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		args = append(args, f.Key, f.Value)
	}
	return args
}

func (ZapWriter) Alert(v interface{}) {
	sugar.Load().Error(v)
}

func (ZapWriter) Close() error {
	return sugar.Load().Sync()
}

func (ZapWriter) Debug(v interface{}, fields ...logx.LogField) {
	sugar.Load().Debugw(toString(v), fieldsToArgs(fields)...)
}

func (ZapWriter) Error(v interface{}, fields ...logx.LogField) {
	sugar.Load().Errorw(toString(v), fieldsToArgs(fields)...)
}

func (ZapWriter) Info(v interface{}, fields ...logx.LogField) {
	sugar.Load().Infow(toString(v), fieldsToArgs(fields)...)
}

func (ZapWriter) Severe(v interface{}) {
	sugar.Load().Error(v)
}

func (ZapWriter) Slow(v interface{}, fields ...logx.LogField) {
	sugar.Load().Warnw(toString(v), fieldsToArgs(fields)...)
}

func (ZapWriter) Stack(v interface{}) {
	sugar.Load().Error(v)
}

func (ZapWriter) Stat(v interface{}, fields ...logx.LogField) {
	sugar.Load().Infow(toString(v), fieldsToArgs(fields)...)
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

var _ logx.Writer = ZapWriter{}
