package configloader

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig 读取 yaml 配置文件到 out，支持 ${ENV} 形式的环境变量展开
func LoadConfig(path string, out interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return LoadConfigBytes(raw, out)
}

// LoadConfigBytes 解析内存中的 yaml 配置，未知字段视为错误
func LoadConfigBytes(raw []byte, out interface{}) error {
	expanded := os.ExpandEnv(string(raw))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}
