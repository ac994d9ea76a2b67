package utils

import (
	"github.com/segmentio/ksuid"
)

// RequestID 生成请求追踪ID
func RequestID() string {
	return ksuid.New().String()
}
