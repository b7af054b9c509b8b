package inspection

import (
	"context"
	"errors"
	"fmt"
)

// ErrMessageTooLarge 邮件超过检查上限
var ErrMessageTooLarge = errors.New("message too large to inspect")

// SizeInspector 超过上限的邮件不做后续检查
type SizeInspector struct {
	maxBytes int
}

// NewSizeInspector 创建大小检查器，maxBytes <= 0 表示不限制
func NewSizeInspector(maxBytes int) *SizeInspector {
	return &SizeInspector{maxBytes: maxBytes}
}

func (s *SizeInspector) Name() string { return "size" }

// Inspect 超限时返回致命错误，流水线跳过剩余检查器
func (s *SizeInspector) Inspect(_ context.Context, result *Result) error {
	if s.maxBytes <= 0 || result.Message == nil {
		return nil
	}
	if size := result.Message.Size(); size > s.maxBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, size, s.maxBytes)
	}
	return nil
}
