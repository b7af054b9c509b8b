package domain

import (
	"errors"
	"strings"
)

// 业务错误定义
var (
	ErrConfigurationInvalid = errors.New("configuration invalid")

	ErrOrganizationNotFound = errors.New("organization not found")
	ErrServerNotFound       = errors.New("server not found")
	ErrDomainNotFound       = errors.New("domain not found")
	ErrDomainExists         = errors.New("domain already exists")
	ErrRouteNotFound        = errors.New("route not found")
	ErrEndpointNotFound     = errors.New("endpoint not found")
	ErrBindingNotFound      = errors.New("additional endpoint not found")
	ErrBindingExists        = errors.New("endpoint already attached to route")
	ErrInvalidEndpointClass = errors.New("invalid endpoint class name")
)

// FieldError 单个字段的校验失败信息
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError 配置校验失败，可通过 errors.Is(err, ErrConfigurationInvalid) 判断
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

// Add 追加一条字段错误
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Has 判断指定字段是否存在错误
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// Messages 返回指定字段的全部错误消息
func (e *ValidationError) Messages(field string) []string {
	var out []string
	for _, f := range e.Fields {
		if f.Field == field {
			out = append(out, f.Message)
		}
	}
	return out
}

// OrNil 没有字段错误时返回 nil
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field == "" {
			parts = append(parts, f.Message)
			continue
		}
		parts = append(parts, f.Field+" "+f.Message)
	}
	return ErrConfigurationInvalid.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrConfigurationInvalid
}
