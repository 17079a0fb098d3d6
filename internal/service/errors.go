package service

import "errors"

// 错误分类；适配器边界负责把它们映射为各平台的响应码，
// 任何一类都不允许以未处理异常的形式泄漏到传输层
var (
	ErrConfigurationMissing = errors.New("merchant configuration missing")
	ErrSignatureInvalid     = errors.New("signature invalid")
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrNetworkFailure       = errors.New("network failure")
)
