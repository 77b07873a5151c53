// Package core 提供了 veloxcache 各组件共享的基础类型，包括统一的错误代码体系。
package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode 是一个字符串类型，用于表示 veloxcache 中所有预定义的错误类别。
type ErrorCode string

// 标准错误代码常量定义了缓存引擎中可能出现的各种错误。
const (
	// ErrCacheMiss 表示在缓存中未找到请求的条目。
	ErrCacheMiss ErrorCode = "CACHE_MISS"
	// ErrCacheDisposed 表示缓存实例已被释放。
	ErrCacheDisposed ErrorCode = "CACHE_DISPOSED"

	// ErrStorageMiss 表示持久化存储中不存在请求的键。
	ErrStorageMiss ErrorCode = "STORAGE_MISS"
	// ErrStorageIO 表示发生了存储I/O错误。
	ErrStorageIO ErrorCode = "STORAGE_IO"

	// ErrSerializeFailed 表示序列化操作失败。
	ErrSerializeFailed ErrorCode = "SERIALIZE_FAILED"
	// ErrDeserializeFailed 表示反序列化操作失败。
	ErrDeserializeFailed ErrorCode = "DESERIALIZE_FAILED"

	// ErrLoaderFailed 表示数据加载器返回了一个错误。
	ErrLoaderFailed ErrorCode = "LOADER_FAILED"
	// ErrLoaderTimeout 表示数据加载器操作超时。
	ErrLoaderTimeout ErrorCode = "LOADER_TIMEOUT"
	// ErrCircuitOpen 表示加载器熔断器处于打开状态，请求被拒绝。
	ErrCircuitOpen ErrorCode = "CIRCUIT_OPEN"

	// ErrConfigInvalid 表示配置无效。
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"
	// ErrConfigMissing 表示缺少必要的配置项。
	ErrConfigMissing ErrorCode = "CONFIG_MISSING"

	// ErrResourceClosed 表示尝试访问已关闭的资源。
	ErrResourceClosed ErrorCode = "RESOURCE_CLOSED"
	// ErrInternalError 表示发生了未知的内部错误。
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// VeloxError 是 veloxcache 的自定义错误类型。
// 它包含了错误代码、消息、可选的原始错误(cause)和附加上下文信息。
type VeloxError struct {
	Code      ErrorCode              `json:"code"`              // 错误的分类代码
	Message   string                 `json:"message"`           // 人类可读的错误信息
	Cause     error                  `json:"-"`                 // 导致此错误的原始错误
	Context   map[string]interface{} `json:"context,omitempty"` // 额外的上下文信息
	Timestamp time.Time              `json:"timestamp"`         // 错误发生的时间戳
}

// Error 实现了 Go 内置的 error 接口。
func (e *VeloxError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 实现了 Go 1.13+ 的错误包装接口，允许访问被包装的原始错误(Cause)。
func (e *VeloxError) Unwrap() error {
	return e.Cause
}

// Is 实现了错误判断接口，用于判断一个错误是否与目标错误具有相同的错误代码。
func (e *VeloxError) Is(target error) bool {
	var vErr *VeloxError
	if errors.As(target, &vErr) {
		return e.Code == vErr.Code
	}
	return false
}

// WithContext 为错误附加一个键值对形式的上下文信息。
func (e *VeloxError) WithContext(key string, value interface{}) *VeloxError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewVeloxError 创建一个新的 VeloxError。
func NewVeloxError(code ErrorCode, message string) *VeloxError {
	return &VeloxError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// WrapError 将一个已有的 error 包装成一个新的 VeloxError。
func WrapError(code ErrorCode, message string, cause error) *VeloxError {
	return &VeloxError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// GetErrorCode 从任意 error 中提取 VeloxError 的错误代码。
func GetErrorCode(err error) (ErrorCode, bool) {
	var vErr *VeloxError
	if errors.As(err, &vErr) {
		return vErr.Code, true
	}
	return "", false
}

// IsCode 判断一个错误是否具有指定的错误代码。
func IsCode(err error, code ErrorCode) bool {
	actual, ok := GetErrorCode(err)
	return ok && actual == code
}

// 预定义的常用错误实例
var (
	ErrMiss                 = NewVeloxError(ErrCacheMiss, "cache entry not found")
	ErrDisposed             = NewVeloxError(ErrCacheDisposed, "cache has been disposed")
	ErrStorageNotFound      = NewVeloxError(ErrStorageMiss, "storage key not found")
	ErrStorageClosed        = NewVeloxError(ErrResourceClosed, "storage is closed")
	ErrInvalidConfiguration = NewVeloxError(ErrConfigInvalid, "invalid configuration")
)
