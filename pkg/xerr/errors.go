package xerr

import (
	"errors"
	"fmt"
	"net/http"
)

// 错误码定义
// 配置错误在启动期直接 Fatal；Rpc 错误按钱包隔离，不中断批次
const (
	OK                 = 200
	RequestParamsError = 400
	RecordNotFound     = 404
	ServerCommonError  = 500
	DbError            = 501
	RpcError           = 502
	CryptoError        = 503
	ConfigError        = 504
	InvalidState       = 409
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	// Status 非法状态流转时携带当前状态，方便调用方排查
	Status string `json:"status,omitempty"`
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func Newf(code int, format string, args ...interface{}) error {
	return &CodeError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// NewInvalidState 非法状态流转，带上当前状态
func NewInvalidState(current string, msg string) error {
	return &CodeError{Code: InvalidState, Msg: msg, Status: current}
}

// From 取出 CodeError，不是的话按 ServerCommonError 兜底
func From(err error) *CodeError {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return &CodeError{Code: ServerCommonError, Msg: err.Error()}
}

// IsCode 判断错误是否携带指定错误码
func IsCode(err error, code int) bool {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// HTTPStatus 错误码到 HTTP 状态码的映射
func HTTPStatus(code int) int {
	switch code {
	case RequestParamsError, InvalidState:
		return http.StatusBadRequest
	case RecordNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
