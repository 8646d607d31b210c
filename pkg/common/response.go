package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"islapay.com/pkg/logger"
	"islapay.com/pkg/xerr"
)

// 定义http返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
	// Status 非法状态流转时返回当前状态
	Status string `json:"status,omitempty"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
	})
}

// FailErr 根据 CodeError 映射 HTTP 状态码，非法状态带上当前状态
func FailErr(c *gin.Context, err error) {
	ce := xerr.From(err)
	c.JSON(xerr.HTTPStatus(ce.Code), Response{
		Code:    ce.Code,
		Message: ce.Msg,
		Status:  ce.Status,
	})
}

func FailLogged(c *gin.Context, err error) {
	logger.Warn(c, "http error",
		zap.String("request_id", RequestIDFromGin(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	FailErr(c, err)
}
