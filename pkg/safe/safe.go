package safe

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"islapay.com/pkg/logger"
)

// Go 安全启动协程，panic 被 recover 并记录，不会带崩进程
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				if logger.Log != nil {
					logger.Error(context.Background(), "goroutine panic recovered",
						zap.Any("panic", r),
						zap.String("stack", stack),
					)
				} else {
					fmt.Printf("goroutine panic: %v\nstack: %s\n", r, stack)
				}
			}
		}()
		fn()
	}()
}

// GoCtx 同 Go，但把 context 传给任务，日志里保留链路信息
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				if logger.Log != nil {
					logger.Error(ctx, "goroutine panic recovered",
						zap.Any("panic", r),
						zap.String("stack", stack),
					)
				} else {
					fmt.Printf("goroutine panic: %v\nstack: %s\n", r, stack)
				}
			}
		}()
		fn(ctx)
	}()
}
