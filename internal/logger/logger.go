package logger

import (
	"log"

	"go.uber.org/zap"
)

// Init 初始化全局 zap 日志器，业务代码统一通过 zap.L() 记录日志
func Init() {
	l, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	zap.ReplaceGlobals(l)
}
