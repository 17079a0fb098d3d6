package callbacklog

import (
	"context"
	"time"
)

// 回调类型
const (
	TypeGeneralTrade = 1 // 通用交易回调
	TypeDirectCharge = 2 // 直充回调
	TypeCardDeliver  = 3 // 卡密回调
)

// 回调方向
const (
	DirectionInbound  = 1 // 平台调我方
	DirectionOutbound = 2 // 我方调平台
)

// CallbackLog 平台回调流水（追加写，只允许递增重试次数）
//
// 请求/响应报文入库前必须脱敏，不得含密钥与卡密明文
type CallbackLog struct {
	ID            int64  `gorm:"primaryKey"`
	OrderID       int64  `gorm:"index;not null"`
	Type          int    `gorm:"not null"`
	Direction     int    `gorm:"not null"`
	RequestParams string `gorm:"type:text"`
	ResponseData  string `gorm:"type:text"`
	ResultCode    string `gorm:"size:32"`
	ResultMessage string `gorm:"size:500"`
	RetryCount    int    `gorm:"default:0"`
	CreatedAt     time.Time
}

// AgisoLog 阿奇索调用流水（与平台回调流水独立隔离）
type AgisoLog struct {
	ID            int64  `gorm:"primaryKey"`
	MerchantID    int64  `gorm:"index;not null"`
	APIName       string `gorm:"size:128"`
	RequestData   string `gorm:"type:text"`
	ResponseData  string `gorm:"type:text"`
	ResultCode    string `gorm:"size:32"`
	ResultMessage string `gorm:"size:500"`
	CreatedAt     time.Time
}

// Repository 回调流水仓储接口
type Repository interface {
	CreateCallback(ctx context.Context, l *CallbackLog) error
	IncrementRetry(ctx context.Context, id int64) error
	CreateAgisoLog(ctx context.Context, l *AgisoLog) error
	ListByOrder(ctx context.Context, orderID int64) ([]*CallbackLog, error)
}
