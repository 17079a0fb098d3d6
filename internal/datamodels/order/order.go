package order

import (
	"context"
	"time"
)

// BizType 业务类型
type BizType int

const (
	BizGeneralTrade BizType = 1 // 通用交易
	BizGameCard     BizType = 2 // 游戏点卡
)

// FulfillKind 履约方式
type FulfillKind int

const (
	KindDirectTopUp  FulfillKind = 1 // 直充
	KindCardDelivery FulfillKind = 2 // 卡密
)

// Status 订单状态
type Status int

const (
	StatusCreated   Status = 0 // 已创建
	StatusProducing Status = 1 // 生产中
	StatusCompleted Status = 2 // 已完成
	StatusError     Status = 3 // 生产失败（可重试）
	StatusCancelled Status = 4 // 已取消（终态）
	StatusRefunded  Status = 5 // 已退款（终态）
)

// CanTransitionTo 订单状态机约束
//
//	已创建 -> 生产中 / 已完成
//	生产中 -> 已完成 / 生产失败
//	生产失败 -> 生产中（操作员重试）
//	已完成 -> 已退款
//	任意态 -> 已取消
func (s Status) CanTransitionTo(next Status) bool {
	if next == StatusCancelled {
		return s != StatusCancelled && s != StatusRefunded
	}
	switch s {
	case StatusCreated:
		return next == StatusProducing || next == StatusCompleted
	case StatusProducing:
		return next == StatusCompleted || next == StatusError
	case StatusError:
		return next == StatusProducing
	case StatusCompleted:
		return next == StatusRefunded
	}
	return false
}

// Terminal 是否终态
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

// Order 订单模型
//
// 平台订单号 + 业务类型唯一，重复提交返回已有订单（幂等接单）
type Order struct {
	ID              int64       `gorm:"primaryKey"`
	MerchantID      int64       `gorm:"index;not null"`
	BizType         BizType     `gorm:"uniqueIndex:uk_platform_biz;not null"`
	OrderNo         string      `gorm:"size:64;uniqueIndex;not null"` // 我方订单号
	PlatformOrderNo string      `gorm:"size:64;uniqueIndex:uk_platform_biz;not null"`
	Status          Status      `gorm:"index;not null"`
	FulfillKind     FulfillKind `gorm:"not null"`
	OperationMode   int         `gorm:"default:0"` // 0:自动 1:手动
	Amount          int64       // 单位：分
	Quantity        int
	SkuID           string `gorm:"size:64"`
	WareNo          string `gorm:"size:64"`
	ProduceAccount  string `gorm:"size:255"` // 直充账号
	CardInfo        string `gorm:"type:text"` // 卡密 JSON（系统级加密存储）
	NotifyURL       string `gorm:"size:500"`
	PayTime         *time.Time
	Notified        bool `gorm:"default:false"`
	NotifySendTime  *time.Time
	Remark          string `gorm:"size:500"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Card 单张卡密
type Card struct {
	CardNumber   string `json:"cardNumber"`
	CardPassword string `json:"cardPassword"`
}

// Repository 订单仓储接口
type Repository interface {
	// CreateOrGet 按（平台订单号, 业务类型）幂等创建：
	// 已存在时返回现有订单且 isNew=false，并发撞唯一键时回退为查询
	CreateOrGet(ctx context.Context, o *Order) (result *Order, isNew bool, err error)
	GetByID(ctx context.Context, id int64) (*Order, error)
	GetByPlatformOrderNo(ctx context.Context, platformOrderNo string, bizType BizType) (*Order, error)
	Update(ctx context.Context, o *Order) error
	ListRecent(ctx context.Context, limit int) ([]*Order, error)
}
