package merchant

import (
	"context"
	"time"

	"github.com/qq419701/dianshang/internal/datamodels/order"
)

// Config 商户平台配置
//
// 每个商户按业务类型各一条；密钥字段只存系统级加密后的密文
type Config struct {
	ID         int64         `gorm:"primaryKey"`
	MerchantID int64         `gorm:"uniqueIndex:uk_merchant_biz;not null"`
	BizType    order.BizType `gorm:"uniqueIndex:uk_merchant_biz;not null"`

	VendorID   int64 `gorm:"index"` // 通用交易 vendorId
	CustomerID int64 `gorm:"index"` // 游戏点卡 customerId

	MD5Secret string `gorm:"size:255"` // 签名密钥（加密存储）
	AESSecret string `gorm:"size:255"` // 卡密传输加密密钥（加密存储）

	CallbackURL       string `gorm:"size:500"` // 通用交易回调地址
	DirectCallbackURL string `gorm:"size:500"` // 直充回调地址
	CardCallbackURL   string `gorm:"size:500"` // 卡密回调地址

	IsEnabled bool `gorm:"default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Credential 解密后的凭据，仅在单次请求内存活，不落日志不落库
type Credential struct {
	MerchantID        int64
	BizType           order.BizType
	VendorID          int64
	CustomerID        int64
	SigningKey        string
	EncryptionKey     string
	CallbackURL       string
	DirectCallbackURL string
	CardCallbackURL   string
}

// AgisoConfig 阿奇索开放平台配置（可选模块，按商户独立配置）
type AgisoConfig struct {
	ID          int64  `gorm:"primaryKey"`
	MerchantID  int64  `gorm:"uniqueIndex;not null"`
	Host        string `gorm:"size:255"`
	Port        int
	AppID       string `gorm:"size:128"`
	AppSecret   string `gorm:"size:255"` // 加密存储
	AccessToken string `gorm:"size:500"` // 加密存储
	IsEnabled   bool   `gorm:"default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Repository 商户配置仓储接口
type Repository interface {
	GetByMerchantBiz(ctx context.Context, merchantID int64, bizType order.BizType) (*Config, error)
	GetByVendorID(ctx context.Context, vendorID int64) (*Config, error)
	GetByCustomerID(ctx context.Context, customerID int64) (*Config, error)
	// Save 按（商户, 业务类型）新建或更新；更新时密钥字段留空沿用原值
	Save(ctx context.Context, c *Config) error
}

// AgisoRepository 阿奇索配置仓储接口
type AgisoRepository interface {
	// GetEnabled 仅返回启用状态的配置，未配置或未启用返回 gorm.ErrRecordNotFound
	GetEnabled(ctx context.Context, merchantID int64) (*AgisoConfig, error)
	// Save 按商户新建或更新；更新时密钥与令牌留空沿用原值
	Save(ctx context.Context, c *AgisoConfig) error
}
