package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/qq419701/dianshang/internal/datamodels/merchant"
	"github.com/qq419701/dianshang/internal/datamodels/order"
)

type merchantRepo struct {
	db *gorm.DB
}

// NewMerchantRepository 创建商户配置仓储
func NewMerchantRepository(db *gorm.DB) merchant.Repository {
	return &merchantRepo{db: db}
}

func (r *merchantRepo) GetByMerchantBiz(ctx context.Context, merchantID int64, bizType order.BizType) (*merchant.Config, error) {
	var c merchant.Config
	if err := r.db.WithContext(ctx).
		Where("merchant_id = ? AND biz_type = ? AND is_enabled = ?", merchantID, bizType, true).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *merchantRepo) GetByVendorID(ctx context.Context, vendorID int64) (*merchant.Config, error) {
	var c merchant.Config
	if err := r.db.WithContext(ctx).
		Where("vendor_id = ? AND biz_type = ? AND is_enabled = ?", vendorID, order.BizGeneralTrade, true).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *merchantRepo) GetByCustomerID(ctx context.Context, customerID int64) (*merchant.Config, error) {
	var c merchant.Config
	if err := r.db.WithContext(ctx).
		Where("customer_id = ? AND biz_type = ? AND is_enabled = ?", customerID, order.BizGameCard, true).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// Save 新建或更新商户配置，按（商户, 业务类型）唯一键定位既有记录。
// 更新时密钥字段留空表示沿用原值，不做清除
func (r *merchantRepo) Save(ctx context.Context, c *merchant.Config) error {
	var existing merchant.Config
	err := r.db.WithContext(ctx).
		Where("merchant_id = ? AND biz_type = ?", c.MerchantID, c.BizType).
		First(&existing).Error
	if err == nil {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		if c.MD5Secret == "" {
			c.MD5Secret = existing.MD5Secret
		}
		if c.AESSecret == "" {
			c.AESSecret = existing.AESSecret
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return r.db.WithContext(ctx).Save(c).Error
}

type agisoRepo struct {
	db *gorm.DB
}

// NewAgisoRepository 创建阿奇索配置仓储
func NewAgisoRepository(db *gorm.DB) merchant.AgisoRepository {
	return &agisoRepo{db: db}
}

func (r *agisoRepo) GetEnabled(ctx context.Context, merchantID int64) (*merchant.AgisoConfig, error) {
	var c merchant.AgisoConfig
	if err := r.db.WithContext(ctx).
		Where("merchant_id = ? AND is_enabled = ?", merchantID, true).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// Save 新建或更新阿奇索配置；密钥与令牌留空表示沿用原值
func (r *agisoRepo) Save(ctx context.Context, c *merchant.AgisoConfig) error {
	var existing merchant.AgisoConfig
	err := r.db.WithContext(ctx).
		Where("merchant_id = ?", c.MerchantID).
		First(&existing).Error
	if err == nil {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		if c.AppSecret == "" {
			c.AppSecret = existing.AppSecret
		}
		if c.AccessToken == "" {
			c.AccessToken = existing.AccessToken
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return r.db.WithContext(ctx).Save(c).Error
}
