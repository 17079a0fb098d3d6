package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/qq419701/dianshang/internal/datamodels/order"
)

type orderRepo struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储
func NewOrderRepository(db *gorm.DB) order.Repository {
	return &orderRepo{db: db}
}

// CreateOrGet 幂等创建订单。
// 先按唯一键查询；不存在则插入；并发下插入撞唯一键的一方回退为再查询，
// 保证同一（平台订单号, 业务类型）最终只有一行，且双方看到同一订单。
func (r *orderRepo) CreateOrGet(ctx context.Context, o *order.Order) (*order.Order, bool, error) {
	existing, err := r.GetByPlatformOrderNo(ctx, o.PlatformOrderNo, o.BizType)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	if err := r.db.WithContext(ctx).Create(o).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, err2 := r.GetByPlatformOrderNo(ctx, o.PlatformOrderNo, o.BizType)
			if err2 != nil {
				return nil, false, err2
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return o, true, nil
}

func (r *orderRepo) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	var o order.Order
	if err := r.db.WithContext(ctx).First(&o, id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepo) GetByPlatformOrderNo(ctx context.Context, platformOrderNo string, bizType order.BizType) (*order.Order, error) {
	var o order.Order
	if err := r.db.WithContext(ctx).
		Where("platform_order_no = ? AND biz_type = ?", platformOrderNo, bizType).
		First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepo) Update(ctx context.Context, o *order.Order) error {
	return r.db.WithContext(ctx).Save(o).Error
}

func (r *orderRepo) ListRecent(ctx context.Context, limit int) ([]*order.Order, error) {
	if limit <= 0 {
		limit = 20
	}
	var list []*order.Order
	if err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
